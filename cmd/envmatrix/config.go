// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/issue"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `envmatrix config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage envmatrix configuration",
		Long: `Manage envmatrix configuration.

Configuration is read from, lowest precedence first:
  - the user file:
      Linux: ~/.config/envmatrix/config.cue
      macOS: ~/Library/Application Support/envmatrix/config.cue
      Windows: %APPDATA%\envmatrix\config.cue
  - the project file .envmatrix/config.cue
  - ENVMATRIX_<KEY> environment variables (ENVMATRIX_RUNTIME_KIND=virtual)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfig(cmd.Context(), cmd.OutOrStdout(), app)
		},
	})

	var projectInit bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create the default configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := ""
			if projectInit {
				path = filepath.Join(config.ProjectConfigDir, config.ConfigFileName+"."+config.ConfigFileExt)
			}
			return initConfig(cmd.OutOrStdout(), path)
		},
	}
	initCmd.Flags().BoolVar(&projectInit, "project", false, "create .envmatrix/config.cue in the current directory instead of the user file")
	cfgCmd.AddCommand(initCmd)

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the configuration file paths",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return showConfigPath(cmd.OutOrStdout())
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context(), "")
			if err != nil {
				return configFailure(err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), config.GenerateCUE(cfg))
			return err
		},
	})

	return cfgCmd
}

func showConfig(ctx context.Context, w io.Writer, app *App) error {
	cfg, sources, err := config.LoadWithSources(ctx, config.LoadOptions{ConfigFilePath: app.configFile})
	if err != nil {
		if rendered, renderErr := issue.Get(issue.ConfigLoadFailedId).Render(app.glamourStyle()); renderErr == nil {
			fmt.Fprint(w, rendered)
		}
		return configFailure(err)
	}

	keyStyle := CmdStyle
	valueStyle := SuccessStyle

	var b strings.Builder
	b.WriteString(TitleStyle.Render("Current Configuration") + "\n\n")

	if len(sources) == 0 {
		fmt.Fprintf(&b, "%s: %s\n", keyStyle.Render("Config files"), SubtitleStyle.Render("(using defaults)"))
	} else {
		fmt.Fprintf(&b, "%s:\n", keyStyle.Render("Config files"))
		for _, s := range sources {
			fmt.Fprintf(&b, "  - %s\n", s)
		}
	}
	b.WriteString("\n")

	kv := func(indent, key, value string) {
		fmt.Fprintf(&b, "%s%s: %s\n", indent, keyStyle.Render(key), valueStyle.Render(value))
	}
	list := func(values []string) string {
		if len(values) == 0 {
			return "(none)"
		}
		return strings.Join(values, ", ")
	}

	kv("", "concurrency", strconv.Itoa(cfg.Concurrency))
	interpreter := cfg.DefaultInterpreter
	if interpreter == "" {
		interpreter = "(python3 on PATH)"
	}
	kv("", "default_interpreter", interpreter)

	b.WriteString("\n" + keyStyle.Render("runtime") + ":\n")
	kv("  ", "kind", string(cfg.Runtime.Kind))
	kv("  ", "create_command", cfg.Runtime.CreateCommand.String())
	kv("  ", "keep_envs", strconv.FormatBool(cfg.Runtime.KeepEnvs))
	kv("  ", "workdir", cfg.Runtime.Workdir)
	kv("  ", "container.image", cfg.Runtime.Container.Image)

	b.WriteString("\n")
	kv("", "container.engine", string(cfg.Container.Engine))

	b.WriteString("\n" + keyStyle.Render("install") + ":\n")
	kv("  ", "command", cfg.Install.Command.String())
	kv("  ", "develop_command", cfg.Install.DevelopCommand.String())

	b.WriteString("\n" + keyStyle.Render("passthrough") + ":\n")
	kv("  ", "allowed_prefixes", list(cfg.Passthrough.AllowedPrefixes))
	kv("  ", "always", list(cfg.Passthrough.Always))

	hosts := make([]string, len(cfg.Hosts))
	for i, h := range cfg.Hosts {
		hosts[i] = string(h)
	}
	b.WriteString("\n")
	kv("", "hosts", list(hosts))

	b.WriteString("\n" + keyStyle.Render("results") + ":\n")
	kv("  ", "path", cfg.Results.Path)
	sqlite := cfg.Results.SQLite
	if sqlite == "" {
		sqlite = "(disabled)"
	}
	kv("  ", "sqlite", sqlite)
	if cfg.Results.Upload.Enabled() {
		kv("  ", "upload", cfg.Results.Upload.Endpoint+"/"+cfg.Results.Upload.Bucket+"/"+cfg.Results.Upload.Prefix)
	} else {
		kv("  ", "upload", "(disabled)")
	}

	b.WriteString("\n" + keyStyle.Render("ui") + ":\n")
	kv("  ", "color_scheme", string(cfg.UI.ColorScheme))
	kv("  ", "verbose", strconv.FormatBool(cfg.UI.Verbose))

	_, err = io.WriteString(w, b.String())
	return err
}

func initConfig(w io.Writer, path string) error {
	path, created, err := config.CreateDefaultConfig(path)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}
	if !created {
		fmt.Fprintf(w, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(w, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(w io.Writer) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	wd, err := os.Getwd()
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Config directory: %s\n", cfgDir)
	fmt.Fprintf(w, "Config file: %s\n", filepath.Join(cfgDir, config.ConfigFileName+"."+config.ConfigFileExt))
	fmt.Fprintf(w, "Project file: %s\n", filepath.Join(wd, config.ProjectConfigDir, config.ConfigFileName+"."+config.ConfigFileExt))
	return nil
}
