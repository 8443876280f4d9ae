// SPDX-License-Identifier: MPL-2.0

package config

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"

	"github.com/envmatrix/envmatrix/internal/issue"
	"github.com/envmatrix/envmatrix/pkg/cueutil"

	"github.com/spf13/viper"
)

const (
	// AppName is the application name.
	AppName = "envmatrix"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "cue"
	// ProjectConfigDir is the project-local directory holding config.cue.
	ProjectConfigDir = ".envmatrix"
	// EnvPrefix prefixes the environment variables that override config keys.
	EnvPrefix = "ENVMATRIX"
)

//go:embed config_schema.cue
var configSchema string

// ConfigDir returns the envmatrix configuration directory using platform-specific
// conventions: Windows uses %APPDATA%, macOS uses ~/Library/Application Support,
// and Linux/others use $XDG_CONFIG_HOME (defaulting to ~/.config).
//
//nolint:revive // ConfigDir is more descriptive than Dir for external callers
func ConfigDir() (string, error) {
	if configDirOverride != "" {
		return configDirOverride, nil
	}

	var configDir string

	switch goruntime.GOOS {
	case "windows":
		configDir = os.Getenv("APPDATA")
		if configDir == "" {
			configDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		configDir = filepath.Join(home, "Library", "Application Support")
	default:
		configDir = os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to get home directory: %w", err)
			}
			configDir = filepath.Join(home, ".config")
		}
	}

	return filepath.Join(configDir, AppName), nil
}

// LoadWithSources loads the configuration and returns the files it was read
// from, lowest precedence first. With ConfigFilePath set that file is used
// exclusively; otherwise the user config file and then the project file
// (<BaseDir>/.envmatrix/config.cue) are merged over the defaults. ENVMATRIX_*
// variables override every file value.
func LoadWithSources(ctx context.Context, opts LoadOptions) (*Config, []string, error) {
	select {
	case <-ctx.Done():
		return nil, nil, fmt.Errorf("load config canceled: %w", ctx.Err())
	default:
	}

	if err := opts.Validate(); err != nil {
		return nil, nil, err
	}

	v := newViper()

	var sources []string
	if opts.ConfigFilePath != "" {
		if !fileExists(opts.ConfigFilePath) {
			return nil, nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(opts.ConfigFilePath).
				WithSuggestion("Verify the file path is correct").
				WithSuggestion("Check that the file exists and is readable").
				WithSuggestion("Use 'envmatrix config show' to see the default configuration").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(fmt.Errorf("config file not found: %s", opts.ConfigFilePath)).
				BuildError()
		}
		sources = append(sources, opts.ConfigFilePath)
	} else {
		cfgDir, err := configDirWithOverride(opts.ConfigDirPath)
		if err != nil {
			return nil, nil, err
		}
		userPath := filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
		projectPath := filepath.Join(opts.BaseDir, ProjectConfigDir, ConfigFileName+"."+ConfigFileExt)
		for _, path := range []string{userPath, projectPath} {
			if fileExists(path) {
				sources = append(sources, path)
			}
		}
	}

	for _, path := range sources {
		if err := loadCUEIntoViper(v, path); err != nil {
			return nil, nil, issue.NewErrorContext().
				WithOperation("load configuration").
				WithResource(path).
				WithSuggestion("Check that the file contains valid CUE syntax").
				WithSuggestion("Verify the configuration values match the expected schema").
				WithSuggestion("See 'envmatrix config --help' for configuration options").
				WithIssue(issue.ConfigLoadFailedId).
				Wrap(err).
				BuildError()
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Environment overrides bypass the CUE schema, so the typed values are
	// checked again here.
	if valid, errs := cfg.IsValid(); !valid {
		return nil, nil, issue.NewErrorContext().
			WithOperation("validate configuration").
			WithSuggestion("Check " + EnvPrefix + "_* environment variables for typos").
			WithIssue(issue.ConfigLoadFailedId).
			Wrap(errs[0]).
			BuildError()
	}

	return &cfg, sources, nil
}

// newViper returns a viper instance carrying every default key, so that
// AutomaticEnv overrides reach Unmarshal even for keys no file sets.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	v.SetDefault("concurrency", defaults.Concurrency)
	v.SetDefault("default_interpreter", defaults.DefaultInterpreter)
	v.SetDefault("runtime.kind", defaults.Runtime.Kind)
	v.SetDefault("runtime.create_command", defaults.Runtime.CreateCommand)
	v.SetDefault("runtime.keep_envs", defaults.Runtime.KeepEnvs)
	v.SetDefault("runtime.workdir", defaults.Runtime.Workdir)
	v.SetDefault("runtime.container.image", defaults.Runtime.Container.Image)
	v.SetDefault("container.engine", defaults.Container.Engine)
	v.SetDefault("install.command", defaults.Install.Command)
	v.SetDefault("install.develop_command", defaults.Install.DevelopCommand)
	v.SetDefault("passthrough.allowed_prefixes", defaults.Passthrough.AllowedPrefixes)
	v.SetDefault("passthrough.always", defaults.Passthrough.Always)
	v.SetDefault("hosts", defaults.Hosts)
	v.SetDefault("results.path", defaults.Results.Path)
	v.SetDefault("results.sqlite", defaults.Results.SQLite)
	v.SetDefault("results.upload.endpoint", defaults.Results.Upload.Endpoint)
	v.SetDefault("results.upload.bucket", defaults.Results.Upload.Bucket)
	v.SetDefault("results.upload.prefix", defaults.Results.Upload.Prefix)
	v.SetDefault("results.upload.access_key", defaults.Results.Upload.AccessKey)
	v.SetDefault("results.upload.secret_key", defaults.Results.Upload.SecretKey)
	v.SetDefault("results.upload.region", defaults.Results.Upload.Region)
	v.SetDefault("results.upload.use_ssl", defaults.Results.Upload.UseSSL)
	v.SetDefault("ui.color_scheme", defaults.UI.ColorScheme)
	v.SetDefault("ui.verbose", defaults.UI.Verbose)
	return v
}

// configDirWithOverride resolves the configuration directory, honoring
// explicit provider options before platform defaults.
func configDirWithOverride(configDirPath string) (string, error) {
	if configDirPath != "" {
		return configDirPath, nil
	}

	return ConfigDir()
}

// loadCUEIntoViper validates a CUE file against #Config and merges its
// values over what viper already holds.
func loadCUEIntoViper(v *viper.Viper, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	configMap, err := cueutil.NewSchema(configSchema, "#Config").DecodeMap(data, path)
	if err != nil {
		return err
	}

	if err := v.MergeConfigMap(configMap); err != nil {
		return fmt.Errorf("failed to merge config: %w", err)
	}

	return nil
}

// fileExists checks if a file exists and is not a directory
func fileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}

// CreateDefaultConfig writes the default configuration to path unless a file
// already exists there. An empty path means the user config file.
// It returns the path and whether a file was written.
func CreateDefaultConfig(path string) (string, bool, error) {
	if path == "" {
		cfgDir, err := ConfigDir()
		if err != nil {
			return "", false, err
		}
		path = filepath.Join(cfgDir, ConfigFileName+"."+ConfigFileExt)
	}

	if _, err := os.Stat(path); err == nil {
		return path, false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", false, fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(GenerateCUE(DefaultConfig())), 0o644); err != nil {
		return "", false, fmt.Errorf("failed to write config file: %w", err)
	}

	return path, true, nil
}

// GenerateCUE generates a CUE representation of the configuration
func GenerateCUE(cfg *Config) string {
	var sb strings.Builder

	sb.WriteString("// envmatrix configuration file\n")
	sb.WriteString("// Unset keys keep their defaults; ENVMATRIX_<KEY> variables override them.\n\n")

	fmt.Fprintf(&sb, "concurrency: %d\n", cfg.Concurrency)
	if cfg.DefaultInterpreter != "" {
		fmt.Fprintf(&sb, "default_interpreter: %q\n", cfg.DefaultInterpreter)
	}
	if len(cfg.Hosts) > 0 {
		hosts := make([]string, len(cfg.Hosts))
		for i, h := range cfg.Hosts {
			hosts[i] = string(h)
		}
		fmt.Fprintf(&sb, "hosts: %s\n", cueList(hosts))
	}

	sb.WriteString("\nruntime: {\n")
	fmt.Fprintf(&sb, "\tkind: %q\n", cfg.Runtime.Kind)
	fmt.Fprintf(&sb, "\tcreate_command: %q\n", cfg.Runtime.CreateCommand)
	fmt.Fprintf(&sb, "\tkeep_envs: %v\n", cfg.Runtime.KeepEnvs)
	fmt.Fprintf(&sb, "\tworkdir: %q\n", cfg.Runtime.Workdir)
	fmt.Fprintf(&sb, "\tcontainer: image: %q\n", cfg.Runtime.Container.Image)
	sb.WriteString("}\n")

	sb.WriteString("\ncontainer: {\n")
	fmt.Fprintf(&sb, "\tengine: %q\n", cfg.Container.Engine)
	sb.WriteString("}\n")

	sb.WriteString("\ninstall: {\n")
	fmt.Fprintf(&sb, "\tcommand: %q\n", cfg.Install.Command)
	fmt.Fprintf(&sb, "\tdevelop_command: %q\n", cfg.Install.DevelopCommand)
	sb.WriteString("}\n")

	sb.WriteString("\npassthrough: {\n")
	fmt.Fprintf(&sb, "\tallowed_prefixes: %s\n", cueList(cfg.Passthrough.AllowedPrefixes))
	fmt.Fprintf(&sb, "\talways: %s\n", cueList(cfg.Passthrough.Always))
	sb.WriteString("}\n")

	sb.WriteString("\nresults: {\n")
	fmt.Fprintf(&sb, "\tpath: %q\n", cfg.Results.Path)
	if cfg.Results.SQLite != "" {
		fmt.Fprintf(&sb, "\tsqlite: %q\n", cfg.Results.SQLite)
	}
	if up := cfg.Results.Upload; up.Enabled() {
		sb.WriteString("\tupload: {\n")
		fmt.Fprintf(&sb, "\t\tendpoint: %q\n", up.Endpoint)
		fmt.Fprintf(&sb, "\t\tbucket: %q\n", up.Bucket)
		if up.Prefix != "" {
			fmt.Fprintf(&sb, "\t\tprefix: %q\n", up.Prefix)
		}
		if up.Region != "" {
			fmt.Fprintf(&sb, "\t\tregion: %q\n", up.Region)
		}
		fmt.Fprintf(&sb, "\t\tuse_ssl: %v\n", up.UseSSL)
		sb.WriteString("\t}\n")
	}
	sb.WriteString("}\n")

	sb.WriteString("\nui: {\n")
	fmt.Fprintf(&sb, "\tcolor_scheme: %q\n", cfg.UI.ColorScheme)
	fmt.Fprintf(&sb, "\tverbose: %v\n", cfg.UI.Verbose)
	sb.WriteString("}\n")

	return sb.String()
}

func cueList(values []string) string {
	quoted := make([]string, len(values))
	for i, s := range values {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
