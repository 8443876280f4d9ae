// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/envmatrix/envmatrix/internal/issue"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/matrix"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newListEnvironmentsCommand(app *App) *cobra.Command {
	var registryPath string

	listCmd := &cobra.Command{
		Use:   "list-environments",
		Short: "List the environments of the registry",
		Long: `List the environments of the registry with their defaults applied.

Each row shows the merged interpreter, install mode, extras, dependency and
command counts of one environment.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := app.loadRegistry(cmd.Context(), registryPath)
			if err != nil {
				return configFailure(err)
			}
			specs, err := p.registry.ResolveAll(p.resolver.Catalog())
			if err != nil {
				return configFailure(issue.NewErrorContext().
					WithOperation("resolve environments").
					WithResource(registryPath).
					WithIssue(issue.RegistryParseErrorId).
					Wrap(err).
					BuildError())
			}
			return renderEnvironments(cmd.OutOrStdout(), specs)
		},
	}

	listCmd.Flags().StringVarP(&registryPath, "registry", "r", envspec.DefaultRegistryFile, "environment registry file")
	return listCmd
}

func renderEnvironments(w io.Writer, specs []envspec.EnvironmentSpec) error {
	if len(specs) == 0 {
		_, err := fmt.Fprintln(w, SubtitleStyle.Render("No environments defined."))
		return err
	}

	rows := make([][]string, 0, len(specs))
	for _, s := range specs {
		interpreter := s.BaseInterpreter.String()
		if interpreter == "" {
			interpreter = "(default)"
		}
		mode := "standard"
		if s.UsesDevelopMode {
			mode = "develop"
		}
		extras := make([]string, len(s.ExtrasRequested))
		for i, x := range s.ExtrasRequested {
			extras[i] = x.String()
		}
		rows = append(rows, []string{
			string(s.Name),
			interpreter,
			mode,
			strings.Join(extras, ","),
			strconv.Itoa(len(s.ExplicitDependencies)),
			strconv.Itoa(len(s.Commands)),
			s.Description.Summary(),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(SubtitleStyle).
		Headers("ENVIRONMENT", "INTERPRETER", "INSTALL", "EXTRAS", "DEPS", "COMMANDS", "DESCRIPTION").
		Rows(rows...)

	_, err := fmt.Fprintln(w, t.Render())
	return err
}

func newListCellsCommand(app *App) *cobra.Command {
	var opts projectOptions

	listCmd := &cobra.Command{
		Use:   "list-cells [selector|all]",
		Short: "List the expanded matrix",
		Long: `List the cells of the expanded matrix, stage by stage in run order.

Cells whose operating system this host does not serve (config hosts) are
listed with a note; envmatrix run will not schedule them.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.selector = args[0]
			}
			p, err := app.loadProject(cmd.Context(), opts)
			if err != nil {
				return configFailure(err)
			}
			return renderCells(cmd.OutOrStdout(), p)
		},
	}

	addProjectFlags(listCmd, &opts)
	return listCmd
}

// renderCells prints served and unserved cells grouped by stage. Unserved
// cells are merged back in so each stage shows its full expansion.
func renderCells(w io.Writer, p *project) error {
	unserved := make(map[matrix.StageName][]matrix.Cell)
	for _, c := range p.unserved {
		unserved[c.Stage] = append(unserved[c.Stage], c)
	}

	var b strings.Builder
	printed := make(map[matrix.StageName]bool)
	for _, stage := range p.plan.Stages {
		writeStage(&b, stage.Name, stage.Needs, stage.Cells, unserved[stage.Name])
		printed[stage.Name] = true
	}
	// Stages whose every cell is unserved were dropped from the plan.
	for _, c := range p.unserved {
		if printed[c.Stage] {
			continue
		}
		writeStage(&b, c.Stage, nil, nil, unserved[c.Stage])
		printed[c.Stage] = true
	}

	fmt.Fprintf(&b, "%d cells", p.plan.Len())
	if len(p.unserved) > 0 {
		fmt.Fprintf(&b, ", %d not scheduled on this host", len(p.unserved))
	}
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

func writeStage(b *strings.Builder, name matrix.StageName, needs []matrix.StageName, served, unserved []matrix.Cell) {
	b.WriteString(TitleStyle.Render("stage " + string(name)))
	if len(needs) > 0 {
		parts := make([]string, len(needs))
		for i, n := range needs {
			parts[i] = string(n)
		}
		b.WriteString(SubtitleStyle.Render(" (needs " + strings.Join(parts, ", ") + ")"))
	}
	b.WriteString("\n")

	for _, c := range served {
		writeCell(b, c, "")
	}
	for _, c := range unserved {
		writeCell(b, c, "not scheduled: no "+string(c.OS)+" host")
	}
	b.WriteString("\n")
}

func writeCell(b *strings.Builder, c matrix.Cell, note string) {
	fmt.Fprintf(b, "  %s", CmdStyle.Render(c.ID))
	if label := c.Label(); label != "" {
		fmt.Fprintf(b, "  %s", label)
	}
	if c.Included {
		b.WriteString(SubtitleStyle.Render("  [include]"))
	}
	if note != "" {
		b.WriteString("  " + WarningStyle.Render(note))
	}
	b.WriteString("\n")
}
