// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/issue"
	"github.com/envmatrix/envmatrix/internal/resolve"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/matrix"
	"github.com/envmatrix/envmatrix/pkg/types"
)

type (
	// projectOptions are the inputs shared by run and list-cells.
	projectOptions struct {
		registryPath string
		workflowPath string
		selector     string
	}

	// project is everything loaded before the first cell runs. Every error
	// on the way here is a configuration error.
	project struct {
		dir      string
		cfg      *config.Config
		registry *envspec.Registry
		resolver *resolve.Resolver
		plan     *matrix.Plan
		unserved []matrix.Cell
	}
)

// loadRegistry reads the registry, the configuration of its directory and the
// extras table next to it.
func (a *App) loadRegistry(ctx context.Context, registryPath string) (*project, error) {
	path, err := filepath.Abs(registryPath)
	if err != nil {
		return nil, err
	}
	p := &project{dir: filepath.Dir(path)}

	if p.cfg, err = a.loadConfig(ctx, p.dir); err != nil {
		return nil, err
	}

	p.registry, err = envspec.ParseFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, issue.NewErrorContext().
				WithOperation("load registry").
				WithResource(registryPath).
				WithSuggestion("Create " + envspec.DefaultRegistryFile + " in the project directory").
				WithSuggestion("Pass --registry to point at another file").
				WithIssue(issue.RegistryNotFoundId).
				Wrap(err).
				BuildError()
		}
		return nil, issue.NewErrorContext().
			WithOperation("parse registry").
			WithResource(registryPath).
			WithSuggestion("Check the line named in the error").
			WithIssue(issue.RegistryParseErrorId).
			Wrap(err).
			BuildError()
	}

	table, err := resolve.FindTable(p.dir)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("load extras table").
			WithResource(p.dir).
			WithSuggestion("Check the TOML syntax of " + resolve.ExtrasFileName + " or " + resolve.PyprojectFileName).
			WithIssue(issue.RegistryParseErrorId).
			Wrap(err).
			BuildError()
	}
	p.resolver = resolve.NewResolver(table)

	return p, nil
}

// loadProject loads the registry and expands the matrix down to the cells
// this host serves.
func (a *App) loadProject(ctx context.Context, opts projectOptions) (*project, error) {
	p, err := a.loadRegistry(ctx, opts.registryPath)
	if err != nil {
		return nil, err
	}

	plan, err := buildPlan(opts.workflowPath, p.registry)
	if err != nil {
		return nil, err
	}

	plan, err = plan.Select(opts.selector)
	if err != nil {
		return nil, issue.NewErrorContext().
			WithOperation("select cells").
			WithResource(opts.selector).
			WithSuggestion("Run 'envmatrix list-cells' to see stage names and cell IDs").
			WithIssue(issue.NoCellsSelectedId).
			Wrap(err).
			BuildError()
	}

	p.plan, p.unserved = plan.Partition(p.cfg.Hosts)
	return p, nil
}

// buildPlan expands the workflow, or makes the default single-stage plan
// when no workflow is given.
func buildPlan(workflowPath string, reg *envspec.Registry) (*matrix.Plan, error) {
	if workflowPath == "" {
		return matrix.DefaultPlan(reg, types.HostOS()), nil
	}

	wf, err := matrix.Parse(workflowPath)
	if err != nil {
		return nil, workflowError("parse workflow", workflowPath, err)
	}
	plan, err := matrix.Build(wf, reg)
	if err != nil {
		return nil, workflowError("expand matrix", workflowPath, err)
	}
	return plan, nil
}

// workflowError attaches the catalog entry that best explains err.
func workflowError(operation, path string, err error) error {
	id := issue.WorkflowParseErrorId
	var cfgErr *envspec.ConfigError
	if errors.As(err, &cfgErr) {
		switch {
		case cfgErr.Field == "needs":
			id = issue.StageCycleId
		case cfgErr.Environment != "":
			id = issue.UnknownEnvironmentId
		}
	}
	return issue.NewErrorContext().
		WithOperation(operation).
		WithResource(path).
		WithIssue(id).
		Wrap(err).
		BuildError()
}
