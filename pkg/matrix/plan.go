// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"errors"
	"fmt"
	"slices"

	"github.com/envmatrix/envmatrix/internal/dag"
	"github.com/envmatrix/envmatrix/pkg/envspec"
	"github.com/envmatrix/envmatrix/pkg/types"
)

type (
	// Plan is the stage-ordered list of cells of one run.
	Plan struct {
		Stages []PlannedStage `json:"stages"`
	}

	// PlannedStage is a stage with its expanded cells.
	PlannedStage struct {
		Name  StageName   `json:"name"`
		Needs []StageName `json:"needs,omitempty"`
		Cells []Cell      `json:"cells"`
	}
)

// Build expands every stage of wf, checks that each cell names an
// environment of reg and orders the stages by their needs. Stages without
// needs between them keep their declaration order.
func Build(wf *Workflow, reg *envspec.Registry) (*Plan, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	order, err := stageOrder(wf.Stages)
	if err != nil {
		return nil, &envspec.ConfigError{Source: wf.Source, Field: "needs", Reason: err.Error()}
	}

	byName := make(map[StageName]Stage, len(wf.Stages))
	for _, s := range wf.Stages {
		byName[s.Name] = s
	}

	var (
		plan Plan
		errs []error
	)
	for _, name := range order {
		stage := byName[name]
		cells, err := stageCells(stage)
		if err != nil {
			errs = append(errs, &envspec.ConfigError{Source: wf.Source, Field: "stage " + string(name), Reason: err.Error()})
			continue
		}
		for _, cell := range cells {
			if _, ok := reg.Lookup(cell.Environment); !ok {
				errs = append(errs, &envspec.ConfigError{
					Source:      wf.Source,
					Environment: cell.Environment,
					Field:       "cell " + cell.ID,
					Reason:      "unknown environment",
				})
			}
		}
		plan.Stages = append(plan.Stages, PlannedStage{Name: name, Needs: stage.Needs, Cells: cells})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &plan, nil
}

// DefaultPlan makes each environment of reg one cell of the single stage
// "default", in registry order, running on os.
func DefaultPlan(reg *envspec.Registry, os types.OSName) *Plan {
	stage := PlannedStage{Name: DefaultStage}
	for _, name := range reg.Names() {
		stage.Cells = append(stage.Cells, Cell{
			ID:          cellID(DefaultStage, name, os),
			Stage:       DefaultStage,
			Environment: name,
			OS:          os,
		})
	}
	return &Plan{Stages: []PlannedStage{stage}}
}

// Cells returns every cell in stage order.
func (p *Plan) Cells() []Cell {
	var cells []Cell
	for _, s := range p.Stages {
		cells = append(cells, s.Cells...)
	}
	return cells
}

// Len returns the number of cells.
func (p *Plan) Len() int {
	n := 0
	for _, s := range p.Stages {
		n += len(s.Cells)
	}
	return n
}

// Filter returns the plan restricted to cells for which keep is true.
// Stages left without cells are dropped.
func (p *Plan) Filter(keep func(Cell) bool) *Plan {
	out := &Plan{}
	for _, s := range p.Stages {
		kept := PlannedStage{Name: s.Name, Needs: s.Needs}
		for _, c := range s.Cells {
			if keep(c) {
				kept.Cells = append(kept.Cells, c)
			}
		}
		if len(kept.Cells) > 0 {
			out.Stages = append(out.Stages, kept)
		}
	}
	return out
}

// Partition splits the plan into the cells this host can execute and those
// whose OS is not among hosts.
func (p *Plan) Partition(hosts []types.OSName) (served *Plan, unserved []Cell) {
	normalized := make([]types.OSName, len(hosts))
	for i, h := range hosts {
		normalized[i] = h.Normalize()
	}
	servedBy := func(c Cell) bool { return slices.Contains(normalized, c.OS.Normalize()) }

	for _, c := range p.Cells() {
		if !servedBy(c) {
			unserved = append(unserved, c)
		}
	}
	return p.Filter(servedBy), unserved
}

func stageOrder(stages []Stage) ([]StageName, error) {
	g := dag.New[StageName]()
	for _, s := range stages {
		g.AddNode(s.Name)
	}
	for _, s := range stages {
		for _, need := range s.Needs {
			g.AddEdge(need, s.Name)
		}
	}
	return g.TopologicalSort()
}

// stageCells expands the stage, appends its explicit cells and assigns IDs.
func stageCells(s Stage) ([]Cell, error) {
	var cells []Cell
	if s.expands() {
		mapper, err := NewTemplateMapper(s.Environment, s.OS)
		if err != nil {
			return nil, err
		}
		cells, err = Expand(s.Axes, s.Include, s.Exclude, mapper)
		if err != nil {
			return nil, err
		}
	}
	for _, ref := range s.Cells {
		os := ref.OS
		if os == "" {
			os = s.OS
		}
		cells = append(cells, Cell{Environment: ref.Environment, OS: osFor(nil, os), Included: true})
	}

	counts := make(map[string]int, len(cells))
	for i := range cells {
		cells[i].Stage = s.Name
		id := cellID(s.Name, cells[i].Environment, cells[i].OS)
		counts[id]++
		if n := counts[id]; n > 1 {
			id = fmt.Sprintf("%s#%d", id, n)
		}
		cells[i].ID = id
	}
	return cells, nil
}
