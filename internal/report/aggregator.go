// SPDX-License-Identifier: MPL-2.0

package report

import (
	"slices"
	"sync"

	"github.com/envmatrix/envmatrix/internal/executor"
	"github.com/envmatrix/envmatrix/pkg/matrix"
	"github.com/envmatrix/envmatrix/pkg/types"
)

// Aggregator collects the results of a run. It is safe for concurrent use.
type Aggregator struct {
	mu       sync.Mutex
	results  []executor.RunResult
	unserved []matrix.Cell
}

// NewAggregator returns an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// FromResults rebuilds an Aggregator from stored results.
func FromResults(results []executor.RunResult, unserved []matrix.Cell) *Aggregator {
	return &Aggregator{
		results:  slices.Clone(results),
		unserved: slices.Clone(unserved),
	}
}

// Record adds the result of cell. Results are kept in record order.
func (a *Aggregator) Record(cell matrix.Cell, result executor.RunResult) {
	if result.Cell == "" {
		result.Cell = cell.ID
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.results = append(a.results, result)
}

// MarkUnserved lists cells this host does not execute. They appear in the
// report but do not count towards the overall status.
func (a *Aggregator) MarkUnserved(cells ...matrix.Cell) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unserved = append(a.unserved, cells...)
}

// Results returns a copy of the recorded results.
func (a *Aggregator) Results() []executor.RunResult {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.results)
}

// Unserved returns a copy of the cells marked unserved.
func (a *Aggregator) Unserved() []matrix.Cell {
	a.mu.Lock()
	defer a.mu.Unlock()
	return slices.Clone(a.unserved)
}

// Finalize returns the overall status of the recorded results.
func (a *Aggregator) Finalize() types.Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return OverallStatus(a.results)
}

// Counts tallies the recorded results by status.
func (a *Aggregator) Counts() map[types.Status]int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return countStatuses(a.results)
}

func countStatuses(results []executor.RunResult) map[types.Status]int {
	counts := make(map[types.Status]int, 3)
	for _, r := range results {
		counts[r.Status]++
	}
	return counts
}

// OverallStatus is Passed iff every result passed. Any failed or skipped
// result makes it Failed; no results at all is Passed.
func OverallStatus(results []executor.RunResult) types.Status {
	for _, r := range results {
		if r.Status != types.StatusPassed {
			return types.StatusFailed
		}
	}
	return types.StatusPassed
}
