// SPDX-License-Identifier: MPL-2.0

// Package dag orders the stages of a workflow from their "needs" edges.
package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrCycle is the sentinel error wrapped by CycleError.
	ErrCycle = errors.New("dependency cycle")

	// ErrUnknownNode is the sentinel error wrapped by UnknownNodeError.
	ErrUnknownNode = errors.New("unknown node")
)

type (
	// CycleError indicates that the graph contains a cycle, preventing topological ordering.
	CycleError struct {
		// Cycle lists the nodes left unordered, in insertion order.
		Cycle []string
	}

	// UnknownNodeError is returned when an edge names a node that was never
	// declared with AddNode.
	UnknownNodeError struct {
		From string
		To   string
	}

	// Graph is a directed graph over string-like keys. An edge from A to B
	// means A must complete before B starts.
	Graph[K ~string] struct {
		adjacency map[K][]K
		// nodes tracks all nodes in insertion order for deterministic output.
		nodes []K
		index map[K]int
		// pending are edges whose endpoints were not declared.
		pending []UnknownNodeError
	}
)

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// Unwrap returns ErrCycle for errors.Is() compatibility.
func (e *CycleError) Unwrap() error { return ErrCycle }

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%q depends on undeclared %q", e.To, e.From)
}

// Unwrap returns ErrUnknownNode for errors.Is() compatibility.
func (e *UnknownNodeError) Unwrap() error { return ErrUnknownNode }

// New creates an empty Graph.
func New[K ~string]() *Graph[K] {
	return &Graph[K]{
		adjacency: make(map[K][]K),
		index:     make(map[K]int),
	}
}

// AddNode declares a node. Declaring it again is a no-op.
func (g *Graph[K]) AddNode(name K) {
	if _, ok := g.index[name]; ok {
		return
	}
	g.index[name] = len(g.nodes)
	g.nodes = append(g.nodes, name)
}

// Has reports whether name was declared.
func (g *Graph[K]) Has(name K) bool {
	_, ok := g.index[name]
	return ok
}

// Len returns the number of declared nodes.
func (g *Graph[K]) Len() int { return len(g.nodes) }

// AddEdge adds a directed edge from -> to, meaning "from" must run before "to".
// Undeclared endpoints are reported by TopologicalSort.
func (g *Graph[K]) AddEdge(from, to K) {
	if !g.Has(from) || !g.Has(to) {
		g.pending = append(g.pending, UnknownNodeError{From: string(from), To: string(to)})
		return
	}
	g.adjacency[from] = append(g.adjacency[from], to)
}

// TopologicalSort returns an order in which every node follows its
// predecessors. Among ready nodes the earliest declared comes first, so a
// graph without edges keeps its declaration order.
func (g *Graph[K]) TopologicalSort() ([]K, error) {
	if len(g.pending) > 0 {
		err := g.pending[0]
		return nil, &err
	}
	if len(g.nodes) == 0 {
		return nil, nil
	}

	inDegree := make([]int, len(g.nodes))
	for _, neighbors := range g.adjacency {
		for _, n := range neighbors {
			inDegree[g.index[n]]++
		}
	}

	done := make([]bool, len(g.nodes))
	result := make([]K, 0, len(g.nodes))
	for len(result) < len(g.nodes) {
		next := -1
		for i := range g.nodes {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		done[next] = true
		node := g.nodes[next]
		result = append(result, node)
		for _, n := range g.adjacency[node] {
			inDegree[g.index[n]]--
		}
	}

	if len(result) != len(g.nodes) {
		var cycle []string
		for i, node := range g.nodes {
			if !done[i] {
				cycle = append(cycle, string(node))
			}
		}
		return nil, &CycleError{Cycle: cycle}
	}
	return result, nil
}
