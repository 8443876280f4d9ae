// SPDX-License-Identifier: MPL-2.0

// Package matrix expands a workflow document into stage-ordered cells.
//
// A workflow lists stages. Each stage declares axes whose Cartesian product,
// after exclusions and with inclusions appended, yields the stage's cells.
// Every cell is bound to one environment of the registry and to the
// operating system whose host pool executes it.
package matrix
