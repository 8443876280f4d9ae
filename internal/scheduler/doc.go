// SPDX-License-Identifier: MPL-2.0

// Package scheduler runs a plan stage by stage. Cells of one stage run on a
// bounded worker pool; a barrier separates stages, and a failed cell keeps
// later stages from starting unless the gate is disabled.
package scheduler
