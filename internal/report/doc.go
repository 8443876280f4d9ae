// SPDX-License-Identifier: MPL-2.0

// Package report aggregates the results of a run and renders them as a
// styled terminal table or as Markdown.
package report
