// SPDX-License-Identifier: MPL-2.0

// Package resultlog persists run results: an indented JSON log per run, an
// optional SQLite history and an optional copy in an S3-compatible object
// store.
package resultlog
