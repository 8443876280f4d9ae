// SPDX-License-Identifier: MPL-2.0

// Package testutil holds test helpers shared across packages: a manually
// driven clock for timestamped results, MustWriteFile for fixture files and
// the gate and slot limit of tests that start containers.
package testutil
