// SPDX-License-Identifier: MPL-2.0

// Package envspec models named test environments and their registry.
//
// A Registry holds one DefaultBlock and an ordered set of PartialSpec
// overrides, read from the INI-like registry format (see Parse and Format).
// Merge combines the default block with one override into a concrete
// EnvironmentSpec, and Sequence turns its commands into the ordered,
// allowed-to-fail aware list the executor runs.
//
// A loaded Registry is immutable; it is shared between scheduler workers
// without locking.
package envspec
