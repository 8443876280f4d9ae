// SPDX-License-Identifier: MPL-2.0

// Package resolve turns a merged environment spec into a flat install plan.
//
// Extras are expanded through an optional Table loaded from project metadata,
// explicit dependencies are appended, and requirements naming the same
// distribution are collapsed. Two different version constraints for one
// distribution are reported as a DependencyConflictError; no version solving
// is attempted.
package resolve
