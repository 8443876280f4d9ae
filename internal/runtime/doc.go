// SPDX-License-Identifier: MPL-2.0

// Package runtime provisions the isolated environment of a matrix cell and
// runs commands inside it.
//
// Three providers are available:
//   - host: commands run through the platform shell (sh, or cmd/PowerShell on Windows)
//   - virtual: commands are interpreted in-process by mvdan/sh
//   - container: one long-lived Docker/Podman container per cell, commands use exec
//
// A Provider turns a ProvisionRequest into a Runtime. A Runtime runs
// Invocations (a shell script or an already split argv) and must be released
// with Close on every path.
//
// Command environments are assembled by BuildEnv from the host environment
// filtered by an EnvFilter, then the environment's fixed variables, then the
// per-cell variables set by the executor.
package runtime
