// SPDX-License-Identifier: MPL-2.0

// Package container drives the docker and podman CLIs for the container runtime.
//
// An environment's container lives for the whole environment run: Start
// launches it detached with the environment and project directories mounted,
// Exec runs each install step and command inside it, and Remove deletes it.
// Both engines embed BaseCLIEngine, which builds the CLI arguments and runs
// the binary through an injectable ExecCommandFunc.
//
// Engine selection uses NewEngine(EngineType) with automatic fallback to the
// other engine, or AutoDetectEngine() when no engine is configured.
package container
