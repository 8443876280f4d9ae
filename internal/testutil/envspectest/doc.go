// SPDX-License-Identifier: MPL-2.0

// Package envspectest provides test builders for envspec declarations.
//
// It is kept apart from testutil so that testutil stays free of domain
// imports.
//
// # Usage
//
//	env := envspectest.NewTestEnvironment("py311",
//	    envspectest.WithInterpreter("3.11"),
//	    envspectest.WithCommands("pytest -v"),
//	)
//	reg := envspectest.NewTestRegistry(t, env)
package envspectest
