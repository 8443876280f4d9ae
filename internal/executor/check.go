// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"errors"

	"github.com/envmatrix/envmatrix/internal/runtime"
	"github.com/envmatrix/envmatrix/pkg/envspec"
)

// Check reports configuration problems of spec that would otherwise only
// surface once a cell has been provisioned: passthrough patterns that do
// not compile, and commands the POSIX shell of the virtual and container
// runtimes cannot parse.
func (e *Executor) Check(spec envspec.EnvironmentSpec) error {
	var errs []error
	if err := runtime.ValidatePatterns(spec.PassthroughEnvVarPatterns); err != nil {
		errs = append(errs, &envspec.ConfigError{
			Environment: spec.Name,
			Field:       envspec.KeyPassenv,
			Reason:      err.Error(),
		})
	}

	switch e.provider.Kind() {
	case runtime.KindVirtual, runtime.KindContainer:
		for _, cmd := range spec.Commands {
			if err := runtime.CheckSyntax(cmd.Text); err != nil {
				errs = append(errs, &envspec.ConfigError{
					Environment: spec.Name,
					Field:       envspec.KeyCommands,
					Reason:      err.Error(),
				})
			}
		}
	}
	return errors.Join(errs...)
}
