// SPDX-License-Identifier: MPL-2.0

package executor

import (
	"fmt"

	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/runtime"
	"github.com/envmatrix/envmatrix/pkg/envspec"
)

// OptionsFromConfig translates the application config into executor options.
// Callers append their own options (project dir, output, resolver) after these.
func OptionsFromConfig(cfg *config.Config) ([]Option, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	install, err := runtime.ParseTemplate(cfg.Install.Command.String())
	if err != nil {
		return nil, fmt.Errorf("install.command: %w", err)
	}
	develop, err := runtime.ParseTemplate(cfg.Install.DevelopCommand.String())
	if err != nil {
		return nil, fmt.Errorf("install.develop_command: %w", err)
	}

	return []Option{
		WithInstallCommands(install, develop),
		WithDefaultInterpreter(envspec.VersionSpec(cfg.DefaultInterpreter)),
		WithEnvFilter(runtime.EnvFilter{
			AllowedPrefixes: cfg.Passthrough.AllowedPrefixes,
			Always:          cfg.Passthrough.Always,
		}),
		WithWorkdir(cfg.Runtime.Workdir),
		WithKeepEnvs(cfg.Runtime.KeepEnvs),
	}, nil
}
