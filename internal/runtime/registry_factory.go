// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"github.com/envmatrix/envmatrix/internal/config"
	"github.com/envmatrix/envmatrix/internal/container"
)

type (
	// BuildRegistryOptions configures BuildRegistry.
	BuildRegistryOptions struct {
		// Config supplies the creation command, the image template and the
		// container engine. Nil means config.DefaultConfig().
		Config *config.Config
		// Resolver overrides interpreter lookup for the host and virtual
		// providers.
		Resolver InterpreterResolver
		// EngineOptions reach the container engine; tests point the binary
		// at a stub here.
		EngineOptions []container.BaseCLIEngineOption
	}

	// BuiltRegistry is the provider registry of one run. ContainerInitErr
	// explains why the container provider is missing, if it is.
	BuiltRegistry struct {
		Registry         *Registry
		ContainerInitErr error
	}
)

// BuildRegistry registers the host and virtual providers and, when a
// container engine answers, the container provider. A missing engine is
// not an error; only a malformed creation command is.
func BuildRegistry(opts BuildRegistryOptions) (BuiltRegistry, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	create, err := ParseTemplate(cfg.Runtime.CreateCommand.String())
	if err != nil {
		return BuiltRegistry{}, err
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = NewPathResolver(nil)
	}

	built := BuiltRegistry{Registry: NewRegistry()}
	built.Registry.Register(NewHostProvider(WithResolver(resolver), WithCreateCommand(create)))
	built.Registry.Register(NewVirtualProvider(WithVirtualResolver(resolver), WithVirtualCreateCommand(create)))

	engine, err := container.NewEngine(container.EngineType(cfg.Container.Engine), opts.EngineOptions...)
	if err != nil {
		built.ContainerInitErr = err
		return built, nil
	}
	built.Registry.Register(NewContainerProvider(engine,
		WithImageTemplate(cfg.Runtime.Container.Image),
		WithContainerCreateCommand(create),
	))
	return built, nil
}
