// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	goruntime "runtime"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/types"

	"github.com/mattn/go-shellwords"
)

const (
	// ContainerEnginePodman uses Podman as the container engine.
	ContainerEnginePodman ContainerEngine = "podman"
	// ContainerEngineDocker uses Docker as the container engine.
	ContainerEngineDocker ContainerEngine = "docker"

	// RuntimeHost provisions environments on the host and runs commands
	// through the platform shell.
	// Defined locally to avoid coupling config to internal/runtime.
	RuntimeHost RuntimeKind = "host"
	// RuntimeVirtual runs commands in the embedded mvdan/sh interpreter.
	RuntimeVirtual RuntimeKind = "virtual"
	// RuntimeContainer runs each cell in its own Docker/Podman container.
	RuntimeContainer RuntimeKind = "container"

	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidContainerEngine is returned when a ContainerEngine value is not recognized.
	ErrInvalidContainerEngine = errors.New("invalid container engine")
	// ErrInvalidRuntimeKind is returned when a RuntimeKind value is not recognized.
	ErrInvalidRuntimeKind = errors.New("invalid runtime kind")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidCommandTemplate is the sentinel error wrapped by InvalidCommandTemplateError.
	ErrInvalidCommandTemplate = errors.New("invalid command template")
	// ErrInvalidConcurrency is returned for a worker count below one.
	ErrInvalidConcurrency = errors.New("invalid concurrency")
	// ErrInvalidUploadConfig is the sentinel error wrapped by InvalidUploadConfigError.
	ErrInvalidUploadConfig = errors.New("invalid upload config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// ContainerEngine specifies which container engine to use.
	ContainerEngine string

	// InvalidContainerEngineError is returned when a ContainerEngine value is not recognized.
	// It wraps ErrInvalidContainerEngine for errors.Is() compatibility.
	InvalidContainerEngineError struct {
		Value ContainerEngine
	}

	// RuntimeKind selects the runtime provider that provisions environments.
	// The CLI casts it to runtime.Kind at the boundary.
	RuntimeKind string

	// InvalidRuntimeKindError is returned when a RuntimeKind value is not recognized.
	InvalidRuntimeKindError struct {
		Value RuntimeKind
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// CommandTemplate is a command line with {placeholder} words, split into
	// argv with shell word rules. The zero value is valid and disables the step.
	CommandTemplate string

	// InvalidCommandTemplateError is returned when a CommandTemplate cannot be
	// split into words (unbalanced quotes, trailing escape).
	InvalidCommandTemplateError struct {
		Value CommandTemplate
		Err   error
	}

	// InvalidConcurrencyError is returned for a worker count below one.
	InvalidConcurrencyError struct {
		Value int
	}

	// InvalidUploadConfigError is returned when an UploadConfig is incomplete.
	InvalidUploadConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Concurrency bounds the number of cells that run at the same time.
		Concurrency int `json:"concurrency" mapstructure:"concurrency"`
		// DefaultInterpreter is used when neither the environment nor the cell
		// names a base interpreter.
		DefaultInterpreter string `json:"default_interpreter" mapstructure:"default_interpreter"`
		// Runtime configures environment provisioning.
		Runtime RuntimeConfig `json:"runtime" mapstructure:"runtime"`
		// Container configures the container engine.
		Container ContainerConfig `json:"container" mapstructure:"container"`
		// Install configures the installer commands.
		Install InstallConfig `json:"install" mapstructure:"install"`
		// Passthrough configures which host variables reach commands.
		Passthrough PassthroughConfig `json:"passthrough" mapstructure:"passthrough"`
		// Hosts lists the operating systems this host may execute cells for.
		Hosts []types.OSName `json:"hosts" mapstructure:"hosts"`
		// Results configures result log persistence.
		Results ResultsConfig `json:"results" mapstructure:"results"`
		// UI configures the user interface.
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// RuntimeConfig configures environment provisioning.
	RuntimeConfig struct {
		// Kind selects the runtime provider: host, virtual or container.
		Kind RuntimeKind `json:"kind" mapstructure:"kind"`
		// CreateCommand creates the isolated environment, e.g. "{interpreter} -m venv {envdir}".
		CreateCommand CommandTemplate `json:"create_command" mapstructure:"create_command"`
		// KeepEnvs keeps cell directories after the run.
		KeepEnvs bool `json:"keep_envs" mapstructure:"keep_envs"`
		// Workdir is the root under which each run gets its cell directories.
		Workdir string `json:"workdir" mapstructure:"workdir"`
		// Container configures the container runtime provider.
		Container RuntimeContainerConfig `json:"container" mapstructure:"container"`
	}

	// RuntimeContainerConfig configures the container runtime provider.
	RuntimeContainerConfig struct {
		// Image is the image template; {version} is the requested interpreter version.
		Image string `json:"image" mapstructure:"image"`
	}

	// ContainerConfig configures the container engine.
	ContainerConfig struct {
		// Engine specifies whether to use "podman" or "docker"
		Engine ContainerEngine `json:"engine" mapstructure:"engine"`
	}

	// InstallConfig configures the installer commands.
	InstallConfig struct {
		// Command installs the plan's packages; {packages} expands to one word per package.
		Command CommandTemplate `json:"command" mapstructure:"command"`
		// DevelopCommand installs the project in develop mode.
		DevelopCommand CommandTemplate `json:"develop_command" mapstructure:"develop_command"`
	}

	// PassthroughConfig configures which host variables reach commands.
	PassthroughConfig struct {
		// AllowedPrefixes restricts forwarded names to these prefixes. Empty means
		// no prefix restriction.
		AllowedPrefixes []string `json:"allowed_prefixes" mapstructure:"allowed_prefixes"`
		// Always lists names forwarded regardless of patterns and prefixes.
		Always []string `json:"always" mapstructure:"always"`
	}

	// ResultsConfig configures result log persistence.
	ResultsConfig struct {
		// Path is the directory that receives <run-id>.json logs.
		Path string `json:"path" mapstructure:"path"`
		// SQLite is the path of the run history database. Empty disables it.
		SQLite string `json:"sqlite" mapstructure:"sqlite"`
		// Upload configures the object store copy of each log.
		Upload UploadConfig `json:"upload" mapstructure:"upload"`
	}

	// UploadConfig configures the S3-compatible object store that receives result logs.
	// An empty Endpoint disables uploads.
	UploadConfig struct {
		Endpoint  string `json:"endpoint" mapstructure:"endpoint"`
		Bucket    string `json:"bucket" mapstructure:"bucket"`
		Prefix    string `json:"prefix" mapstructure:"prefix"`
		AccessKey string `json:"access_key" mapstructure:"access_key"`
		SecretKey string `json:"secret_key" mapstructure:"secret_key"`
		Region    string `json:"region" mapstructure:"region"`
		UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// Enabled reports whether uploads are configured.
func (c UploadConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != ""
}

// IsValid returns whether the UploadConfig is usable. A disabled upload is
// always valid; an enabled one needs a bucket.
func (c UploadConfig) IsValid() (bool, []error) {
	if !c.Enabled() {
		return true, nil
	}
	var errs []error
	if strings.TrimSpace(c.Bucket) == "" {
		errs = append(errs, errors.New("bucket is required when endpoint is set"))
	}
	if (c.AccessKey == "") != (c.SecretKey == "") {
		errs = append(errs, errors.New("access_key and secret_key must be set together"))
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUploadConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUploadConfigError.
func (e *InvalidUploadConfigError) Error() string {
	return fmt.Sprintf("invalid upload config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidUploadConfig for errors.Is() compatibility.
func (e *InvalidUploadConfigError) Unwrap() error { return ErrInvalidUploadConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to the typed values and the nested upload config.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, &InvalidConcurrencyError{Value: c.Concurrency})
	}
	validators := []func() (bool, []error){
		c.Runtime.Kind.IsValid,
		c.Runtime.CreateCommand.IsValid,
		c.Container.Engine.IsValid,
		c.Install.Command.IsValid,
		c.Install.DevelopCommand.IsValid,
		c.Results.Upload.IsValid,
		c.UI.ColorScheme.IsValid,
	}
	for _, host := range c.Hosts {
		validators = append(validators, host.IsValid)
	}
	for _, validate := range validators {
		if valid, fieldErrs := validate(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %v", errors.Join(e.FieldErrors...))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// Error implements the error interface for InvalidConcurrencyError.
func (e *InvalidConcurrencyError) Error() string {
	return fmt.Sprintf("invalid concurrency %d: must be at least 1", e.Value)
}

// Unwrap returns ErrInvalidConcurrency for errors.Is() compatibility.
func (e *InvalidConcurrencyError) Unwrap() error { return ErrInvalidConcurrency }

// String returns the string representation of the CommandTemplate.
func (c CommandTemplate) String() string { return string(c) }

// IsValid returns whether the template splits into shell words.
func (c CommandTemplate) IsValid() (bool, []error) {
	if _, err := shellwords.Parse(string(c)); err != nil {
		return false, []error{&InvalidCommandTemplateError{Value: c, Err: err}}
	}
	return true, nil
}

// Error implements the error interface for InvalidCommandTemplateError.
func (e *InvalidCommandTemplateError) Error() string {
	return fmt.Sprintf("invalid command template %q: %v", e.Value, e.Err)
}

// Unwrap returns ErrInvalidCommandTemplate for errors.Is() compatibility.
func (e *InvalidCommandTemplateError) Unwrap() error { return ErrInvalidCommandTemplate }

// Error implements the error interface for InvalidContainerEngineError.
func (e *InvalidContainerEngineError) Error() string {
	return fmt.Sprintf("invalid container engine %q (valid: podman, docker)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidContainerEngineError) Unwrap() error {
	return ErrInvalidContainerEngine
}

// String returns the string representation of the ContainerEngine.
func (ce ContainerEngine) String() string { return string(ce) }

// IsValid returns whether the ContainerEngine is one of the defined engine types,
// and a list of validation errors if it is not.
func (ce ContainerEngine) IsValid() (bool, []error) {
	switch ce {
	case ContainerEnginePodman, ContainerEngineDocker:
		return true, nil
	default:
		return false, []error{&InvalidContainerEngineError{Value: ce}}
	}
}

// Error implements the error interface for InvalidRuntimeKindError.
func (e *InvalidRuntimeKindError) Error() string {
	return fmt.Sprintf("invalid runtime kind %q (valid: host, virtual, container)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidRuntimeKindError) Unwrap() error {
	return ErrInvalidRuntimeKind
}

// String returns the string representation of the RuntimeKind.
func (k RuntimeKind) String() string { return string(k) }

// IsValid returns whether the RuntimeKind is one of the defined kinds.
func (k RuntimeKind) IsValid() (bool, []error) {
	switch k {
	case RuntimeHost, RuntimeVirtual, RuntimeContainer:
		return true, nil
	default:
		return false, []error{&InvalidRuntimeKindError{Value: k}}
	}
}

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Concurrency:        goruntime.NumCPU(),
		DefaultInterpreter: "",
		Runtime: RuntimeConfig{
			Kind:          RuntimeHost,
			CreateCommand: "{interpreter} -m venv {envdir}",
			KeepEnvs:      false,
			Workdir:       ".envmatrix/envs",
			Container: RuntimeContainerConfig{
				Image: "python:{version}-slim",
			},
		},
		Container: ContainerConfig{
			Engine: ContainerEnginePodman,
		},
		Install: InstallConfig{
			Command:        "{python} -m pip install {packages}",
			DevelopCommand: "{python} -m pip install -e {project}",
		},
		Passthrough: PassthroughConfig{
			AllowedPrefixes: []string{},
			Always: []string{
				"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR", "TEMP", "TMP", "TERM",
				"USER", "SYSTEMROOT", "COMSPEC", "PATHEXT",
			},
		},
		Hosts: []types.OSName{types.HostOS()},
		Results: ResultsConfig{
			Path: ".envmatrix/runs",
		},
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}
