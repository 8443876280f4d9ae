// SPDX-License-Identifier: MPL-2.0

package envspec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Merge combines the default block with one environment declaration.
//
// Every field set in override wins outright, including an explicitly empty
// list; unset fields take the default's value. ExtrasRequested is the union
// of the default's extras followed by the override's new ones, unless the
// override sets an empty list, which opts out of all extras.
//
// A ConfigError is returned when the result has no commands, a blank
// command, or an extra unknown to a non-nil catalog.
func Merge(defaults DefaultBlock, override PartialSpec, catalog ExtrasCatalog) (EnvironmentSpec, error) {
	if ok, errs := override.Name.IsValid(); !ok {
		return EnvironmentSpec{}, &ConfigError{Environment: override.Name, Reason: errors.Join(errs...).Error()}
	}

	d, o := defaults.Fields, override.Fields
	spec := EnvironmentSpec{
		Name:                      override.Name,
		Description:               override.Description.OrElse(""),
		BaseInterpreter:           pick(o.BaseInterpreter, d.BaseInterpreter, ""),
		UsesDevelopMode:           pick(o.UsesDevelopMode, d.UsesDevelopMode, false),
		ExtrasRequested:           mergeExtras(d.ExtrasRequested, o.ExtrasRequested),
		ExplicitDependencies:      dedupe(pick(o.ExplicitDependencies, d.ExplicitDependencies, nil)),
		PassthroughEnvVarPatterns: dedupe(pick(o.PassthroughEnvVarPatterns, d.PassthroughEnvVarPatterns, nil)),
		WorkingDirectoryOverride:  pick(o.WorkingDirectoryOverride, d.WorkingDirectoryOverride, ""),
		SetEnv:                    cloneMap(pick(o.SetEnv, d.SetEnv, nil)),
		Commands:                  slices.Clone(pick(o.Commands, d.Commands, nil)),
	}
	if spec.Commands == nil {
		spec.Commands = []Command{}
	}

	if _, err := Sequence(spec); err != nil {
		return EnvironmentSpec{}, err
	}

	for _, extra := range spec.ExtrasRequested {
		if ok, errs := extra.IsValid(); !ok {
			return EnvironmentSpec{}, &ConfigError{Environment: spec.Name, Field: "extras", Reason: errors.Join(errs...).Error()}
		}
		if catalog != nil && !catalog.HasExtra(extra) {
			return EnvironmentSpec{}, &ConfigError{
				Environment: spec.Name,
				Field:       "extras",
				Reason:      fmt.Sprintf("unknown extra %q", extra),
			}
		}
	}

	return spec, nil
}

// AsPartial returns a declaration that sets every field of spec explicitly.
// Merging it again with the same default block yields spec unchanged.
func (spec EnvironmentSpec) AsPartial() PartialSpec {
	return PartialSpec{
		Name:        spec.Name,
		Description: Some(spec.Description),
		Fields: Fields{
			BaseInterpreter:           Some(spec.BaseInterpreter),
			UsesDevelopMode:           Some(spec.UsesDevelopMode),
			ExtrasRequested:           Some(slices.Clone(spec.ExtrasRequested)),
			ExplicitDependencies:      Some(slices.Clone(spec.ExplicitDependencies)),
			PassthroughEnvVarPatterns: Some(slices.Clone(spec.PassthroughEnvVarPatterns)),
			WorkingDirectoryOverride:  Some(spec.WorkingDirectoryOverride),
			SetEnv:                    Some(cloneMap(spec.SetEnv)),
			Commands:                  Some(slices.Clone(spec.Commands)),
		},
	}
}

func pick[T any](override, def Optional[T], zero T) T {
	if v, ok := override.Get(); ok {
		return v
	}
	return def.OrElse(zero)
}

func mergeExtras(def, override Optional[[]ExtraName]) []ExtraName {
	base, _ := def.Get()
	extra, set := override.Get()
	if set && len(extra) == 0 {
		return []ExtraName{}
	}
	return dedupe(append(slices.Clone(base), extra...))
}

// dedupe keeps the first occurrence of every value and never returns nil.
func dedupe[T comparable](in []T) []T {
	out := make([]T, 0, len(in))
	seen := make(map[T]struct{}, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func cloneMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	maps.Copy(out, in)
	return out
}
