// SPDX-License-Identifier: MPL-2.0

package envspec

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/envmatrix/envmatrix/pkg/types"
)

const (
	// DefaultRegistryFile is the registry file name looked up in the project root.
	DefaultRegistryFile = "envmatrix.ini"

	// DefaultsSection is the header of the shared default block.
	DefaultsSection = "defaults"

	// EnvSectionPrefix prefixes the header of every environment block.
	EnvSectionPrefix = "env:"

	// MaxRegistrySize caps the registry file size read by ParseFile.
	MaxRegistrySize = 1 << 20
)

// Registry keys.
const (
	KeyDescription     = "description"
	KeyBaseInterpreter = "base_interpreter"
	KeyDevelop         = "develop"
	KeyExtras          = "extras"
	KeyDeps            = "deps"
	KeyPassenv         = "passenv"
	KeyChangedir       = "changedir"
	KeySetenv          = "setenv"
	KeyCommands        = "commands"
)

type (
	// rawSection is one "[...]" block with its keys in file order.
	rawSection struct {
		header string
		line   int
		keys   []string
		values map[string]*rawValue
	}

	// rawValue holds the non-empty lines of one key: the text after "=" and
	// every continuation line, trimmed.
	rawValue struct {
		line  int
		lines []string
	}
)

// ParseFile reads and parses the registry file at path.
func ParseFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat registry: %w", err)
	}
	if info.Size() > MaxRegistrySize {
		return nil, &ConfigError{Source: path, Reason: fmt.Sprintf("file exceeds %d bytes", MaxRegistrySize)}
	}
	return Parse(f, path)
}

// Parse reads a registry from r. source names the input in error messages.
//
// The grammar is line based: "[defaults]" and "[env:<name>]" section headers,
// "key = value" entries, indented continuation lines that append to the
// previous key, and "#" or ";" comment lines. Duplicate sections, duplicate
// keys and unknown keys are ConfigErrors.
func Parse(r io.Reader, source string) (*Registry, error) {
	sections, err := scanSections(r, source)
	if err != nil {
		return nil, err
	}

	reg := &Registry{envs: make(map[EnvironmentName]PartialSpec)}
	seenDefaults := false
	for _, sec := range sections {
		switch {
		case sec.header == DefaultsSection:
			if seenDefaults {
				return nil, &ConfigError{Source: source, Line: sec.line, Reason: "duplicate [defaults] section"}
			}
			seenDefaults = true
			fields, err := decodeFields(sec, source, "", false)
			if err != nil {
				return nil, err
			}
			reg.defaults = DefaultBlock{Fields: fields}
		case strings.HasPrefix(sec.header, EnvSectionPrefix):
			name := EnvironmentName(strings.TrimSpace(strings.TrimPrefix(sec.header, EnvSectionPrefix)))
			env := PartialSpec{Name: name}
			if v, ok := sec.values[KeyDescription]; ok {
				desc := types.DescriptionText(strings.Join(v.lines, "\n"))
				if valid, errs := desc.IsValid(); !valid {
					return nil, &ConfigError{Source: source, Line: v.line, Environment: name, Field: KeyDescription, Reason: errs[0].Error()}
				}
				env.Description = Some(desc)
			}
			fields, err := decodeFields(sec, source, name, true)
			if err != nil {
				return nil, err
			}
			env.Fields = fields
			if err := reg.add(env); err != nil {
				var cfgErr *ConfigError
				if errors.As(err, &cfgErr) {
					cfgErr.Source, cfgErr.Line = source, sec.line
				}
				return nil, err
			}
		default:
			return nil, &ConfigError{Source: source, Line: sec.line, Reason: fmt.Sprintf("unknown section [%s]", sec.header)}
		}
	}
	return reg, nil
}

func scanSections(r io.Reader, source string) ([]*rawSection, error) {
	var (
		sections []*rawSection
		current  *rawSection
		value    *rawValue
		lineNo   int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), " \t\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || trimmed[0] == '#' || trimmed[0] == ';' {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if value == nil {
				return nil, &ConfigError{Source: source, Line: lineNo, Reason: "continuation line without a key"}
			}
			value.lines = append(value.lines, trimmed)
			continue
		}

		if strings.HasPrefix(trimmed, "[") {
			if !strings.HasSuffix(trimmed, "]") {
				return nil, &ConfigError{Source: source, Line: lineNo, Reason: fmt.Sprintf("malformed section header %q", trimmed)}
			}
			current = &rawSection{
				header: strings.TrimSpace(trimmed[1 : len(trimmed)-1]),
				line:   lineNo,
				values: make(map[string]*rawValue),
			}
			sections = append(sections, current)
			value = nil
			continue
		}

		if current == nil {
			return nil, &ConfigError{Source: source, Line: lineNo, Reason: "entry outside of a section"}
		}
		key, rest, ok := strings.Cut(trimmed, "=")
		if !ok {
			return nil, &ConfigError{Source: source, Line: lineNo, Reason: fmt.Sprintf("expected key = value, got %q", trimmed)}
		}
		key = strings.ToLower(strings.TrimSpace(key))
		if _, dup := current.values[key]; dup {
			return nil, &ConfigError{Source: source, Line: lineNo, Field: key, Reason: fmt.Sprintf("duplicate key in [%s]", current.header)}
		}
		value = &rawValue{line: lineNo}
		if rest = strings.TrimSpace(rest); rest != "" {
			value.lines = append(value.lines, rest)
		}
		current.keys = append(current.keys, key)
		current.values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read registry %s: %w", source, err)
	}
	return sections, nil
}

func decodeFields(sec *rawSection, source string, env EnvironmentName, allowDescription bool) (Fields, error) {
	var f Fields
	for _, key := range sec.keys {
		v := sec.values[key]
		fail := func(format string, args ...any) error {
			return &ConfigError{Source: source, Line: v.line, Environment: env, Field: key, Reason: fmt.Sprintf(format, args...)}
		}

		switch key {
		case KeyDescription:
			if !allowDescription {
				return Fields{}, fail("not allowed in [%s]", DefaultsSection)
			}
		case KeyBaseInterpreter:
			s, err := single(v)
			if err != nil {
				return Fields{}, fail("%v", err)
			}
			f.BaseInterpreter = Some(VersionSpec(s))
		case KeyDevelop:
			s, err := single(v)
			if err != nil {
				return Fields{}, fail("%v", err)
			}
			b, err := parseBool(s)
			if err != nil {
				return Fields{}, fail("%v", err)
			}
			f.UsesDevelopMode = Some(b)
		case KeyExtras:
			extras := []ExtraName{}
			for _, w := range words(v.lines) {
				extras = append(extras, ExtraName(w))
			}
			f.ExtrasRequested = Some(extras)
		case KeyDeps:
			deps := make([]PackageConstraint, 0, len(v.lines))
			for _, l := range v.lines {
				deps = append(deps, PackageConstraint(l))
			}
			f.ExplicitDependencies = Some(deps)
		case KeyPassenv:
			f.PassthroughEnvVarPatterns = Some(words(v.lines))
		case KeyChangedir:
			s, err := single(v)
			if err != nil {
				return Fields{}, fail("%v", err)
			}
			f.WorkingDirectoryOverride = Some(s)
		case KeySetenv:
			env := make(map[string]string, len(v.lines))
			for _, l := range v.lines {
				name, val, ok := strings.Cut(l, "=")
				name = strings.TrimSpace(name)
				if !ok || name == "" {
					return Fields{}, fail("expected NAME=VALUE, got %q", l)
				}
				if _, dup := env[name]; dup {
					return Fields{}, fail("variable %s set twice", name)
				}
				env[name] = strings.TrimSpace(val)
			}
			f.SetEnv = Some(env)
		case KeyCommands:
			cmds := make([]Command, 0, len(v.lines))
			for _, l := range v.lines {
				cmd, err := ParseCommand(l)
				if err != nil {
					return Fields{}, fail("%v", err)
				}
				cmds = append(cmds, cmd)
			}
			f.Commands = Some(cmds)
		default:
			return Fields{}, fail("unknown key")
		}
	}
	return f, nil
}

func single(v *rawValue) (string, error) {
	switch len(v.lines) {
	case 0:
		return "", nil
	case 1:
		return v.lines[0], nil
	default:
		return "", errors.New("expected a single value")
	}
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "true", "yes", "1", "on":
		return true, nil
	case "false", "no", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean %q", s)
	}
}

// words splits every line on whitespace and commas. It never returns nil.
func words(lines []string) []string {
	out := []string{}
	for _, l := range lines {
		out = append(out, strings.FieldsFunc(l, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t'
		})...)
	}
	return out
}
