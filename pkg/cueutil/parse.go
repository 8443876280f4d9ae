// SPDX-License-Identifier: MPL-2.0

package cueutil

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

// MaxFileSize bounds the size of a user file validated against a Schema.
const MaxFileSize = 5 << 20

// Schema is an embedded CUE schema and the definition user files are
// unified with. The source is compiled on every call, since cue values are
// tied to the context that built them.
type Schema struct {
	source     string
	definition string
}

// NewSchema returns a Schema for definition (e.g. "#Workflow") in source.
func NewSchema(source, definition string) *Schema {
	return &Schema{source: source, definition: definition}
}

// Decode validates data and decodes it into out. Every field must be
// concrete after unification, so schema defaults are applied.
func (s *Schema) Decode(data []byte, filename string, out any) error {
	v, err := s.unify(data, filename, true)
	if err != nil {
		return err
	}
	if err := v.Decode(out); err != nil {
		return FormatError(err, filename)
	}
	return nil
}

// DecodeMap validates data and returns it as the nested map viper merges.
// Optional fields the file leaves unset stay absent from the map.
func (s *Schema) DecodeMap(data []byte, filename string) (map[string]any, error) {
	v, err := s.unify(data, filename, false)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := v.Decode(&out); err != nil {
		return nil, FormatError(err, filename)
	}
	return out, nil
}

func (s *Schema) unify(data []byte, filename string, concrete bool) (cue.Value, error) {
	if filename == "" {
		filename = "<input>"
	}
	if len(data) > MaxFileSize {
		return cue.Value{}, &FileTooLargeError{File: filename, Size: len(data)}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(s.source)
	if err := schema.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("compile embedded schema: %w", err)
	}
	def := schema.LookupPath(cue.ParsePath(s.definition))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("embedded schema has no %s: %w", s.definition, err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return cue.Value{}, FormatError(err, filename)
	}

	unified := def.Unify(user)
	if err := unified.Validate(cue.Concrete(concrete)); err != nil {
		return cue.Value{}, FormatError(err, filename)
	}
	return unified, nil
}
