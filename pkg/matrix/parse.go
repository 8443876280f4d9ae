// SPDX-License-Identifier: MPL-2.0

package matrix

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/envmatrix/envmatrix/pkg/cueutil"
	"github.com/envmatrix/envmatrix/pkg/envspec"
)

// Workflow document formats.
const (
	FormatCUE  Format = "cue"
	FormatYAML Format = "yaml"
)

var (
	//go:embed workflow_schema.cue
	workflowSchema string

	// ErrUnknownFormat is returned for a workflow file with an unrecognized extension.
	ErrUnknownFormat = errors.New("unknown workflow format")
)

// Format is the encoding of a workflow document.
type Format string

// FormatFor detects the format from the file extension.
func FormatFor(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return FormatCUE, nil
	case ".yml", ".yaml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q (want .cue, .yml or .yaml)", ErrUnknownFormat, path)
	}
}

// Parse reads and validates the workflow at path.
func Parse(path string) (*Workflow, error) {
	format, err := FormatFor(path)
	if err != nil {
		return nil, &envspec.ConfigError{Source: path, Reason: err.Error()}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow at %s: %w", path, err)
	}
	return ParseBytes(data, path, format)
}

// ParseBytes decodes a workflow document and validates every stage.
// All problems are reported together as ConfigErrors carrying path.
func ParseBytes(data []byte, path string, format Format) (*Workflow, error) {
	var (
		wf  *Workflow
		err error
	)
	switch format {
	case FormatCUE:
		wf, err = decodeCUE(data, path)
	case FormatYAML:
		wf, err = decodeYAML(data)
	default:
		err = fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, &envspec.ConfigError{Source: path, Reason: err.Error()}
	}
	wf.Source = path

	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// Validate checks every stage and the uniqueness of stage names.
func (w *Workflow) Validate() error {
	var errs []error
	if len(w.Stages) == 0 {
		errs = append(errs, &envspec.ConfigError{Field: "stages", Reason: "workflow has no stages"})
	}
	seen := make(map[StageName]bool, len(w.Stages))
	for i, stage := range w.Stages {
		field := fmt.Sprintf("stages[%d]", i)
		errs = append(errs, stage.validate(field)...)
		if seen[stage.Name] {
			errs = append(errs, &envspec.ConfigError{Field: field + ".name", Reason: fmt.Sprintf("duplicate stage %q", stage.Name)})
		}
		seen[stage.Name] = true
	}
	for _, err := range errs {
		var cfgErr *envspec.ConfigError
		if errors.As(err, &cfgErr) && cfgErr.Source == "" {
			cfgErr.Source = w.Source
		}
	}
	return errors.Join(errs...)
}

func decodeCUE(data []byte, path string) (*Workflow, error) {
	var wf Workflow
	if err := cueutil.NewSchema(workflowSchema, "#Workflow").Decode(data, path, &wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

func decodeYAML(data []byte) (*Workflow, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var wf Workflow
	if err := dec.Decode(&wf); err != nil {
		if errors.Is(err, io.EOF) {
			return &wf, nil
		}
		return nil, err
	}
	return &wf, nil
}
