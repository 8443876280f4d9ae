// SPDX-License-Identifier: MPL-2.0

package runtime

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mattn/go-shellwords"
)

// Template placeholders.
const (
	PlaceholderInterpreter = "{interpreter}"
	PlaceholderPython      = "{python}"
	PlaceholderEnvDir      = "{envdir}"
	PlaceholderProject     = "{project}"
	PlaceholderPackages    = "{packages}"
	PlaceholderVersion     = "{version}"
)

type (
	// Template is a command line with placeholders, split into words once.
	Template struct {
		raw   string
		words []string
	}

	// TemplateValues are substituted into a Template. A word that is exactly
	// a Lists key expands to that many words (possibly none).
	TemplateValues struct {
		Vars  map[string]string
		Lists map[string][]string
	}
)

// ParseTemplate splits raw with shell quoting rules. An empty raw yields an
// empty Template.
func ParseTemplate(raw string) (Template, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Template{}, nil
	}
	words, err := shellwords.Parse(raw)
	if err != nil {
		return Template{}, fmt.Errorf("invalid command template %q: %w", raw, err)
	}
	return Template{raw: raw, words: words}, nil
}

// MustParseTemplate is ParseTemplate for constant templates.
func MustParseTemplate(raw string) Template {
	t, err := ParseTemplate(raw)
	if err != nil {
		panic(err)
	}
	return t
}

// IsEmpty reports whether the template has no words.
func (t Template) IsEmpty() bool { return len(t.words) == 0 }

// String returns the template as written.
func (t Template) String() string { return t.raw }

// Expand substitutes values into every word.
func (t Template) Expand(values TemplateValues) []string {
	keys := make([]string, 0, len(values.Vars))
	for k := range values.Vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := make([]string, 0, len(t.words))
	for _, w := range t.words {
		if list, ok := values.Lists[w]; ok {
			out = append(out, list...)
			continue
		}
		for _, k := range keys {
			w = strings.ReplaceAll(w, k, values.Vars[k])
		}
		out = append(out, w)
	}
	return out
}
