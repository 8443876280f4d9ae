// SPDX-License-Identifier: MPL-2.0

package envspec

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
)

const continuationIndent = "    "

// Format writes r in the registry grammar read by Parse. Sections are written
// in declaration order, keys in a fixed order, setenv entries sorted by name.
// Parse(Format(r)) yields a Registry equal to r.
func Format(w io.Writer, r *Registry) error {
	bw := bufio.NewWriter(w)
	first := true
	section := func(header string) {
		if !first {
			bw.WriteString("\n")
		}
		first = false
		fmt.Fprintf(bw, "[%s]\n", header)
	}

	if !r.defaults.IsEmpty() {
		section(DefaultsSection)
		writeFields(bw, r.defaults.Fields)
	}
	for _, name := range r.order {
		env := r.envs[name]
		section(EnvSectionPrefix + string(name))
		if desc, ok := env.Description.Get(); ok {
			writeLines(bw, KeyDescription, desc.Lines(), true)
		}
		writeFields(bw, env.Fields)
	}
	return bw.Flush()
}

// String renders the registry in its text form.
func (r *Registry) String() string {
	var b strings.Builder
	_ = Format(&b, r)
	return b.String()
}

func writeFields(w *bufio.Writer, f Fields) {
	if v, ok := f.BaseInterpreter.Get(); ok {
		writeLines(w, KeyBaseInterpreter, []string{string(v)}, true)
	}
	if v, ok := f.UsesDevelopMode.Get(); ok {
		writeLines(w, KeyDevelop, []string{strconv.FormatBool(v)}, true)
	}
	if v, ok := f.ExtrasRequested.Get(); ok {
		names := make([]string, len(v))
		for i, x := range v {
			names[i] = string(x)
		}
		writeLines(w, KeyExtras, []string{strings.Join(names, " ")}, true)
	}
	if v, ok := f.ExplicitDependencies.Get(); ok {
		deps := make([]string, len(v))
		for i, d := range v {
			deps[i] = string(d)
		}
		writeLines(w, KeyDeps, deps, false)
	}
	if v, ok := f.PassthroughEnvVarPatterns.Get(); ok {
		writeLines(w, KeyPassenv, []string{strings.Join(v, " ")}, true)
	}
	if v, ok := f.WorkingDirectoryOverride.Get(); ok {
		writeLines(w, KeyChangedir, []string{v}, true)
	}
	if v, ok := f.SetEnv.Get(); ok {
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		slices.Sort(names)
		lines := make([]string, len(names))
		for i, name := range names {
			lines[i] = name + "=" + v[name]
		}
		writeLines(w, KeySetenv, lines, false)
	}
	if v, ok := f.Commands.Get(); ok {
		lines := make([]string, len(v))
		for i, c := range v {
			lines[i] = c.String()
		}
		writeLines(w, KeyCommands, lines, false)
	}
}

// writeLines writes key with its first line inline when inline is set,
// and the remaining lines as indented continuations.
func writeLines(w *bufio.Writer, key string, lines []string, inline bool) {
	if inline && len(lines) > 0 && lines[0] != "" {
		fmt.Fprintf(w, "%s = %s\n", key, lines[0])
		lines = lines[1:]
	} else {
		fmt.Fprintf(w, "%s =\n", key)
		if inline && len(lines) > 0 {
			lines = lines[1:]
		}
	}
	for _, l := range lines {
		fmt.Fprintf(w, "%s%s\n", continuationIndent, l)
	}
}
