// SPDX-License-Identifier: MPL-2.0

package envspec

import (
	"fmt"
	"strings"
)

// AllowedToFailMarker prefixes a command whose non-zero exit does not fail
// its environment.
const AllowedToFailMarker = "-"

// Command is one entry of an environment's command sequence.
type Command struct {
	Text          string `json:"text"`
	AllowedToFail bool   `json:"allowed_to_fail,omitempty"`
}

// ParseCommand turns a raw registry line into a Command. A leading marker
// sets AllowedToFail; the marker and the whitespace after it are stripped.
func ParseCommand(raw string) (Command, error) {
	text := strings.TrimSpace(raw)
	cmd := Command{}
	if rest, ok := strings.CutPrefix(text, AllowedToFailMarker); ok {
		cmd.AllowedToFail = true
		text = strings.TrimSpace(rest)
	}
	if text == "" {
		return Command{}, fmt.Errorf("empty command %q", raw)
	}
	cmd.Text = text
	return cmd, nil
}

// String renders the command the way it is written in the registry.
func (c Command) String() string {
	if c.AllowedToFail {
		return AllowedToFailMarker + c.Text
	}
	return c.Text
}

// Sequence returns the commands of spec in declared order after checking
// that there is at least one and none is blank.
func Sequence(spec EnvironmentSpec) ([]Command, error) {
	if len(spec.Commands) == 0 {
		return nil, &ConfigError{Environment: spec.Name, Field: "commands", Reason: "no commands"}
	}
	out := make([]Command, len(spec.Commands))
	for i, cmd := range spec.Commands {
		if strings.TrimSpace(cmd.Text) == "" {
			return nil, &ConfigError{
				Environment: spec.Name,
				Field:       "commands",
				Reason:      fmt.Sprintf("command %d is empty", i+1),
			}
		}
		out[i] = cmd
	}
	return out, nil
}
