// Copyright 2026 Workforce Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompt renders role-structured prompts. A template is a
// Role/Task/Format tuple with optional context, constraints and
// examples; {var} placeholders substitute from a variable map.
package prompt

import (
	"fmt"
	"strings"
)

// Template is one renderable prompt.
type Template struct {
	Role        string   `yaml:"role" json:"role"`
	Task        string   `yaml:"task" json:"task"`
	Format      string   `yaml:"format" json:"format"`
	Context     string   `yaml:"context,omitempty" json:"context,omitempty"`
	Constraints []string `yaml:"constraints,omitempty" json:"constraints,omitempty"`
	Examples    []string `yaml:"examples,omitempty" json:"examples,omitempty"`
}

// Substitute replaces {var} placeholders from vars. Unknown
// placeholders are left intact.
func Substitute(s string, vars map[string]string) string {
	for k, v := range vars {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

// Render substitutes variables and emits the labeled-section document.
func (t *Template) Render(vars map[string]string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Role: %s\n\n", Substitute(t.Role, vars))
	fmt.Fprintf(&b, "Task: %s\n\n", Substitute(t.Task, vars))
	if t.Context != "" {
		fmt.Fprintf(&b, "Context: %s\n\n", Substitute(t.Context, vars))
	}
	if len(t.Constraints) > 0 {
		b.WriteString("Constraints:\n")
		for _, c := range t.Constraints {
			fmt.Fprintf(&b, "- %s\n", Substitute(c, vars))
		}
		b.WriteString("\n")
	}
	if len(t.Examples) > 0 {
		b.WriteString("Examples:\n")
		for _, e := range t.Examples {
			fmt.Fprintf(&b, "- %s\n", Substitute(e, vars))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Format: %s\n", Substitute(t.Format, vars))

	return b.String()
}

// Envelope applies the model-family wrapper: Claude ids get the
// Human/Assistant frame, Llama ids the instruction frame, everything
// else passes through.
func Envelope(modelID, doc string) string {
	id := strings.ToLower(modelID)
	switch {
	case strings.Contains(id, "claude"):
		return "Human: " + doc + "\n\nAssistant:"
	case strings.Contains(id, "llama"):
		return "### Instruction:\n" + doc + "\n\n### Response:\n"
	default:
		return doc
	}
}
