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

// Package agent runs individual tasks: prompt construction, routed
// model calls with retry, output parsing and per-agent memory.
package agent

import (
	"fmt"

	"github.com/workforcelabs/foreman/pkg/prompt"
	"github.com/workforcelabs/foreman/pkg/router"
)

// Definition is the static description of one agent.
type Definition struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`

	// Role selects the prompt template (researcher, analyst, writer,
	// coder, reviewer, planner, executor, coordinator, validator).
	Role string `yaml:"role" json:"role"`

	Capabilities []string `yaml:"capabilities,omitempty" json:"capabilities,omitempty"`

	// PreferredModels are ordered provider/model ids. The first
	// registered one pins routing for this agent.
	PreferredModels []string `yaml:"preferred_models,omitempty" json:"preferred_models,omitempty"`

	// Policy overrides the routing defaults when set.
	Policy *router.Policy `yaml:"policy,omitempty" json:"policy,omitempty"`

	// Generation defaults.
	Temperature    float64 `yaml:"temperature,omitempty" json:"temperature,omitempty"`
	MaxTokens      int     `yaml:"max_tokens,omitempty" json:"max_tokens,omitempty"`
	TimeoutSeconds int     `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	MaxIterations  int     `yaml:"max_iterations,omitempty" json:"max_iterations,omitempty"`

	// Trust in [0,1] weighs auto-assignment.
	Trust float64 `yaml:"trust,omitempty" json:"trust,omitempty"`

	CanDelegate    bool `yaml:"can_delegate,omitempty" json:"can_delegate,omitempty"`
	CanRequestHelp bool `yaml:"can_request_help,omitempty" json:"can_request_help,omitempty"`
}

// Validate checks the definition.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("agent requires an id")
	}
	if _, err := prompt.ForRole(d.Role); err != nil {
		return fmt.Errorf("agent %s: %w", d.ID, err)
	}
	if d.Trust < 0 || d.Trust > 1 {
		return fmt.Errorf("agent %s: trust %f outside [0,1]", d.ID, d.Trust)
	}
	return nil
}
