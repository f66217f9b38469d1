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

// Package models holds the static model catalog: per-model cost, context
// and capability data used by the router to make dispatch decisions.
package models

import (
	"fmt"
	"strings"
)

// Capability identifies something a model can do.
type Capability string

const (
	CapTextGeneration   Capability = "text-generation"
	CapFunctionCalling  Capability = "function-calling"
	CapStructuredOutput Capability = "structured-output"
	CapVision           Capability = "vision"
	CapReasoning        Capability = "reasoning"
	CapEmbeddings       Capability = "embeddings"
	CapLongContext      Capability = "long-context"
	CapStreaming        Capability = "streaming"
)

// Spec describes one model. Specs are immutable once registered; the
// capability set and unit costs are the contract the router relies on.
type Spec struct {
	Provider    string       `yaml:"provider" json:"provider"`
	Model       string       `yaml:"model" json:"model"`
	DisplayName string       `yaml:"display_name" json:"display_name"`
	Caps        []Capability `yaml:"capabilities" json:"capabilities"`

	// Token limits.
	MaxInputTokens  int `yaml:"max_input_tokens" json:"max_input_tokens"`
	MaxOutputTokens int `yaml:"max_output_tokens" json:"max_output_tokens"`

	// Unit cost, USD per million tokens.
	InputCostPerM  float64 `yaml:"input_cost_per_m" json:"input_cost_per_m"`
	OutputCostPerM float64 `yaml:"output_cost_per_m" json:"output_cost_per_m"`

	// ExpectedLatencyMs is the nominal round-trip latency.
	ExpectedLatencyMs int `yaml:"expected_latency_ms" json:"expected_latency_ms"`

	// Quality is a relative score in [0,1].
	Quality float64 `yaml:"quality" json:"quality"`

	// KnowledgeCutoff, e.g. "2025-01".
	KnowledgeCutoff string `yaml:"knowledge_cutoff" json:"knowledge_cutoff"`
}

// ID returns the registry key, "provider/model".
func (s *Spec) ID() string {
	return s.Provider + "/" + s.Model
}

// HasCap reports whether the spec carries the given capability.
func (s *Spec) HasCap(cap Capability) bool {
	for _, c := range s.Caps {
		if c == cap {
			return true
		}
	}
	return false
}

// HasAllCaps reports whether the spec carries every capability in the set.
func (s *Spec) HasAllCaps(caps []Capability) bool {
	for _, c := range caps {
		if !s.HasCap(c) {
			return false
		}
	}
	return true
}

// IsMultimodal reports whether the model accepts non-text input.
func (s *Spec) IsMultimodal() bool {
	return s.HasCap(CapVision)
}

// EstimateCost computes the USD cost for a token count pair.
func (s *Spec) EstimateCost(inputTokens, outputTokens int) float64 {
	return float64(inputTokens)/1e6*s.InputCostPerM +
		float64(outputTokens)/1e6*s.OutputCostPerM
}

// Validate checks the structural invariants of a spec. Models must be
// able to generate text unless they are flagged as embeddings-only.
func (s *Spec) Validate() error {
	if s.Provider == "" || s.Model == "" {
		return fmt.Errorf("model spec requires provider and model, got %q", s.ID())
	}
	if strings.Contains(s.Model, "/") {
		return fmt.Errorf("model id %q must not contain '/'", s.Model)
	}
	if s.Quality < 0 || s.Quality > 1 {
		return fmt.Errorf("model %s: quality %f outside [0,1]", s.ID(), s.Quality)
	}
	if !s.HasCap(CapTextGeneration) && !s.HasCap(CapEmbeddings) {
		return fmt.Errorf("model %s: must support %s unless embeddings-only", s.ID(), CapTextGeneration)
	}
	return nil
}

// ParseID splits a "provider/model" id into its parts.
func ParseID(id string) (provider, model string, err error) {
	idx := strings.Index(id, "/")
	if idx <= 0 || idx == len(id)-1 {
		return "", "", fmt.Errorf("invalid model id %q, want provider/model", id)
	}
	return id[:idx], id[idx+1:], nil
}
