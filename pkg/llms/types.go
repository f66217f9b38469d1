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

// Package llms defines the uniform LLM request/response model and one
// adapter per supported vendor. Adapters are stateless except for a
// client handle; configuration is injected at construction.
package llms

import (
	"context"
	"fmt"

	"github.com/workforcelabs/foreman/pkg/models"
)

// Request is the vendor-neutral generation request. If Model is empty
// the router selects one.
type Request struct {
	Prompt string `json:"prompt"`

	// Model is an optional "provider/model" id.
	Model string `json:"model,omitempty"`

	MaxTokens   int      `json:"max_tokens,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	TopP        float64  `json:"top_p,omitempty"`
	Stop        []string `json:"stop,omitempty"`

	// Tools carries function schemas for vendors with tool-call support.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// ResponseFormat is "json" or empty for plain text.
	ResponseFormat string `json:"response_format,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// EstimateInputTokens approximates prompt size as characters/4.
func (r *Request) EstimateInputTokens() int {
	return len(r.Prompt) / 4
}

// Response is the vendor-neutral generation result.
type Response struct {
	Content string `json:"content"`

	// Model is the "provider/model" id actually used.
	Model string `json:"model"`

	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`

	CostUSD   float64 `json:"cost_usd"`
	LatencyMs int64   `json:"latency_ms"`

	FinishReason string         `json:"finish_reason,omitempty"`
	ToolCalls    []ToolCall     `json:"tool_calls,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ToolDefinition is a function schema offered to the model.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a function invocation requested by the model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// Provider is the uniform adapter over one LLM vendor.
type Provider interface {
	// Name returns the provider id ("openai", "anthropic", "groq").
	Name() string

	// Generate translates the request to the vendor call and maps the
	// result back. Transport and vendor errors surface as *UpstreamError;
	// the caller decides whether to retry.
	Generate(ctx context.Context, req *Request) (*Response, error)

	// ListModels returns the registry entries this adapter can serve.
	ListModels() []*models.Spec

	// Cost computes USD from unit costs. Unknown models yield 0 and log a
	// warning; Cost never fails.
	Cost(inputTokens, outputTokens int, modelID string) float64
}

// UpstreamError wraps a provider transport or vendor error with model
// attribution.
type UpstreamError struct {
	Provider string
	Model    string
	Status   int
	Err      error
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("upstream %s/%s: HTTP %d: %v", e.Provider, e.Model, e.Status, e.Err)
	}
	return fmt.Sprintf("upstream %s/%s: %v", e.Provider, e.Model, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
