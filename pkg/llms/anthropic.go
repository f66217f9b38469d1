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

package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/httpclient"
	"github.com/workforcelabs/foreman/pkg/metrics"
	"github.com/workforcelabs/foreman/pkg/models"
	"github.com/workforcelabs/foreman/pkg/observability"
)

const (
	defaultAnthropicHost    = "https://api.anthropic.com"
	anthropicVersion        = "2023-06-01"
	anthropicDefaultMaxToks = 4096
)

// AnthropicProvider serves Anthropic's messages API.
type AnthropicProvider struct {
	name       string
	host       string
	apiKey     string
	registry   *models.Registry
	httpClient *httpclient.Client
}

type anthropicRequest struct {
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens"`
	Messages      []anthropicMessage `json:"messages"`
	Temperature   *float64           `json:"temperature,omitempty"`
	TopP          *float64           `json:"top_p,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
	Tools         []anthropicTool    `json:"tools,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content    []anthropicContent `json:"content"`
	StopReason string             `json:"stop_reason"`
	Usage      anthropicUsage     `json:"usage"`
	Error      *anthropicError    `json:"error,omitempty"`
}

type anthropicContent struct {
	Type  string         `json:"type"`
	Text  string         `json:"text,omitempty"`
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewAnthropicProvider builds the adapter from config.
func NewAnthropicProvider(cfg *config.ProviderConfig, registry *models.Registry) *AnthropicProvider {
	host := cfg.BaseURL
	if host == "" {
		host = defaultAnthropicHost
	}
	return &AnthropicProvider{
		name:     "anthropic",
		host:     host,
		apiKey:   cfg.APIKey,
		registry: registry,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicHeaders),
		),
	}
}

func (p *AnthropicProvider) Name() string { return p.name }

func (p *AnthropicProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	tracer := observability.GetTracer("foreman.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMProvider, p.name),
			attribute.String(observability.AttrLLMModel, req.Model),
		),
	)
	defer span.End()

	provider, modelID, err := models.ParseID(req.Model)
	if err == nil && provider != p.name {
		err = fmt.Errorf("model %s does not belong to provider %s", req.Model, p.name)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		// max_tokens is mandatory on the messages API.
		maxTokens = anthropicDefaultMaxToks
	}
	body := anthropicRequest{
		Model:         modelID,
		MaxTokens:     maxTokens,
		Messages:      []anthropicMessage{{Role: "user", Content: req.Prompt}},
		StopSequences: req.Stop,
	}
	if req.Temperature > 0 {
		t := req.Temperature
		body.Temperature = &t
	}
	if req.TopP > 0 {
		tp := req.TopP
		body.TopP = &tp
	}
	for _, t := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.Parameters,
		})
	}

	vendorResp, status, err := p.post(ctx, &body)
	latency := time.Since(start)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(p.name, "error").Inc()
		upErr := &UpstreamError{Provider: p.name, Model: modelID, Status: status, Err: err}
		span.RecordError(upErr)
		span.SetStatus(codes.Error, upErr.Error())
		return nil, upErr
	}

	resp := &Response{
		Model:        req.Model,
		InputTokens:  vendorResp.Usage.InputTokens,
		OutputTokens: vendorResp.Usage.OutputTokens,
		TotalTokens:  vendorResp.Usage.InputTokens + vendorResp.Usage.OutputTokens,
		CostUSD:      p.Cost(vendorResp.Usage.InputTokens, vendorResp.Usage.OutputTokens, modelID),
		LatencyMs:    latency.Milliseconds(),
		FinishReason: vendorResp.StopReason,
	}
	for _, block := range vendorResp.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			resp.ToolCalls = append(resp.ToolCalls, ToolCall{
				ID: block.ID, Name: block.Name, Args: block.Input,
			})
		}
	}

	span.SetAttributes(
		attribute.Int(observability.AttrLLMTokensInput, resp.InputTokens),
		attribute.Int(observability.AttrLLMTokensOutput, resp.OutputTokens),
		attribute.Float64(observability.AttrLLMCostUSD, resp.CostUSD),
	)
	span.SetStatus(codes.Ok, "success")

	metrics.LLMRequests.WithLabelValues(p.name, "success").Inc()
	metrics.LLMTokens.WithLabelValues(p.name).Add(float64(resp.TotalTokens))
	metrics.LLMCostUSD.WithLabelValues(p.name).Add(resp.CostUSD)

	return resp, nil
}

func (p *AnthropicProvider) ListModels() []*models.Spec {
	return p.registry.ByProvider(p.name)
}

func (p *AnthropicProvider) Cost(inputTokens, outputTokens int, modelID string) float64 {
	return costFromRegistry(p.registry, p.name, modelID, inputTokens, outputTokens)
}

func (p *AnthropicProvider) post(ctx context.Context, body *anthropicRequest) (*anthropicResponse, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.host+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			var errResp struct {
				Error anthropicError `json:"error"`
			}
			if jsonErr := json.Unmarshal(raw, &errResp); jsonErr == nil && errResp.Error.Message != "" {
				return nil, resp.StatusCode, fmt.Errorf("%s: %s", errResp.Error.Type, errResp.Error.Message)
			}
			return nil, resp.StatusCode, fmt.Errorf("request failed: %s", string(raw))
		}
	}
	if err != nil {
		return nil, 0, err
	}
	if resp == nil {
		return nil, 0, fmt.Errorf("no response received")
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	var out anthropicResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil {
		return nil, resp.StatusCode, fmt.Errorf("API error: %s", out.Error.Message)
	}
	return &out, resp.StatusCode, nil
}
