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
	"log/slog"
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

const defaultOpenAIHost = "https://api.openai.com/v1"

// OpenAIProvider serves OpenAI's chat-completions API.
type OpenAIProvider struct {
	name       string
	host       string
	apiKey     string
	registry   *models.Registry
	httpClient *httpclient.Client
}

type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []openAIMessage       `json:"messages"`
	MaxTokens      *int                  `json:"max_tokens,omitempty"`
	Temperature    float64               `json:"temperature"`
	TopP           float64               `json:"top_p,omitempty"`
	Stop           []string              `json:"stop,omitempty"`
	Tools          []openAITool          `json:"tools,omitempty"`
	ToolChoice     string                `json:"tool_choice,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAITool struct {
	Type     string             `json:"type"`
	Function openAIToolFunction `json:"function"`
}

type openAIToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []openAIChoice `json:"choices"`
	Usage   openAIUsage    `json:"usage"`
	Error   *openAIError   `json:"error,omitempty"`
}

type openAIChoice struct {
	Message      openAIResponseMessage `json:"message"`
	FinishReason string                `json:"finish_reason"`
}

type openAIResponseMessage struct {
	Content   string           `json:"content"`
	ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type openAIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// NewOpenAIProvider builds the adapter from config. The registry supplies
// model specs for listing and cost arithmetic.
func NewOpenAIProvider(cfg *config.ProviderConfig, registry *models.Registry) *OpenAIProvider {
	host := cfg.BaseURL
	if host == "" {
		host = defaultOpenAIHost
	}
	return &OpenAIProvider{
		name:     "openai",
		host:     host,
		apiKey:   cfg.APIKey,
		registry: registry,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(cfg.MaxRetries),
			httpclient.WithBaseDelay(time.Duration(cfg.RetryDelay)*time.Second),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIHeaders),
		),
	}
}

func (p *OpenAIProvider) Name() string { return p.name }

func (p *OpenAIProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	tracer := observability.GetTracer("foreman.llm")
	ctx, span := tracer.Start(ctx, observability.SpanLLMRequest,
		trace.WithAttributes(
			attribute.String(observability.AttrLLMProvider, p.name),
			attribute.String(observability.AttrLLMModel, req.Model),
		),
	)
	defer span.End()

	modelID, err := p.vendorModel(req.Model)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	body := openAIRequest{
		Model:       modelID,
		Messages:    []openAIMessage{{Role: "user", Content: req.Prompt}},
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stop:        req.Stop,
	}
	if req.MaxTokens > 0 {
		mt := req.MaxTokens
		body.MaxTokens = &mt
	}
	if len(req.Tools) > 0 {
		body.Tools = make([]openAITool, len(req.Tools))
		for i, t := range req.Tools {
			body.Tools[i] = openAITool{Type: "function", Function: openAIToolFunction(t)}
		}
		body.ToolChoice = "auto"
	}
	if req.ResponseFormat == "json" {
		body.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	vendorResp, status, err := postOpenAIWire(ctx, p.httpClient, p.host+"/chat/completions", p.apiKey, &body)
	latency := time.Since(start)
	if err != nil {
		metrics.LLMRequests.WithLabelValues(p.name, "error").Inc()
		upErr := &UpstreamError{Provider: p.name, Model: modelID, Status: status, Err: err}
		span.RecordError(upErr)
		span.SetStatus(codes.Error, upErr.Error())
		return nil, upErr
	}
	if len(vendorResp.Choices) == 0 {
		metrics.LLMRequests.WithLabelValues(p.name, "error").Inc()
		upErr := &UpstreamError{Provider: p.name, Model: modelID, Err: fmt.Errorf("no response choices returned")}
		span.RecordError(upErr)
		span.SetStatus(codes.Error, "no choices")
		return nil, upErr
	}

	choice := vendorResp.Choices[0]
	resp := &Response{
		Content:      choice.Message.Content,
		Model:        p.name + "/" + modelID,
		InputTokens:  vendorResp.Usage.PromptTokens,
		OutputTokens: vendorResp.Usage.CompletionTokens,
		TotalTokens:  vendorResp.Usage.TotalTokens,
		CostUSD:      p.Cost(vendorResp.Usage.PromptTokens, vendorResp.Usage.CompletionTokens, modelID),
		LatencyMs:    latency.Milliseconds(),
		FinishReason: choice.FinishReason,
	}
	for _, tc := range choice.Message.ToolCalls {
		var args map[string]any
		if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
			return nil, &UpstreamError{Provider: p.name, Model: modelID,
				Err: fmt.Errorf("failed to parse tool arguments: %w", err)}
		}
		resp.ToolCalls = append(resp.ToolCalls, ToolCall{ID: tc.ID, Name: tc.Function.Name, Args: args})
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

func (p *OpenAIProvider) ListModels() []*models.Spec {
	return p.registry.ByProvider(p.name)
}

func (p *OpenAIProvider) Cost(inputTokens, outputTokens int, modelID string) float64 {
	return costFromRegistry(p.registry, p.name, modelID, inputTokens, outputTokens)
}

// vendorModel strips the provider prefix and verifies ownership.
func (p *OpenAIProvider) vendorModel(id string) (string, error) {
	provider, model, err := models.ParseID(id)
	if err != nil {
		return "", fmt.Errorf("request model %q: %w", id, err)
	}
	if provider != p.name {
		return "", fmt.Errorf("model %s does not belong to provider %s", id, p.name)
	}
	return model, nil
}

// postOpenAIWire performs one chat-completions round-trip. Groq shares
// this wire format.
func postOpenAIWire(ctx context.Context, client *httpclient.Client, url, apiKey string, body *openAIRequest) (*openAIResponse, int, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(payload)), nil
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if resp != nil {
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			raw, _ := io.ReadAll(resp.Body)
			if apiErr := parseOpenAIError(raw); apiErr != nil {
				return nil, resp.StatusCode, fmt.Errorf("%s (type: %s, code: %s)",
					apiErr.Message, apiErr.Type, apiErr.Code)
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
	var out openAIResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if out.Error != nil {
		return nil, resp.StatusCode, fmt.Errorf("API error: %s", out.Error.Message)
	}
	return &out, resp.StatusCode, nil
}

func parseOpenAIError(body []byte) *openAIError {
	if len(body) == 0 {
		return nil
	}
	var errorResp struct {
		Error openAIError `json:"error"`
	}
	if err := json.Unmarshal(body, &errorResp); err == nil && errorResp.Error.Message != "" {
		return &errorResp.Error
	}
	return nil
}

// costFromRegistry is the shared cost arithmetic: unknown models cost 0
// and log a warning rather than failing the caller.
func costFromRegistry(registry *models.Registry, provider, modelID string, inputTokens, outputTokens int) float64 {
	spec, err := registry.Get(provider + "/" + modelID)
	if err != nil {
		slog.Warn("cost lookup for unknown model", "provider", provider, "model", modelID)
		return 0
	}
	return spec.EstimateCost(inputTokens, outputTokens)
}
