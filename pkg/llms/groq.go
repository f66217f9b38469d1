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
	"context"
	"encoding/json"
	"fmt"
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

const defaultGroqHost = "https://api.groq.com/openai/v1"

// GroqProvider serves Groq's OpenAI-compatible chat-completions API.
type GroqProvider struct {
	name       string
	host       string
	apiKey     string
	registry   *models.Registry
	httpClient *httpclient.Client
}

// NewGroqProvider builds the adapter from config.
func NewGroqProvider(cfg *config.ProviderConfig, registry *models.Registry) *GroqProvider {
	host := cfg.BaseURL
	if host == "" {
		host = defaultGroqHost
	}
	return &GroqProvider{
		name:     "groq",
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

func (p *GroqProvider) Name() string { return p.name }

func (p *GroqProvider) Generate(ctx context.Context, req *Request) (*Response, error) {
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

func (p *GroqProvider) ListModels() []*models.Spec {
	return p.registry.ByProvider(p.name)
}

func (p *GroqProvider) Cost(inputTokens, outputTokens int, modelID string) float64 {
	return costFromRegistry(p.registry, p.name, modelID, inputTokens, outputTokens)
}
