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

// Package router selects a model for each generation request by scoring
// the registry against a routing policy, then dispatches through the
// owning provider adapter with cache and rate-limit checks applied.
package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"

	"github.com/workforcelabs/foreman/pkg/cache"
	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/metrics"
	"github.com/workforcelabs/foreman/pkg/models"
	"github.com/workforcelabs/foreman/pkg/observability"
	"github.com/workforcelabs/foreman/pkg/ratelimit"
)

// longContextThreshold is the estimated input token count above which
// the long-context capability becomes mandatory.
const longContextThreshold = 16384

var (
	// ErrNoCandidate means no registered model satisfies the request.
	ErrNoCandidate = errors.New("no candidate model for request")

	// ErrRateLimited means the limiter denied the chosen model.
	ErrRateLimited = errors.New("rate limited")
)

// Weights are the scoring weights. They need not sum to one.
type Weights struct {
	Cost    float64 `json:"cost"`
	Latency float64 `json:"latency"`
	Quality float64 `json:"quality"`
}

// DefaultWeights balance cost against quality with latency secondary.
var DefaultWeights = Weights{Cost: 0.4, Latency: 0.3, Quality: 0.3}

// Policy shapes one routing decision.
type Policy struct {
	// RequiredCaps are unioned with the capabilities implied by the
	// request shape.
	RequiredCaps []models.Capability `json:"required_capabilities,omitempty"`

	// MaxCostUSD bounds the per-request cost estimate. Zero disables.
	MaxCostUSD float64 `json:"max_cost_usd,omitempty"`

	// MaxLatencyMs bounds recorded model latency. Zero disables.
	MaxLatencyMs int64 `json:"max_latency_ms,omitempty"`

	// PreferredProvider earns a flat scoring bonus.
	PreferredProvider string `json:"preferred_provider,omitempty"`

	// TaskType keys the pin table; empty skips the lookup.
	TaskType string `json:"task_type,omitempty"`

	Weights Weights `json:"weights,omitempty"`

	// UseCache opts the request into the response cache.
	UseCache bool `json:"use_cache,omitempty"`
}

const providerBonus = 0.1

// Pinner resolves a task type to a pinned model id. Implemented by the
// routing-policy file.
type Pinner interface {
	ModelFor(taskType string) (string, bool)
}

// Router scores and dispatches. One instance serves all workflows.
type Router struct {
	providers map[string]llms.Provider
	registry  *models.Registry
	cache     *cache.Cache
	limiter   *ratelimit.Limiter
	pins      Pinner

	mu      sync.Mutex
	latency map[string]*latencyRing
}

// New builds a router over the configured adapters.
func New(providers map[string]llms.Provider, registry *models.Registry, c *cache.Cache, l *ratelimit.Limiter) *Router {
	return &Router{
		providers: providers,
		registry:  registry,
		cache:     c,
		limiter:   l,
		latency:   make(map[string]*latencyRing),
	}
}

// SetPins installs the task-type pin table. Pins resolve between an
// explicit request model and scored selection.
func (r *Router) SetPins(p Pinner) {
	r.pins = p
}

// Route selects the model for a request without executing it.
func (r *Router) Route(req *llms.Request, policy *Policy) (*models.Spec, error) {
	if policy == nil {
		policy = &Policy{}
	}
	if r.pins != nil && policy.TaskType != "" {
		if id, ok := r.pins.ModelFor(policy.TaskType); ok {
			spec, err := r.registry.Get(id)
			if err != nil {
				return nil, fmt.Errorf("%w: pinned model %s not registered", ErrNoCandidate, id)
			}
			if _, ok := r.providers[spec.Provider]; !ok {
				return nil, fmt.Errorf("%w: pinned provider %s not configured", ErrNoCandidate, spec.Provider)
			}
			metrics.RouteDecisions.WithLabelValues(spec.ID(), "policy").Inc()
			return spec, nil
		}
	}
	candidates := r.capabilityFilter(req, policy)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("%w: no model meets required capabilities", ErrNoCandidate)
	}

	// Constraint filter is soft: an empty result falls back to the
	// capability-filtered set.
	constrained := r.constraintFilter(candidates, req, policy)
	if len(constrained) == 0 {
		slog.Debug("routing constraints excluded all candidates, relaxing",
			"candidates", len(candidates))
		constrained = candidates
	}

	spec := r.score(constrained, policy)
	metrics.RouteDecisions.WithLabelValues(spec.ID(), "scored").Inc()
	return spec, nil
}

// Execute routes (unless the request pins a model), applies the cache
// and limiter, and dispatches.
func (r *Router) Execute(ctx context.Context, req *llms.Request, policy *Policy) (*llms.Response, error) {
	if policy == nil {
		policy = &Policy{}
	}

	tracer := observability.GetTracer("foreman.router")
	ctx, span := tracer.Start(ctx, observability.SpanRoute)
	defer span.End()

	var spec *models.Spec
	if req.Model != "" {
		s, err := r.registry.Get(req.Model)
		if err != nil {
			return nil, fmt.Errorf("%w: %s not registered", ErrNoCandidate, req.Model)
		}
		spec = s
		metrics.RouteDecisions.WithLabelValues(spec.ID(), "request").Inc()
	} else {
		s, err := r.Route(req, policy)
		if err != nil {
			return nil, err
		}
		spec = s
	}
	span.SetAttributes(attribute.String(observability.AttrLLMModel, spec.ID()))

	provider, ok := r.providers[spec.Provider]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s not configured", ErrNoCandidate, spec.Provider)
	}

	dispatch := *req
	dispatch.Model = spec.ID()

	var cacheKey string
	if policy.UseCache {
		cacheKey = cache.Key(dispatch.Prompt, spec.ID(), dispatch.Temperature, dispatch.MaxTokens)
		if cached, hit := r.cache.Get(ctx, cacheKey); hit {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
	}

	estCost := r.estimateCost(spec, &dispatch)
	limitKey := ratelimit.ProviderKey(spec.Provider, spec.Model)
	if allowed, info := r.limiter.Check(ctx, limitKey, estCost); !allowed {
		return nil, fmt.Errorf("%w: %s: %s", ErrRateLimited, limitKey, info.Reason)
	}

	resp, err := provider.Generate(ctx, &dispatch)
	if err != nil {
		return nil, err
	}

	r.recordLatency(spec.ID(), resp.LatencyMs)
	if policy.UseCache {
		r.cache.Set(ctx, cacheKey, resp)
	}
	r.limiter.RecordUsage(ctx, limitKey, resp.CostUSD, resp.TotalTokens)

	return resp, nil
}

// RecordLatency feeds an externally observed sample into the ring.
func (r *Router) RecordLatency(modelID string, ms int64) {
	r.recordLatency(modelID, ms)
}

func (r *Router) capabilityFilter(req *llms.Request, policy *Policy) []*models.Spec {
	required := append([]models.Capability{models.CapTextGeneration}, policy.RequiredCaps...)
	if len(req.Tools) > 0 {
		required = append(required, models.CapFunctionCalling)
	}
	if req.ResponseFormat == "json" {
		required = append(required, models.CapStructuredOutput)
	}
	if req.EstimateInputTokens() > longContextThreshold {
		required = append(required, models.CapLongContext)
	}

	var out []*models.Spec
	for _, s := range r.registry.WithCapabilities(required) {
		// Only models whose provider is actually configured are routable.
		if _, ok := r.providers[s.Provider]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (r *Router) constraintFilter(candidates []*models.Spec, req *llms.Request, policy *Policy) []*models.Spec {
	var out []*models.Spec
	for _, s := range candidates {
		if policy.MaxCostUSD > 0 && r.estimateCost(s, req) > policy.MaxCostUSD {
			continue
		}
		if policy.MaxLatencyMs > 0 {
			if lat, known := r.observedLatency(s); known && lat > policy.MaxLatencyMs {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// score computes the weighted total for each candidate and returns the
// arg-max; ties break lexicographically by model id.
func (r *Router) score(candidates []*models.Spec, policy *Policy) *models.Spec {
	w := policy.Weights
	if w == (Weights{}) {
		w = DefaultWeights
	}

	minCost, maxCost := minMax(candidates, func(s *models.Spec) (float64, bool) {
		return s.InputCostPerM, true
	})
	minLat, maxLat := minMax(candidates, func(s *models.Spec) (float64, bool) {
		lat, known := r.observedLatency(s)
		if !known {
			if s.ExpectedLatencyMs > 0 {
				return float64(s.ExpectedLatencyMs), true
			}
			return 0, false
		}
		return float64(lat), true
	})

	sorted := make([]*models.Spec, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID() < sorted[j].ID() })

	var best *models.Spec
	bestScore := -1.0
	for _, s := range sorted {
		costScore := 1 - normalize(s.InputCostPerM, minCost, maxCost)

		latScore := 0.5
		if lat, known := r.observedLatency(s); known {
			latScore = 1 - normalize(float64(lat), minLat, maxLat)
		} else if s.ExpectedLatencyMs > 0 {
			latScore = 1 - normalize(float64(s.ExpectedLatencyMs), minLat, maxLat)
		}

		qualityScore := s.Quality
		if qualityScore == 0 {
			qualityScore = 0.5
		}

		total := w.Cost*costScore + w.Latency*latScore + w.Quality*qualityScore
		if s.Provider == policy.PreferredProvider {
			total += providerBonus
		}
		if total > bestScore {
			bestScore = total
			best = s
		}
	}
	return best
}

func (r *Router) estimateCost(s *models.Spec, req *llms.Request) float64 {
	estIn := req.EstimateInputTokens()
	estOut := req.MaxTokens
	if estOut <= 0 {
		estOut = 1024
	}
	return s.EstimateCost(estIn, estOut)
}

func (r *Router) observedLatency(s *models.Spec) (int64, bool) {
	r.mu.Lock()
	ring, ok := r.latency[s.ID()]
	r.mu.Unlock()
	if !ok {
		return 0, false
	}
	return ring.average()
}

func (r *Router) recordLatency(modelID string, ms int64) {
	r.mu.Lock()
	ring, ok := r.latency[modelID]
	if !ok {
		ring = &latencyRing{}
		r.latency[modelID] = ring
	}
	r.mu.Unlock()
	ring.record(ms)
}

func normalize(v, min, max float64) float64 {
	if max <= min {
		return 0
	}
	return (v - min) / (max - min)
}

func minMax(candidates []*models.Spec, f func(*models.Spec) (float64, bool)) (float64, float64) {
	first := true
	var lo, hi float64
	for _, s := range candidates {
		v, ok := f(s)
		if !ok {
			continue
		}
		if first {
			lo, hi = v, v
			first = false
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}
