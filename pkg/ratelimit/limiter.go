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

// Package ratelimit enforces per-key windowed request and cost caps.
// Counters live in a pluggable store so multiple processes can share
// one budget through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/metrics"
)

// Limits are the caps applied per key. Zero disables a cap.
type Limits struct {
	RequestsPerMinute int64
	RequestsPerHour   int64
	CostPerHourUSD    float64
}

// Counts is a snapshot of one key's windows after an increment.
type Counts struct {
	Minute      int64
	Hour        int64
	HourCostUSD float64
}

// Info explains a limiter decision.
type Info struct {
	Key    string
	Counts Counts
	Limits Limits

	// Reason is set when the call was denied.
	Reason string
}

// Store holds the windowed counters. Increment must be atomic per key.
type Store interface {
	// Increment bumps the one-minute and one-hour request counters and the
	// hourly cost accumulator, returning the post-increment counts.
	Increment(ctx context.Context, key string, cost float64) (Counts, error)

	// RecordUsage updates the parallel observability stream. It never
	// gates traffic.
	RecordUsage(ctx context.Context, key string, cost float64, tokens int) error
}

// Limiter applies Limits over a Store. Counters stay incremented on
// denial so that rejected callers still consume budget.
type Limiter struct {
	store  Store
	limits Limits
}

// New builds a limiter from config defaults.
func New(store Store, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{
		store: store,
		limits: Limits{
			RequestsPerMinute: cfg.RequestsPerMinute,
			RequestsPerHour:   cfg.RequestsPerHour,
			CostPerHourUSD:    cfg.CostPerHourUSD,
		},
	}
}

// ProviderKey is the limiter key for a model call.
func ProviderKey(provider, modelID string) string {
	return provider + ":" + modelID
}

// Check increments the windows for key and compares against the caps.
// A store failure is allowed through (fail-open) and logged.
func (l *Limiter) Check(ctx context.Context, key string, estimatedCost float64) (bool, *Info) {
	counts, err := l.store.Increment(ctx, key, estimatedCost)
	if err != nil {
		slog.Warn("rate limiter store failed, allowing request", "key", key, "error", err)
		metrics.RateLimitFailOpen.Inc()
		return true, &Info{Key: key, Limits: l.limits}
	}

	info := &Info{Key: key, Counts: counts, Limits: l.limits}
	switch {
	case l.limits.RequestsPerMinute > 0 && counts.Minute > l.limits.RequestsPerMinute:
		info.Reason = fmt.Sprintf("requests per minute cap exceeded (%d > %d)",
			counts.Minute, l.limits.RequestsPerMinute)
	case l.limits.RequestsPerHour > 0 && counts.Hour > l.limits.RequestsPerHour:
		info.Reason = fmt.Sprintf("requests per hour cap exceeded (%d > %d)",
			counts.Hour, l.limits.RequestsPerHour)
	case l.limits.CostPerHourUSD > 0 && counts.HourCostUSD > l.limits.CostPerHourUSD:
		info.Reason = fmt.Sprintf("hourly cost cap exceeded ($%.4f > $%.2f)",
			counts.HourCostUSD, l.limits.CostPerHourUSD)
	}
	if info.Reason != "" {
		metrics.RateLimitDenials.WithLabelValues(key).Inc()
		return false, info
	}
	return true, info
}

// RecordUsage forwards actual spend to the observability stream. Errors
// are logged only.
func (l *Limiter) RecordUsage(ctx context.Context, key string, actualCost float64, tokens int) {
	if err := l.store.RecordUsage(ctx, key, actualCost, tokens); err != nil {
		slog.Warn("rate limiter usage record failed", "key", key, "error", err)
	}
}
