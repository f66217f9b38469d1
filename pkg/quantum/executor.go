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

package quantum

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/metrics"
	"github.com/workforcelabs/foreman/pkg/prompt"
	"github.com/workforcelabs/foreman/pkg/router"
)

// latencyBaseline anchors the latency score: a thread at or above the
// baseline scores zero.
const latencyBaseline = 30 * time.Second

// Scorer computes the accuracy metric for one thread. The default is a
// success-proportional placeholder.
type Scorer func(r *ThreadResult) float64

// DefaultScorer scores accuracy as 0.8 times success.
func DefaultScorer(r *ThreadResult) float64 {
	return 0.8 * r.Scores.Success
}

// Executor fans out variations and collapses their results.
type Executor struct {
	router *router.Router
	scorer Scorer
}

// NewExecutor builds an executor. A nil scorer uses the default.
func NewExecutor(r *router.Router, scorer Scorer) *Executor {
	if scorer == nil {
		scorer = DefaultScorer
	}
	return &Executor{router: r, scorer: scorer}
}

// Execute runs all variations under the task's parallelism bound and
// whole-task timeout, then collapses per the task's strategy.
func (e *Executor) Execute(ctx context.Context, task *Task, variations []*Variation) (*Outcome, error) {
	if err := task.Validate(len(variations)); err != nil {
		return nil, err
	}

	task.setState(StateRunning)
	task.mu.Lock()
	task.startedAt = time.Now()
	task.mu.Unlock()

	runCtx := ctx
	var cancel context.CancelFunc
	if task.TimeoutSeconds > 0 {
		runCtx, cancel = context.WithTimeout(ctx, time.Duration(task.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	sem := semaphore.NewWeighted(int64(task.parallelism()))
	results := make([]*ThreadResult, len(variations))
	var wg sync.WaitGroup
	var done int
	var doneMu sync.Mutex

	log := slog.With("quantum_task", task.ID, "strategy", task.Strategy)
	log.Info("quantum fan-out started", "variations", len(variations))

	for i, v := range variations {
		wg.Add(1)
		go func(i int, v *Variation) {
			defer wg.Done()
			r := e.runThread(runCtx, sem, task, v)
			results[i] = r

			doneMu.Lock()
			done++
			frac := float64(done) / float64(len(variations))
			doneMu.Unlock()
			task.advanceProgress(frac)
		}(i, v)
	}
	wg.Wait()

	task.mu.Lock()
	task.wallTime = time.Since(task.startedAt)
	task.mu.Unlock()
	task.advanceProgress(1)

	for _, r := range results {
		e.scoreThread(task, r)
	}

	outcome, err := collapse(task.Strategy, results, variations)
	if err != nil {
		task.setState(StateFailed)
		return nil, err
	}
	task.setState(StateCompleted)
	metrics.QuantumCollapses.WithLabelValues(string(task.Strategy)).Inc()
	log.Info("quantum collapse done", "score", outcome.FinalScore, "wall_time", task.WallTime())

	return outcome, nil
}

// runThread executes one variation under the semaphore.
func (e *Executor) runThread(ctx context.Context, sem *semaphore.Weighted, task *Task, v *Variation) *ThreadResult {
	r := &ThreadResult{
		ID:          uuid.NewString(),
		TaskID:      task.ID,
		VariationID: v.ID,
		Name:        v.Name,
		State:       StatePending,
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		r.State = StateCancelled
		r.Err = err.Error()
		return r
	}
	defer sem.Release(1)

	r.State = StateRunning
	start := time.Now()

	req := &llms.Request{
		Prompt:      e.buildPrompt(task, v),
		Model:       v.ModelID,
		Temperature: v.Temperature,
		MaxTokens:   v.MaxTokens,
	}

	resp, err := e.router.Execute(ctx, req, nil)
	r.WallTime = time.Since(start)
	r.completedAt = time.Now()

	if err != nil {
		if ctx.Err() != nil {
			r.State = StateCancelled
		} else {
			r.State = StateFailed
		}
		r.Err = err.Error()
		return r
	}

	r.State = StateCompleted
	r.Raw = resp.Content
	r.ModelUsed = resp.Model
	trimmed := strings.TrimSpace(resp.Content)
	if strings.HasPrefix(trimmed, "{") {
		var structured map[string]any
		if jsonErr := json.Unmarshal([]byte(trimmed), &structured); jsonErr == nil {
			r.Structured = structured
		}
	}
	return r
}

// buildPrompt applies the variation's modifications to the base prompt.
func (e *Executor) buildPrompt(task *Task, v *Variation) string {
	p := task.Prompt
	for from, to := range v.Mods.Replace {
		p = strings.ReplaceAll(p, from, to)
	}
	if v.Mods.Prefix != "" {
		p = v.Mods.Prefix + "\n" + p
	}
	if v.Mods.Suffix != "" {
		p = p + "\n" + v.Mods.Suffix
	}
	if v.Mods.Style != "" {
		p = p + "\n\nStyle: " + v.Mods.Style
	}
	if v.ModelID != "" {
		p = prompt.Envelope(v.ModelID, p)
	}
	return p
}

// scoreThread fills the per-metric scores and weighted total.
func (e *Executor) scoreThread(task *Task, r *ThreadResult) {
	if r.State == StateCompleted && r.Err == "" && (r.Raw != "" || len(r.Structured) > 0) {
		r.Scores.Success = 1
	}

	if observed := r.WallTime; observed < latencyBaseline {
		r.Scores.Latency = float64(latencyBaseline-observed) / float64(latencyBaseline)
	}

	switch {
	case len(r.Structured) > 0:
		r.Scores.Completeness = 1
	case r.Raw != "":
		c := float64(len(r.Raw)) / 100
		if c > 1 {
			c = 1
		}
		r.Scores.Completeness = c
	}

	r.Scores.Accuracy = e.scorer(r)

	w := task.Weights
	if w == (MetricWeights{}) {
		w = DefaultWeights
	}
	r.Scores.Total = w.Success*r.Scores.Success +
		w.Latency*r.Scores.Latency +
		w.Completeness*r.Scores.Completeness +
		w.Accuracy*r.Scores.Accuracy
}
