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

// Package quantum runs K independent variations of one task in
// parallel and collapses the thread results into a single outcome.
package quantum

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// maxParallelCap is the hard ceiling on fan-out regardless of request.
const maxParallelCap = 20

// Strategy reduces K thread results to one outcome.
type Strategy string

const (
	FirstSuccess Strategy = "first_success"
	BestScore    Strategy = "best_score"
	Consensus    Strategy = "consensus"
	Combined     Strategy = "combined"
	Weighted     Strategy = "weighted"
)

// Valid reports whether the strategy tag is known.
func (s Strategy) Valid() bool {
	switch s {
	case FirstSuccess, BestScore, Consensus, Combined, Weighted:
		return true
	}
	return false
}

// State is the quantum task lifecycle.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// MetricWeights weigh the per-thread scores. Defaults to
// (0.3, 0.2, 0.3, 0.2) over success/latency/completeness/accuracy.
type MetricWeights struct {
	Success      float64 `json:"success"`
	Latency      float64 `json:"latency"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
}

// DefaultWeights is the standard metric mix.
var DefaultWeights = MetricWeights{Success: 0.3, Latency: 0.2, Completeness: 0.3, Accuracy: 0.2}

// PromptMods adjust the base prompt per variation.
type PromptMods struct {
	Prefix  string            `json:"prefix,omitempty"`
	Suffix  string            `json:"suffix,omitempty"`
	Replace map[string]string `json:"replace,omitempty"`
	Style   string            `json:"style,omitempty"`
}

// Variation is one alternative execution of the base task.
type Variation struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// AgentRole overrides the prompt framing role.
	AgentRole string `json:"agent_role,omitempty"`

	// ModelID pins a provider/model for this variation.
	ModelID string `json:"model_id,omitempty"`

	Mods PromptMods `json:"prompt_mods,omitempty"`

	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`

	// Weight participates in the weighted collapse. Defaults to 1.
	Weight float64 `json:"weight,omitempty"`
}

// Task is one quantum execution request.
type Task struct {
	ID       string   `json:"id"`
	UserID   string   `json:"user_id,omitempty"`
	Prompt   string   `json:"prompt"`
	Strategy Strategy `json:"strategy"`

	Weights MetricWeights `json:"metric_weights,omitempty"`

	// MaxParallel bounds the fan-out; capped at 20.
	MaxParallel    int `json:"max_parallel,omitempty"`
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`

	mu        sync.Mutex
	state     State
	progress  float64
	startedAt time.Time
	wallTime  time.Duration
}

// NewTask builds a pending quantum task.
func NewTask(prompt string, strategy Strategy) *Task {
	return &Task{
		ID:       uuid.NewString(),
		Prompt:   prompt,
		Strategy: strategy,
		Weights:  DefaultWeights,
		state:    StatePending,
	}
}

// Validate checks the task shape.
func (t *Task) Validate(variations int) error {
	if t.Prompt == "" {
		return fmt.Errorf("quantum task requires a prompt")
	}
	if !t.Strategy.Valid() {
		return fmt.Errorf("unknown collapse strategy %q", t.Strategy)
	}
	if variations < 1 {
		return fmt.Errorf("quantum task requires at least one variation")
	}
	if max := t.parallelism(); variations > max {
		return fmt.Errorf("%d variations exceed max parallel executions %d", variations, max)
	}
	return nil
}

func (t *Task) parallelism() int {
	p := t.MaxParallel
	if p <= 0 || p > maxParallelCap {
		p = maxParallelCap
	}
	return p
}

// State returns the lifecycle state.
func (t *Task) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Task) setState(s State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = s
}

// Progress returns the monotone completion fraction.
func (t *Task) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress
}

// advanceProgress raises progress, never lowering it.
func (t *Task) advanceProgress(p float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if p > t.progress {
		t.progress = p
	}
}

// WallTime returns the total fan-out duration.
func (t *Task) WallTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wallTime
}

// ThreadScores holds the per-metric scores for one thread.
type ThreadScores struct {
	Success      float64 `json:"success"`
	Latency      float64 `json:"latency"`
	Completeness float64 `json:"completeness"`
	Accuracy     float64 `json:"accuracy"`
	Total        float64 `json:"total"`
}

// ThreadResult is one variation's outcome.
type ThreadResult struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	VariationID string `json:"variation_id"`
	Name        string `json:"name"`

	State      State          `json:"state"`
	Raw        string         `json:"raw,omitempty"`
	Structured map[string]any `json:"structured,omitempty"`

	Scores    ThreadScores  `json:"scores"`
	WallTime  time.Duration `json:"wall_time"`
	Err       string        `json:"error,omitempty"`
	ModelUsed string        `json:"model_used,omitempty"`

	completedAt time.Time
}

// Succeeded reports whether the thread produced a usable result.
func (r *ThreadResult) Succeeded() bool {
	return r.State == StateCompleted && r.Err == "" && (r.Raw != "" || len(r.Structured) > 0)
}
