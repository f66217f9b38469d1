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

// Package workflow executes task DAGs under duration and cost budgets.
package workflow

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// TaskState is one node's lifecycle position.
type TaskState string

const (
	TaskPending    TaskState = "pending"
	TaskInProgress TaskState = "in-progress"
	TaskCompleted  TaskState = "completed"
	TaskFailed     TaskState = "failed"
	TaskCancelled  TaskState = "cancelled"
	TaskRetrying   TaskState = "retrying"
)

// Terminal reports whether the state is sticky.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// validTransitions is the monotone state machine; retrying→in-progress
// is the one permitted loop.
var validTransitions = map[TaskState][]TaskState{
	TaskPending:    {TaskInProgress, TaskFailed, TaskCancelled},
	TaskInProgress: {TaskCompleted, TaskFailed, TaskCancelled, TaskRetrying},
	TaskRetrying:   {TaskInProgress, TaskFailed, TaskCancelled},
}

// Task is one node in the workflow DAG.
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// AgentID is empty for auto-assignment.
	AgentID string `json:"agent_id,omitempty"`

	// DependsOn lists prerequisite task ids.
	DependsOn []string `json:"depends_on,omitempty"`

	Input           map[string]any `json:"input,omitempty"`
	OutputSchema    string         `json:"output_schema,omitempty"`
	SuccessCriteria []string       `json:"success_criteria,omitempty"`

	// TimeoutSeconds bounds one provider round-trip. Zero inherits the
	// agent default.
	TimeoutSeconds int `json:"timeout_seconds,omitempty"`
	MaxRetries     int `json:"max_retries,omitempty"`

	mu         sync.Mutex
	state      TaskState
	startedAt  time.Time
	finishedAt time.Time
	output     map[string]any
	errMsg     string
	retries    int
	tokens     int
	costUSD    float64

	cancelled atomic.Bool
}

// NewTask builds a pending task with a fresh id.
func NewTask(name string) *Task {
	return &Task{
		ID:    uuid.NewString(),
		Name:  name,
		state: TaskPending,
	}
}

// State returns the current lifecycle state.
func (t *Task) State() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == "" {
		return TaskPending
	}
	return t.state
}

// SetState applies one transition, rejecting anything the state machine
// does not permit. Terminal states are sticky.
func (t *Task) SetState(next TaskState) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := t.state
	if cur == "" {
		cur = TaskPending
	}
	if cur == next {
		return nil
	}
	for _, allowed := range validTransitions[cur] {
		if allowed == next {
			t.state = next
			switch next {
			case TaskInProgress:
				if t.startedAt.IsZero() {
					t.startedAt = time.Now()
				}
			case TaskCompleted, TaskFailed, TaskCancelled:
				t.finishedAt = time.Now()
			}
			return nil
		}
	}
	return fmt.Errorf("task %s: invalid transition %s → %s", t.ID, cur, next)
}

// Cancel sets the cooperative cancellation flag. The running agent
// observes it before and after the provider call.
func (t *Task) Cancel() {
	t.cancelled.Store(true)
}

// CancelRequested reports the cooperative flag.
func (t *Task) CancelRequested() bool {
	return t.cancelled.Load()
}

// RecordUsage accumulates tokens and cost onto the task.
func (t *Task) RecordUsage(tokens int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens += tokens
	t.costUSD += costUSD
}

// SetOutput stores the task result.
func (t *Task) SetOutput(out map[string]any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.output = out
}

// Output returns the stored result.
func (t *Task) Output() map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.output
}

// SetError records the failure message.
func (t *Task) SetError(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errMsg = msg
}

// Err returns the recorded failure message.
func (t *Task) Err() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.errMsg
}

// IncRetries bumps and returns the retry count.
func (t *Task) IncRetries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.retries++
	return t.retries
}

// Retries returns the retry count.
func (t *Task) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// Usage returns accumulated tokens and cost.
func (t *Task) Usage() (tokens int, costUSD float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tokens, t.costUSD
}

// Duration returns wall time for finished tasks.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.startedAt.IsZero() || t.finishedAt.IsZero() {
		return 0
	}
	return t.finishedAt.Sub(t.startedAt)
}
