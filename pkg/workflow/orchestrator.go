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

package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/metrics"
)

var (
	// ErrDeadlock means pending tasks remain but none can become ready.
	ErrDeadlock = errors.New("workflow deadlock: unsatisfiable pending tasks")

	// ErrCancelled marks cooperative cancellation. Agents return it when
	// a task's flag is observed set.
	ErrCancelled = errors.New("cancelled")
)

// AgentPool resolves and runs agents for the orchestrator. Implemented
// by the agent runtime.
type AgentPool interface {
	// Resolve picks an agent for an unassigned task from the candidate
	// pool.
	Resolve(task *Task, agentIDs []string) (string, error)

	// Execute runs one task to a single outcome. Retries happen inside;
	// the returned error is terminal for this attempt chain.
	Execute(ctx context.Context, agentID string, task *Task, wf *Workflow) (map[string]any, error)
}

// Result summarizes one workflow run.
type Result struct {
	State       State                     `json:"state"`
	Outputs     map[string]map[string]any `json:"outputs"`
	TotalTokens int                       `json:"total_tokens"`
	TotalCost   float64                   `json:"total_cost_usd"`
	Failed      []string                  `json:"failed_tasks"`
	Cancelled   []string                  `json:"cancelled_tasks"`
	Duration    time.Duration             `json:"duration"`
}

type completion struct {
	task   *Task
	output map[string]any
	err    error
}

// Orchestrator supervises workflow runs. One orchestrator serves many
// workflows; per-run state lives on the Workflow.
type Orchestrator struct {
	pool AgentPool

	continueOnDepFailure bool
	grace                time.Duration
	tick                 time.Duration
}

// NewOrchestrator builds an orchestrator from config defaults.
func NewOrchestrator(pool AgentPool, cfg config.WorkflowConfig) *Orchestrator {
	return &Orchestrator{
		pool:                 pool,
		continueOnDepFailure: cfg.ContinueOnDependencyFailure,
		grace:                30 * time.Second,
		tick:                 time.Second,
	}
}

// Run executes the DAG to a terminal state. The supervising loop is the
// single writer of workflow aggregates.
func (o *Orchestrator) Run(ctx context.Context, w *Workflow) (*Result, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.state = StateRunning
	w.startedAt = time.Now()
	w.mu.Unlock()

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	done := make(chan completion, len(w.Tasks))
	running := map[string]bool{}
	blocked := map[string]bool{}
	stopping := false
	budgetStop := false

	log := slog.With("workflow", w.ID)
	log.Info("workflow started", "tasks", len(w.Tasks), "goal", w.Goal)

	for {
		// Ready selection and cascade handling.
		if !stopping {
			for _, t := range w.Tasks {
				if t.State() != TaskPending || running[t.ID] || blocked[t.ID] {
					continue
				}
				ready := true
				failedDep := false
				for _, dep := range t.DependsOn {
					depTask, _ := w.TaskByID(dep)
					switch depTask.State() {
					case TaskCompleted:
					case TaskFailed, TaskCancelled:
						failedDep = true
						ready = false
					default:
						ready = false
					}
				}
				if failedDep {
					if o.continueOnDepFailure {
						blocked[t.ID] = true
						log.Info("task blocked by failed dependency", "task", t.Name)
					} else {
						_ = t.SetState(TaskCancelled)
						t.SetError("dependency failed")
						metrics.TasksCompleted.WithLabelValues(string(TaskCancelled)).Inc()
						log.Info("task cascade-cancelled", "task", t.Name)
					}
					continue
				}
				if ready {
					running[t.ID] = true
					o.launch(runCtx, w, t, done)
				}
			}
		}

		if len(running) == 0 {
			if stopping || !o.hasPending(w, blocked) {
				break
			}
			// Pending remains but nothing can run.
			w.setState(StateFailed)
			w.mu.Lock()
			w.finishedAt = time.Now()
			w.mu.Unlock()
			metrics.WorkflowsCompleted.WithLabelValues(string(StateFailed)).Inc()
			return o.result(w, StateFailed), ErrDeadlock
		}

		// Wait-any.
		select {
		case c := <-done:
			delete(running, c.task.ID)
			o.finish(w, c, log)
		case <-time.After(o.tick):
		case <-ctx.Done():
			w.RequestStop()
		}

		// Budget check.
		_, cost := w.Totals()
		if (w.Budget.MaxDuration > 0 && w.Duration() > w.Budget.MaxDuration) ||
			(w.Budget.MaxCostUSD > 0 && cost >= w.Budget.MaxCostUSD) {
			if !w.stopRequested() {
				log.Warn("workflow budget exhausted", "cost", cost, "elapsed", w.Duration())
			}
			budgetStop = true
			w.RequestStop()
		}

		// Stop handling: flag every non-terminal task, then drain with a
		// grace period before force-abort.
		if w.stopRequested() && !stopping {
			stopping = true
			w.setState(StateStopping)
			for _, t := range w.Tasks {
				if !t.State().Terminal() {
					t.Cancel()
				}
				if t.State() == TaskPending && !running[t.ID] {
					_ = t.SetState(TaskCancelled)
					metrics.TasksCompleted.WithLabelValues(string(TaskCancelled)).Inc()
				}
			}
			cancelRun()
			o.drain(w, running, done, log)
			break
		}
	}

	w.mu.Lock()
	w.finishedAt = time.Now()
	w.mu.Unlock()

	// Completed iff nothing failed; any failure is partial. A stop that
	// left work cancelled is partial when the budget tripped it, and
	// cancelled when the caller asked.
	final := StateCompleted
	for _, t := range w.Tasks {
		if t.State() == TaskFailed {
			final = StatePartialFailure
			break
		}
	}
	if final == StateCompleted && stopping {
		for _, t := range w.Tasks {
			if t.State() == TaskCancelled {
				if budgetStop {
					final = StatePartialFailure
				} else {
					final = StateCancelled
				}
				break
			}
		}
	}
	w.setState(final)
	metrics.WorkflowsCompleted.WithLabelValues(string(final)).Inc()
	log.Info("workflow finished", "state", final, "duration", w.Duration())

	return o.result(w, final), nil
}

func (o *Orchestrator) launch(ctx context.Context, w *Workflow, t *Task, done chan<- completion) {
	go func() {
		agentID := t.AgentID
		if agentID == "" {
			resolved, err := o.pool.Resolve(t, w.AgentIDs)
			if err != nil {
				done <- completion{task: t, err: err}
				return
			}
			agentID = resolved
			t.AgentID = resolved
		}
		out, err := o.pool.Execute(ctx, agentID, t, w)
		done <- completion{task: t, output: out, err: err}
	}()
}

// finish applies one completion. Runs on the supervising goroutine so
// aggregate totals have a single writer.
func (o *Orchestrator) finish(w *Workflow, c completion, log *slog.Logger) {
	tokens, cost := c.task.Usage()
	w.addTotals(tokens, cost)

	switch {
	case c.err == nil:
		c.task.SetOutput(c.output)
		_ = c.task.SetState(TaskCompleted)
		log.Info("task completed", "task", c.task.Name, "cost", cost)
	case errors.Is(c.err, ErrCancelled) || errors.Is(c.err, context.Canceled):
		_ = c.task.SetState(TaskCancelled)
		log.Info("task cancelled", "task", c.task.Name)
	default:
		c.task.SetError(c.err.Error())
		_ = c.task.SetState(TaskFailed)
		log.Warn("task failed", "task", c.task.Name, "error", c.err)
	}
	metrics.TasksCompleted.WithLabelValues(string(c.task.State())).Inc()
}

// drain waits out the grace period for in-flight units, then
// force-aborts whatever is left.
func (o *Orchestrator) drain(w *Workflow, running map[string]bool, done <-chan completion, log *slog.Logger) {
	deadline := time.After(o.grace)
	for len(running) > 0 {
		select {
		case c := <-done:
			delete(running, c.task.ID)
			o.finish(w, c, log)
		case <-deadline:
			for id := range running {
				t, _ := w.TaskByID(id)
				_ = t.SetState(TaskCancelled)
				t.SetError("force-aborted after grace period")
				metrics.TasksCompleted.WithLabelValues(string(TaskCancelled)).Inc()
				delete(running, id)
			}
			log.Warn("force-aborted tasks after grace period")
		}
	}
}

func (o *Orchestrator) hasPending(w *Workflow, blocked map[string]bool) bool {
	for _, t := range w.Tasks {
		if t.State() == TaskPending && !blocked[t.ID] {
			return true
		}
	}
	return false
}

func (o *Orchestrator) result(w *Workflow, state State) *Result {
	tokens, cost := w.Totals()
	res := &Result{
		State:       state,
		Outputs:     map[string]map[string]any{},
		TotalTokens: tokens,
		TotalCost:   cost,
		Failed:      []string{},
		Cancelled:   []string{},
		Duration:    w.Duration(),
	}
	for _, t := range w.Tasks {
		switch t.State() {
		case TaskCompleted:
			res.Outputs[t.Name] = t.Output()
		case TaskFailed:
			res.Failed = append(res.Failed, t.Name)
		case TaskCancelled:
			res.Cancelled = append(res.Cancelled, t.Name)
		}
	}
	return res
}
