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

package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/prompt"
	"github.com/workforcelabs/foreman/pkg/router"
	"github.com/workforcelabs/foreman/pkg/workflow"
)

const (
	defaultTaskTimeout = 5 * time.Minute
	defaultMaxRetries  = 3
	retryBaseDelay     = time.Second
	retryMaxDelay      = 30 * time.Second
)

// Agent pairs a definition with its memory.
type Agent struct {
	Def    *Definition
	Memory *Memory
}

// Runtime executes tasks through registered agents. It implements
// workflow.AgentPool.
type Runtime struct {
	router *router.Router

	mu     sync.RWMutex
	agents map[string]*Agent

	maxRetries int
}

// NewRuntime builds an empty runtime over a router.
func NewRuntime(r *router.Router) *Runtime {
	return &Runtime{
		router:     r,
		agents:     map[string]*Agent{},
		maxRetries: defaultMaxRetries,
	}
}

// Register adds an agent definition to the pool.
func (rt *Runtime) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if _, exists := rt.agents[def.ID]; exists {
		return fmt.Errorf("agent %s already registered", def.ID)
	}
	rt.agents[def.ID] = &Agent{Def: def, Memory: NewMemory()}
	return nil
}

// Get returns a registered agent.
func (rt *Runtime) Get(id string) (*Agent, bool) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	a, ok := rt.agents[id]
	return a, ok
}

// Agents lists registered agent ids, sorted.
func (rt *Runtime) Agents() []string {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	out := make([]string, 0, len(rt.agents))
	for id := range rt.agents {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Resolve auto-assigns an agent to a task by scoring trust, role
// keywords, skills and domain hints.
func (rt *Runtime) Resolve(task *workflow.Task, agentIDs []string) (string, error) {
	rt.mu.RLock()
	defer rt.mu.RUnlock()

	candidates := agentIDs
	if len(candidates) == 0 {
		for id := range rt.agents {
			candidates = append(candidates, id)
		}
	}
	sort.Strings(candidates)

	text := strings.ToLower(task.Name + " " + task.Description)
	criteria := strings.ToLower(strings.Join(task.SuccessCriteria, " "))

	best := ""
	bestScore := -1.0
	for _, id := range candidates {
		a, ok := rt.agents[id]
		if !ok {
			continue
		}
		score := a.Def.Trust * 0.3
		if strings.Contains(text, strings.ToLower(a.Def.Role)) {
			score += 0.2
		}
		for _, cap := range a.Def.Capabilities {
			lc := strings.ToLower(cap)
			if strings.Contains(text, lc) {
				score += 0.1
			}
			if criteria != "" && strings.Contains(criteria, lc) {
				score += 0.15
			}
		}
		if score > bestScore {
			bestScore = score
			best = id
		}
	}
	if best == "" {
		return "", fmt.Errorf("no agent available for task %s", task.Name)
	}
	return best, nil
}

// Execute runs one task: prompt construction, routed model call under a
// deadline, bounded retries, output parsing and memory update.
func (rt *Runtime) Execute(ctx context.Context, agentID string, task *workflow.Task, wf *workflow.Workflow) (map[string]any, error) {
	a, ok := rt.Get(agentID)
	if !ok {
		return nil, fmt.Errorf("agent %s not registered", agentID)
	}
	if task.CancelRequested() {
		return nil, workflow.ErrCancelled
	}
	if err := task.SetState(workflow.TaskInProgress); err != nil {
		return nil, err
	}

	req := rt.buildRequest(a, task)

	maxRetries := task.MaxRetries
	if maxRetries <= 0 {
		maxRetries = rt.maxRetries
	}

	log := slog.With("agent", agentID, "task", task.Name)

	var resp *llms.Response
	for attempt := 0; ; attempt++ {
		if task.CancelRequested() {
			return nil, workflow.ErrCancelled
		}

		callCtx, cancel := context.WithTimeout(ctx, rt.deadline(a, task, wf))
		r, err := rt.router.Execute(callCtx, req, rt.policy(a))
		cancel()

		if task.CancelRequested() {
			return nil, workflow.ErrCancelled
		}
		if err == nil {
			resp = r
			break
		}
		if errors.Is(err, context.Canceled) {
			return nil, workflow.ErrCancelled
		}
		if !retriable(err) || attempt >= maxRetries {
			return nil, err
		}

		task.IncRetries()
		_ = task.SetState(workflow.TaskRetrying)
		delay := backoff(attempt)
		log.Warn("task attempt failed, retrying", "attempt", attempt+1, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, workflow.ErrCancelled
		}
		_ = task.SetState(workflow.TaskInProgress)
	}

	task.RecordUsage(resp.TotalTokens, resp.CostUSD)
	output := parseOutput(resp)

	a.Memory.Append(Interaction{
		TaskName: task.Name,
		Prompt:   req.Prompt,
		Response: resp.Content,
	})

	return output, nil
}

// buildRequest renders the role template over the task input and
// applies the model-family envelope when the agent pins a model.
func (rt *Runtime) buildRequest(a *Agent, task *workflow.Task) *llms.Request {
	tmpl, err := prompt.ForRole(a.Def.Role)
	if err != nil {
		// Validated at registration; fall back to the executor frame.
		tmpl, _ = prompt.ForRole("executor")
	}

	vars := map[string]string{"input": describeTask(task)}
	for k, v := range task.Input {
		vars[k] = fmt.Sprint(v)
	}
	doc := tmpl.Render(vars)

	req := &llms.Request{
		Prompt:      doc,
		Temperature: a.Def.Temperature,
		MaxTokens:   a.Def.MaxTokens,
	}
	if len(a.Def.PreferredModels) > 0 {
		req.Model = a.Def.PreferredModels[0]
		req.Prompt = prompt.Envelope(req.Model, doc)
	}
	if task.OutputSchema != "" {
		req.ResponseFormat = "json"
	}
	return req
}

// policy copies the agent's routing policy and keys the pin table by
// the agent role when the agent names no task type itself.
func (rt *Runtime) policy(a *Agent) *router.Policy {
	p := &router.Policy{}
	if a.Def.Policy != nil {
		cp := *a.Def.Policy
		p = &cp
	}
	if p.TaskType == "" {
		p.TaskType = a.Def.Role
	}
	return p
}

// deadline bounds one provider round-trip by the lesser of the task
// timeout and the workflow's remaining budget.
func (rt *Runtime) deadline(a *Agent, task *workflow.Task, wf *workflow.Workflow) time.Duration {
	d := defaultTaskTimeout
	if a.Def.TimeoutSeconds > 0 {
		d = time.Duration(a.Def.TimeoutSeconds) * time.Second
	}
	if task.TimeoutSeconds > 0 {
		d = time.Duration(task.TimeoutSeconds) * time.Second
	}
	if wf != nil {
		if remaining := wf.Remaining(); remaining < d {
			d = remaining
		}
	}
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}

// parseOutput attempts a structured parse, falling back to wrapping the
// raw text.
func parseOutput(resp *llms.Response) map[string]any {
	meta := map[string]any{
		"model":      resp.Model,
		"tokens":     resp.TotalTokens,
		"cost_usd":   resp.CostUSD,
		"latency_ms": resp.LatencyMs,
	}
	trimmed := strings.TrimSpace(resp.Content)
	if strings.HasPrefix(trimmed, "{") {
		var out map[string]any
		if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
			if _, taken := out["metadata"]; !taken {
				out["metadata"] = meta
			}
			return out
		}
	}
	return map[string]any{"output": resp.Content, "metadata": meta}
}

// retriable: only upstream transport/vendor errors earn a retry.
// Rate-limit denials and routing failures surface immediately.
func retriable(err error) bool {
	if errors.Is(err, router.ErrRateLimited) || errors.Is(err, router.ErrNoCandidate) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var upErr *llms.UpstreamError
	return errors.As(err, &upErr)
}

func backoff(attempt int) time.Duration {
	d := retryBaseDelay << uint(attempt)
	if d > retryMaxDelay {
		d = retryMaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 5))
	return d + jitter
}

func describeTask(task *workflow.Task) string {
	var b strings.Builder
	b.WriteString(task.Name)
	if task.Description != "" {
		b.WriteString(": ")
		b.WriteString(task.Description)
	}
	if len(task.Input) > 0 {
		if data, err := json.Marshal(task.Input); err == nil {
			b.WriteString("\n\nInput:\n")
			b.Write(data)
		}
	}
	if len(task.SuccessCriteria) > 0 {
		b.WriteString("\n\nSuccess criteria:\n")
		for _, c := range task.SuccessCriteria {
			b.WriteString("- ")
			b.WriteString(c)
			b.WriteString("\n")
		}
	}
	return b.String()
}
