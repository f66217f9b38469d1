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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/metrics"
)

var (
	// ErrSessionInactive is returned for expired or closed sessions.
	ErrSessionInactive = errors.New("session inactive or expired")

	// ErrVersionMismatch is returned when a client's protocol version
	// differs from the server's.
	ErrVersionMismatch = errors.New("protocol version mismatch")
)

// Manager owns session lifecycle: creation, activity tracking, expiry
// sweeping and the task-execution records sessions spawn.
type Manager struct {
	store Store

	mcpExpiry time.Duration
	a2aExpiry time.Duration
	sweep     time.Duration

	done chan struct{}
}

// NewManager builds a manager over a store.
func NewManager(store Store, cfg config.SessionConfig) *Manager {
	return &Manager{
		store:     store,
		mcpExpiry: cfg.MCPExpiry,
		a2aExpiry: cfg.A2AExpiry,
		sweep:     cfg.SweepInterval,
		done:      make(chan struct{}),
	}
}

// Start launches the expiry sweeper.
func (m *Manager) Start() {
	go func() {
		ticker := time.NewTicker(m.sweep)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.sweepOnce(context.Background())
			case <-m.done:
				return
			}
		}
	}()
}

// Stop halts the sweeper.
func (m *Manager) Stop() {
	close(m.done)
}

// sweepOnce deactivates expired sessions and cancels their tasks.
func (m *Manager) sweepOnce(ctx context.Context) {
	now := time.Now()

	mcpSessions, err := m.store.ListMCP(ctx)
	if err != nil {
		slog.Warn("session sweep: list mcp failed", "error", err)
	}
	for _, s := range mcpSessions {
		if s.Active && s.Expired(now) {
			s.Active = false
			if err := m.store.SaveMCP(ctx, s); err != nil {
				slog.Warn("session sweep: save failed", "session", s.ID, "error", err)
				continue
			}
			m.cancelSessionTasks(ctx, s.ID, "session expired")
			metrics.SessionsActive.WithLabelValues("mcp").Dec()
			slog.Info("mcp session expired", "session", s.ID)
		}
	}

	a2aSessions, err := m.store.ListA2A(ctx)
	if err != nil {
		slog.Warn("session sweep: list a2a failed", "error", err)
	}
	for _, s := range a2aSessions {
		if s.Active && s.Expired(now) {
			s.Active = false
			s.StreamBound = false
			if err := m.store.SaveA2A(ctx, s); err != nil {
				slog.Warn("session sweep: save failed", "session", s.ID, "error", err)
				continue
			}
			m.cancelSessionTasks(ctx, s.ID, "session expired")
			metrics.SessionsActive.WithLabelValues("a2a").Dec()
			slog.Info("a2a session expired", "session", s.ID)
		}
	}
}

func (m *Manager) cancelSessionTasks(ctx context.Context, sessionID, reason string) {
	tasks, err := m.store.ListTasksBySession(ctx, sessionID)
	if err != nil {
		slog.Warn("session sweep: list tasks failed", "session", sessionID, "error", err)
		return
	}
	for _, t := range tasks {
		if !t.Status.Terminal() {
			t.Status = TaskCancelled
			t.CancelledBy = reason
			t.UpdatedAt = time.Now()
			if err := m.store.SaveTask(ctx, t); err != nil {
				slog.Warn("session sweep: cancel task failed", "task", t.TaskID, "error", err)
			}
		}
	}
}

// RecoverTasks fails task records left running by a previous process.
// Run once at startup before serving traffic.
func (m *Manager) RecoverTasks(ctx context.Context) error {
	tasks, err := m.store.ListTasks(ctx)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		if t.Status == TaskRunning || t.Status == TaskPending {
			t.Status = TaskFailed
			t.Error = "server_restart"
			t.UpdatedAt = time.Now()
			if err := m.store.SaveTask(ctx, t); err != nil {
				return err
			}
			slog.Info("recovered orphaned task", "task", t.TaskID)
		}
	}
	return nil
}

// TouchMCP validates and refreshes an MCP session's activity stamp.
func (m *Manager) TouchMCP(ctx context.Context, id string) (*MCPSession, error) {
	s, err := m.store.GetMCP(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Active || s.Expired(time.Now()) {
		return nil, ErrSessionInactive
	}
	s.LastActivity = time.Now()
	if err := m.store.SaveMCP(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// TouchA2A validates and refreshes an A2A session's activity stamp.
func (m *Manager) TouchA2A(ctx context.Context, id string) (*A2ASession, error) {
	s, err := m.store.GetA2A(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.Active || s.Expired(time.Now()) {
		return nil, ErrSessionInactive
	}
	s.LastActivity = time.Now()
	if err := m.store.SaveA2A(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// CreateTask records a new pending task execution for a session.
func (m *Manager) CreateTask(ctx context.Context, sessionID, taskType string, params map[string]any, canCancel bool) (*TaskExecution, error) {
	t := &TaskExecution{
		TaskID:     uuid.NewString(),
		SessionID:  sessionID,
		Type:       taskType,
		Parameters: params,
		Status:     TaskPending,
		CanCancel:  canCancel,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	}
	if err := m.store.SaveTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// StartTask flips a pending record to running.
func (m *Manager) StartTask(ctx context.Context, id string) error {
	return m.updateTask(ctx, id, func(t *TaskExecution) error {
		if t.Status.Terminal() {
			return fmt.Errorf("task %s already terminal (%s)", id, t.Status)
		}
		t.Status = TaskRunning
		return nil
	})
}

// UpdateProgress raises a task's progress. Progress is monotone;
// lower values are ignored.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress float64) error {
	return m.updateTask(ctx, id, func(t *TaskExecution) error {
		if progress > t.Progress {
			t.Progress = progress
		}
		return nil
	})
}

// CompleteTask stores the result and marks the record completed.
func (m *Manager) CompleteTask(ctx context.Context, id string, result map[string]any) error {
	return m.updateTask(ctx, id, func(t *TaskExecution) error {
		if t.Status.Terminal() {
			return fmt.Errorf("task %s already terminal (%s)", id, t.Status)
		}
		t.Status = TaskCompleted
		t.Progress = 1
		t.Result = result
		return nil
	})
}

// FailTask marks the record failed with an error message.
func (m *Manager) FailTask(ctx context.Context, id string, errMsg string) error {
	return m.updateTask(ctx, id, func(t *TaskExecution) error {
		if t.Status.Terminal() {
			return nil
		}
		t.Status = TaskFailed
		t.Error = errMsg
		return nil
	})
}

// CancelTask flips a non-terminal record to cancelled.
func (m *Manager) CancelTask(ctx context.Context, id, by string) error {
	return m.updateTask(ctx, id, func(t *TaskExecution) error {
		if t.Status.Terminal() {
			return fmt.Errorf("task %s already terminal (%s)", id, t.Status)
		}
		if !t.CanCancel {
			return fmt.Errorf("task %s is not cancellable", id)
		}
		t.Status = TaskCancelled
		t.CancelledBy = by
		t.CanCancel = false
		return nil
	})
}

// TaskStatus returns the task-execution snapshot.
func (m *Manager) TaskStatus(ctx context.Context, id string) (*TaskExecution, error) {
	return m.store.GetTask(ctx, id)
}

func (m *Manager) updateTask(ctx context.Context, id string, mutate func(*TaskExecution) error) error {
	t, err := m.store.GetTask(ctx, id)
	if err != nil {
		return err
	}
	if err := mutate(t); err != nil {
		return err
	}
	t.UpdatedAt = time.Now()
	return m.store.SaveTask(ctx, t)
}
