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

// Package session manages MCP and A2A protocol sessions, negotiations
// and the task-execution records they spawn.
package session

import (
	"time"
)

// Protocol versions served by this process.
const (
	MCPProtocolVersion = "2025-03-26"
	A2AProtocolVersion = "1.0.0"
)

// Origin records where a session came from.
type Origin struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientInfo identifies an MCP client.
type ClientInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// MCPSession is one MCP client connection's durable state.
type MCPSession struct {
	ID              string `json:"id"`
	ProtocolVersion string `json:"protocol_version"`

	ClientInfo         ClientInfo     `json:"client_info"`
	ClientCapabilities map[string]any `json:"client_capabilities,omitempty"`
	ServerCapabilities map[string]any `json:"server_capabilities,omitempty"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Active       bool      `json:"active"`

	Origin Origin `json:"origin,omitempty"`
}

// A2ASession is one peer agent's durable state.
type A2ASession struct {
	ID               string   `json:"id"`
	PeerAgentID      string   `json:"peer_agent_id"`
	PeerAgentName    string   `json:"peer_agent_name,omitempty"`
	PeerCapabilities []string `json:"peer_capabilities,omitempty"`
	ProtocolVersion  string   `json:"protocol_version"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`

	// StreamBound is set while a websocket is attached.
	StreamBound bool   `json:"stream_bound"`
	Active      bool   `json:"active"`
	PublicKey   string `json:"public_key,omitempty"`
}

// Expired reports whether the session passed its expiry.
func (s *MCPSession) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Expired reports whether the session passed its expiry.
func (s *A2ASession) Expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// NegotiationStatus is the A2A negotiation lifecycle.
type NegotiationStatus string

const (
	NegotiationPending   NegotiationStatus = "pending"
	NegotiationAccepted  NegotiationStatus = "accepted"
	NegotiationRejected  NegotiationStatus = "rejected"
	NegotiationCompleted NegotiationStatus = "completed"
	NegotiationFailed    NegotiationStatus = "failed"
)

// WorkflowStep is one ordered step in a proposed workflow.
type WorkflowStep struct {
	Name        string `json:"name"`
	Skill       string `json:"skill"`
	Description string `json:"description,omitempty"`
}

// Negotiation is one A2A skill negotiation.
type Negotiation struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id"`

	RequestedSkills []string `json:"requested_skills"`
	AvailableSkills []string `json:"available_skills"`

	TaskDescription string         `json:"task_description,omitempty"`
	Parameters      map[string]any `json:"parameters,omitempty"`
	Priority        int            `json:"priority,omitempty"`

	ProposedWorkflow  []WorkflowStep `json:"proposed_workflow,omitempty"`
	EstimatedDuration int            `json:"estimated_duration_seconds,omitempty"`

	Status      NegotiationStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CompletedAt time.Time         `json:"completed_at,omitempty"`
}

// TaskStatus is the task-execution record lifecycle.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskExecution is the joint MCP/A2A record of one spawned task.
type TaskExecution struct {
	TaskID    string `json:"task_id"`
	SessionID string `json:"session_id"`
	Type      string `json:"type"`

	Parameters map[string]any `json:"parameters,omitempty"`

	Status    TaskStatus `json:"status"`
	Progress  float64    `json:"progress"`
	CanCancel bool       `json:"can_cancel"`

	Result map[string]any `json:"result,omitempty"`
	Error  string         `json:"error,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	CancelledBy string    `json:"cancelled_by,omitempty"`
}

// ProgressEvent is one streaming frame. The terminal frame carries
// Progress == 1.
type ProgressEvent struct {
	Progress  float64 `json:"progress"`
	Total     int     `json:"total,omitempty"`
	Completed int     `json:"completed,omitempty"`
	Message   string  `json:"message,omitempty"`
}
