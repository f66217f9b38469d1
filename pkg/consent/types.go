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

// Package consent gates tool access behind per-resource policies,
// explicit grants and an audit trail.
package consent

import (
	"time"

	"github.com/workforcelabs/foreman/pkg/session"
)

// Policy governs access to one (resource type, resource name) pair.
type Policy struct {
	ResourceType string `json:"resource_type" yaml:"resource_type"`
	ResourceName string `json:"resource_name" yaml:"resource_name"`

	RequiredPermissions []string `json:"required_permissions,omitempty" yaml:"required_permissions,omitempty"`

	// AutoApprove skips the explicit-grant requirement; a transient
	// grant is minted per check.
	AutoApprove bool `json:"auto_approve" yaml:"auto_approve"`

	// GrantTTL bounds how long explicit grants live. Zero means the
	// requester's TTL is used as-is.
	GrantTTL time.Duration `json:"grant_ttl,omitempty" yaml:"grant_ttl,omitempty"`

	// MaxUsagePerHour caps accesses per (user, resource). Zero disables.
	MaxUsagePerHour int64 `json:"max_usage_per_hour,omitempty" yaml:"max_usage_per_hour,omitempty"`
}

// RequestStatus is the consent-request lifecycle.
type RequestStatus string

const (
	RequestPending RequestStatus = "pending"
	RequestGranted RequestStatus = "granted"
	RequestDenied  RequestStatus = "denied"
	RequestExpired RequestStatus = "expired"
	RequestRevoked RequestStatus = "revoked"
)

// Request is one user's petition for access.
type Request struct {
	ID           string        `json:"id"`
	User         string        `json:"user"`
	ResourceType string        `json:"resource_type"`
	ResourceName string        `json:"resource_name"`
	Permissions  []string      `json:"permissions"`
	RequestedTTL time.Duration `json:"requested_ttl"`
	Status       RequestStatus `json:"status"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Grant is an approved request. Grants outlive the session that
// created them, up to their expiry.
type Grant struct {
	ID           string     `json:"id"`
	RequestID    string     `json:"request_id"`
	User         string     `json:"user"`
	ResourceType string     `json:"resource_type"`
	ResourceName string     `json:"resource_name"`
	GrantedBy    string     `json:"granted_by"`
	Permissions  []string   `json:"permissions"`
	ExpiresAt    time.Time  `json:"expires_at"`
	UsageCount   int        `json:"usage_count"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the grant is usable at now.
func (g *Grant) Valid(now time.Time) bool {
	return g.RevokedAt == nil && now.Before(g.ExpiresAt)
}

// Action tags an audit entry.
type Action string

const (
	ActionRequest Action = "request"
	ActionGrant   Action = "grant"
	ActionDeny    Action = "deny"
	ActionAccess  Action = "access"
	ActionRevoke  Action = "revoke"
	ActionError   Action = "error"
)

// AuditEntry is one line of the consent audit trail.
type AuditEntry struct {
	Who       string         `json:"who"`
	Action    Action         `json:"action"`
	Resource  string         `json:"resource"`
	RequestID string         `json:"request_id,omitempty"`
	At        time.Time      `json:"at"`
	Details   string         `json:"details,omitempty"`
	Origin    session.Origin `json:"origin,omitempty"`
}

// Decision is the outcome of a consent check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}
