package consent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/workforcelabs/foreman/pkg/metrics"
	"github.com/workforcelabs/foreman/pkg/ratelimit"
	"github.com/workforcelabs/foreman/pkg/session"
)

var (
	// ErrNoPolicy is returned for resources with no configured policy.
	// Access without a policy is always denied.
	ErrNoPolicy = errors.New("no consent policy for resource")

	// ErrConsentDenied is returned when a check fails for any reason
	// other than a missing policy.
	ErrConsentDenied = errors.New("consent denied")
)

// auditCap bounds the in-memory audit ring.
const auditCap = 1000

// Gate evaluates access checks against policies and grants.
type Gate struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	requests map[string]*Request
	grants   map[string]*Grant
	audit    []AuditEntry

	// usage counts accesses per (user, resource) for the hourly cap.
	usage ratelimit.Store
}

// NewGate builds a gate over a usage-counter store.
func NewGate(usage ratelimit.Store) *Gate {
	return &Gate{
		policies: map[string]*Policy{},
		requests: map[string]*Request{},
		grants:   map[string]*Grant{},
		usage:    usage,
	}
}

func resourceKey(resourceType, resourceName string) string {
	return resourceType + "/" + resourceName
}

func grantKey(user, resourceType, resourceName string) string {
	return user + "@" + resourceKey(resourceType, resourceName)
}

// SetPolicy installs or replaces the policy for a resource.
func (g *Gate) SetPolicy(p *Policy) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policies[resourceKey(p.ResourceType, p.ResourceName)] = p
}

// PolicyFor returns the policy for a resource, if any.
func (g *Gate) PolicyFor(resourceType, resourceName string) (*Policy, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	p, ok := g.policies[resourceKey(resourceType, resourceName)]
	return p, ok
}

// RequestAccess records a pending consent request.
func (g *Gate) RequestAccess(user, resourceType, resourceName string, permissions []string, ttl time.Duration, origin session.Origin) (*Request, error) {
	if _, ok := g.PolicyFor(resourceType, resourceName); !ok {
		g.log(user, ActionError, resourceKey(resourceType, resourceName), "",
			"request against unpolicied resource", origin)
		return nil, fmt.Errorf("%w: %s/%s", ErrNoPolicy, resourceType, resourceName)
	}

	req := &Request{
		ID:           uuid.NewString(),
		User:         user,
		ResourceType: resourceType,
		ResourceName: resourceName,
		Permissions:  permissions,
		RequestedTTL: ttl,
		Status:       RequestPending,
		CreatedAt:    time.Now(),
	}
	g.mu.Lock()
	g.requests[req.ID] = req
	g.mu.Unlock()

	g.log(user, ActionRequest, resourceKey(resourceType, resourceName), req.ID, "", origin)
	return req, nil
}

// Approve turns a pending request into a grant. The policy's GrantTTL
// caps the requested TTL when set.
func (g *Gate) Approve(requestID, grantedBy string) (*Grant, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("unknown consent request %s", requestID)
	}
	if req.Status != RequestPending {
		return nil, fmt.Errorf("consent request %s already %s", requestID, req.Status)
	}

	ttl := req.RequestedTTL
	if p, ok := g.policies[resourceKey(req.ResourceType, req.ResourceName)]; ok && p.GrantTTL > 0 && (ttl == 0 || ttl > p.GrantTTL) {
		ttl = p.GrantTTL
	}
	if ttl == 0 {
		ttl = time.Hour
	}

	req.Status = RequestGranted
	grant := &Grant{
		ID:           uuid.NewString(),
		RequestID:    req.ID,
		User:         req.User,
		ResourceType: req.ResourceType,
		ResourceName: req.ResourceName,
		GrantedBy:    grantedBy,
		Permissions:  req.Permissions,
		ExpiresAt:    time.Now().Add(ttl),
	}
	g.grants[grantKey(req.User, req.ResourceType, req.ResourceName)] = grant

	g.logLocked(grantedBy, ActionGrant, resourceKey(req.ResourceType, req.ResourceName),
		req.ID, "granted to "+req.User, session.Origin{})
	return grant, nil
}

// Deny rejects a pending request.
func (g *Gate) Deny(requestID, deniedBy, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	req, ok := g.requests[requestID]
	if !ok {
		return fmt.Errorf("unknown consent request %s", requestID)
	}
	if req.Status != RequestPending {
		return fmt.Errorf("consent request %s already %s", requestID, req.Status)
	}
	req.Status = RequestDenied
	g.logLocked(deniedBy, ActionDeny, resourceKey(req.ResourceType, req.ResourceName),
		req.ID, reason, session.Origin{})
	return nil
}

// Revoke invalidates an existing grant immediately.
func (g *Gate) Revoke(user, resourceType, resourceName, revokedBy string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	grant, ok := g.grants[grantKey(user, resourceType, resourceName)]
	if !ok || grant.RevokedAt != nil {
		return fmt.Errorf("no active grant for %s on %s/%s", user, resourceType, resourceName)
	}
	now := time.Now()
	grant.RevokedAt = &now
	if req, ok := g.requests[grant.RequestID]; ok {
		req.Status = RequestRevoked
	}
	g.logLocked(revokedBy, ActionRevoke, resourceKey(resourceType, resourceName),
		grant.RequestID, "revoked grant for "+user, session.Origin{})
	return nil
}

// Check authorizes one access. Counters are consumed even on denial so
// hammering a denied resource still burns budget.
func (g *Gate) Check(ctx context.Context, user, resourceType, resourceName string, permissions []string, origin session.Origin) (*Decision, error) {
	resource := resourceKey(resourceType, resourceName)

	policy, ok := g.PolicyFor(resourceType, resourceName)
	if !ok {
		g.log(user, ActionDeny, resource, "", "no policy", origin)
		metrics.ConsentDecisions.WithLabelValues("no_policy").Inc()
		return &Decision{Allowed: false, Reason: "no policy for resource"},
			fmt.Errorf("%w: %s", ErrNoPolicy, resource)
	}

	if missing := missingPermissions(policy.RequiredPermissions, permissions); len(missing) > 0 {
		reason := fmt.Sprintf("missing permissions: %v", missing)
		g.log(user, ActionDeny, resource, "", reason, origin)
		metrics.ConsentDecisions.WithLabelValues("denied").Inc()
		return &Decision{Allowed: false, Reason: reason},
			fmt.Errorf("%w: %s", ErrConsentDenied, reason)
	}

	if !policy.AutoApprove {
		g.mu.Lock()
		grant, ok := g.grants[grantKey(user, resourceType, resourceName)]
		if !ok || !grant.Valid(time.Now()) {
			g.mu.Unlock()
			reason := "no valid grant"
			if ok && grant.RevokedAt != nil {
				reason = "grant revoked"
			} else if ok {
				reason = "grant expired"
			}
			g.log(user, ActionDeny, resource, "", reason, origin)
			metrics.ConsentDecisions.WithLabelValues("denied").Inc()
			return &Decision{Allowed: false, Reason: reason},
				fmt.Errorf("%w: %s", ErrConsentDenied, reason)
		}
		grant.UsageCount++
		g.mu.Unlock()
	}

	if policy.MaxUsagePerHour > 0 {
		counts, err := g.usage.Increment(ctx, grantKey(user, resourceType, resourceName), 0)
		if err != nil {
			// usage store failure fails open, same stance as the limiter
			slog.Warn("consent usage store failed, allowing access",
				"user", user, "resource", resource, "error", err)
		} else if counts.Hour > policy.MaxUsagePerHour {
			reason := fmt.Sprintf("hourly usage cap exceeded (%d > %d)",
				counts.Hour, policy.MaxUsagePerHour)
			g.log(user, ActionDeny, resource, "", reason, origin)
			metrics.ConsentDecisions.WithLabelValues("denied").Inc()
			return &Decision{Allowed: false, Reason: reason},
				fmt.Errorf("%w: %s", ErrConsentDenied, reason)
		}
	}

	g.log(user, ActionAccess, resource, "", "", origin)
	metrics.ConsentDecisions.WithLabelValues("allowed").Inc()
	return &Decision{Allowed: true}, nil
}

// Audit returns a copy of the recent audit trail, newest last.
func (g *Gate) Audit() []AuditEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]AuditEntry, len(g.audit))
	copy(out, g.audit)
	return out
}

func missingPermissions(required, held []string) []string {
	set := make(map[string]struct{}, len(held))
	for _, p := range held {
		set[p] = struct{}{}
	}
	var missing []string
	for _, p := range required {
		if _, ok := set[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

func (g *Gate) log(who string, action Action, resource, requestID, details string, origin session.Origin) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.logLocked(who, action, resource, requestID, details, origin)
}

func (g *Gate) logLocked(who string, action Action, resource, requestID, details string, origin session.Origin) {
	entry := AuditEntry{
		Who:       who,
		Action:    action,
		Resource:  resource,
		RequestID: requestID,
		At:        time.Now(),
		Details:   details,
		Origin:    origin,
	}
	if len(g.audit) >= auditCap {
		g.audit = g.audit[len(g.audit)-auditCap+1:]
	}
	g.audit = append(g.audit, entry)
	slog.Debug("consent audit", "who", who, "action", action, "resource", resource,
		"details", details)
}
