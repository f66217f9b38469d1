package consent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workforcelabs/foreman/pkg/ratelimit"
	"github.com/workforcelabs/foreman/pkg/session"
)

func testGate(t *testing.T) *Gate {
	t.Helper()
	return NewGate(ratelimit.NewMemoryStore())
}

func TestCheckNoPolicy(t *testing.T) {
	g := testGate(t)

	decision, err := g.Check(context.Background(), "alice", "tool", "execute_agent", nil, session.Origin{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoPolicy)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "no policy")
}

func TestCheckAutoApprove(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{ResourceType: "tool", ResourceName: "analyze_system", AutoApprove: true})

	decision, err := g.Check(context.Background(), "alice", "tool", "analyze_system", nil, session.Origin{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestCheckRequiredPermissions(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{
		ResourceType:        "tool",
		ResourceName:        "create_workflow",
		AutoApprove:         true,
		RequiredPermissions: []string{"workflow:write", "agent:read"},
	})
	ctx := context.Background()

	decision, err := g.Check(ctx, "alice", "tool", "create_workflow",
		[]string{"workflow:write"}, session.Origin{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConsentDenied)
	assert.Contains(t, decision.Reason, "agent:read")

	decision, err = g.Check(ctx, "alice", "tool", "create_workflow",
		[]string{"workflow:write", "agent:read"}, session.Origin{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGrantLifecycle(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{ResourceType: "tool", ResourceName: "execute_agent"})
	ctx := context.Background()

	// no grant yet
	decision, err := g.Check(ctx, "alice", "tool", "execute_agent", nil, session.Origin{})
	require.ErrorIs(t, err, ErrConsentDenied)
	assert.Contains(t, decision.Reason, "no valid grant")

	req, err := g.RequestAccess("alice", "tool", "execute_agent", nil, time.Hour, session.Origin{IP: "10.0.0.1"})
	require.NoError(t, err)
	assert.Equal(t, RequestPending, req.Status)

	grant, err := g.Approve(req.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, "alice", grant.User)
	assert.True(t, grant.Valid(time.Now()))

	decision, err = g.Check(ctx, "alice", "tool", "execute_agent", nil, session.Origin{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	// grants are per user
	_, err = g.Check(ctx, "bob", "tool", "execute_agent", nil, session.Origin{})
	assert.ErrorIs(t, err, ErrConsentDenied)

	require.NoError(t, g.Revoke("alice", "tool", "execute_agent", "admin"))
	decision, err = g.Check(ctx, "alice", "tool", "execute_agent", nil, session.Origin{})
	require.ErrorIs(t, err, ErrConsentDenied)
	assert.Contains(t, decision.Reason, "revoked")
}

func TestApproveRespectsPolicyTTL(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{
		ResourceType: "tool",
		ResourceName: "execute_agent",
		GrantTTL:     time.Minute,
	})

	req, err := g.RequestAccess("alice", "tool", "execute_agent", nil, 24*time.Hour, session.Origin{})
	require.NoError(t, err)

	grant, err := g.Approve(req.ID, "admin")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Minute), grant.ExpiresAt, 5*time.Second)
}

func TestApproveRejectsNonPending(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{ResourceType: "tool", ResourceName: "execute_agent"})

	req, err := g.RequestAccess("alice", "tool", "execute_agent", nil, time.Hour, session.Origin{})
	require.NoError(t, err)
	require.NoError(t, g.Deny(req.ID, "admin", "not today"))

	_, err = g.Approve(req.ID, "admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestRequestAccessNoPolicy(t *testing.T) {
	g := testGate(t)
	_, err := g.RequestAccess("alice", "tool", "phantom", nil, time.Hour, session.Origin{})
	assert.ErrorIs(t, err, ErrNoPolicy)
}

func TestHourlyUsageCap(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{
		ResourceType:    "tool",
		ResourceName:    "execute_agent",
		AutoApprove:     true,
		MaxUsagePerHour: 3,
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		decision, err := g.Check(ctx, "alice", "tool", "execute_agent", nil, session.Origin{})
		require.NoError(t, err, "access %d should be allowed", i+1)
		assert.True(t, decision.Allowed)
	}

	decision, err := g.Check(ctx, "alice", "tool", "execute_agent", nil, session.Origin{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConsentDenied))
	assert.Contains(t, decision.Reason, "hourly usage cap")

	// caps are per user
	decision, err = g.Check(ctx, "bob", "tool", "execute_agent", nil, session.Origin{})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestUsageCountIncrements(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{ResourceType: "tool", ResourceName: "execute_agent"})
	ctx := context.Background()

	req, err := g.RequestAccess("alice", "tool", "execute_agent", nil, time.Hour, session.Origin{})
	require.NoError(t, err)
	grant, err := g.Approve(req.ID, "admin")
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := g.Check(ctx, "alice", "tool", "execute_agent", nil, session.Origin{})
		require.NoError(t, err)
	}
	assert.Equal(t, 4, grant.UsageCount)
}

func TestAuditTrail(t *testing.T) {
	g := testGate(t)
	g.SetPolicy(&Policy{ResourceType: "tool", ResourceName: "execute_agent"})
	ctx := context.Background()

	origin := session.Origin{IP: "10.0.0.1", UserAgent: "test"}
	req, err := g.RequestAccess("alice", "tool", "execute_agent", nil, time.Hour, origin)
	require.NoError(t, err)
	_, err = g.Approve(req.ID, "admin")
	require.NoError(t, err)
	_, err = g.Check(ctx, "alice", "tool", "execute_agent", nil, origin)
	require.NoError(t, err)

	trail := g.Audit()
	require.Len(t, trail, 3)
	assert.Equal(t, ActionRequest, trail[0].Action)
	assert.Equal(t, "10.0.0.1", trail[0].Origin.IP)
	assert.Equal(t, ActionGrant, trail[1].Action)
	assert.Equal(t, "admin", trail[1].Who)
	assert.Equal(t, ActionAccess, trail[2].Action)
	assert.Equal(t, "tool/execute_agent", trail[2].Resource)
}
