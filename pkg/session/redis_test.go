package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	return NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
}

func TestRedisStoreMCPRoundTrip(t *testing.T) {
	store := testRedisStore(t)
	ctx := context.Background()

	sess := &MCPSession{
		ID:         "mcp-1",
		ClientInfo: ClientInfo{Name: "client", Version: "0.1"},
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
		Active:     true,
	}
	require.NoError(t, store.SaveMCP(ctx, sess))

	got, err := store.GetMCP(ctx, "mcp-1")
	require.NoError(t, err)
	assert.Equal(t, "client", got.ClientInfo.Name)
	assert.True(t, got.Active)

	all, err := store.ListMCP(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = store.GetMCP(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreTasks(t *testing.T) {
	store := testRedisStore(t)
	ctx := context.Background()

	for _, id := range []string{"t1", "t2"} {
		require.NoError(t, store.SaveTask(ctx, &TaskExecution{
			TaskID:    id,
			SessionID: "s1",
			Type:      "execute_agent",
			Status:    TaskPending,
			CreatedAt: time.Now(),
		}))
	}
	require.NoError(t, store.SaveTask(ctx, &TaskExecution{
		TaskID:    "t3",
		SessionID: "s2",
		Status:    TaskRunning,
	}))

	bySession, err := store.ListTasksBySession(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, bySession, 2)

	all, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestRedisStoreNegotiation(t *testing.T) {
	store := testRedisStore(t)
	ctx := context.Background()

	n := &Negotiation{
		ID:              "n1",
		SessionID:       "s1",
		RequestedSkills: []string{"research"},
		Status:          NegotiationAccepted,
		CreatedAt:       time.Now(),
	}
	require.NoError(t, store.SaveNegotiation(ctx, n))

	got, err := store.GetNegotiation(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, NegotiationAccepted, got.Status)
	assert.Equal(t, []string{"research"}, got.RequestedSkills)
}

func TestRedisStoreDropsVanishedIndexEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	sess := &A2ASession{ID: "a1", PeerAgentID: "peer", ExpiresAt: time.Now().Add(time.Minute), Active: true}
	require.NoError(t, store.SaveA2A(ctx, sess))

	// value evicted but index entry left behind
	mr.Del(redisPrefix + "a2a:a1")

	all, err := store.ListA2A(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}
