package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/llms"
)

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("prompt", "openai/gpt-4o", 0.7, 256)
	k2 := Key("prompt", "openai/gpt-4o", 0.7, 256)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 16)
}

func TestKeyVariesPerField(t *testing.T) {
	base := Key("prompt", "openai/gpt-4o", 0.7, 256)
	assert.NotEqual(t, base, Key("other", "openai/gpt-4o", 0.7, 256))
	assert.NotEqual(t, base, Key("prompt", "openai/gpt-4o-mini", 0.7, 256))
	assert.NotEqual(t, base, Key("prompt", "openai/gpt-4o", 0.0, 256))
	assert.NotEqual(t, base, Key("prompt", "openai/gpt-4o", 0.7, 512))
}

func TestLocalGetSet(t *testing.T) {
	c, err := New("", config.CacheConfig{TTL: time.Hour, MaxLocalEntries: 10})
	require.NoError(t, err)

	key := Key("p", "openai/gpt-4o", 0, 256)
	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)

	c.Set(context.Background(), key, &llms.Response{Content: "cached"})
	got, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "cached", got.Content)
}

func TestLocalExpiry(t *testing.T) {
	c, err := New("", config.CacheConfig{TTL: 10 * time.Millisecond, MaxLocalEntries: 10})
	require.NoError(t, err)

	key := Key("p", "m/x", 0, 1)
	c.Set(context.Background(), key, &llms.Response{Content: "v"})
	time.Sleep(25 * time.Millisecond)

	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestLocalEviction(t *testing.T) {
	c, err := New("", config.CacheConfig{TTL: time.Hour, MaxLocalEntries: 10})
	require.NoError(t, err)

	for i := 0; i < 11; i++ {
		c.Set(context.Background(), Key(fmt.Sprintf("p%d", i), "m/x", 0, 1), &llms.Response{})
		time.Sleep(time.Millisecond)
	}
	// Over the cap the oldest 20% (2 of 11) are evicted.
	assert.Equal(t, 9, c.Len())

	_, ok := c.Get(context.Background(), Key("p0", "m/x", 0, 1))
	assert.False(t, ok)
	_, ok = c.Get(context.Background(), Key("p10", "m/x", 0, 1))
	assert.True(t, ok)
}

func TestRemoteTier(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New("redis://"+mr.Addr(), config.CacheConfig{TTL: time.Hour, MaxLocalEntries: 10})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	key := Key("p", "openai/gpt-4o", 0, 256)
	c.Set(context.Background(), key, &llms.Response{Content: "shared", CostUSD: 0.01})

	// Drop the local tier; the remote copy must still serve.
	c.mu.Lock()
	c.local = map[string]localEntry{}
	c.mu.Unlock()

	got, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "shared", got.Content)
	assert.Equal(t, 0.01, got.CostUSD)
}

func TestRemoteTTL(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New("redis://"+mr.Addr(), config.CacheConfig{TTL: time.Minute, MaxLocalEntries: 10})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	key := Key("p", "m/x", 0, 1)
	c.Set(context.Background(), key, &llms.Response{Content: "v"})
	c.mu.Lock()
	c.local = map[string]localEntry{}
	c.mu.Unlock()

	mr.FastForward(2 * time.Minute)
	_, ok := c.Get(context.Background(), key)
	assert.False(t, ok)
}

func TestRemoteDownFallsBackToLocal(t *testing.T) {
	mr := miniredis.RunT(t)
	c, err := New("redis://"+mr.Addr(), config.CacheConfig{TTL: time.Hour, MaxLocalEntries: 10})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	key := Key("p", "m/x", 0, 1)
	c.Set(context.Background(), key, &llms.Response{Content: "v"})

	mr.Close()

	got, ok := c.Get(context.Background(), key)
	require.True(t, ok)
	assert.Equal(t, "v", got.Content)
}
