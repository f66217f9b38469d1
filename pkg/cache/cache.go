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

// Package cache memoizes LLM responses. Two tiers: a shared Redis store
// when configured and an in-process map that also serves as fallback.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/workforcelabs/foreman/pkg/config"
	"github.com/workforcelabs/foreman/pkg/llms"
	"github.com/workforcelabs/foreman/pkg/metrics"
)

const keyPrefix = "foreman:cache:"

// Key fingerprints a generation request. The full SHA-256 digest is
// computed and truncated to 16 hex characters.
func Key(prompt, modelID string, temperature float64, maxTokens int) string {
	h := sha256.New()
	h.Write([]byte(prompt))
	h.Write([]byte{0})
	h.Write([]byte(modelID))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatFloat(temperature, 'f', -1, 64)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(maxTokens)))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

type localEntry struct {
	response  *llms.Response
	expiresAt time.Time
	storedAt  time.Time
}

// Cache is the two-tier response memo.
type Cache struct {
	ttl        time.Duration
	maxEntries int

	mu    sync.Mutex
	local map[string]localEntry

	rdb     *redis.Client
	breaker *gobreaker.CircuitBreaker
}

// New builds a cache. redisURL empty means local-only.
func New(redisURL string, cfg config.CacheConfig) (*Cache, error) {
	c := &Cache{
		ttl:        cfg.TTL,
		maxEntries: cfg.MaxLocalEntries,
		local:      make(map[string]localEntry),
	}
	if c.ttl <= 0 {
		c.ttl = time.Hour
	}
	if c.maxEntries <= 0 {
		c.maxEntries = 1000
	}
	if redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, err
		}
		c.rdb = redis.NewClient(opts)
		c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cache-redis",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return c, nil
}

// Get returns the cached response if present and unexpired.
func (c *Cache) Get(ctx context.Context, key string) (*llms.Response, bool) {
	if resp, ok := c.getLocal(key); ok {
		metrics.CacheHits.Inc()
		return resp, true
	}
	if c.rdb != nil {
		if resp, ok := c.getRemote(ctx, key); ok {
			// Promote to the local tier for the remaining TTL.
			c.setLocal(key, resp)
			metrics.CacheHits.Inc()
			return resp, true
		}
	}
	metrics.CacheMisses.Inc()
	return nil, false
}

// Set writes both tiers with the configured TTL. Remote failures are
// logged, never surfaced.
func (c *Cache) Set(ctx context.Context, key string, resp *llms.Response) {
	c.setLocal(key, resp)
	if c.rdb == nil {
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		slog.Warn("cache marshal failed", "error", err)
		return
	}
	_, err = c.breaker.Execute(func() (any, error) {
		return nil, c.rdb.Set(ctx, keyPrefix+key, payload, c.ttl).Err()
	})
	if err != nil {
		slog.Warn("cache remote set failed", "key", key, "error", err)
	}
}

// Len returns the local tier entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.local)
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}

func (c *Cache) getLocal(key string) (*llms.Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.local[key]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expiresAt) {
		delete(c.local, key)
		metrics.CacheLocalEntries.Set(float64(len(c.local)))
		return nil, false
	}
	return e.response, true
}

func (c *Cache) setLocal(key string, resp *llms.Response) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	c.local[key] = localEntry{response: resp, expiresAt: now.Add(c.ttl), storedAt: now}
	if len(c.local) > c.maxEntries {
		c.evictOldestLocked()
	}
	metrics.CacheLocalEntries.Set(float64(len(c.local)))
}

// evictOldestLocked drops the oldest 20% of local entries.
func (c *Cache) evictOldestLocked() {
	type aged struct {
		key      string
		storedAt time.Time
	}
	entries := make([]aged, 0, len(c.local))
	for k, e := range c.local {
		entries = append(entries, aged{k, e.storedAt})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].storedAt.Before(entries[j].storedAt)
	})
	n := len(entries) / 5
	if n < 1 {
		n = 1
	}
	for _, e := range entries[:n] {
		delete(c.local, e.key)
	}
}

func (c *Cache) getRemote(ctx context.Context, key string) (*llms.Response, bool) {
	// Misses return nil bytes so the breaker only counts real failures.
	raw, err := c.breaker.Execute(func() (any, error) {
		b, err := c.rdb.Get(ctx, keyPrefix+key).Bytes()
		if err == redis.Nil {
			return []byte(nil), nil
		}
		return b, err
	})
	if err != nil {
		slog.Warn("cache remote get failed", "key", key, "error", err)
		return nil, false
	}
	b := raw.([]byte)
	if len(b) == 0 {
		return nil, false
	}
	var resp llms.Response
	if err := json.Unmarshal(b, &resp); err != nil {
		slog.Warn("cache remote entry corrupt", "key", key, "error", err)
		return nil, false
	}
	return &resp, true
}
