package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryWindows struct {
	mu sync.Mutex

	minuteStart time.Time
	minuteCount int64

	hourStart time.Time
	hourCount int64
	hourCost  float64

	usageCost   float64
	usageTokens int64
}

// MemoryStore is the in-process fallback store. Each key has its own
// mutex so unrelated providers never contend.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]*memoryWindows

	now func() time.Time
}

// NewMemoryStore builds an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys: make(map[string]*memoryWindows),
		now:  time.Now,
	}
}

func (s *MemoryStore) windows(key string) *memoryWindows {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.keys[key]
	if !ok {
		w = &memoryWindows{}
		s.keys[key] = w
	}
	return w
}

func (s *MemoryStore) Increment(_ context.Context, key string, cost float64) (Counts, error) {
	w := s.windows(key)
	w.mu.Lock()
	defer w.mu.Unlock()

	now := s.now()
	minute := now.Truncate(time.Minute)
	hour := now.Truncate(time.Hour)

	if !w.minuteStart.Equal(minute) {
		w.minuteStart = minute
		w.minuteCount = 0
	}
	if !w.hourStart.Equal(hour) {
		w.hourStart = hour
		w.hourCount = 0
		w.hourCost = 0
	}

	w.minuteCount++
	w.hourCount++
	w.hourCost += cost

	return Counts{Minute: w.minuteCount, Hour: w.hourCount, HourCostUSD: w.hourCost}, nil
}

func (s *MemoryStore) RecordUsage(_ context.Context, key string, cost float64, tokens int) error {
	w := s.windows(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.usageCost += cost
	w.usageTokens += int64(tokens)
	return nil
}

// Usage returns the accumulated observability totals for a key.
func (s *MemoryStore) Usage(key string) (costUSD float64, tokens int64) {
	w := s.windows(key)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.usageCost, w.usageTokens
}
