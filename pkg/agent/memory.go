package agent

import (
	"fmt"
	"sync"
	"time"
)

const (
	// shortTermThreshold triggers compression of older interactions.
	shortTermThreshold = 8

	// keepVerbatim interactions survive each compression untouched.
	keepVerbatim = 5
)

// Interaction is one task round recorded into memory.
type Interaction struct {
	TaskName string
	Prompt   string
	Response string
	At       time.Time
}

// Memory is one agent's contextual store: a short-term interaction
// window, a long-term key/value map and a summary map holding
// compressed history.
type Memory struct {
	mu        sync.Mutex
	shortTerm []Interaction
	longTerm  map[string]any
	summary   map[string]string
}

// NewMemory builds an empty memory.
func NewMemory() *Memory {
	return &Memory{
		longTerm: map[string]any{},
		summary:  map[string]string{},
	}
}

// Append records an interaction, compressing older entries once the
// short-term window exceeds its threshold. The most recent entries are
// always preserved verbatim.
func (m *Memory) Append(in Interaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if in.At.IsZero() {
		in.At = time.Now()
	}
	m.shortTerm = append(m.shortTerm, in)
	if len(m.shortTerm) <= shortTermThreshold {
		return
	}

	cut := len(m.shortTerm) - keepVerbatim
	for _, old := range m.shortTerm[:cut] {
		key := old.At.Format(time.RFC3339)
		m.summary[key] = fmt.Sprintf("%s: %s", old.TaskName, truncate(old.Response, 200))
	}
	m.shortTerm = append([]Interaction(nil), m.shortTerm[cut:]...)
}

// Recent returns a copy of the short-term window.
func (m *Memory) Recent() []Interaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Interaction, len(m.shortTerm))
	copy(out, m.shortTerm)
	return out
}

// Remember stores a long-term fact.
func (m *Memory) Remember(key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.longTerm[key] = value
}

// Recall fetches a long-term fact.
func (m *Memory) Recall(key string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.longTerm[key]
	return v, ok
}

// Summaries returns a copy of the compressed history.
func (m *Memory) Summaries() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(m.summary))
	for k, v := range m.summary {
		out[k] = v
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
