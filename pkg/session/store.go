package session

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned for unknown session, negotiation or task ids.
var ErrNotFound = errors.New("not found")

// Store is the durable backing for session state. Implementations must
// be safe for concurrent use.
type Store interface {
	SaveMCP(ctx context.Context, s *MCPSession) error
	GetMCP(ctx context.Context, id string) (*MCPSession, error)
	ListMCP(ctx context.Context) ([]*MCPSession, error)

	SaveA2A(ctx context.Context, s *A2ASession) error
	GetA2A(ctx context.Context, id string) (*A2ASession, error)
	ListA2A(ctx context.Context) ([]*A2ASession, error)

	SaveNegotiation(ctx context.Context, n *Negotiation) error
	GetNegotiation(ctx context.Context, id string) (*Negotiation, error)

	SaveTask(ctx context.Context, t *TaskExecution) error
	GetTask(ctx context.Context, id string) (*TaskExecution, error)
	ListTasksBySession(ctx context.Context, sessionID string) ([]*TaskExecution, error)
	ListTasks(ctx context.Context) ([]*TaskExecution, error)
}

// MemoryStore is the in-process fallback store.
type MemoryStore struct {
	mu           sync.RWMutex
	mcp          map[string]*MCPSession
	a2a          map[string]*A2ASession
	negotiations map[string]*Negotiation
	tasks        map[string]*TaskExecution
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mcp:          map[string]*MCPSession{},
		a2a:          map[string]*A2ASession{},
		negotiations: map[string]*Negotiation{},
		tasks:        map[string]*TaskExecution{},
	}
}

func (m *MemoryStore) SaveMCP(_ context.Context, s *MCPSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.mcp[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetMCP(_ context.Context, id string) (*MCPSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.mcp[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListMCP(_ context.Context) ([]*MCPSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MCPSession, 0, len(m.mcp))
	for _, s := range m.mcp {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveA2A(_ context.Context, s *A2ASession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.a2a[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetA2A(_ context.Context, id string) (*A2ASession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.a2a[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ListA2A(_ context.Context) ([]*A2ASession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*A2ASession, 0, len(m.a2a))
	for _, s := range m.a2a {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) SaveNegotiation(_ context.Context, n *Negotiation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *n
	m.negotiations[n.ID] = &cp
	return nil
}

func (m *MemoryStore) GetNegotiation(_ context.Context, id string) (*Negotiation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, ok := m.negotiations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *n
	return &cp, nil
}

func (m *MemoryStore) SaveTask(_ context.Context, t *TaskExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.tasks[t.TaskID] = &cp
	return nil
}

func (m *MemoryStore) GetTask(_ context.Context, id string) (*TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) ListTasksBySession(_ context.Context, sessionID string) ([]*TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*TaskExecution
	for _, t := range m.tasks {
		if t.SessionID == sessionID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *MemoryStore) ListTasks(_ context.Context) ([]*TaskExecution, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*TaskExecution, 0, len(m.tasks))
	for _, t := range m.tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}
