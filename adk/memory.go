package adk

import (
	"context"
	"sync"
)

// MemoryService receives sessions for long-term retention before they are
// evicted or cleaned up.
type MemoryService interface {
	AddSessionToMemory(ctx context.Context, session *Session) error
}

// InMemoryMemoryService stores forwarded sessions in a map. Useful for tests
// and single-process deployments.
type InMemoryMemoryService struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewInMemoryMemoryService creates an empty in-memory memory service.
func NewInMemoryMemoryService() *InMemoryMemoryService {
	return &InMemoryMemoryService{sessions: make(map[string]*Session)}
}

// AddSessionToMemory stores the session, replacing any earlier copy.
func (m *InMemoryMemoryService) AddSessionToMemory(_ context.Context, session *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionKey(session.AppName, session.UserID, session.ID)] = session
	return nil
}

// Len returns the number of retained sessions.
func (m *InMemoryMemoryService) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
