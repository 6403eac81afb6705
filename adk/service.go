package adk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSessionNotFound is returned by session service operations that reference
// a session the service does not hold.
var ErrSessionNotFound = errors.New("session not found")

// SessionService stores sessions. Implementations must be safe for
// concurrent use.
type SessionService interface {
	// CreateSession creates a session with the given initial state. The
	// service assigns the session id.
	CreateSession(ctx context.Context, appName, userID string, state map[string]any) (*Session, error)

	// GetSession returns a snapshot of the session, or ErrSessionNotFound.
	GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error)

	// ListSessions returns snapshots of all sessions under (appName, userID).
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)

	// DeleteSession removes a session. Deleting a missing session is not an
	// error.
	DeleteSession(ctx context.Context, appName, userID, sessionID string) error

	// AppendEvent appends an event to the session log, applies its state
	// delta (nil values remove keys), and bumps LastUpdateTime.
	AppendEvent(ctx context.Context, session *Session, event *Event) error
}

// InMemorySessionService is a SessionService backed by process memory.
// Sessions do not survive restarts; use a durable service in production.
type InMemorySessionService struct {
	mu       sync.RWMutex
	sessions map[string]*Session // "appName:userID:sessionID"
}

// NewInMemorySessionService creates an empty in-memory session service.
func NewInMemorySessionService() *InMemorySessionService {
	return &InMemorySessionService{
		sessions: make(map[string]*Session),
	}
}

func sessionKey(appName, userID, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", appName, userID, sessionID)
}

// CreateSession creates a session with a generated id.
func (s *InMemorySessionService) CreateSession(_ context.Context, appName, userID string, state map[string]any) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stateCopy := make(map[string]any, len(state))
	for k, v := range state {
		stateCopy[k] = v
	}

	session := &Session{
		ID:             uuid.NewString(),
		AppName:        appName,
		UserID:         userID,
		State:          stateCopy,
		LastUpdateTime: time.Now(),
	}
	s.sessions[sessionKey(appName, userID, session.ID)] = session
	return snapshotSession(session), nil
}

// GetSession returns a snapshot of the stored session.
func (s *InMemorySessionService) GetSession(_ context.Context, appName, userID, sessionID string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[sessionKey(appName, userID, sessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return snapshotSession(session), nil
}

// ListSessions returns snapshots of all sessions for the app and user.
func (s *InMemorySessionService) ListSessions(_ context.Context, appName, userID string) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var sessions []*Session
	for _, session := range s.sessions {
		if session.AppName == appName && session.UserID == userID {
			sessions = append(sessions, snapshotSession(session))
		}
	}
	return sessions, nil
}

// DeleteSession removes the session if present.
func (s *InMemorySessionService) DeleteSession(_ context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionKey(appName, userID, sessionID))
	return nil
}

// AppendEvent appends the event to the stored session and applies its state
// delta. The caller's session snapshot is also updated so subsequent reads
// through it observe the change.
func (s *InMemorySessionService) AppendEvent(_ context.Context, session *Session, event *Event) error {
	if session == nil {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[sessionKey(session.AppName, session.UserID, session.ID)]
	if !ok {
		return ErrSessionNotFound
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	applyStateDelta(stored.State, event.Actions.StateDelta)
	stored.Events = append(stored.Events, event)
	stored.LastUpdateTime = time.Now()

	applyStateDelta(session.State, event.Actions.StateDelta)
	session.Events = append(session.Events, event)
	session.LastUpdateTime = stored.LastUpdateTime
	return nil
}

func applyStateDelta(state map[string]any, delta map[string]any) {
	for k, v := range delta {
		if v == nil {
			delete(state, k)
			continue
		}
		state[k] = v
	}
}

func snapshotSession(session *Session) *Session {
	stateCopy := make(map[string]any, len(session.State))
	for k, v := range session.State {
		stateCopy[k] = v
	}
	eventsCopy := make([]*Event, len(session.Events))
	copy(eventsCopy, session.Events)

	return &Session{
		ID:             session.ID,
		AppName:        session.AppName,
		UserID:         session.UserID,
		State:          stateCopy,
		Events:         eventsCopy,
		LastUpdateTime: session.LastUpdateTime,
	}
}
