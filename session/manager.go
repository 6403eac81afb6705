// Package session wraps the runtime session service with the bookkeeping the
// bridge needs: thread id recovery, per-user session limits, processed
// message tracking, and timed cleanup of idle sessions.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spetersoncode/adkbridge/adk"
)

// Manager adds production features on top of an adk.SessionService. Each
// Manager is an independent instance; construct one per bridge and share it
// nowhere else. All methods are safe for concurrent use.
type Manager struct {
	svc    adk.SessionService
	memory adk.MemoryService
	logger *slog.Logger

	timeout         time.Duration
	cleanupInterval time.Duration
	maxPerUser      int
	autoCleanup     bool

	mu             sync.Mutex
	sessionKeys    map[string]struct{}            // "app:sessionID"
	sessionUsers   map[string]string              // session key -> user id
	sessionThreads map[string]string              // session key -> "app:threadID"
	userSessions   map[string]map[string]struct{} // user id -> session keys
	processedIDs   map[string]map[string]struct{} // "app:threadID" -> message ids

	cleanupStop chan struct{}
	cleanupDone chan struct{}
}

// Option configures a Manager.
type Option func(*Manager)

// WithMemoryService forwards sessions to memory before they are deleted.
func WithMemoryService(memory adk.MemoryService) Option {
	return func(m *Manager) { m.memory = memory }
}

// WithSessionTimeout sets the idle age after which a session is eligible for
// cleanup. Default 20 minutes.
func WithSessionTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithCleanupInterval sets the sweep period. Default 5 minutes.
func WithCleanupInterval(d time.Duration) Option {
	return func(m *Manager) { m.cleanupInterval = d }
}

// WithMaxSessionsPerUser caps concurrent sessions per user; the oldest is
// evicted when the cap is hit. Zero means unlimited.
func WithMaxSessionsPerUser(n int) Option {
	return func(m *Manager) { m.maxPerUser = n }
}

// WithAutoCleanup enables or disables the background sweep. Default enabled.
func WithAutoCleanup(enabled bool) Option {
	return func(m *Manager) { m.autoCleanup = enabled }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a session manager around the given service. A nil
// service gets an in-memory one.
func NewManager(svc adk.SessionService, opts ...Option) *Manager {
	if svc == nil {
		svc = adk.NewInMemorySessionService()
	}
	m := &Manager{
		svc:             svc,
		logger:          slog.Default(),
		timeout:         20 * time.Minute,
		cleanupInterval: 5 * time.Minute,
		autoCleanup:     true,
		sessionKeys:     make(map[string]struct{}),
		sessionUsers:    make(map[string]string),
		sessionThreads:  make(map[string]string),
		userSessions:    make(map[string]map[string]struct{}),
		processedIDs:    make(map[string]map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetOrCreateSession finds the session carrying threadID in its state, or
// creates a fresh one with the AG-UI metadata keys seeded. The returned
// session id is backend-assigned and may differ from the thread id.
func (m *Manager) GetOrCreateSession(ctx context.Context, threadID, appName, userID string, initialState map[string]any) (*adk.Session, error) {
	if m.maxPerUser > 0 && m.UserSessionCount(userID) >= m.maxPerUser {
		m.removeOldestUserSession(ctx, userID)
	}

	if sess := m.findSessionByThreadID(ctx, appName, userID, threadID); sess != nil {
		m.trackSession(sessionKey(appName, sess.ID), sessionKey(appName, threadID), userID)
		m.ensureCleanup()
		return sess, nil
	}

	state := make(map[string]any, len(initialState)+3)
	for k, v := range initialState {
		state[k] = v
	}
	state[adk.ThreadIDStateKey] = threadID
	state[adk.AppNameStateKey] = appName
	state[adk.UserIDStateKey] = userID

	sess, err := m.svc.CreateSession(ctx, appName, userID, state)
	if err != nil {
		return nil, fmt.Errorf("create session for thread %s: %w", threadID, err)
	}
	m.trackSession(sessionKey(appName, sess.ID), sessionKey(appName, threadID), userID)
	m.logger.Info("created session", "thread_id", threadID, "session_id", sess.ID)
	m.ensureCleanup()
	return sess, nil
}

func (m *Manager) findSessionByThreadID(ctx context.Context, appName, userID, threadID string) *adk.Session {
	sessions, err := m.svc.ListSessions(ctx, appName, userID)
	if err != nil {
		m.logger.Error("listing sessions for thread lookup", "thread_id", threadID, "error", err)
		return nil
	}
	for _, sess := range sessions {
		if sess.ThreadID() == threadID {
			return sess
		}
	}
	return nil
}

// GetSession fetches a session by backend id. Store errors are logged and
// surfaced as a nil session.
func (m *Manager) GetSession(ctx context.Context, sessionID, appName, userID string) *adk.Session {
	sess, err := m.svc.GetSession(ctx, appName, userID, sessionID)
	if err != nil {
		if !errors.Is(err, adk.ErrSessionNotFound) {
			m.logger.Error("getting session", "session_id", sessionID, "error", err)
		}
		return nil
	}
	return sess
}

// UpdateSessionState applies updates through a user-authored state-delta
// event. A nil value in updates removes the key.
func (m *Manager) UpdateSessionState(ctx context.Context, sessionID, appName, userID string, updates map[string]any) bool {
	if len(updates) == 0 {
		return false
	}
	sess := m.GetSession(ctx, sessionID, appName, userID)
	if sess == nil {
		m.logger.Debug("session not found for state update", "session_id", sessionID)
		return false
	}
	ev := &adk.Event{
		InvocationID: fmt.Sprintf("state_update_%d", time.Now().UnixNano()),
		Author:       "user",
		Actions:      adk.EventActions{StateDelta: updates},
		Timestamp:    time.Now(),
	}
	if err := m.svc.AppendEvent(ctx, sess, ev); err != nil {
		m.logger.Error("applying state update", "session_id", sessionID, "error", err)
		return false
	}
	return true
}

// GetSessionState returns the session state map, or nil when missing.
func (m *Manager) GetSessionState(ctx context.Context, sessionID, appName, userID string) map[string]any {
	sess := m.GetSession(ctx, sessionID, appName, userID)
	if sess == nil {
		return nil
	}
	return sess.State
}

// GetStateValue reads one state key, returning def when absent.
func (m *Manager) GetStateValue(ctx context.Context, sessionID, appName, userID, key string, def any) any {
	state := m.GetSessionState(ctx, sessionID, appName, userID)
	if state == nil {
		return def
	}
	if v, ok := state[key]; ok {
		return v
	}
	return def
}

// SetStateValue writes one state key.
func (m *Manager) SetStateValue(ctx context.Context, sessionID, appName, userID, key string, value any) bool {
	return m.UpdateSessionState(ctx, sessionID, appName, userID, map[string]any{key: value})
}

// RemoveStateKeys deletes the given keys from session state.
func (m *Manager) RemoveStateKeys(ctx context.Context, sessionID, appName, userID string, keys ...string) bool {
	state := m.GetSessionState(ctx, sessionID, appName, userID)
	if state == nil {
		return false
	}
	delta := make(map[string]any)
	for _, key := range keys {
		if _, ok := state[key]; ok {
			delta[key] = nil
		}
	}
	if len(delta) == 0 {
		return true
	}
	return m.UpdateSessionState(ctx, sessionID, appName, userID, delta)
}

// ClearSessionState removes every state key not covered by one of the
// preserved prefixes.
func (m *Manager) ClearSessionState(ctx context.Context, sessionID, appName, userID string, preservePrefixes ...string) bool {
	state := m.GetSessionState(ctx, sessionID, appName, userID)
	if state == nil {
		return false
	}
	var remove []string
	for key := range state {
		preserved := false
		for _, prefix := range preservePrefixes {
			if strings.HasPrefix(key, prefix) {
				preserved = true
				break
			}
		}
		if !preserved {
			remove = append(remove, key)
		}
	}
	if len(remove) == 0 {
		return true
	}
	return m.RemoveStateKeys(ctx, sessionID, appName, userID, remove...)
}

// InitializeSessionState seeds default values. Unless overwrite is set, keys
// already present keep their current values.
func (m *Manager) InitializeSessionState(ctx context.Context, sessionID, appName, userID string, initial map[string]any, overwrite bool) bool {
	if !overwrite {
		if current := m.GetSessionState(ctx, sessionID, appName, userID); current != nil {
			filtered := make(map[string]any)
			for k, v := range initial {
				if _, exists := current[k]; !exists {
					filtered[k] = v
				}
			}
			if len(filtered) == 0 {
				return true
			}
			initial = filtered
		}
	}
	return m.UpdateSessionState(ctx, sessionID, appName, userID, initial)
}

// BulkUpdateUserState applies updates to every tracked session of a user,
// optionally filtered to one app. Returns per-session-key success.
func (m *Manager) BulkUpdateUserState(ctx context.Context, userID string, updates map[string]any, appNameFilter string) map[string]bool {
	results := make(map[string]bool)
	m.mu.Lock()
	keys := make([]string, 0, len(m.userSessions[userID]))
	for key := range m.userSessions[userID] {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	for _, key := range keys {
		appName, sessionID, ok := splitSessionKey(key)
		if !ok {
			continue
		}
		if appNameFilter != "" && appName != appNameFilter {
			continue
		}
		results[key] = m.UpdateSessionState(ctx, sessionID, appName, userID, updates)
	}
	return results
}

// MarkMessagesProcessed records message ids so replays skip them. The set is
// keyed by thread id. Empty ids are ignored.
func (m *Manager) MarkMessagesProcessed(appName, threadID string, messageIDs []string) {
	key := sessionKey(appName, threadID)
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.processedIDs[key]
	if !ok {
		set = make(map[string]struct{})
		m.processedIDs[key] = set
	}
	for _, id := range messageIDs {
		if id != "" {
			set[id] = struct{}{}
		}
	}
}

// ProcessedMessageIDs returns a copy of the processed set for a thread.
func (m *Manager) ProcessedMessageIDs(appName, threadID string) map[string]struct{} {
	key := sessionKey(appName, threadID)
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{}, len(m.processedIDs[key]))
	for id := range m.processedIDs[key] {
		out[id] = struct{}{}
	}
	return out
}

// SessionCount returns the number of tracked sessions.
func (m *Manager) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessionKeys)
}

// UserSessionCount returns the number of tracked sessions for a user.
func (m *Manager) UserSessionCount(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.userSessions[userID])
}

// StopCleanup stops the background sweep, waiting for the current cycle.
func (m *Manager) StopCleanup() {
	m.mu.Lock()
	stop := m.cleanupStop
	done := m.cleanupDone
	m.cleanupStop = nil
	m.cleanupDone = nil
	m.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (m *Manager) ensureCleanup() {
	if !m.autoCleanup {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cleanupStop != nil {
		return
	}
	m.cleanupStop = make(chan struct{})
	m.cleanupDone = make(chan struct{})
	go m.cleanupLoop(m.cleanupStop, m.cleanupDone)
}

func (m *Manager) cleanupLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.CleanupExpiredSessions(context.Background())
		}
	}
}

// CleanupExpiredSessions deletes idle sessions past the timeout. Sessions
// with pending tool calls are preserved so human-in-the-loop flows survive
// long waits. Returns the number of sessions removed.
func (m *Manager) CleanupExpiredSessions(ctx context.Context) int {
	m.mu.Lock()
	type tracked struct{ key, appName, sessionID, userID string }
	all := make([]tracked, 0, len(m.sessionKeys))
	for key := range m.sessionKeys {
		appName, sessionID, ok := splitSessionKey(key)
		if !ok {
			continue
		}
		all = append(all, tracked{key, appName, sessionID, m.sessionUsers[key]})
	}
	m.mu.Unlock()

	now := time.Now()
	expired := 0
	for _, t := range all {
		if t.userID == "" {
			continue
		}
		sess, err := m.svc.GetSession(ctx, t.appName, t.userID, t.sessionID)
		if err != nil {
			if errors.Is(err, adk.ErrSessionNotFound) {
				m.untrackSession(t.key, t.userID)
			} else {
				m.logger.Error("checking session for cleanup", "session_key", t.key, "error", err)
			}
			continue
		}
		if sess == nil {
			m.untrackSession(t.key, t.userID)
			continue
		}
		if now.Sub(sess.LastUpdateTime) <= m.timeout {
			continue
		}
		if pending := sess.PendingToolCalls(); len(pending) > 0 {
			m.logger.Info("preserving expired session with pending tool calls",
				"session_key", t.key, "pending", len(pending))
			continue
		}
		m.deleteSession(ctx, sess)
		expired++
	}
	if expired > 0 {
		m.logger.Info("cleaned up expired sessions", "count", expired)
	}
	return expired
}

func (m *Manager) removeOldestUserSession(ctx context.Context, userID string) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.userSessions[userID]))
	for key := range m.userSessions[userID] {
		keys = append(keys, key)
	}
	m.mu.Unlock()

	var oldest *adk.Session
	for _, key := range keys {
		appName, sessionID, ok := splitSessionKey(key)
		if !ok {
			continue
		}
		sess, err := m.svc.GetSession(ctx, appName, userID, sessionID)
		if err != nil || sess == nil {
			continue
		}
		if oldest == nil || sess.LastUpdateTime.Before(oldest.LastUpdateTime) {
			oldest = sess
		}
	}
	if oldest != nil {
		m.deleteSession(ctx, oldest)
		m.logger.Info("evicted oldest session", "user_id", userID, "session_id", oldest.ID)
	}
}

func (m *Manager) deleteSession(ctx context.Context, sess *adk.Session) {
	key := sessionKey(sess.AppName, sess.ID)
	if m.memory != nil {
		if err := m.memory.AddSessionToMemory(ctx, sess); err != nil {
			m.logger.Error("forwarding session to memory", "session_key", key, "error", err)
		}
	}
	if err := m.svc.DeleteSession(ctx, sess.AppName, sess.UserID, sess.ID); err != nil {
		m.logger.Error("deleting session", "session_key", key, "error", err)
	}
	m.untrackSession(key, sess.UserID)
}

func (m *Manager) trackSession(key, threadKey, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionKeys[key] = struct{}{}
	m.sessionUsers[key] = userID
	m.sessionThreads[key] = threadKey
	set, ok := m.userSessions[userID]
	if !ok {
		set = make(map[string]struct{})
		m.userSessions[userID] = set
	}
	set[key] = struct{}{}
}

func (m *Manager) untrackSession(key, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessionKeys, key)
	delete(m.sessionUsers, key)
	// Processed ids live under the thread key, not the session key.
	if threadKey, ok := m.sessionThreads[key]; ok {
		delete(m.processedIDs, threadKey)
		delete(m.sessionThreads, key)
	}
	if set, ok := m.userSessions[userID]; ok {
		delete(set, key)
		if len(set) == 0 {
			delete(m.userSessions, userID)
		}
	}
}

func sessionKey(appName, sessionID string) string {
	return appName + ":" + sessionID
}

func splitSessionKey(key string) (appName, sessionID string, ok bool) {
	appName, sessionID, ok = strings.Cut(key, ":")
	return appName, sessionID, ok && appName != "" && sessionID != ""
}
