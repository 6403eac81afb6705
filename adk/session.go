package adk

import "time"

// State keys reserved by the bridge. The thread/app/user keys are written at
// session creation so sessions can be recovered by thread id after a
// middleware restart; the backend session id is runtime-assigned and may
// differ from the thread id.
const (
	ThreadIDStateKey = "_ag_ui_thread_id"
	AppNameStateKey  = "_ag_ui_app_name"
	UserIDStateKey   = "_ag_ui_user_id"

	// PendingToolCallsKey holds the tool call ids awaiting client-side
	// resolution. Sessions with pending calls are preserved past the
	// cleanup timeout.
	PendingToolCallsKey = "pending_tool_calls"
)

// Session is a runtime-owned conversation container: an append-only event
// log plus a mutable state map. Sessions are identified by
// (AppName, UserID, ID); the ID is assigned by the session service.
type Session struct {
	ID      string
	AppName string
	UserID  string

	State  map[string]any
	Events []*Event

	LastUpdateTime time.Time
}

// PendingToolCalls returns the tool call ids tracked in session state, or nil
// when none are tracked.
func (s *Session) PendingToolCalls() []string {
	if s.State == nil {
		return nil
	}
	raw, ok := s.State[PendingToolCallsKey]
	if !ok || raw == nil {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		ids := make([]string, 0, len(v))
		for _, item := range v {
			if id, ok := item.(string); ok {
				ids = append(ids, id)
			}
		}
		return ids
	}
	return nil
}

// ThreadID returns the AG-UI thread id stored in session state, if any.
func (s *Session) ThreadID() string {
	if s.State == nil {
		return ""
	}
	id, _ := s.State[ThreadIDStateKey].(string)
	return id
}
