package agui

import (
	"encoding/json"
	"errors"
)

// RunAgentInput is the AG-UI request for running an agent. It mirrors the
// protocol wire format and is transport-agnostic.
type RunAgentInput struct {
	ThreadID       string          `json:"threadId"`
	RunID          string          `json:"runId"`
	Messages       []Message       `json:"messages"`
	Tools          []Tool          `json:"tools,omitempty"`
	Context        []ContextItem   `json:"context,omitempty"`
	State          json.RawMessage `json:"state,omitempty"`
	ForwardedProps json.RawMessage `json:"forwardedProps,omitempty"`
}

// ContextItem is a contextual value supplied by the frontend.
type ContextItem struct {
	Description string `json:"description,omitempty"`
	Value       string `json:"value,omitempty"`
}

// ErrMissingThreadID is returned when the input has no thread id.
var ErrMissingThreadID = errors.New("thread_id is required")

// Validate checks the minimum shape the bridge needs to serve a request.
func (r *RunAgentInput) Validate() error {
	if r.ThreadID == "" {
		return ErrMissingThreadID
	}
	return nil
}

// StateMap decodes the opaque state object into a map. Nil, empty, or
// non-object state yields an empty map so callers can merge unconditionally.
func (r *RunAgentInput) StateMap() map[string]any {
	if len(r.State) == 0 {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(r.State, &m); err != nil || m == nil {
		return map[string]any{}
	}
	return m
}

// LatestUserMessage returns the last user-role message, or nil.
func LatestUserMessage(msgs []Message) *Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return &msgs[i]
		}
	}
	return nil
}

// ResolveToolName finds the tool name for a tool-call id by scanning
// assistant messages for a matching tool call. Returns "" when unknown.
func ResolveToolName(msgs []Message, toolCallID string) string {
	for _, m := range msgs {
		if m.Role != RoleAssistant {
			continue
		}
		for _, tc := range m.ToolCalls {
			if tc.ID == toolCallID {
				return tc.Function.Name
			}
		}
	}
	return ""
}
