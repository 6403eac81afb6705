// Package adk defines the contract between the bridge and an ADK-style agent
// runtime: the event stream, session storage, the runner, and tools.
//
// The bridge consumes runtimes exclusively through these interfaces. The
// in-memory implementations in this package are suitable for development and
// tests; production deployments plug in durable services.
package adk

import (
	"time"

	"google.golang.org/genai"
)

// EventActions carries side effects attached to a runtime event.
type EventActions struct {
	// StateDelta is applied to session state when the event is appended. A
	// nil value removes the key.
	StateDelta map[string]any

	// StateSnapshot, when non-nil, replaces the client's view of state.
	StateSnapshot map[string]any
}

// Event is a single runtime event. The zero value is usable; content and
// flags are set by the runner.
type Event struct {
	ID           string
	InvocationID string

	// Author is "user" for client-originated events, "model" for agent
	// output, or an agent name for multi-agent runtimes.
	Author string

	Content *genai.Content

	// Partial marks an incremental streaming chunk. The runtime follows a
	// sequence of partial chunks with a consolidated event carrying the full
	// text and Partial unset.
	Partial bool

	// TurnComplete marks the end of the agent's turn in live streaming.
	TurnComplete bool

	// FinishReason is set on the terminal chunk of a model response.
	FinishReason string

	// LongRunningToolIDs lists function call ids whose results will not be
	// produced by the runtime during this run.
	LongRunningToolIDs []string

	Actions    EventActions
	CustomData map[string]any

	Timestamp time.Time
}

// FunctionCalls returns the function call parts of the event content.
func (e *Event) FunctionCalls() []*genai.FunctionCall {
	if e.Content == nil {
		return nil
	}
	var calls []*genai.FunctionCall
	for _, part := range e.Content.Parts {
		if part != nil && part.FunctionCall != nil {
			calls = append(calls, part.FunctionCall)
		}
	}
	return calls
}

// FunctionResponses returns the function response parts of the event content.
func (e *Event) FunctionResponses() []*genai.FunctionResponse {
	if e.Content == nil {
		return nil
	}
	var responses []*genai.FunctionResponse
	for _, part := range e.Content.Parts {
		if part != nil && part.FunctionResponse != nil {
			responses = append(responses, part.FunctionResponse)
		}
	}
	return responses
}

// Text returns the concatenated text of all text parts.
func (e *Event) Text() string {
	if e.Content == nil {
		return ""
	}
	var text string
	for _, part := range e.Content.Parts {
		if part != nil {
			text += part.Text
		}
	}
	return text
}

// IsFinalResponse reports whether this event is the final response of an
// invocation. Events carrying long-running tool calls are final: the runtime
// will not produce their results in this run.
func (e *Event) IsFinalResponse() bool {
	if len(e.LongRunningToolIDs) > 0 {
		return true
	}
	return !e.Partial && len(e.FunctionCalls()) == 0 && len(e.FunctionResponses()) == 0
}

// HasLongRunningFunctionCall reports whether any function call in the event
// is registered as long-running.
func (e *Event) HasLongRunningFunctionCall() bool {
	if len(e.LongRunningToolIDs) == 0 {
		return false
	}
	lro := make(map[string]struct{}, len(e.LongRunningToolIDs))
	for _, id := range e.LongRunningToolIDs {
		lro[id] = struct{}{}
	}
	for _, call := range e.FunctionCalls() {
		if _, ok := lro[call.ID]; ok {
			return true
		}
	}
	return false
}
