package translate

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
)

func textEvent(text string, partial bool) *adk.Event {
	return &adk.Event{
		Author:  "model",
		Partial: partial,
		Content: &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{Text: text}},
		},
	}
}

func callEvent(id, name string, args map[string]any) *adk.Event {
	return &adk.Event{
		Author: "model",
		Content: &genai.Content{
			Role:  "model",
			Parts: []*genai.Part{{FunctionCall: &genai.FunctionCall{ID: id, Name: name, Args: args}}},
		},
	}
}

func responseEvent(id, name string, response map[string]any) *adk.Event {
	return &adk.Event{
		Author: "model",
		Content: &genai.Content{
			Role:  "user",
			Parts: []*genai.Part{{FunctionResponse: &genai.FunctionResponse{ID: id, Name: name, Response: response}}},
		},
	}
}

func eventTypes(evs []events.Event) []events.EventType {
	types := make([]events.EventType, len(evs))
	for i, ev := range evs {
		types[i] = ev.Type()
	}
	return types
}

func TestTranslator_StreamingText(t *testing.T) {
	tr := New("thread-1", "run-1")

	var out []events.Event
	out = append(out, tr.Translate(textEvent("Hel", true))...)
	out = append(out, tr.Translate(textEvent("lo ", true))...)
	out = append(out, tr.Translate(textEvent("world", true))...)

	final := textEvent("Hello world", false)
	final.TurnComplete = true
	out = append(out, tr.Translate(final)...)

	require.Equal(t, []events.EventType{
		events.EventTypeTextMessageStart,
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageEnd,
	}, eventTypes(out))

	// The deltas reassemble the streamed text; the consolidated final adds
	// no content of its own.
	var text string
	for _, ev := range out {
		if content, ok := ev.(*events.TextMessageContentEvent); ok {
			text += content.Delta
		}
	}
	assert.Equal(t, "Hello world", text)
}

func TestTranslator_DuplicateFinalSkipped(t *testing.T) {
	tr := New("thread-1", "run-1")

	tr.Translate(textEvent("Hello", true))

	closing := textEvent(" world", true)
	closing.FinishReason = "STOP"
	out := tr.Translate(closing)
	require.Equal(t, []events.EventType{
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageEnd,
	}, eventTypes(out))

	// A standalone final repeating the streamed text is a duplicate.
	final := textEvent("Hello world", false)
	final.TurnComplete = true
	assert.Empty(t, tr.Translate(final))
}

func TestTranslator_SuffixDuplicateSkipped(t *testing.T) {
	tr := New("thread-1", "run-1")

	tr.Translate(textEvent("Hello world", true))
	closing := textEvent("!", true)
	closing.FinishReason = "STOP"
	tr.Translate(closing)

	// Some models resend only the tail of the accumulated text.
	final := textEvent("world!", false)
	final.TurnComplete = true
	assert.Empty(t, tr.Translate(final))
}

func TestTranslator_EmptyFinalClosesStream(t *testing.T) {
	tr := New("thread-1", "run-1")

	tr.Translate(textEvent("Hi", true))

	final := textEvent("", false)
	final.TurnComplete = true
	out := tr.Translate(final)

	require.Len(t, out, 1)
	assert.Equal(t, events.EventTypeTextMessageEnd, out[0].Type())
}

func TestTranslator_ConsolidatedTextWithToolCall(t *testing.T) {
	tr := New("thread-1", "run-1")

	tr.Translate(textEvent("Let me check.", true))

	// Consolidated event repeating the streamed text alongside a tool call.
	// The text must not be re-emitted, and the open message must end before
	// the tool call events.
	mixed := &adk.Event{
		Author: "model",
		Content: &genai.Content{
			Role: "model",
			Parts: []*genai.Part{
				{Text: "Let me check."},
				{FunctionCall: &genai.FunctionCall{ID: "call-1", Name: "lookup", Args: map[string]any{"q": "go"}}},
			},
		},
	}
	out := tr.Translate(mixed)

	require.Equal(t, []events.EventType{
		events.EventTypeTextMessageEnd,
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
	}, eventTypes(out))
}

func TestTranslator_ToolCallTriple(t *testing.T) {
	tr := New("thread-1", "run-1")

	out := tr.Translate(callEvent("call-1", "lookup", map[string]any{"q": "weather"}))
	require.Equal(t, []events.EventType{
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
	}, eventTypes(out))

	start := out[0].(*events.ToolCallStartEvent)
	assert.Equal(t, "call-1", start.ToolCallID)
	assert.Equal(t, "lookup", start.ToolCallName)

	end := out[2].(*events.ToolCallEndEvent)
	assert.Equal(t, "call-1", end.ToolCallID)
}

func TestTranslator_ToolCallWithoutArgs(t *testing.T) {
	tr := New("thread-1", "run-1")

	out := tr.Translate(callEvent("call-1", "ping", nil))
	require.Equal(t, []events.EventType{
		events.EventTypeToolCallStart,
		events.EventTypeToolCallEnd,
	}, eventTypes(out))
}

func TestTranslator_FunctionResponse(t *testing.T) {
	tr := New("thread-1", "run-1")

	out := tr.Translate(responseEvent("call-1", "lookup", map[string]any{"answer": 42}))
	require.Len(t, out, 1)
	result := out[0].(*events.ToolCallResultEvent)
	assert.Equal(t, "call-1", result.ToolCallID)
	assert.Contains(t, result.Content, "42")
}

func TestTranslator_LongRunning(t *testing.T) {
	tr := New("thread-1", "run-1")

	ev := &adk.Event{
		Author: "model",
		Content: &genai.Content{
			Role: "model",
			Parts: []*genai.Part{
				{FunctionCall: &genai.FunctionCall{ID: "lro-1", Name: "ask_user", Args: map[string]any{"q": "ok?"}}},
				{FunctionCall: &genai.FunctionCall{ID: "lro-2", Name: "ask_user", Args: map[string]any{"q": "more?"}}},
			},
		},
		LongRunningToolIDs: []string{"lro-1", "lro-2"},
	}

	out := tr.TranslateLongRunning(ev)
	require.Equal(t, []events.EventType{
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
	}, eventTypes(out))

	// Only the first long-running call is surfaced.
	assert.Equal(t, []string{"lro-1"}, tr.LongRunningToolIDs())

	// Results for recorded long-running ids are not re-emitted.
	assert.Empty(t, tr.Translate(responseEvent("lro-1", "ask_user", map[string]any{"ok": true})))
}

func TestTranslator_LongRunningCallsExcludedFromTranslate(t *testing.T) {
	tr := New("thread-1", "run-1")

	ev := callEvent("lro-1", "ask_user", map[string]any{"q": "ok?"})
	ev.LongRunningToolIDs = []string{"lro-1"}

	assert.Empty(t, tr.Translate(ev))
}

func TestTranslator_PredictState(t *testing.T) {
	mappings := []adkbridge.PredictStateMapping{
		{StateKey: "document", Tool: "write_document", ToolArgument: "content", EmitConfirm: true},
	}
	tr := New("thread-1", "run-1", WithPredictState(mappings))

	out := tr.Translate(callEvent("call-1", "write_document", map[string]any{"content": "draft"}))
	require.Equal(t, []events.EventType{
		events.EventTypeCustom,
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
	}, eventTypes(out))

	custom := out[0].(*events.CustomEvent)
	assert.Equal(t, "PredictState", custom.Name)

	// The frontend applies state from the streamed arguments; the tool's own
	// result must not surface.
	assert.Empty(t, tr.Translate(responseEvent("call-1", "write_document", map[string]any{"ok": true})))

	// confirm_changes is deferred until just before RUN_FINISHED.
	require.True(t, tr.HasDeferredConfirmEvents())
	deferred := tr.DeferredConfirmEvents()
	require.Equal(t, []events.EventType{
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
	}, eventTypes(deferred))
	assert.Equal(t, adkbridge.ConfirmChangesToolName, deferred[0].(*events.ToolCallStartEvent).ToolCallName)
	assert.False(t, tr.HasDeferredConfirmEvents())
}

func TestTranslator_PredictStateOncePerTool(t *testing.T) {
	mappings := []adkbridge.PredictStateMapping{
		{StateKey: "document", Tool: "write_document", EmitConfirm: true},
	}
	tr := New("thread-1", "run-1", WithPredictState(mappings))

	tr.Translate(callEvent("call-1", "write_document", map[string]any{"content": "a"}))
	tr.DeferredConfirmEvents()

	out := tr.Translate(callEvent("call-2", "write_document", map[string]any{"content": "b"}))
	require.Equal(t, []events.EventType{
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
	}, eventTypes(out))
	assert.False(t, tr.HasDeferredConfirmEvents())
}

func TestTranslator_UserEventsSkipped(t *testing.T) {
	tr := New("thread-1", "run-1")

	ev := textEvent("hello", false)
	ev.Author = "user"
	assert.Empty(t, tr.Translate(ev))
}

func TestTranslator_StateEvents(t *testing.T) {
	tr := New("thread-1", "run-1")

	t.Run("state delta", func(t *testing.T) {
		ev := &adk.Event{
			Author:  "model",
			Actions: adk.EventActions{StateDelta: map[string]any{"count": 1}},
		}
		out := tr.Translate(ev)
		require.Len(t, out, 1)
		assert.Equal(t, events.EventTypeStateDelta, out[0].Type())
	})

	t.Run("state snapshot", func(t *testing.T) {
		ev := &adk.Event{
			Author:  "model",
			Actions: adk.EventActions{StateSnapshot: map[string]any{"count": 2}},
		}
		out := tr.Translate(ev)
		require.Len(t, out, 1)
		assert.Equal(t, events.EventTypeStateSnapshot, out[0].Type())
	})

	t.Run("custom metadata", func(t *testing.T) {
		ev := &adk.Event{
			Author:     "model",
			CustomData: map[string]any{"trace": "abc"},
		}
		out := tr.Translate(ev)
		require.Len(t, out, 1)
		custom := out[0].(*events.CustomEvent)
		assert.Equal(t, "adk_metadata", custom.Name)
	})
}

func TestTranslator_ForceClose(t *testing.T) {
	tr := New("thread-1", "run-1")

	assert.Empty(t, tr.ForceCloseStreamingMessage())

	tr.Translate(textEvent("partial", true))
	out := tr.ForceCloseStreamingMessage()
	require.Len(t, out, 1)
	assert.Equal(t, events.EventTypeTextMessageEnd, out[0].Type())

	assert.Empty(t, tr.ForceCloseStreamingMessage())
}

func TestTranslator_Reset(t *testing.T) {
	tr := New("thread-1", "run-1", WithPredictState([]adkbridge.PredictStateMapping{
		{StateKey: "doc", Tool: "write_document", EmitConfirm: true},
	}))

	tr.Translate(textEvent("partial", true))
	tr.Translate(callEvent("call-1", "write_document", map[string]any{"content": "a"}))
	require.True(t, tr.HasDeferredConfirmEvents())

	tr.Reset()

	assert.Empty(t, tr.ForceCloseStreamingMessage())
	assert.False(t, tr.HasDeferredConfirmEvents())
	assert.Empty(t, tr.LongRunningToolIDs())

	// Result suppression does not survive a reset.
	out := tr.Translate(responseEvent("call-1", "write_document", map[string]any{"ok": true}))
	assert.Len(t, out, 1)
}

func TestStateToJSONPatch(t *testing.T) {
	patches := StateToJSONPatch(map[string]any{"doc": "hello"})
	require.Len(t, patches, 1)
	assert.Equal(t, "add", patches[0].Op)
	assert.Equal(t, "/doc", patches[0].Path)
	assert.Equal(t, "hello", patches[0].Value)
}

func TestJSONPatchToState(t *testing.T) {
	state := JSONPatchToState([]events.JSONPatchOperation{
		{Op: "add", Path: "/a", Value: 1},
		{Op: "replace", Path: "/b", Value: "x"},
		{Op: "remove", Path: "/c"},
		{Op: "add", Path: "/nested/key", Value: "skipped"},
	})
	assert.Equal(t, map[string]any{"a": 1, "b": "x", "c": nil}, state)
}

func TestTranslator_DuplicateToolCallWarning(t *testing.T) {
	var buf bytes.Buffer
	tr := New("thread-1", "run-1", WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))

	first := tr.Translate(callEvent("tc-1", "lookup", map[string]any{"q": "go"}))
	require.NotEmpty(t, first)
	assert.NotContains(t, buf.String(), "duplicate tool call id")

	// The same id arriving again is still emitted, but flagged.
	again := tr.Translate(callEvent("tc-1", "lookup", map[string]any{"q": "go"}))
	require.NotEmpty(t, again)
	assert.Contains(t, buf.String(), "duplicate tool call id")
	assert.Contains(t, buf.String(), "tc-1")

	// A result retires the id, so reuse afterwards is clean.
	buf.Reset()
	tr.Translate(responseEvent("tc-1", "lookup", map[string]any{"ok": true}))
	tr.Translate(callEvent("tc-1", "lookup", nil))
	assert.NotContains(t, buf.String(), "duplicate tool call id")
}
