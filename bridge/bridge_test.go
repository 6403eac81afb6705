package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
	"github.com/spetersoncode/adkbridge/agui"
)

// scriptedFactory serves pre-scripted runtime event batches, one per
// execution, and records every runner invocation.
type scriptedFactory struct {
	mu      sync.Mutex
	batches [][]*adk.Event
	calls   []runnerCall
	closed  int
}

type runnerCall struct {
	userID     string
	sessionID  string
	newMessage *genai.Content
}

func (f *scriptedFactory) factory(agent *adk.Agent, appName string) (adk.Runner, error) {
	return &scriptedRunner{f: f}, nil
}

type scriptedRunner struct {
	f *scriptedFactory
}

func (r *scriptedRunner) Run(ctx context.Context, userID, sessionID string, newMessage *genai.Content, _ adk.RunConfig) (<-chan *adk.Event, error) {
	r.f.mu.Lock()
	r.f.calls = append(r.f.calls, runnerCall{userID: userID, sessionID: sessionID, newMessage: newMessage})
	var batch []*adk.Event
	if len(r.f.batches) > 0 {
		batch = r.f.batches[0]
		r.f.batches = r.f.batches[1:]
	}
	r.f.mu.Unlock()

	ch := make(chan *adk.Event)
	go func() {
		defer close(ch)
		for _, ev := range batch {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (r *scriptedRunner) Close(context.Context) error {
	r.f.mu.Lock()
	r.f.closed++
	r.f.mu.Unlock()
	return nil
}

func newTestBridge(t *testing.T, factory adk.RunnerFactory, opts ...Option) *Bridge {
	t.Helper()
	agent := &adk.Agent{Name: "test_agent", Instruction: adk.StaticInstruction("be helpful")}
	opts = append([]Option{WithAppName("app")}, opts...)
	b, err := New(agent, factory, opts...)
	require.NoError(t, err)
	t.Cleanup(b.Close)
	return b
}

func runAndCollect(t *testing.T, b *Bridge, input *agui.RunAgentInput) []events.Event {
	t.Helper()
	var got []events.Event
	for ev := range b.Run(context.Background(), input) {
		got = append(got, ev)
	}
	return got
}

func types(evs []events.Event) []events.EventType {
	out := make([]events.EventType, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type()
	}
	return out
}

func partialText(text string) *adk.Event {
	return &adk.Event{
		Author:  "model",
		Partial: true,
		Content: &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
	}
}

func finalText(text string) *adk.Event {
	return &adk.Event{
		Author:       "model",
		TurnComplete: true,
		FinishReason: "STOP",
		Content:      &genai.Content{Role: "model", Parts: []*genai.Part{{Text: text}}},
	}
}

func TestBridge_New(t *testing.T) {
	f := &scriptedFactory{}

	_, err := New(nil, f.factory)
	assert.ErrorIs(t, err, ErrNilAgent)

	_, err = New(&adk.Agent{Name: "a"}, nil)
	assert.ErrorIs(t, err, ErrNilRunner)

	_, err = New(&adk.Agent{Name: "a"}, f.factory,
		WithAppName("x"), WithAppNameExtractor(func(*agui.RunAgentInput) string { return "y" }))
	assert.ErrorIs(t, err, ErrAppNameConflict)
}

func TestBridge_TextRun(t *testing.T) {
	f := &scriptedFactory{batches: [][]*adk.Event{
		{partialText("Hel"), partialText("lo"), finalText("Hello")},
	}}
	b := newTestBridge(t, f.factory)

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "hi")},
	}
	got := runAndCollect(t, b, input)

	require.Equal(t, []events.EventType{
		events.EventTypeRunStarted,
		events.EventTypeTextMessageStart,
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageEnd,
		events.EventTypeStateSnapshot,
		events.EventTypeRunFinished,
	}, types(got))

	// The runner saw the user message and the runner was closed afterwards.
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.calls, 1)
	require.NotNil(t, f.calls[0].newMessage)
	assert.Equal(t, "hi", f.calls[0].newMessage.Parts[0].Text)
	assert.Equal(t, "thread_user_t1", f.calls[0].userID)
	assert.Equal(t, 1, f.closed)
}

func TestBridge_ReplayedMessagesNotReprocessed(t *testing.T) {
	f := &scriptedFactory{batches: [][]*adk.Event{
		{finalText("first")},
		{finalText("second")},
	}}
	b := newTestBridge(t, f.factory)

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "hi")},
	}
	runAndCollect(t, b, input)

	// The client replays the full history plus one new message.
	input2 := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r2",
		Messages: []agui.Message{
			agui.NewUserMessage("m1", "hi"),
			{ID: "a1", Role: agui.RoleAssistant, Content: agui.TextContent("first")},
			agui.NewUserMessage("m2", "again"),
		},
	}
	got := runAndCollect(t, b, input2)

	assert.Equal(t, events.EventTypeRunStarted, got[0].Type())
	assert.Equal(t, events.EventTypeRunFinished, got[len(got)-1].Type())

	// Only the new user message reached the runtime.
	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.calls, 2)
	require.NotNil(t, f.calls[1].newMessage)
	assert.Equal(t, "again", f.calls[1].newMessage.Parts[0].Text)
}

func TestBridge_LongRunningToolCall(t *testing.T) {
	f := &scriptedFactory{batches: [][]*adk.Event{
		{
			{
				Author: "model",
				Content: &genai.Content{Role: "model", Parts: []*genai.Part{
					{FunctionCall: &genai.FunctionCall{ID: "lro-1", Name: "ask_user", Args: map[string]any{"q": "ok?"}}},
				}},
				LongRunningToolIDs: []string{"lro-1"},
			},
		},
	}}
	b := newTestBridge(t, f.factory)

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "do the thing")},
		Tools:    []agui.Tool{{Name: "ask_user", Description: "ask the user"}},
	}
	got := runAndCollect(t, b, input)

	require.Equal(t, []events.EventType{
		events.EventTypeRunStarted,
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
		events.EventTypeStateSnapshot,
		events.EventTypeRunFinished,
	}, types(got))

	// The unresolved call is tracked as pending in durable session state.
	f.mu.Lock()
	sessionID := f.calls[0].sessionID
	f.mu.Unlock()
	pending := b.Sessions().GetStateValue(context.Background(), sessionID, "app", "thread_user_t1", adk.PendingToolCallsKey, nil)
	assert.Equal(t, []string{"lro-1"}, pending)
}

func TestBridge_ToolResultSubmission(t *testing.T) {
	f := &scriptedFactory{batches: [][]*adk.Event{
		{
			{
				Author: "model",
				Content: &genai.Content{Role: "model", Parts: []*genai.Part{
					{FunctionCall: &genai.FunctionCall{ID: "lro-1", Name: "ask_user", Args: map[string]any{"q": "ok?"}}},
				}},
				LongRunningToolIDs: []string{"lro-1"},
			},
		},
		{finalText("The answer is 42.")},
	}}
	b := newTestBridge(t, f.factory)

	first := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "do the thing")},
		Tools:    []agui.Tool{{Name: "ask_user"}},
	}
	runAndCollect(t, b, first)

	second := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r2",
		Messages: []agui.Message{
			agui.NewUserMessage("m1", "do the thing"),
			{ID: "a1", Role: agui.RoleAssistant, ToolCalls: []events.ToolCall{{
				ID: "lro-1", Type: "function",
				Function: events.Function{Name: "ask_user", Arguments: `{"q":"ok?"}`},
			}}},
			agui.NewToolMessage("tm1", "lro-1", `{"answer":42}`),
		},
		Tools: []agui.Tool{{Name: "ask_user"}},
	}
	got := runAndCollect(t, b, second)

	require.Equal(t, []events.EventType{
		events.EventTypeRunStarted,
		events.EventTypeTextMessageStart,
		events.EventTypeTextMessageContent,
		events.EventTypeTextMessageEnd,
		events.EventTypeStateSnapshot,
		events.EventTypeRunFinished,
	}, types(got))

	// The runtime resumed with the submitted function response.
	f.mu.Lock()
	require.Len(t, f.calls, 2)
	resume := f.calls[1].newMessage
	f.mu.Unlock()
	require.NotNil(t, resume)
	require.Len(t, resume.Parts, 1)
	fr := resume.Parts[0].FunctionResponse
	require.NotNil(t, fr)
	assert.Equal(t, "lro-1", fr.ID)
	assert.Equal(t, "ask_user", fr.Name)
	assert.Equal(t, map[string]any{"answer": float64(42)}, fr.Response)

	// The pending call was resolved.
	f.mu.Lock()
	sessionID := f.calls[0].sessionID
	f.mu.Unlock()
	pending := b.Sessions().GetStateValue(context.Background(), sessionID, "app", "thread_user_t1", adk.PendingToolCallsKey, nil)
	assert.Empty(t, pending)
}

func TestBridge_PredictStateAndDeferredConfirm(t *testing.T) {
	f := &scriptedFactory{batches: [][]*adk.Event{
		{
			{
				Author: "model",
				Content: &genai.Content{Role: "model", Parts: []*genai.Part{
					{FunctionCall: &genai.FunctionCall{ID: "call-w", Name: "write_document", Args: map[string]any{"content": "draft"}}},
				}},
			},
		},
	}}
	b := newTestBridge(t, f.factory, WithPredictState([]adkbridge.PredictStateMapping{
		{StateKey: "document", Tool: "write_document", ToolArgument: "content", EmitConfirm: true},
	}))

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "write it")},
	}
	got := runAndCollect(t, b, input)

	require.Equal(t, []events.EventType{
		events.EventTypeRunStarted,
		events.EventTypeCustom,
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
		events.EventTypeStateSnapshot,
		events.EventTypeToolCallStart,
		events.EventTypeToolCallArgs,
		events.EventTypeToolCallEnd,
		events.EventTypeRunFinished,
	}, types(got))

	custom := got[1].(*events.CustomEvent)
	assert.Equal(t, "PredictState", custom.Name)

	// The deferred triple is the synthetic confirmation dialog, emitted just
	// before RUN_FINISHED.
	confirm := got[6].(*events.ToolCallStartEvent)
	assert.Equal(t, adkbridge.ConfirmChangesToolName, confirm.ToolCallName)
	assert.NotEqual(t, "call-w", confirm.ToolCallID)
}

func TestBridge_SyntheticConfirmSubmission(t *testing.T) {
	f := &scriptedFactory{batches: [][]*adk.Event{
		{
			{
				Author: "model",
				Content: &genai.Content{Role: "model", Parts: []*genai.Part{
					{FunctionCall: &genai.FunctionCall{ID: "call-w", Name: "write_document", Args: map[string]any{"content": "draft"}}},
				}},
			},
		},
	}}
	b := newTestBridge(t, f.factory, WithPredictState([]adkbridge.PredictStateMapping{
		{StateKey: "document", Tool: "write_document", ToolArgument: "content", EmitConfirm: true},
	}))

	first := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "write it")},
	}
	firstEvents := runAndCollect(t, b, first)

	var confirmID string
	for _, ev := range firstEvents {
		if start, ok := ev.(*events.ToolCallStartEvent); ok && start.ToolCallName == adkbridge.ConfirmChangesToolName {
			confirmID = start.ToolCallID
		}
	}
	require.NotEmpty(t, confirmID)

	// The user accepts the confirmation dialog. The runtime never called
	// confirm_changes, so nothing goes downstream; the frame still closes.
	second := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r2",
		Messages: []agui.Message{
			agui.NewUserMessage("m1", "write it"),
			{ID: "a1", Role: agui.RoleAssistant, ToolCalls: []events.ToolCall{{
				ID: "call-w", Type: "function",
				Function: events.Function{Name: "write_document", Arguments: `{"content":"draft"}`},
			}}},
			{ID: "a2", Role: agui.RoleAssistant, ToolCalls: []events.ToolCall{{
				ID: confirmID, Type: "function",
				Function: events.Function{Name: adkbridge.ConfirmChangesToolName, Arguments: "{}"},
			}}},
			agui.NewToolMessage("tm1", confirmID, "accepted"),
		},
	}
	got := runAndCollect(t, b, second)

	require.Equal(t, []events.EventType{
		events.EventTypeRunStarted,
		events.EventTypeRunFinished,
	}, types(got))

	// No new execution was started for the synthetic result.
	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Len(t, f.calls, 1)
}

func TestBridge_RunnerFactoryFailure(t *testing.T) {
	factory := func(*adk.Agent, string) (adk.Runner, error) {
		return nil, errors.New("runtime unavailable")
	}
	b := newTestBridge(t, factory)

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "hi")},
	}
	got := runAndCollect(t, b, input)

	require.Equal(t, []events.EventType{
		events.EventTypeRunStarted,
		events.EventTypeRunError,
		events.EventTypeRunFinished,
	}, types(got))
}

func TestBridge_SystemMessageExtendsInstruction(t *testing.T) {
	var captured *adk.Agent
	f := &scriptedFactory{batches: [][]*adk.Event{{finalText("ok")}}}
	factory := func(agent *adk.Agent, appName string) (adk.Runner, error) {
		captured = agent
		return f.factory(agent, appName)
	}
	b := newTestBridge(t, factory)

	input := &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{
			{ID: "s1", Role: agui.RoleSystem, Content: agui.TextContent("answer in French")},
			agui.NewUserMessage("m1", "hi"),
		},
	}
	runAndCollect(t, b, input)

	require.NotNil(t, captured)
	instruction, err := captured.Instruction.Instruction(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "be helpful\n\nanswer in French", instruction)
}

func TestBridge_CompletedRunReleasesExecution(t *testing.T) {
	f := &scriptedFactory{batches: [][]*adk.Event{
		{finalText("first")},
		{finalText("second")},
	}}
	b := newTestBridge(t, f.factory)

	runAndCollect(t, b, &agui.RunAgentInput{
		ThreadID: "t1",
		RunID:    "r1",
		Messages: []agui.Message{agui.NewUserMessage("m1", "one")},
	})

	// A completed run with nothing pending releases its execution record.
	b.mu.Lock()
	_, active := b.active["t1"]
	b.mu.Unlock()
	assert.False(t, active)

	// The bridge stays serviceable afterwards, on any thread.
	got := runAndCollect(t, b, &agui.RunAgentInput{
		ThreadID: "t2",
		RunID:    "r2",
		Messages: []agui.Message{agui.NewUserMessage("m2", "two")},
	})
	require.NotEmpty(t, got)
	assert.Equal(t, events.EventTypeRunStarted, got[0].Type())
	assert.Equal(t, events.EventTypeRunFinished, got[len(got)-1].Type())
}
