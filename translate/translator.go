package translate

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/google/uuid"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
)

// Translator converts one run's runtime events into AG-UI events. It is a
// stateful sequential machine: create one per run (or call Reset between
// runs) and never share across goroutines.
type Translator struct {
	threadID string
	runID    string
	logger   *slog.Logger

	streaming          bool
	streamingMessageID string
	currentStreamText  strings.Builder

	lastStreamedText  string
	lastStreamedSet   bool
	lastStreamedRunID string

	longRunningIDs  []string
	activeToolCalls map[string]struct{}

	predictByTool  map[string][]adkbridge.PredictStateMapping
	emittedPredict map[string]struct{}
	emittedConfirm map[string]struct{}
	suppressedIDs  map[string]struct{}
	deferred       []events.Event
}

// Option configures a Translator.
type Option func(*Translator)

// WithPredictState installs predictive state mappings. Tool calls for mapped
// tools trigger a PredictState custom event, suppress their result events,
// and optionally defer a confirm_changes triple.
func WithPredictState(mappings []adkbridge.PredictStateMapping) Option {
	return func(t *Translator) {
		for _, m := range adkbridge.NormalizePredictState(mappings) {
			t.predictByTool[m.Tool] = append(t.predictByTool[m.Tool], m)
		}
	}
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Translator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New creates a translator for one run.
func New(threadID, runID string, opts ...Option) *Translator {
	t := &Translator{
		threadID:        threadID,
		runID:           runID,
		logger:          slog.Default(),
		activeToolCalls: make(map[string]struct{}),
		predictByTool:   make(map[string][]adkbridge.PredictStateMapping),
		emittedPredict:  make(map[string]struct{}),
		emittedConfirm:  make(map[string]struct{}),
		suppressedIDs:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Translate converts a single runtime event into zero or more AG-UI events.
// Long-running tool calls are excluded here; route those events through
// TranslateLongRunning instead.
func (t *Translator) Translate(ev *adk.Event) []events.Event {
	if ev == nil {
		return nil
	}
	// User-authored events are already part of the conversation.
	if ev.Author == "user" {
		return nil
	}

	var out []events.Event

	if ev.Content != nil && len(ev.Content.Parts) > 0 {
		out = append(out, t.translateText(ev)...)
	}

	if calls := ev.FunctionCalls(); len(calls) > 0 {
		lro := make(map[string]struct{}, len(ev.LongRunningToolIDs))
		for _, id := range ev.LongRunningToolIDs {
			lro[id] = struct{}{}
		}
		var foreground []*callInfo
		for _, fc := range calls {
			if _, isLRO := lro[fc.ID]; !isLRO {
				foreground = append(foreground, &callInfo{id: fc.ID, name: fc.Name, args: fc.Args})
			}
		}
		if len(foreground) > 0 {
			// Protocol requires the open text message to end before any
			// tool call events.
			out = append(out, t.ForceCloseStreamingMessage()...)
			out = append(out, t.translateFunctionCalls(foreground)...)
		}
	}

	for _, fr := range ev.FunctionResponses() {
		if e := t.translateFunctionResponse(fr.ID, fr.Response); e != nil {
			out = append(out, e)
		}
	}

	if len(ev.Actions.StateDelta) > 0 {
		out = append(out, t.StateDeltaEvent(ev.Actions.StateDelta))
	}
	if ev.Actions.StateSnapshot != nil {
		out = append(out, t.StateSnapshotEvent(ev.Actions.StateSnapshot))
	}

	if len(ev.CustomData) > 0 {
		out = append(out, events.NewCustomEvent("adk_metadata", events.WithValue(ev.CustomData)))
	}

	return out
}

// TranslateLongRunning emits the tool call triple for the first long-running
// function call in the event and records its id. The caller must stop
// consuming runtime events afterwards; a long-running call ends the run.
func (t *Translator) TranslateLongRunning(ev *adk.Event) []events.Event {
	if ev == nil || ev.Content == nil {
		return nil
	}
	lro := make(map[string]struct{}, len(ev.LongRunningToolIDs))
	for _, id := range ev.LongRunningToolIDs {
		lro[id] = struct{}{}
	}
	for _, part := range ev.Content.Parts {
		if part.FunctionCall == nil {
			continue
		}
		fc := part.FunctionCall
		if _, ok := lro[fc.ID]; !ok {
			continue
		}
		t.longRunningIDs = append(t.longRunningIDs, fc.ID)
		delete(t.activeToolCalls, fc.ID)
		out := []events.Event{events.NewToolCallStartEvent(fc.ID, fc.Name)}
		if len(fc.Args) > 0 {
			out = append(out, events.NewToolCallArgsEvent(fc.ID, serializeArgs(fc.Args)))
		}
		out = append(out, events.NewToolCallEndEvent(fc.ID))
		return out
	}
	return nil
}

// ForceCloseStreamingMessage ends the open text message if one is streaming.
// Safe to call at any time.
func (t *Translator) ForceCloseStreamingMessage() []events.Event {
	if !t.streaming || t.streamingMessageID == "" {
		return nil
	}
	t.logger.Warn("force-closing unterminated streaming message", "message_id", t.streamingMessageID)
	end := events.NewTextMessageEndEvent(t.streamingMessageID)
	t.currentStreamText.Reset()
	t.streamingMessageID = ""
	t.streaming = false
	return []events.Event{end}
}

// DeferredConfirmEvents returns and clears the deferred confirm_changes
// events. Emit these immediately before the run's RUN_FINISHED.
func (t *Translator) DeferredConfirmEvents() []events.Event {
	out := t.deferred
	t.deferred = nil
	return out
}

// HasDeferredConfirmEvents reports whether confirm events are waiting.
func (t *Translator) HasDeferredConfirmEvents() bool {
	return len(t.deferred) > 0
}

// LongRunningToolIDs returns the ids recorded by TranslateLongRunning.
func (t *Translator) LongRunningToolIDs() []string {
	return t.longRunningIDs
}

// StateSnapshotEvent builds a STATE_SNAPSHOT event.
func (t *Translator) StateSnapshotEvent(snapshot map[string]any) events.Event {
	return events.NewStateSnapshotEvent(snapshot)
}

// StateDeltaEvent builds a STATE_DELTA event carrying one JSON Patch add
// operation per key.
func (t *Translator) StateDeltaEvent(delta map[string]any) events.Event {
	return events.NewStateDeltaEvent(StateToJSONPatch(delta))
}

// Reset clears all per-run state so the translator can serve another run.
func (t *Translator) Reset() {
	t.streaming = false
	t.streamingMessageID = ""
	t.currentStreamText.Reset()
	t.lastStreamedText = ""
	t.lastStreamedSet = false
	t.lastStreamedRunID = ""
	t.longRunningIDs = nil
	t.activeToolCalls = make(map[string]struct{})
	t.emittedPredict = make(map[string]struct{})
	t.emittedConfirm = make(map[string]struct{})
	t.suppressedIDs = make(map[string]struct{})
	t.deferred = nil
}

type callInfo struct {
	id   string
	name string
	args map[string]any
}

func (t *Translator) translateText(ev *adk.Event) []events.Event {
	isFinal := ev.IsFinalResponse()
	combined := ev.Text()

	if combined == "" && !isFinal {
		return nil
	}

	var out []events.Event

	if isFinal {
		// An empty final response still closes the active stream.
		if t.streaming && t.streamingMessageID != "" {
			if t.currentStreamText.Len() > 0 {
				t.lastStreamedText = t.currentStreamText.String()
				t.lastStreamedSet = true
				t.lastStreamedRunID = t.runID
			}
			t.currentStreamText.Reset()
			out = append(out, events.NewTextMessageEndEvent(t.streamingMessageID))
			t.streamingMessageID = ""
			t.streaming = false
			return out
		}

		// No stream is active. The consolidated final message duplicates a
		// finished stream when it equals the streamed text, or is a suffix of
		// it (models that resend accumulated text per chunk).
		if t.lastStreamedSet && t.lastStreamedRunID == t.runID {
			if combined == t.lastStreamedText || strings.HasSuffix(t.lastStreamedText, combined) {
				t.logger.Debug("skipping duplicate final response text", "run_id", t.runID)
				t.currentStreamText.Reset()
				t.lastStreamedText = ""
				t.lastStreamedSet = false
				t.lastStreamedRunID = ""
				return out
			}
		}

		if combined == "" {
			t.currentStreamText.Reset()
			t.lastStreamedText = ""
			t.lastStreamedSet = false
			t.lastStreamedRunID = ""
			return out
		}
		// Fall through and emit the consolidated START/CONTENT/END trio.
	}

	if combined == "" {
		return out
	}

	hasFinishReason := ev.FinishReason != ""
	shouldEnd := (ev.TurnComplete && !ev.Partial) ||
		(isFinal && !ev.Partial) ||
		(hasFinishReason && t.streaming)

	wasStreaming := t.streaming

	if !t.streaming {
		t.streamingMessageID = uuid.NewString()
		t.streaming = true
		t.currentStreamText.Reset()
		out = append(out, events.NewTextMessageStartEvent(t.streamingMessageID, events.WithRole("assistant")))
	}

	// A consolidated partial=false message arriving mid-stream repeats text
	// the deltas already carried; skip its content.
	if wasStreaming && !ev.Partial {
		t.logger.Debug("skipping consolidated text during active stream", "message_id", t.streamingMessageID)
	} else {
		t.currentStreamText.WriteString(combined)
		out = append(out, events.NewTextMessageContentEvent(t.streamingMessageID, combined))
	}

	if shouldEnd {
		out = append(out, events.NewTextMessageEndEvent(t.streamingMessageID))
		if t.currentStreamText.Len() > 0 {
			t.lastStreamedText = t.currentStreamText.String()
			t.lastStreamedSet = true
			t.lastStreamedRunID = t.runID
		}
		t.currentStreamText.Reset()
		t.streamingMessageID = ""
		t.streaming = false
	}

	return out
}

func (t *Translator) translateFunctionCalls(calls []*callInfo) []events.Event {
	var out []events.Event

	for _, call := range calls {
		id := call.id
		if id == "" {
			id = uuid.NewString()
		}
		if _, exists := t.activeToolCalls[id]; exists {
			t.logger.Warn("duplicate tool call id", "tool_call_id", id, "tool", call.name)
		}
		t.activeToolCalls[id] = struct{}{}

		mappings, predictive := t.predictByTool[call.name]
		if predictive {
			// The frontend applies these updates from the streamed arguments,
			// so the eventual TOOL_CALL_RESULT must be suppressed.
			t.suppressedIDs[id] = struct{}{}

			if _, done := t.emittedPredict[call.name]; !done {
				payload := make([]map[string]any, len(mappings))
				for i, m := range mappings {
					payload[i] = m.Payload()
				}
				out = append(out, events.NewCustomEvent("PredictState", events.WithValue(payload)))
				t.emittedPredict[call.name] = struct{}{}
			}
		}

		out = append(out, events.NewToolCallStartEvent(id, call.name))
		if len(call.args) > 0 {
			out = append(out, events.NewToolCallArgsEvent(id, serializeArgs(call.args)))
		}
		out = append(out, events.NewToolCallEndEvent(id))

		if predictive {
			if _, done := t.emittedConfirm[call.name]; !done && anyEmitConfirm(mappings) {
				// Held back until just before RUN_FINISHED so later events
				// cannot move the confirmation out of its in-progress state.
				confirmID := uuid.NewString()
				t.deferred = append(t.deferred,
					events.NewToolCallStartEvent(confirmID, adkbridge.ConfirmChangesToolName),
					events.NewToolCallArgsEvent(confirmID, "{}"),
					events.NewToolCallEndEvent(confirmID),
				)
				t.emittedConfirm[call.name] = struct{}{}
			}
		}
	}

	return out
}

func (t *Translator) translateFunctionResponse(toolCallID string, response map[string]any) events.Event {
	if toolCallID == "" {
		toolCallID = uuid.NewString()
	}
	delete(t.activeToolCalls, toolCallID)
	for _, id := range t.longRunningIDs {
		if id == toolCallID {
			return nil
		}
	}
	if _, suppressed := t.suppressedIDs[toolCallID]; suppressed {
		return nil
	}
	return events.NewToolCallResultEvent(uuid.NewString(), toolCallID, SerializeToolResponse(response))
}

// StateToJSONPatch converts a state delta map into RFC 6902 add operations.
// The add op works for both new and existing paths.
func StateToJSONPatch(delta map[string]any) []events.JSONPatchOperation {
	patches := make([]events.JSONPatchOperation, 0, len(delta))
	for key, value := range delta {
		patches = append(patches, events.JSONPatchOperation{
			Op:    "add",
			Path:  "/" + key,
			Value: value,
		})
	}
	return patches
}

// JSONPatchToState folds top-level add/replace operations back into a state
// map. Remove operations set the key to nil.
func JSONPatchToState(patches []events.JSONPatchOperation) map[string]any {
	state := make(map[string]any, len(patches))
	for _, p := range patches {
		key := strings.TrimPrefix(p.Path, "/")
		if key == "" || strings.Contains(key, "/") {
			continue
		}
		switch p.Op {
		case "add", "replace":
			state[key] = p.Value
		case "remove":
			state[key] = nil
		}
	}
	return state
}

func serializeArgs(args map[string]any) string {
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

func anyEmitConfirm(mappings []adkbridge.PredictStateMapping) bool {
	for _, m := range mappings {
		if m.EmitConfirm {
			return true
		}
	}
	return false
}
