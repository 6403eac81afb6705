// Package bridge orchestrates AG-UI protocol runs over a downstream agent
// runtime. It owns the session manager and the execution registry, segments
// incoming message history into executions, streams worker events back to
// the caller, and tracks pending client-side tool calls across runs.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
	"github.com/spetersoncode/adkbridge/agui"
	"github.com/spetersoncode/adkbridge/session"
)

const pendingToolCallsKey = adk.PendingToolCallsKey

// Bridge translates AG-UI runs into runtime executions. Construct with New;
// all methods are safe for concurrent use.
type Bridge struct {
	agent         *adk.Agent
	runnerFactory adk.RunnerFactory
	svc           adk.SessionService
	sessions      *session.Manager
	logger        *slog.Logger
	cfg           config

	mu           sync.Mutex
	active       map[string]*ExecutionState
	sessionCache map[string]sessionRef // thread id -> session metadata
}

type sessionRef struct {
	sessionID string
	appName   string
	userID    string
}

type toolResult struct {
	toolName string
	message  agui.Message
}

// New creates a bridge around the configured agent. The runner factory is
// called once per execution to drive the runtime.
func New(agent *adk.Agent, factory adk.RunnerFactory, opts ...Option) (*Bridge, error) {
	if agent == nil {
		return nil, ErrNilAgent
	}
	if factory == nil {
		return nil, ErrNilRunner
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.sessionService == nil {
		cfg.sessionService = adk.NewInMemorySessionService()
	}
	if cfg.runConfigFactory == nil {
		cfg.runConfigFactory = func(*agui.RunAgentInput) adk.RunConfig {
			return adk.DefaultRunConfig()
		}
	}
	return &Bridge{
		agent:         agent,
		runnerFactory: factory,
		svc:           cfg.sessionService,
		sessions:      cfg.newSessionManager(),
		logger:        cfg.logger,
		cfg:           cfg,
		active:        make(map[string]*ExecutionState),
		sessionCache:  make(map[string]sessionRef),
	}, nil
}

// Sessions exposes the bridge's session manager.
func (b *Bridge) Sessions() *session.Manager {
	return b.sessions
}

// Run executes one AG-UI request and streams protocol events. The channel is
// closed when the run is finished; consume it fully. Cancelling ctx stops
// delivery, not the background execution.
func (b *Bridge) Run(ctx context.Context, input *agui.RunAgentInput) <-chan events.Event {
	out := make(chan events.Event)
	go func() {
		defer close(out)
		b.run(ctx, input, out)
	}()
	return out
}

// Close cancels all active executions and stops the session sweep.
func (b *Bridge) Close() {
	b.mu.Lock()
	active := make([]*ExecutionState, 0, len(b.active))
	for _, exec := range b.active {
		active = append(active, exec)
	}
	b.active = make(map[string]*ExecutionState)
	b.sessionCache = make(map[string]sessionRef)
	b.mu.Unlock()

	for _, exec := range active {
		exec.Cancel()
	}
	b.sessions.StopCleanup()
}

func (b *Bridge) run(ctx context.Context, input *agui.RunAgentInput, out chan<- events.Event) {
	unseen := b.unseenMessages(input)

	if len(unseen) == 0 {
		// Nothing new; resume the session as-is.
		b.startNewExecution(ctx, out, input, nil, nil)
		return
	}

	appName := b.appName(input)
	threadID := input.ThreadID
	index := 0
	skipToolMessageBatch := false

	// HITL resumption: with pending tool calls and tool results in the
	// input, everything before the first tool result is already in the
	// session.
	if b.hasPendingToolCalls(ctx, threadID) && containsToolMessage(unseen) {
		for i := range unseen {
			if unseen[i].Role == agui.RoleTool {
				if skipped := collectMessageIDs(unseen[:i]); len(skipped) > 0 {
					b.sessions.MarkMessagesProcessed(appName, threadID, skipped)
				}
				index = i
				break
			}
		}
	}

	for index < len(unseen) {
		if unseen[index].Role == agui.RoleTool {
			var toolBatch []agui.Message
			for index < len(unseen) && unseen[index].Role == agui.RoleTool {
				toolBatch = append(toolBatch, unseen[index])
				index++
			}

			if !b.shouldProcessToolBatch(ctx, threadID, toolBatch) {
				b.logger.Info("skipping tool result batch, no matching pending tool calls",
					"thread_id", threadID)
				if ids := collectMessageIDs(toolBatch); len(ids) > 0 {
					b.sessions.MarkMessagesProcessed(appName, threadID, ids)
				}
				skipToolMessageBatch = false
				continue
			}

			// Look ahead for trailing non-tool messages so a tool result and
			// the follow-up user message go into one invocation. Trailing
			// assistant messages are history; mark them processed.
			var trailing []agui.Message
			var trailingAssistantIDs []string
			tmp := index
			for tmp < len(unseen) && unseen[tmp].Role != agui.RoleTool {
				if unseen[tmp].Role == agui.RoleAssistant {
					if unseen[tmp].ID != "" {
						trailingAssistantIDs = append(trailingAssistantIDs, unseen[tmp].ID)
					}
				} else {
					trailing = append(trailing, unseen[tmp])
				}
				tmp++
			}
			if len(trailing) > 0 || len(trailingAssistantIDs) > 0 {
				index = tmp
				if len(trailingAssistantIDs) > 0 {
					b.sessions.MarkMessagesProcessed(appName, threadID, trailingAssistantIDs)
				}
			}

			b.handleToolResultSubmission(ctx, out, input, toolBatch, trailing, !skipToolMessageBatch)
			skipToolMessageBatch = false
			continue
		}

		var messageBatch []agui.Message
		var assistantIDs []string
		for index < len(unseen) && unseen[index].Role != agui.RoleTool {
			if unseen[index].Role == agui.RoleAssistant {
				if unseen[index].ID != "" {
					assistantIDs = append(assistantIDs, unseen[index].ID)
				}
			} else {
				messageBatch = append(messageBatch, unseen[index])
			}
			index++
		}
		if len(assistantIDs) > 0 {
			b.sessions.MarkMessagesProcessed(appName, threadID, assistantIDs)
		}
		if len(messageBatch) == 0 {
			if len(assistantIDs) > 0 {
				skipToolMessageBatch = true
			}
			continue
		}
		skipToolMessageBatch = false

		// When the tool batch that follows will be skipped entirely, this
		// batch is historical context from a backend tool interaction.
		if index < len(unseen) && unseen[index].Role == agui.RoleTool {
			peek := index
			var upcomingIDs []string
			for peek < len(unseen) && unseen[peek].Role == agui.RoleTool {
				if unseen[peek].ToolCallID != "" {
					upcomingIDs = append(upcomingIDs, unseen[peek].ToolCallID)
				}
				peek++
			}
			if len(upcomingIDs) > 0 {
				if pending, known := b.pendingToolCallIDs(ctx, threadID); known {
					if !anyIntersect(upcomingIDs, pending) {
						if ids := collectMessageIDs(messageBatch); len(ids) > 0 {
							b.sessions.MarkMessagesProcessed(appName, threadID, ids)
						}
						continue
					}
				}
			}
		}

		b.startNewExecution(ctx, out, input, nil, messageBatch)
	}
}

func (b *Bridge) handleToolResultSubmission(ctx context.Context, out chan<- events.Event, input *agui.RunAgentInput, toolBatch, trailing []agui.Message, includeMessageBatch bool) {
	threadID := input.ThreadID
	appName := b.appName(input)

	// Synthetic confirm_changes results are filtered here; the runtime never
	// called that tool so its result must not go downstream.
	results := b.extractToolResults(input, toolBatch)

	if len(results) == 0 && len(toolBatch) > 0 {
		if ids := collectMessageIDs(toolBatch); len(ids) > 0 {
			b.sessions.MarkMessagesProcessed(appName, threadID, ids)
		}
		if len(trailing) > 0 {
			b.startNewExecution(ctx, out, input, nil, trailing)
			return
		}
		// The user confirmed with nothing to follow up; emit an empty run so
		// the protocol frame still closes cleanly.
		b.logger.Debug("synthetic tool results with no trailing messages", "thread_id", threadID)
		emit(ctx, out, events.NewRunStartedEvent(threadID, input.RunID))
		emit(ctx, out, events.NewRunFinishedEvent(threadID, input.RunID))
		return
	}

	if len(results) == 0 {
		b.logger.Error("tool result submission without tool results", "thread_id", threadID)
		emit(ctx, out, events.NewRunErrorEvent("No tool results found in submission",
			events.WithErrorCode(adkbridge.CodeNoToolResults)))
		return
	}

	for _, result := range results {
		if b.hasPendingToolCalls(ctx, threadID) {
			b.removePendingToolCall(ctx, threadID, result.message.ToolCallID)
		}
	}

	messageBatch := trailing
	if len(messageBatch) == 0 && includeMessageBatch {
		messageBatch = toolBatch
	}
	b.startNewExecution(ctx, out, input, results, messageBatch)
}

func (b *Bridge) startNewExecution(ctx context.Context, out chan<- events.Event, input *agui.RunAgentInput, toolResults []toolResult, messageBatch []agui.Message) {
	threadID := input.ThreadID
	emit(ctx, out, events.NewRunStartedEvent(threadID, input.RunID))

	exec, err := b.launchExecution(ctx, input, toolResults, messageBatch)
	if err != nil {
		code := adkbridge.CodeExecutionError
		if len(toolResults) > 0 {
			code = adkbridge.CodeToolResultProcessing
		}
		b.logger.Error("execution start failed", "thread_id", threadID, "error", err)
		emit(ctx, out, events.NewRunErrorEvent(err.Error(), events.WithErrorCode(code)))
		return
	}

	// Candidate pending ids: every TOOL_CALL_END becomes a candidate; a
	// matching TOOL_CALL_RESULT means the runtime resolved it itself.
	var candidateIDs []string

	forward := func(ev events.Event) bool {
		switch e := ev.(type) {
		case *events.ToolCallEndEvent:
			candidateIDs = append(candidateIDs, e.ToolCallID)
		case *events.ToolCallResultEvent:
			if i := slices.Index(candidateIDs, e.ToolCallID); i >= 0 {
				candidateIDs = slices.Delete(candidateIDs, i, i+1)
				b.sessions.MarkMessagesProcessed(b.appName(input), threadID, []string{e.ToolCallID})
			}
		}
		return emit(ctx, out, ev)
	}

	b.consumeExecution(ctx, exec, forward)

	if len(candidateIDs) > 0 {
		appName := b.appName(input)
		userID := b.userID(input)
		for _, toolCallID := range candidateIDs {
			b.addPendingToolCall(ctx, threadID, toolCallID, appName, userID)
			exec.AddPending(toolCallID)
		}
	}

	emit(ctx, out, events.NewRunFinishedEvent(threadID, input.RunID))

	// Resolve pending state before taking the lock: hasPendingToolCalls
	// reads the session cache under b.mu itself.
	hasPending := b.hasPendingToolCalls(ctx, threadID)

	b.mu.Lock()
	if current, ok := b.active[threadID]; ok && current == exec {
		exec.markComplete()
		if !hasPending {
			delete(b.active, threadID)
		}
	}
	b.mu.Unlock()
}

func (b *Bridge) launchExecution(ctx context.Context, input *agui.RunAgentInput, toolResults []toolResult, messageBatch []agui.Message) (*ExecutionState, error) {
	threadID := input.ThreadID

	b.mu.Lock()
	if len(b.active) >= b.cfg.maxConcurrent {
		b.cleanupStaleExecutionsLocked()
		if len(b.active) >= b.cfg.maxConcurrent {
			b.mu.Unlock()
			return nil, fmt.Errorf("%w (%d)", adkbridge.ErrCapacity, b.cfg.maxConcurrent)
		}
	}
	existing := b.active[threadID]
	b.mu.Unlock()

	// Serialize executions per thread.
	if existing != nil && !existing.IsComplete() {
		b.logger.Debug("waiting for existing execution", "thread_id", threadID)
		select {
		case <-existing.Done():
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	exec := newExecutionState(threadID, 64, cancel)

	agent := b.prepareAgent(input, exec.Queue)

	go func() {
		defer close(exec.done)
		b.runWorker(workerCtx, input, agent, toolResults, messageBatch, exec.Queue)
	}()

	b.mu.Lock()
	b.active[threadID] = exec
	b.mu.Unlock()
	return exec, nil
}

// consumeExecution drains the worker queue until the nil sentinel, a stale
// timeout, or a dead worker with an empty queue.
func (b *Bridge) consumeExecution(ctx context.Context, exec *ExecutionState, forward func(events.Event) bool) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case ev := <-exec.Queue:
			if ev == nil {
				exec.markComplete()
				return
			}
			if !forward(ev) {
				return
			}
		case <-ticker.C:
			if exec.IsStale(b.cfg.executionTimeout) {
				b.logger.Error("execution timed out", "thread_id", exec.ThreadID)
				forward(events.NewRunErrorEvent("Execution timed out",
					events.WithErrorCode(adkbridge.CodeExecutionTimeout)))
				return
			}
			select {
			case <-exec.Done():
				// Worker exited without the sentinel; drain what remains.
				for {
					select {
					case ev := <-exec.Queue:
						if ev == nil {
							exec.markComplete()
							return
						}
						if !forward(ev) {
							return
						}
					default:
						exec.markComplete()
						return
					}
				}
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) cleanupStaleExecutionsLocked() {
	for threadID, exec := range b.active {
		if exec.IsStale(b.cfg.executionTimeout) {
			delete(b.active, threadID)
			go exec.Cancel()
			b.logger.Info("cleaned up stale execution", "thread_id", threadID)
		}
	}
}

func (b *Bridge) appName(input *agui.RunAgentInput) string {
	switch {
	case b.cfg.appName != "":
		return b.cfg.appName
	case b.cfg.appNameExtractor != nil:
		return b.cfg.appNameExtractor(input)
	default:
		return b.agent.Name
	}
}

func (b *Bridge) userID(input *agui.RunAgentInput) string {
	switch {
	case b.cfg.userID != "":
		return b.cfg.userID
	case b.cfg.userIDExtractor != nil:
		return b.cfg.userIDExtractor(input)
	default:
		return "thread_user_" + input.ThreadID
	}
}

// unseenMessages filters the input history down to messages not yet
// processed for this thread. Tool messages whose call id is processed are
// dropped too, so backend-resolved tool results do not replay.
func (b *Bridge) unseenMessages(input *agui.RunAgentInput) []agui.Message {
	if len(input.Messages) == 0 {
		return nil
	}
	processed := b.sessions.ProcessedMessageIDs(b.appName(input), input.ThreadID)
	var unseen []agui.Message
	for _, msg := range input.Messages {
		if msg.ID != "" {
			if _, ok := processed[msg.ID]; ok {
				continue
			}
		}
		if msg.ToolCallID != "" {
			if _, ok := processed[msg.ToolCallID]; ok {
				continue
			}
		}
		unseen = append(unseen, msg)
	}
	return unseen
}

func (b *Bridge) shouldProcessToolBatch(ctx context.Context, threadID string, batch []agui.Message) bool {
	var toolCallIDs []string
	for _, msg := range batch {
		if msg.ToolCallID != "" {
			toolCallIDs = append(toolCallIDs, msg.ToolCallID)
		}
	}
	pending, known := b.pendingToolCallIDs(ctx, threadID)
	if !known {
		return true
	}
	if len(toolCallIDs) > 0 {
		return anyIntersect(toolCallIDs, pending)
	}
	return len(pending) > 0
}

func (b *Bridge) extractToolResults(input *agui.RunAgentInput, candidates []agui.Message) []toolResult {
	if candidates == nil {
		candidates = input.Messages
	}
	var results []toolResult
	for _, msg := range candidates {
		if msg.Role != agui.RoleTool {
			continue
		}
		name := agui.ResolveToolName(input.Messages, msg.ToolCallID)
		if name == "" {
			name = "unknown"
		}
		if name == adkbridge.ConfirmChangesToolName {
			b.logger.Debug("skipping synthetic confirm_changes tool result",
				"tool_call_id", msg.ToolCallID)
			continue
		}
		results = append(results, toolResult{toolName: name, message: msg})
	}
	return results
}

func (b *Bridge) sessionMetadata(threadID string) (sessionRef, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ref, ok := b.sessionCache[threadID]
	return ref, ok
}

func (b *Bridge) cacheSession(threadID string, ref sessionRef) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessionCache[threadID] = ref
}

// ensureSession resolves the backend session for a thread, revalidating the
// cache against the store.
func (b *Bridge) ensureSession(ctx context.Context, appName, userID, threadID string, initialState map[string]any) (*adk.Session, error) {
	if ref, ok := b.sessionMetadata(threadID); ok {
		if sess := b.sessions.GetSession(ctx, ref.sessionID, ref.appName, ref.userID); sess != nil {
			return sess, nil
		}
	}
	sess, err := b.sessions.GetOrCreateSession(ctx, threadID, appName, userID, initialState)
	if err != nil {
		return nil, err
	}
	b.cacheSession(threadID, sessionRef{sessionID: sess.ID, appName: appName, userID: userID})
	return sess, nil
}

func (b *Bridge) pendingToolCallIDs(ctx context.Context, threadID string) ([]string, bool) {
	ref, ok := b.sessionMetadata(threadID)
	if !ok {
		return nil, false
	}
	value := b.sessions.GetStateValue(ctx, ref.sessionID, ref.appName, ref.userID, pendingToolCallsKey, nil)
	return toStringSlice(value), true
}

func (b *Bridge) hasPendingToolCalls(ctx context.Context, threadID string) bool {
	pending, known := b.pendingToolCallIDs(ctx, threadID)
	return known && len(pending) > 0
}

func (b *Bridge) addPendingToolCall(ctx context.Context, threadID, toolCallID, appName, userID string) {
	ref, ok := b.sessionMetadata(threadID)
	if !ok {
		b.logger.Warn("no session metadata, cannot add pending tool call",
			"thread_id", threadID, "tool_call_id", toolCallID)
		return
	}
	pending := toStringSlice(b.sessions.GetStateValue(ctx, ref.sessionID, appName, userID, pendingToolCallsKey, nil))
	if slices.Contains(pending, toolCallID) {
		return
	}
	pending = append(pending, toolCallID)
	if b.sessions.SetStateValue(ctx, ref.sessionID, appName, userID, pendingToolCallsKey, pending) {
		b.logger.Info("added pending tool call", "thread_id", threadID, "tool_call_id", toolCallID)
	}
}

func (b *Bridge) removePendingToolCall(ctx context.Context, threadID, toolCallID string) {
	ref, ok := b.sessionMetadata(threadID)
	if !ok {
		return
	}
	pending := toStringSlice(b.sessions.GetStateValue(ctx, ref.sessionID, ref.appName, ref.userID, pendingToolCallsKey, nil))
	i := slices.Index(pending, toolCallID)
	if i < 0 {
		return
	}
	pending = slices.Delete(pending, i, i+1)
	if b.sessions.SetStateValue(ctx, ref.sessionID, ref.appName, ref.userID, pendingToolCallsKey, pending) {
		b.logger.Info("removed pending tool call", "thread_id", threadID, "tool_call_id", toolCallID)
	}
}

func emit(ctx context.Context, out chan<- events.Event, ev events.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func containsToolMessage(msgs []agui.Message) bool {
	for _, msg := range msgs {
		if msg.Role == agui.RoleTool {
			return true
		}
	}
	return false
}

func collectMessageIDs(msgs []agui.Message) []string {
	var ids []string
	for _, msg := range msgs {
		if msg.ID != "" {
			ids = append(ids, msg.ID)
		}
	}
	return ids
}

func anyIntersect(ids, pending []string) bool {
	for _, id := range ids {
		if slices.Contains(pending, id) {
			return true
		}
	}
	return false
}

func toStringSlice(v any) []string {
	switch vv := v.(type) {
	case nil:
		return nil
	case []string:
		return slices.Clone(vv)
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
