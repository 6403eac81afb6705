package bridge

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
	"github.com/spetersoncode/adkbridge/agui"
	"github.com/spetersoncode/adkbridge/translate"
)

// prepareAgent builds the per-request agent copy: client tools proxied onto
// the worker queue, and a leading system message appended to the
// instruction. The configured agent is never mutated.
func (b *Bridge) prepareAgent(input *agui.RunAgentInput, queue chan<- events.Event) *adk.Agent {
	agent := b.agent

	needsCopy := len(input.Tools) > 0
	var systemContent string
	if len(input.Messages) > 0 && input.Messages[0].Role == agui.RoleSystem {
		if text, ok := input.Messages[0].ContentText(); ok && text != "" {
			systemContent = text
			needsCopy = true
		}
	}
	if !needsCopy {
		return agent
	}

	agent = agent.Clone()
	if systemContent != "" {
		agent.Instruction = adk.AppendInstruction(agent.Instruction, systemContent)
	}
	if len(input.Tools) > 0 {
		proxies := proxyClientTools(agent, input.Tools, queue, b.logger)
		agent.Tools = append(agent.Tools, proxies...)
	}
	return agent
}

// runWorker drives one runtime invocation, translating its events onto the
// queue. It always enqueues a nil sentinel last, after an error event when
// the run failed.
func (b *Bridge) runWorker(ctx context.Context, input *agui.RunAgentInput, agent *adk.Agent, toolResults []toolResult, messageBatch []agui.Message, queue chan events.Event) {
	enqueue := func(ev events.Event) bool {
		select {
		case queue <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if err := b.runWorkerInner(ctx, input, agent, toolResults, messageBatch, enqueue); err != nil {
		b.logger.Error("background execution error", "thread_id", input.ThreadID, "error", err)
		enqueue(events.NewRunErrorEvent(err.Error(),
			events.WithErrorCode(adkbridge.CodeBackgroundExecutionError)))
	}
	enqueue(nil)
}

func (b *Bridge) runWorkerInner(ctx context.Context, input *agui.RunAgentInput, agent *adk.Agent, toolResults []toolResult, messageBatch []agui.Message, enqueue func(events.Event) bool) error {
	threadID := input.ThreadID
	appName := b.appName(input)
	userID := b.userID(input)

	runner, err := b.runnerFactory(agent, appName)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runner.Close(closeCtx); err != nil {
			b.logger.Warn("closing runner", "thread_id", threadID, "error", err)
		}
	}()

	sess, err := b.ensureSession(ctx, appName, userID, threadID, input.StateMap())
	if err != nil {
		return err
	}

	// The frontend is authoritative for the state it controls; overwrite
	// unconditionally so UI-side removals propagate.
	if state := input.StateMap(); len(state) > 0 {
		b.sessions.UpdateSessionState(ctx, sess.ID, appName, userID, state)
	}

	unseen := messageBatch
	if unseen == nil {
		unseen = b.unseenMessages(input)
	}

	activeResults := toolResults
	if activeResults == nil && len(unseen) > 0 && unseen[len(unseen)-1].Role == agui.RoleTool {
		activeResults = b.extractToolResults(input, unseen)
	}

	if len(activeResults) > 0 {
		var ids []string
		for _, result := range activeResults {
			if result.message.ID != "" {
				ids = append(ids, result.message.ID)
			}
		}
		b.sessions.MarkMessagesProcessed(appName, threadID, ids)
	} else if len(unseen) > 0 {
		if ids := collectMessageIDs(unseen); len(ids) > 0 {
			b.sessions.MarkMessagesProcessed(appName, threadID, ids)
		}
	}

	userMessage := latestUserContent(unseen)

	var newMessage *genai.Content
	switch {
	case len(activeResults) > 0 && userMessage != nil:
		// Tool results and a follow-up user message: record the function
		// responses in the session first, then send only the user message.
		responseEvent := &adk.Event{
			Author:    "user",
			Content:   functionResponseContent(activeResults),
			Timestamp: time.Now(),
		}
		if err := b.svc.AppendEvent(ctx, sess, responseEvent); err != nil {
			return err
		}
		if ids := collectMessageIDs(messageBatch); len(ids) > 0 {
			b.sessions.MarkMessagesProcessed(appName, threadID, ids)
		}
		newMessage = userMessage
	case len(activeResults) > 0:
		newMessage = functionResponseContent(activeResults)
	default:
		if userMessage == nil && len(input.Messages) > 0 {
			userMessage = latestUserContent(input.Messages)
		}
		newMessage = userMessage
	}

	translator := translate.New(threadID, input.RunID,
		translate.WithPredictState(b.cfg.predictState),
		translate.WithLogger(b.logger))

	runConfig := b.cfg.runConfigFactory(input)
	if runConfig.ToolTimeout == 0 {
		runConfig.ToolTimeout = b.cfg.toolTimeout
	}
	runtimeEvents, err := runner.Run(ctx, userID, sess.ID, newMessage, runConfig)
	if err != nil {
		return err
	}

	longRunningStop := false
	for adkEvent := range runtimeEvents {
		if adkEvent == nil {
			continue
		}

		if adkEvent.HasLongRunningFunctionCall() {
			// A long-running tool ends the run: close any open stream, emit
			// the call, and stop consuming.
			for _, ev := range translator.ForceCloseStreamingMessage() {
				if !enqueue(ev) {
					return ctx.Err()
				}
			}
			for _, ev := range translator.TranslateLongRunning(adkEvent) {
				if !enqueue(ev) {
					return ctx.Err()
				}
				if _, ok := ev.(*events.ToolCallEndEvent); ok {
					longRunningStop = true
				}
			}
			if longRunningStop {
				break
			}
			continue
		}

		hasContent := adkEvent.Content != nil && len(adkEvent.Content.Parts) > 0
		isStreamingChunk := adkEvent.Partial || !adkEvent.TurnComplete || !adkEvent.IsFinalResponse()
		hasFunctionResponses := len(adkEvent.FunctionResponses()) > 0

		if isStreamingChunk || hasContent || hasFunctionResponses {
			for _, ev := range translator.Translate(adkEvent) {
				if !enqueue(ev) {
					return ctx.Err()
				}
			}
		} else {
			for _, ev := range translator.ForceCloseStreamingMessage() {
				if !enqueue(ev) {
					return ctx.Err()
				}
			}
		}
	}

	for _, ev := range translator.ForceCloseStreamingMessage() {
		if !enqueue(ev) {
			return ctx.Err()
		}
	}

	// Snapshot after text closure so the state lands on a clean frame.
	if finalState := b.sessions.GetSessionState(ctx, sess.ID, appName, userID); len(finalState) > 0 {
		if !enqueue(translator.StateSnapshotEvent(finalState)) {
			return ctx.Err()
		}
	}

	if b.cfg.emitMessagesSnapshot {
		if fresh := b.sessions.GetSession(ctx, sess.ID, appName, userID); fresh != nil && len(fresh.Events) > 0 {
			if messages := translate.EventsToMessages(fresh.Events); len(messages) > 0 {
				if !enqueue(events.NewMessagesSnapshotEvent(messages)) {
					return ctx.Err()
				}
			}
		}
	}

	// Deferred confirm events go last so the confirmation dialog stays
	// actionable in the client.
	for _, ev := range translator.DeferredConfirmEvents() {
		if !enqueue(ev) {
			return ctx.Err()
		}
	}

	return nil
}

// latestUserContent converts the most recent user message to runtime
// content, or nil when none exists.
func latestUserContent(msgs []agui.Message) *genai.Content {
	msg := agui.LatestUserMessage(msgs)
	if msg == nil {
		return nil
	}
	parts := agui.ContentToParts(msg)
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: "user", Parts: parts}
}

// functionResponseContent builds the user-authored content carrying one
// function response per submitted tool result.
func functionResponseContent(results []toolResult) *genai.Content {
	parts := make([]*genai.Part, 0, len(results))
	for _, result := range results {
		content, _ := result.message.ContentText()
		parts = append(parts, &genai.Part{
			FunctionResponse: &genai.FunctionResponse{
				ID:       result.message.ToolCallID,
				Name:     result.toolName,
				Response: parseToolResultContent(content),
			},
		})
	}
	return &genai.Content{Role: "user", Parts: parts}
}

// parseToolResultContent interprets a submitted tool result. Valid JSON
// passes through; plain strings and empty content are wrapped in a success
// envelope.
func parseToolResultContent(content string) map[string]any {
	if content == "" {
		return map[string]any{"success": true, "result": nil, "status": "completed"}
	}
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		if obj, ok := parsed.(map[string]any); ok {
			return obj
		}
		return map[string]any{"success": true, "result": parsed, "status": "completed"}
	}
	return map[string]any{"success": true, "result": content, "status": "completed"}
}
