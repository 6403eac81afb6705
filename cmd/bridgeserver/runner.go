package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge/adk"
)

// maxToolRounds bounds the model/tool loop for a single invocation.
const maxToolRounds = 8

// newGeminiRunnerFactory returns a RunnerFactory backed by the Gemini API.
// The returned runner streams partial text events, invokes backend tools
// in-process, and stops at long-running tool calls so their results can be
// supplied out of band.
func newGeminiRunnerFactory(client *genai.Client, model string, svc adk.SessionService, logger *slog.Logger) adk.RunnerFactory {
	return func(agent *adk.Agent, appName string) (adk.Runner, error) {
		return &geminiRunner{
			client:  client,
			model:   model,
			svc:     svc,
			agent:   agent,
			appName: appName,
			logger:  logger,
		}, nil
	}
}

type geminiRunner struct {
	client  *genai.Client
	model   string
	svc     adk.SessionService
	agent   *adk.Agent
	appName string
	logger  *slog.Logger
}

func (r *geminiRunner) Run(ctx context.Context, userID, sessionID string, newMessage *genai.Content, cfg adk.RunConfig) (<-chan *adk.Event, error) {
	session, err := r.svc.GetSession(ctx, r.appName, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	invocationID := uuid.NewString()
	if newMessage != nil {
		userEvent := &adk.Event{
			ID:           uuid.NewString(),
			InvocationID: invocationID,
			Author:       "user",
			Content:      newMessage,
		}
		if err := r.svc.AppendEvent(ctx, session, userEvent); err != nil {
			return nil, fmt.Errorf("append user event: %w", err)
		}
	}

	config, err := r.buildConfig(ctx)
	if err != nil {
		return nil, err
	}
	contents := historyContents(session)

	ch := make(chan *adk.Event)
	go func() {
		defer close(ch)
		r.runLoop(ctx, session, invocationID, contents, config, cfg, ch)
	}()
	return ch, nil
}

func (r *geminiRunner) Close(context.Context) error {
	return nil
}

func (r *geminiRunner) buildConfig(ctx context.Context) (*genai.GenerateContentConfig, error) {
	config := &genai.GenerateContentConfig{}

	if r.agent.Instruction != nil {
		instruction, err := r.agent.Instruction.Instruction(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve instruction: %w", err)
		}
		if instruction != "" {
			config.SystemInstruction = &genai.Content{
				Parts: []*genai.Part{{Text: instruction}},
			}
		}
	}

	var declarations []*genai.FunctionDeclaration
	for _, tool := range r.agent.Tools {
		if decl := tool.Declaration(); decl != nil {
			declarations = append(declarations, decl)
		}
	}
	if len(declarations) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	return config, nil
}

func (r *geminiRunner) runLoop(ctx context.Context, session *adk.Session, invocationID string, contents []*genai.Content, config *genai.GenerateContentConfig, cfg adk.RunConfig, ch chan<- *adk.Event) {
	for round := 0; round < maxToolRounds; round++ {
		var fullText string
		var finishReason string
		var calls []*genai.FunctionCall

		for resp, err := range r.client.Models.GenerateContentStream(ctx, r.model, contents, config) {
			if err != nil {
				r.logger.Error("model stream failed", "error", err)
				return
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
				continue
			}
			for _, part := range resp.Candidates[0].Content.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" {
					fullText += part.Text
					if cfg.StreamingMode == adk.StreamingModeSSE {
						if !emit(ctx, ch, &adk.Event{
							ID:           uuid.NewString(),
							InvocationID: invocationID,
							Author:       "model",
							Partial:      true,
							Content: &genai.Content{
								Role:  "model",
								Parts: []*genai.Part{{Text: part.Text}},
							},
						}) {
							return
						}
					}
				}
				if part.FunctionCall != nil {
					calls = append(calls, part.FunctionCall)
				}
			}
			finishReason = string(resp.Candidates[0].FinishReason)
		}

		var parts []*genai.Part
		if fullText != "" {
			parts = append(parts, &genai.Part{Text: fullText})
		}
		var lroIDs []string
		for _, call := range calls {
			if call.ID == "" {
				call.ID = uuid.NewString()
			}
			if tool := r.findTool(call.Name); tool != nil && tool.IsLongRunning() {
				lroIDs = append(lroIDs, call.ID)
			}
			parts = append(parts, &genai.Part{FunctionCall: call})
		}

		final := &adk.Event{
			ID:                 uuid.NewString(),
			InvocationID:       invocationID,
			Author:             "model",
			Content:            &genai.Content{Role: "model", Parts: parts},
			TurnComplete:       len(calls) == 0,
			FinishReason:       finishReason,
			LongRunningToolIDs: lroIDs,
		}
		if err := r.svc.AppendEvent(ctx, session, final); err != nil {
			r.logger.Error("append model event failed", "error", err)
		}
		if !emit(ctx, ch, final) {
			return
		}

		if len(calls) == 0 || len(lroIDs) > 0 {
			return
		}

		responseEvent, err := r.runTools(ctx, invocationID, calls, cfg.ToolTimeout)
		if err != nil {
			r.logger.Error("tool execution failed", "error", err)
			return
		}
		if err := r.svc.AppendEvent(ctx, session, responseEvent); err != nil {
			r.logger.Error("append tool response event failed", "error", err)
		}
		if !emit(ctx, ch, responseEvent) {
			return
		}
		contents = append(contents, final.Content, responseEvent.Content)
	}
	r.logger.Warn("tool round limit reached", "limit", maxToolRounds)
}

// runTools invokes each backend tool and packs the results into a single
// function response event.
func (r *geminiRunner) runTools(ctx context.Context, invocationID string, calls []*genai.FunctionCall, toolTimeout time.Duration) (*adk.Event, error) {
	var parts []*genai.Part
	for _, call := range calls {
		tool := r.findTool(call.Name)
		if tool == nil {
			parts = append(parts, functionResponsePart(call, map[string]any{
				"error": fmt.Sprintf("unknown tool: %s", call.Name),
			}))
			continue
		}
		toolCtx := adk.WithToolCallID(ctx, call.ID)
		cancel := func() {}
		if toolTimeout > 0 {
			toolCtx, cancel = context.WithTimeout(toolCtx, toolTimeout)
		}
		result, err := tool.Run(toolCtx, call.Args)
		cancel()
		if err != nil {
			result = map[string]any{"error": err.Error()}
		}
		if result == nil {
			result = map[string]any{}
		}
		parts = append(parts, functionResponsePart(call, result))
	}
	return &adk.Event{
		ID:           uuid.NewString(),
		InvocationID: invocationID,
		Author:       "model",
		Content:      &genai.Content{Role: "user", Parts: parts},
	}, nil
}

func (r *geminiRunner) findTool(name string) adk.Tool {
	for _, tool := range r.agent.Tools {
		if tool.Name() == name {
			return tool
		}
	}
	return nil
}

func functionResponsePart(call *genai.FunctionCall, response map[string]any) *genai.Part {
	return &genai.Part{
		FunctionResponse: &genai.FunctionResponse{
			ID:       call.ID,
			Name:     call.Name,
			Response: response,
		},
	}
}

// historyContents flattens the session's consolidated events into model input.
func historyContents(session *adk.Session) []*genai.Content {
	var contents []*genai.Content
	for _, ev := range session.Events {
		if ev == nil || ev.Partial || ev.Content == nil || len(ev.Content.Parts) == 0 {
			continue
		}
		contents = append(contents, ev.Content)
	}
	return contents
}

func emit(ctx context.Context, ch chan<- *adk.Event, ev *adk.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// newEchoRunnerFactory returns a RunnerFactory that streams a canned echo of
// the latest user message. It is used when no GOOGLE_API_KEY is configured so
// the server stays usable for protocol-level testing.
func newEchoRunnerFactory(svc adk.SessionService, logger *slog.Logger) adk.RunnerFactory {
	return func(agent *adk.Agent, appName string) (adk.Runner, error) {
		return &echoRunner{svc: svc, agent: agent, appName: appName, logger: logger}, nil
	}
}

type echoRunner struct {
	svc     adk.SessionService
	agent   *adk.Agent
	appName string
	logger  *slog.Logger
}

func (r *echoRunner) Run(ctx context.Context, userID, sessionID string, newMessage *genai.Content, cfg adk.RunConfig) (<-chan *adk.Event, error) {
	session, err := r.svc.GetSession(ctx, r.appName, userID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	invocationID := uuid.NewString()
	reply := "Hello. Send a message and I will echo it back."
	if newMessage != nil {
		userEvent := &adk.Event{
			ID:           uuid.NewString(),
			InvocationID: invocationID,
			Author:       "user",
			Content:      newMessage,
		}
		if err := r.svc.AppendEvent(ctx, session, userEvent); err != nil {
			return nil, fmt.Errorf("append user event: %w", err)
		}
		if text := contentText(newMessage); text != "" {
			reply = "You said: " + text
		}
	}

	ch := make(chan *adk.Event)
	go func() {
		defer close(ch)

		if cfg.StreamingMode == adk.StreamingModeSSE {
			for _, chunk := range splitWords(reply, 3) {
				if !emit(ctx, ch, &adk.Event{
					ID:           uuid.NewString(),
					InvocationID: invocationID,
					Author:       "model",
					Partial:      true,
					Content: &genai.Content{
						Role:  "model",
						Parts: []*genai.Part{{Text: chunk}},
					},
				}) {
					return
				}
			}
		}

		final := &adk.Event{
			ID:           uuid.NewString(),
			InvocationID: invocationID,
			Author:       "model",
			TurnComplete: true,
			FinishReason: "STOP",
			Content: &genai.Content{
				Role:  "model",
				Parts: []*genai.Part{{Text: reply}},
			},
		}
		if err := r.svc.AppendEvent(ctx, session, final); err != nil {
			r.logger.Error("append model event failed", "error", err)
		}
		emit(ctx, ch, final)
	}()
	return ch, nil
}

func (r *echoRunner) Close(context.Context) error {
	return nil
}

func contentText(content *genai.Content) string {
	var text string
	for _, part := range content.Parts {
		if part != nil {
			text += part.Text
		}
	}
	return text
}

// splitWords breaks text into chunks of n words each, preserving spacing at
// chunk boundaries.
func splitWords(text string, n int) []string {
	words := strings.SplitAfter(text, " ")
	var chunks []string
	for i := 0; i < len(words); i += n {
		end := i + n
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[i:end], ""))
	}
	return chunks
}
