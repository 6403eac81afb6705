package bridge

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
	"github.com/spetersoncode/adkbridge/agui"
)

// clientProxyTool presents a frontend-declared tool to the runtime. It is
// long-running: invoking it emits the tool call events onto the worker queue
// and returns no result, leaving the call pending until the client submits
// one.
type clientProxyTool struct {
	tool   agui.Tool
	queue  chan<- events.Event
	logger *slog.Logger
}

func newClientProxyTool(tool agui.Tool, queue chan<- events.Event, logger *slog.Logger) *clientProxyTool {
	return &clientProxyTool{tool: tool, queue: queue, logger: logger}
}

func (t *clientProxyTool) Name() string        { return t.tool.Name }
func (t *clientProxyTool) Description() string { return t.tool.Description }
func (t *clientProxyTool) IsLongRunning() bool { return true }

// Declaration carries the client's JSON schema verbatim; the runtime passes
// it through to the model unchanged.
func (t *clientProxyTool) Declaration() *genai.FunctionDeclaration {
	decl := &genai.FunctionDeclaration{
		Name:        t.tool.Name,
		Description: t.tool.Description,
	}
	if len(t.tool.Parameters) > 0 {
		decl.ParametersJsonSchema = json.RawMessage(t.tool.Parameters)
	}
	return decl
}

func (t *clientProxyTool) Run(ctx context.Context, args map[string]any) (map[string]any, error) {
	toolCallID, ok := adk.ToolCallIDFromContext(ctx)
	if !ok || toolCallID == "" {
		toolCallID = uuid.NewString()
		t.logger.Warn("runtime supplied no tool call id, generated one",
			"tool", t.tool.Name, "tool_call_id", toolCallID)
	}

	t.logger.Debug("proxying client tool call", "tool", t.tool.Name, "tool_call_id", toolCallID)

	argsJSON := "{}"
	if len(args) > 0 {
		if data, err := json.Marshal(args); err == nil {
			argsJSON = string(data)
		}
	}

	for _, ev := range []events.Event{
		events.NewToolCallStartEvent(toolCallID, t.tool.Name),
		events.NewToolCallArgsEvent(toolCallID, argsJSON),
		events.NewToolCallEndEvent(toolCallID),
	} {
		select {
		case t.queue <- ev:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// No result: the runtime treats the call as pending until the client
	// submits one.
	return nil, nil
}

// proxyClientTools builds proxy tools for the client declarations that do
// not shadow an agent-native tool. The internal handoff tool is never
// proxied.
func proxyClientTools(agent *adk.Agent, tools []agui.Tool, queue chan<- events.Event, logger *slog.Logger) []adk.Tool {
	var out []adk.Tool
	for _, tool := range tools {
		if tool.Name == adkbridge.HandoffToolName {
			continue
		}
		if agent.HasTool(tool.Name) {
			logger.Debug("client tool shadowed by agent tool", "tool", tool.Name)
			continue
		}
		out = append(out, newClientProxyTool(tool, queue, logger))
	}
	return out
}
