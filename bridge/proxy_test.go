package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge"
	"github.com/spetersoncode/adkbridge/adk"
	"github.com/spetersoncode/adkbridge/agui"
)

type nativeTool struct{ name string }

func (n nativeTool) Name() string        { return n.name }
func (n nativeTool) Description() string { return "native" }
func (n nativeTool) IsLongRunning() bool { return false }
func (n nativeTool) Declaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{Name: n.name}
}
func (n nativeTool) Run(context.Context, map[string]any) (map[string]any, error) {
	return map[string]any{}, nil
}

func TestClientProxyTool_Run(t *testing.T) {
	queue := make(chan events.Event, 8)
	proxy := newClientProxyTool(agui.Tool{
		Name:        "ask_user",
		Description: "ask the user",
		Parameters:  json.RawMessage(`{"type":"object"}`),
	}, queue, slog.Default())

	assert.True(t, proxy.IsLongRunning())
	assert.Equal(t, "ask_user", proxy.Name())

	decl := proxy.Declaration()
	require.NotNil(t, decl)
	assert.Equal(t, "ask_user", decl.Name)
	assert.Equal(t, json.RawMessage(`{"type":"object"}`), decl.ParametersJsonSchema)

	ctx := adk.WithToolCallID(context.Background(), "call-1")
	result, err := proxy.Run(ctx, map[string]any{"q": "ok?"})
	require.NoError(t, err)
	assert.Nil(t, result)

	start := (<-queue).(*events.ToolCallStartEvent)
	assert.Equal(t, "call-1", start.ToolCallID)
	assert.Equal(t, "ask_user", start.ToolCallName)

	args := (<-queue).(*events.ToolCallArgsEvent)
	assert.JSONEq(t, `{"q":"ok?"}`, args.Delta)

	end := (<-queue).(*events.ToolCallEndEvent)
	assert.Equal(t, "call-1", end.ToolCallID)
}

func TestClientProxyTool_RunGeneratesMissingID(t *testing.T) {
	queue := make(chan events.Event, 8)
	proxy := newClientProxyTool(agui.Tool{Name: "ask_user"}, queue, slog.Default())

	_, err := proxy.Run(context.Background(), nil)
	require.NoError(t, err)

	start := (<-queue).(*events.ToolCallStartEvent)
	assert.NotEmpty(t, start.ToolCallID)

	// No args delta when args are empty beyond the default object.
	args := (<-queue).(*events.ToolCallArgsEvent)
	assert.Equal(t, "{}", args.Delta)
}

func TestProxyClientTools(t *testing.T) {
	queue := make(chan events.Event, 8)
	agent := &adk.Agent{
		Name:  "agent",
		Tools: []adk.Tool{nativeTool{name: "get_current_time"}},
	}

	tools := []agui.Tool{
		{Name: "ask_user"},
		{Name: adkbridge.HandoffToolName}, // internal, never proxied
		{Name: "get_current_time"},       // shadowed by the agent tool
	}

	proxies := proxyClientTools(agent, tools, queue, slog.Default())
	require.Len(t, proxies, 1)
	assert.Equal(t, "ask_user", proxies[0].Name())
}
