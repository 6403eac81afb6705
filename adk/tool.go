package adk

import (
	"context"

	"google.golang.org/genai"
)

// Tool is a runtime-invocable capability. Long-running tools return no value
// from Run; the runtime treats the absent result as pending and the caller is
// expected to supply it out of band.
type Tool interface {
	Name() string
	Description() string

	// IsLongRunning reports whether the runtime should expect the result to
	// arrive later rather than from Run.
	IsLongRunning() bool

	// Declaration returns the function declaration advertised to the model.
	Declaration() *genai.FunctionDeclaration

	// Run executes the tool. Long-running tools return (nil, nil).
	Run(ctx context.Context, args map[string]any) (map[string]any, error)
}

type toolCallIDKey struct{}

// WithToolCallID attaches the runtime-assigned function call id to the
// context passed to Tool.Run.
func WithToolCallID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, toolCallIDKey{}, id)
}

// ToolCallIDFromContext returns the runtime-assigned function call id, if the
// runner attached one.
func ToolCallIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(toolCallIDKey{}).(string)
	return id, ok && id != ""
}
