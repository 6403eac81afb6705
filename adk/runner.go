package adk

import (
	"context"
	"time"

	"google.golang.org/genai"
)

// StreamingMode selects how the runner streams model output.
type StreamingMode string

const (
	// StreamingModeNone disables streaming; the runner emits consolidated
	// events only.
	StreamingModeNone StreamingMode = "none"

	// StreamingModeSSE streams incremental partial events followed by a
	// consolidated event.
	StreamingModeSSE StreamingMode = "sse"
)

// RunConfig configures a single runner invocation.
type RunConfig struct {
	StreamingMode StreamingMode

	// SaveInputBlobsAsArtifacts stores inline binary input through the
	// runtime's artifact service.
	SaveInputBlobsAsArtifacts bool

	// ToolTimeout bounds each tool invocation. Zero means no bound.
	ToolTimeout time.Duration
}

// DefaultRunConfig returns the config used when no factory is configured:
// SSE streaming with input blobs saved as artifacts.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		StreamingMode:             StreamingModeSSE,
		SaveInputBlobsAsArtifacts: true,
	}
}

// Runner drives an agent runtime for one request. A Runner is created per
// request (its agent may carry request-scoped tools) and closed when the
// request's background work finishes.
type Runner interface {
	// Run appends newMessage to the session and runs the agent, returning a
	// channel of runtime events. The channel is closed when the invocation
	// completes; a nil newMessage resumes from session history alone.
	Run(ctx context.Context, userID, sessionID string, newMessage *genai.Content, cfg RunConfig) (<-chan *Event, error)

	// Close releases runner resources, including request-scoped toolsets.
	Close(ctx context.Context) error
}

// RunnerFactory builds a Runner for a prepared agent. The bridge calls it
// once per background execution with the per-request agent copy.
type RunnerFactory func(agent *Agent, appName string) (Runner, error)
