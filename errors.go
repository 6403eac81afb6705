package adkbridge

import "errors"

// Error codes carried by RUN_ERROR events.
const (
	// CodeNoToolResults indicates a tool result submission contained no
	// usable tool messages after synthetic results were filtered.
	CodeNoToolResults = "NO_TOOL_RESULTS"

	// CodeToolResultProcessing indicates an unexpected failure while
	// processing submitted tool results.
	CodeToolResultProcessing = "TOOL_RESULT_PROCESSING_ERROR"

	// CodeExecutionError indicates an unexpected failure in the foreground
	// run loop.
	CodeExecutionError = "EXECUTION_ERROR"

	// CodeBackgroundExecutionError indicates a failure inside the background
	// worker driving the runtime.
	CodeBackgroundExecutionError = "BACKGROUND_EXECUTION_ERROR"

	// CodeExecutionTimeout indicates the worker exceeded the configured
	// execution timeout.
	CodeExecutionTimeout = "EXECUTION_TIMEOUT"

	// CodeEncodingError indicates an event could not be serialized at the
	// transport boundary.
	CodeEncodingError = "ENCODING_ERROR"

	// CodeAgentError indicates a failure surfaced by the transport while
	// running the agent.
	CodeAgentError = "AGENT_ERROR"
)

// ErrCapacity is returned when the bridge is at its concurrent execution
// limit and no stale executions could be reclaimed.
var ErrCapacity = errors.New("maximum concurrent executions reached")
