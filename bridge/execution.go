package bridge

import (
	"sync"
	"time"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

// Status describes the lifecycle phase of a background execution.
type Status string

const (
	StatusRunning               Status = "running"
	StatusTaskDone              Status = "task_done"
	StatusComplete              Status = "complete"
	StatusCompleteAwaitingTools Status = "complete_awaiting_tools"
)

// ExecutionState tracks one background worker: its event queue, start time,
// cancellation handle, and the tool calls it left pending.
type ExecutionState struct {
	ThreadID  string
	Queue     chan events.Event
	StartTime time.Time

	cancelFn func()
	done     chan struct{}

	mu       sync.Mutex
	complete bool
	pending  map[string]struct{}
}

func newExecutionState(threadID string, queueSize int, cancel func()) *ExecutionState {
	return &ExecutionState{
		ThreadID:  threadID,
		Queue:     make(chan events.Event, queueSize),
		StartTime: time.Now(),
		cancelFn:  cancel,
		done:      make(chan struct{}),
		pending:   make(map[string]struct{}),
	}
}

// Done is closed when the worker goroutine has returned.
func (e *ExecutionState) Done() <-chan struct{} {
	return e.done
}

// IsStale reports whether the execution has run longer than timeout.
func (e *ExecutionState) IsStale(timeout time.Duration) bool {
	return time.Since(e.StartTime) > timeout
}

// IsComplete reports whether the consumer observed the completion sentinel
// or the execution was cancelled.
func (e *ExecutionState) IsComplete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.complete
}

func (e *ExecutionState) markComplete() {
	e.mu.Lock()
	e.complete = true
	e.mu.Unlock()
}

// Cancel requests worker cancellation and waits for it to terminate.
// Idempotent.
func (e *ExecutionState) Cancel() {
	e.cancelFn()
	<-e.done
	e.markComplete()
}

// AddPending records a tool call id awaiting a client result.
func (e *ExecutionState) AddPending(toolCallID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending[toolCallID] = struct{}{}
}

// RemovePending drops a tool call id from the transient pending set.
func (e *ExecutionState) RemovePending(toolCallID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.pending, toolCallID)
}

// PendingToolCalls returns the transient pending ids.
func (e *ExecutionState) PendingToolCalls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.pending))
	for id := range e.pending {
		out = append(out, id)
	}
	return out
}

// Status reports the current lifecycle phase.
func (e *ExecutionState) Status() Status {
	e.mu.Lock()
	complete := e.complete
	pendingCount := len(e.pending)
	e.mu.Unlock()

	workerDone := false
	select {
	case <-e.done:
		workerDone = true
	default:
	}

	switch {
	case complete && pendingCount > 0:
		return StatusCompleteAwaitingTools
	case complete:
		return StatusComplete
	case workerDone:
		return StatusTaskDone
	default:
		return StatusRunning
	}
}
