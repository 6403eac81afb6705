package adkbridge

// ConfirmChangesToolName is the synthetic tool call emitted to trigger the
// client's confirmation dialog. The runtime never calls this tool, so results
// submitted for it are filtered out before reaching the runtime.
const ConfirmChangesToolName = "confirm_changes"

// HandoffToolName is reserved by the runtime for agent-to-agent handoff and
// is never proxied from client tool declarations.
const HandoffToolName = "transfer_to_agent"

// PredictStateMapping declares that a tool's streamed argument predicts a
// state key, letting the client render state changes in real time while the
// tool arguments are still streaming.
type PredictStateMapping struct {
	// StateKey is the state entry the client should update.
	StateKey string

	// Tool is the name of the tool whose calls trigger the prediction.
	Tool string

	// ToolArgument is the argument that carries the predicted value. Empty
	// means the full argument object.
	ToolArgument string

	// EmitConfirm requests a deferred confirm_changes tool call at the end of
	// any run in which Tool was called, keeping the client's confirmation
	// dialog active.
	EmitConfirm bool
}

// Payload returns the mapping in the wire shape used by the PredictState
// custom event.
func (m PredictStateMapping) Payload() map[string]any {
	return map[string]any{
		"state_key":     m.StateKey,
		"tool":          m.Tool,
		"tool_argument": m.ToolArgument,
	}
}

// NormalizePredictState drops mappings that are missing a state key or tool
// name and returns the remainder in input order.
func NormalizePredictState(mappings []PredictStateMapping) []PredictStateMapping {
	if len(mappings) == 0 {
		return nil
	}
	out := make([]PredictStateMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.StateKey == "" || m.Tool == "" {
			continue
		}
		out = append(out, m)
	}
	return out
}
