package translate

import (
	"encoding/json"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge/adk"
)

// EventsToMessages projects a session's event log onto an AG-UI message
// list. Partial events and events without content parts are skipped; only
// complete user, model, and function-response events contribute messages.
func EventsToMessages(evs []*adk.Event) []events.Message {
	var messages []events.Message

	for _, ev := range evs {
		if ev == nil || ev.Content == nil || ev.Partial {
			continue
		}
		if len(ev.Content.Parts) == 0 {
			continue
		}

		if responses := ev.FunctionResponses(); len(responses) > 0 {
			for _, fr := range responses {
				toolCallID := fr.ID
				if toolCallID == "" {
					toolCallID = uuid.NewString()
				}
				content := SerializeToolResponse(fr.Response)
				messages = append(messages, events.Message{
					ID:         uuid.NewString(),
					Role:       "tool",
					Content:    &content,
					ToolCallID: &toolCallID,
				})
			}
			continue
		}

		text := ev.Text()
		calls := ev.FunctionCalls()
		if text == "" && len(calls) == 0 {
			continue
		}

		id := ev.ID
		if id == "" {
			id = uuid.NewString()
		}

		switch ev.Author {
		case "user":
			messages = append(messages, events.Message{
				ID:      id,
				Role:    "user",
				Content: &text,
			})
		case "model", "":
			msg := events.Message{
				ID:   id,
				Role: "assistant",
			}
			if text != "" {
				msg.Content = &text
			}
			if len(calls) > 0 {
				msg.ToolCalls = FunctionCallsToToolCalls(calls)
			}
			messages = append(messages, msg)
		}
	}

	return messages
}

// FunctionCallsToToolCalls converts runtime function calls into AG-UI tool
// calls with JSON-encoded arguments.
func FunctionCallsToToolCalls(calls []*genai.FunctionCall) []events.ToolCall {
	out := make([]events.ToolCall, 0, len(calls))
	for _, fc := range calls {
		id := fc.ID
		if id == "" {
			id = uuid.NewString()
		}
		arguments := "{}"
		if len(fc.Args) > 0 {
			if data, err := json.Marshal(fc.Args); err == nil {
				arguments = string(data)
			}
		}
		out = append(out, events.ToolCall{
			ID:   id,
			Type: "function",
			Function: events.Function{
				Name:      fc.Name,
				Arguments: arguments,
			},
		})
	}
	return out
}
