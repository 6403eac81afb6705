package agui

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/spetersoncode/adkbridge/adk"
)

// ContentToParts converts a message's content into genai parts. Empty text
// items, undecodable binary items, and unknown item types are logged and
// skipped so one bad part never fails the whole message.
func ContentToParts(msg *Message) []*genai.Part {
	items, err := msg.ContentItems()
	if err != nil {
		slog.Warn("skipping unparseable message content", "message_id", msg.ID, "error", err)
		return nil
	}
	var parts []*genai.Part
	for _, item := range items {
		switch item.Type {
		case ContentTypeText:
			if item.Text != "" {
				parts = append(parts, &genai.Part{Text: item.Text})
			}
		case ContentTypeBinary:
			if item.Data == "" || item.MimeType == "" {
				slog.Warn("skipping binary content without inline data",
					"message_id", msg.ID, "url", item.URL, "content_id", item.ID)
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(item.Data)
			if err != nil {
				slog.Warn("skipping undecodable binary content", "message_id", msg.ID, "error", err)
				continue
			}
			parts = append(parts, &genai.Part{
				InlineData: &genai.Blob{MIMEType: item.MimeType, Data: raw},
			})
		default:
			slog.Warn("skipping unknown content item type", "message_id", msg.ID, "type", item.Type)
		}
	}
	return parts
}

// MessageToContent converts a single AG-UI message to runtime content.
// history is scanned to resolve tool names for tool-result messages; it may
// be nil. Returns nil when the message yields no parts.
func MessageToContent(msg *Message, history []Message) *genai.Content {
	switch msg.Role {
	case RoleAssistant:
		return assistantToContent(msg)
	case RoleTool:
		return toolResultToContent(msg, history)
	default:
		// user, system, and developer messages all land as user content.
		parts := ContentToParts(msg)
		if len(parts) == 0 {
			return nil
		}
		return &genai.Content{Role: "user", Parts: parts}
	}
}

// MessagesToContents converts a message slice, dropping messages that yield
// no content.
func MessagesToContents(msgs []Message) []*genai.Content {
	var contents []*genai.Content
	for i := range msgs {
		if c := MessageToContent(&msgs[i], msgs); c != nil {
			contents = append(contents, c)
		}
	}
	return contents
}

// MessagesToEvents converts AG-UI messages into runtime events, one per
// message that yields content. Useful for seeding a session from a
// client-supplied history.
func MessagesToEvents(msgs []Message) []*adk.Event {
	var evs []*adk.Event
	for i := range msgs {
		c := MessageToContent(&msgs[i], msgs)
		if c == nil {
			continue
		}
		author := "user"
		if msgs[i].Role == RoleAssistant {
			author = "model"
		}
		evs = append(evs, &adk.Event{ID: msgs[i].ID, Author: author, Content: c})
	}
	return evs
}

// ExtractText concatenates the text parts of a content.
func ExtractText(c *genai.Content) string {
	if c == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range c.Parts {
		if p != nil && p.Text != "" {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// FlattenContent joins the text of multiple contents with newlines, skipping
// contents with no text.
func FlattenContent(contents []*genai.Content) string {
	var texts []string
	for _, c := range contents {
		if t := ExtractText(c); t != "" {
			texts = append(texts, t)
		}
	}
	return strings.Join(texts, "\n")
}

func assistantToContent(msg *Message) *genai.Content {
	parts := ContentToParts(msg)
	for _, tc := range msg.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				slog.Warn("tool call has unparseable arguments, using empty args",
					"tool_call_id", tc.ID, "tool", tc.Function.Name)
				args = map[string]any{}
			}
		}
		parts = append(parts, &genai.Part{
			FunctionCall: &genai.FunctionCall{ID: tc.ID, Name: tc.Function.Name, Args: args},
		})
	}
	if len(parts) == 0 {
		return nil
	}
	return &genai.Content{Role: "model", Parts: parts}
}

func toolResultToContent(msg *Message, history []Message) *genai.Content {
	if msg.ToolCallID == "" {
		slog.Warn("skipping tool message without tool_call_id", "message_id", msg.ID)
		return nil
	}
	name := ResolveToolName(history, msg.ToolCallID)
	if name == "" {
		name = msg.ToolCallID
	}
	content, _ := msg.ContentText()
	return &genai.Content{
		Role: "user",
		Parts: []*genai.Part{{
			FunctionResponse: &genai.FunctionResponse{
				ID:       msg.ToolCallID,
				Name:     name,
				Response: ParseToolResultContent(content),
			},
		}},
	}
}

// ParseToolResultContent turns a tool result string into a response object.
// Valid JSON objects pass through; other valid JSON is wrapped under
// "result"; plain strings are wrapped the same way.
func ParseToolResultContent(content string) map[string]any {
	if content == "" {
		return map[string]any{"result": nil}
	}
	var v any
	if err := json.Unmarshal([]byte(content), &v); err == nil {
		if obj, ok := v.(map[string]any); ok {
			return obj
		}
		return map[string]any{"result": v}
	}
	return map[string]any{"result": content}
}
