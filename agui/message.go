package agui

import (
	"encoding/json"
	"fmt"

	"github.com/ag-ui-protocol/ag-ui/sdks/community/go/pkg/core/events"
)

// Role constants matching the AG-UI protocol.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
	RoleTool      = "tool"
	RoleDeveloper = "developer"
)

// Message is an AG-UI conversation message. Content is either a JSON string
// or a list of content items; use ContentText and ContentItems to inspect it.
type Message struct {
	ID         string            `json:"id"`
	Role       string            `json:"role"`
	Content    json.RawMessage   `json:"content,omitempty"`
	Name       string            `json:"name,omitempty"`
	ToolCalls  []events.ToolCall `json:"toolCalls,omitempty"`
	ToolCallID string            `json:"toolCallId,omitempty"`
}

// ContentItem is one entry of a multimodal message content list.
type ContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"` // base64-encoded inline bytes
	MimeType string `json:"mimeType,omitempty"`
	URL      string `json:"url,omitempty"`
	ID       string `json:"id,omitempty"`
}

// Content item types.
const (
	ContentTypeText   = "text"
	ContentTypeBinary = "binary"
)

// ContentText returns the content as a plain string. The second return is
// false when content is absent or not a JSON string.
func (m *Message) ContentText() (string, bool) {
	if len(m.Content) == 0 {
		return "", false
	}
	var s string
	if err := json.Unmarshal(m.Content, &s); err != nil {
		return "", false
	}
	return s, true
}

// ContentItems returns the content as a list of items. A plain-string content
// is returned as a single text item.
func (m *Message) ContentItems() ([]ContentItem, error) {
	if len(m.Content) == 0 {
		return nil, nil
	}
	if s, ok := m.ContentText(); ok {
		if s == "" {
			return nil, nil
		}
		return []ContentItem{{Type: ContentTypeText, Text: s}}, nil
	}
	var items []ContentItem
	if err := json.Unmarshal(m.Content, &items); err != nil {
		return nil, fmt.Errorf("parse message content: %w", err)
	}
	return items, nil
}

// TextContent builds a plain-string content value.
func TextContent(s string) json.RawMessage {
	data, _ := json.Marshal(s)
	return data
}

// NewUserMessage builds a user message with string content.
func NewUserMessage(id, content string) Message {
	return Message{ID: id, Role: RoleUser, Content: TextContent(content)}
}

// NewToolMessage builds a tool-result message.
func NewToolMessage(id, toolCallID, content string) Message {
	return Message{ID: id, Role: RoleTool, ToolCallID: toolCallID, Content: TextContent(content)}
}
