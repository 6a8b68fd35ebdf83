package agent

import (
	"encoding/json"
	"strings"
)

// MessageType distinguishes plain text from tool traffic.
type MessageType string

const (
	MessageTypeText       MessageType = "text"
	MessageTypeToolCall   MessageType = "tool_call"
	MessageTypeToolResult MessageType = "tool_result"
)

// Role is the conversational role of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Content is message content. Providers either return a single string
// (Text) or a list of text segments (Parts); Parts wins when non-empty.
type Content struct {
	Text  string   `json:"text,omitempty"`
	Parts []string `json:"parts,omitempty"`
}

// String returns the content as one string, joining parts.
func (c Content) String() string {
	if len(c.Parts) > 0 {
		return strings.Join(c.Parts, "")
	}
	return c.Text
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Message is one entry of an agent conversation.
//
// Assistant messages of type tool_call carry ToolCalls and may carry text.
// Messages of type tool_result answer exactly one call.
type Message struct {
	Type       MessageType `json:"type"`
	Role       Role        `json:"role"`
	Content    Content     `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
	ToolName   string      `json:"tool_name,omitempty"`
	IsError    bool        `json:"is_error,omitempty"`
}

// Text returns the message content as a string.
func (m Message) Text() string {
	return m.Content.String()
}

// UserMessage returns a user text message.
func UserMessage(text string) Message {
	return Message{Type: MessageTypeText, Role: RoleUser, Content: Content{Text: text}}
}

// AssistantMessage returns an assistant text message.
func AssistantMessage(text string) Message {
	return Message{Type: MessageTypeText, Role: RoleAssistant, Content: Content{Text: text}}
}

// ToolResultMessage returns the answer to call.
func ToolResultMessage(call ToolCall, output string, isError bool) Message {
	return Message{
		Type:       MessageTypeToolResult,
		Role:       RoleTool,
		Content:    Content{Text: output},
		ToolCallID: call.ID,
		ToolName:   call.Name,
		IsError:    isError,
	}
}

// toolCalls collects the tool calls of msgs in order.
func toolCalls(msgs []Message) []ToolCall {
	var calls []ToolCall
	for _, m := range msgs {
		if m.Type == MessageTypeToolCall {
			calls = append(calls, m.ToolCalls...)
		}
	}
	return calls
}
