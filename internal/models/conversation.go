package models

import (
	"encoding/json"
	"time"
)

type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// ToolCall is a single tool invocation requested by the model within an
// assistant turn. Arguments stay raw JSON until the tool registry parses
// them into the tool's typed parameter struct.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Message is one turn of an agent conversation. Tool-role messages carry the
// serialized result of the tool call they answer via ToolCallID.
type Message struct {
	Role       MessageRole `json:"role"`
	Content    string      `json:"content,omitempty"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ToolLogEntry is the audit record of one executed tool call: the call as
// requested plus the raw result handed back to the model. Replaying the
// message list with the tool log reconstructs the conversation exactly.
type ToolLogEntry struct {
	CallID    string          `json:"call_id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	Result    json.RawMessage `json:"result"`
	IsError   bool            `json:"is_error,omitempty"`
	// DurationMS is wall-clock milliseconds, matching the JSON tag's unit.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

type Conversation struct {
	ID        string         `json:"id" db:"id"`
	UserID    string         `json:"user_id" db:"user_id"`
	Title     string         `json:"title" db:"title"`
	Messages  []Message      `json:"messages" db:"messages"`
	ToolLog   []ToolLogEntry `json:"tool_log" db:"tool_log"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}
