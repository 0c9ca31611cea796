// Package session holds bounded conversation state: tagged messages, a
// deterministic token pruner, and a TTL-swept in-memory store.
package session

import (
	"encoding/json"
)

// Kind tags the message variant.
type Kind string

const (
	KindSystemPrompt  Kind = "system_prompt"
	KindUserText      Kind = "user_text"
	KindAssistantText Kind = "assistant_text"
	KindToolCall      Kind = "tool_call"
	KindToolResult    Kind = "tool_result"
)

// Message is one conversation turn. Exactly one variant's fields are set,
// per Kind.
type Message struct {
	Kind Kind `json:"kind"`

	// Text carries system prompts, user input and assistant output.
	Text string `json:"text,omitempty"`

	// Tool call fields (KindToolCall).
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`

	// Tool result fields (KindToolResult); ToolCallID joins the pair.
	OK        bool   `json:"ok,omitempty"`
	Payload   string `json:"payload,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
}

// SystemPrompt builds the session's opening message.
func SystemPrompt(text string) Message {
	return Message{Kind: KindSystemPrompt, Text: text}
}

// UserText builds a user turn.
func UserText(text string) Message {
	return Message{Kind: KindUserText, Text: text}
}

// AssistantText builds an assistant text turn.
func AssistantText(text string) Message {
	return Message{Kind: KindAssistantText, Text: text}
}

// ToolCall builds the assistant's request to run a tool.
func ToolCall(id, name string, args json.RawMessage) Message {
	return Message{Kind: KindToolCall, ToolCallID: id, ToolName: name, Args: args}
}

// ToolResult builds the reply to a tool call. errorKind is empty on success.
func ToolResult(id string, ok bool, payload, errorKind string) Message {
	return Message{Kind: KindToolResult, ToolCallID: id, OK: ok, Payload: payload, ErrorKind: errorKind}
}

// IsText reports whether the message is a prunable text turn.
func (m Message) IsText() bool {
	return m.Kind == KindUserText || m.Kind == KindAssistantText
}

// charsPerToken matches the catalog's truncation heuristic.
const charsPerToken = 4

// Tokens estimates the message's token footprint.
func (m Message) Tokens() int {
	chars := len(m.Text) + len(m.ToolName) + len(m.Args) + len(m.Payload) + len(m.ErrorKind)
	if chars == 0 {
		return 0
	}
	return (chars + charsPerToken - 1) / charsPerToken
}
