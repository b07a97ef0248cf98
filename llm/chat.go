// Package llm defines the provider-agnostic chat interface used by flow
// nodes that call out to an LLM, plus a mock implementation for tests.
package llm

import "context"

// ChatModel abstracts a single request/response exchange with an LLM
// provider, independent of any particular vendor's SDK shape.
type ChatModel interface {
	// Chat sends messages to the LLM and returns its response. The LLM may
	// respond with text, tool calls, or both.
	Chat(ctx context.Context, messages []Message, tools []ToolSpec) (ChatOut, error)
}

// Message is a single turn in an LLM conversation.
type Message struct {
	// Role identifies the message sender; use the Role* constants.
	Role string

	// Content is the message text. May be empty for tool-call-only turns.
	Content string
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ToolSpec describes a tool the LLM may choose to call. Schema follows
// JSON Schema and is optional for parameterless tools.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]interface{}
}

// ChatOut is the LLM's response: generated text, requested tool calls, or
// both.
type ChatOut struct {
	Text      string
	ToolCalls []ToolCall
}

// ToolCall is a request from the LLM to invoke a specific tool with Input
// matching that tool's ToolSpec.Schema.
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}
