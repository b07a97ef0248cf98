package anthropic

import (
	"context"
	"errors"
	"testing"

	"github.com/nanoflow-dev/nanoflow/llm"
)

func TestNewChatModelDefaultsModelName(t *testing.T) {
	if m := NewChatModel("key", ""); m.modelName == "" {
		t.Fatal("expected a default model name")
	}
	if m := NewChatModel("key", "claude-3-opus-20240229"); m.modelName != "claude-3-opus-20240229" {
		t.Fatalf("got %q", m.modelName)
	}
}

func TestChatSendsMessagesAndReturnsResponse(t *testing.T) {
	mock := &mockAnthropicClient{response: "Hello! I'm Claude."}
	m := &ChatModel{client: mock, modelName: "claude-3-opus-20240229"}

	out, err := m.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "Hi there!"}}, nil)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out.Text != "Hello! I'm Claude." {
		t.Errorf("got %q", out.Text)
	}
	if mock.callCount != 1 {
		t.Errorf("got %d calls, want 1", mock.callCount)
	}
}

func TestChatHandlesToolCalls(t *testing.T) {
	mock := &mockAnthropicClient{toolCalls: []llm.ToolCall{{Name: "search", Input: map[string]interface{}{"query": "test"}}}}
	m := &ChatModel{client: mock, modelName: "claude-3-opus-20240229"}

	tools := []llm.ToolSpec{{Name: "search", Description: "Search the web"}}
	out, err := m.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "Search for test"}}, tools)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(out.ToolCalls) != 1 || out.ToolCalls[0].Name != "search" {
		t.Fatalf("got %+v", out)
	}
}

func TestChatRespectsContextCancellation(t *testing.T) {
	m := &ChatModel{client: &mockAnthropicClient{response: "Response"}, modelName: "claude-3-opus-20240229"}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: "Test"}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", err)
	}
}

func TestChatTranslatesAnthropicErrors(t *testing.T) {
	anthropicErr := &anthropicError{Type: "overloaded_error", Message: "Service temporarily overloaded"}
	m := &ChatModel{client: &mockAnthropicClient{err: anthropicErr}, modelName: "claude-3-opus-20240229"}

	_, err := m.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "Test"}}, nil)
	var translated *anthropicError
	if !errors.As(err, &translated) {
		t.Fatalf("got %T, want *anthropicError", err)
	}
	if translated.Type != "overloaded_error" {
		t.Errorf("got %q", translated.Type)
	}
}

func TestChatEmptyAPIKeyFails(t *testing.T) {
	m := NewChatModel("", "claude-3-opus-20240229")
	_, err := m.Chat(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "Test"}}, nil)
	if err == nil {
		t.Fatal("expected error for empty API key")
	}
}

func TestExtractSystemPromptSeparatesSystemMessage(t *testing.T) {
	mock := &mockAnthropicClient{response: "System extracted"}
	m := &ChatModel{client: mock, modelName: "claude-3-opus-20240229"}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "You are helpful"},
		{Role: llm.RoleUser, Content: "User message"},
	}
	if _, err := m.Chat(context.Background(), messages, nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mock.systemPrompt != "You are helpful" {
		t.Errorf("got system prompt %q", mock.systemPrompt)
	}
	if len(mock.lastMessages) != 1 {
		t.Errorf("got %d conversation messages, want 1", len(mock.lastMessages))
	}
}

type mockAnthropicClient struct {
	response     string
	toolCalls    []llm.ToolCall
	err          error
	callCount    int
	lastMessages []llm.Message
	systemPrompt string
}

func (m *mockAnthropicClient) createMessage(_ context.Context, systemPrompt string, messages []llm.Message, _ []llm.ToolSpec) (llm.ChatOut, error) {
	m.callCount++
	m.lastMessages = messages
	m.systemPrompt = systemPrompt
	if m.err != nil {
		return llm.ChatOut{}, m.err
	}
	return llm.ChatOut{Text: m.response, ToolCalls: m.toolCalls}, nil
}
