// Package anthropic adapts Anthropic's Claude API to the llm.ChatModel
// interface.
package anthropic

import (
	"context"
	"errors"
	"fmt"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nanoflow-dev/nanoflow/llm"
)

// ChatModel implements llm.ChatModel against Claude, extracting system
// prompts into Anthropic's separate system parameter. Provider errors are
// not translated: an *anthropicError is returned unchanged, and SDK errors
// are returned wrapped with an "anthropic API error" prefix.
type ChatModel struct {
	apiKey    string
	modelName string
	client    anthropicClient
}

// anthropicClient isolates the wire call so tests can substitute a fake.
type anthropicClient interface {
	createMessage(ctx context.Context, systemPrompt string, messages []llm.Message, tools []llm.ToolSpec) (llm.ChatOut, error)
}

// NewChatModel returns a ChatModel for modelName, defaulting to Claude
// Sonnet 4.5 when modelName is empty.
func NewChatModel(apiKey, modelName string) *ChatModel {
	if modelName == "" {
		modelName = "claude-sonnet-4-5-20250929"
	}
	return &ChatModel{
		apiKey:    apiKey,
		modelName: modelName,
		client:    &defaultClient{apiKey: apiKey, modelName: modelName},
	}
}

func (m *ChatModel) Chat(ctx context.Context, messages []llm.Message, tools []llm.ToolSpec) (llm.ChatOut, error) {
	if ctx.Err() != nil {
		return llm.ChatOut{}, ctx.Err()
	}

	systemPrompt, conversation := extractSystemPrompt(messages)

	out, err := m.client.createMessage(ctx, systemPrompt, conversation, tools)
	if err != nil {
		var anthropicErr *anthropicError
		if errors.As(err, &anthropicErr) {
			return llm.ChatOut{}, translateAnthropicError(anthropicErr)
		}
		return llm.ChatOut{}, err
	}
	return out, nil
}

// extractSystemPrompt separates the system message from the conversation,
// since Anthropic expects it as a distinct request parameter.
func extractSystemPrompt(messages []llm.Message) (string, []llm.Message) {
	var systemPrompt string
	var conversation []llm.Message
	for _, msg := range messages {
		if msg.Role == llm.RoleSystem {
			if systemPrompt != "" {
				systemPrompt += "\n\n"
			}
			systemPrompt += msg.Content
		} else {
			conversation = append(conversation, msg)
		}
	}
	return systemPrompt, conversation
}

func translateAnthropicError(err *anthropicError) error {
	return err
}

// defaultClient wraps the official Anthropic SDK client.
type defaultClient struct {
	apiKey    string
	modelName string
}

func (c *defaultClient) createMessage(ctx context.Context, systemPrompt string, messages []llm.Message, tools []llm.ToolSpec) (llm.ChatOut, error) {
	if c.apiKey == "" {
		return llm.ChatOut{}, errors.New("anthropic API key is required")
	}

	client := anthropicsdk.NewClient(option.WithAPIKey(c.apiKey))

	params := anthropicsdk.MessageNewParams{
		Model:     anthropicsdk.Model(c.modelName),
		Messages:  convertMessages(messages),
		MaxTokens: 4096,
	}
	if systemPrompt != "" {
		params.System = []anthropicsdk.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = convertTools(tools)
	}

	resp, err := client.Messages.New(ctx, params)
	if err != nil {
		return llm.ChatOut{}, fmt.Errorf("anthropic API error: %w", err)
	}
	return convertResponse(resp), nil
}

func convertMessages(messages []llm.Message) []anthropicsdk.MessageParam {
	result := make([]anthropicsdk.MessageParam, len(messages))
	for i, msg := range messages {
		switch msg.Role {
		case llm.RoleAssistant:
			result[i] = anthropicsdk.NewAssistantMessage(anthropicsdk.NewTextBlock(msg.Content))
		default:
			result[i] = anthropicsdk.NewUserMessage(anthropicsdk.NewTextBlock(msg.Content))
		}
	}
	return result
}

func convertTools(tools []llm.ToolSpec) []anthropicsdk.ToolUnionParam {
	result := make([]anthropicsdk.ToolUnionParam, len(tools))
	for i, tool := range tools {
		var properties any
		var required []string
		if tool.Schema != nil {
			if props, ok := tool.Schema["properties"]; ok {
				properties = props
			}
			switch req := tool.Schema["required"].(type) {
			case []string:
				required = req
			case []interface{}:
				required = make([]string, 0, len(req))
				for _, v := range req {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}

		result[i] = anthropicsdk.ToolUnionParam{
			OfTool: &anthropicsdk.ToolParam{
				Name:        tool.Name,
				Description: anthropicsdk.String(tool.Description),
				InputSchema: anthropicsdk.ToolInputSchemaParam{Properties: properties, Required: required},
			},
		}
	}
	return result
}

func convertResponse(resp *anthropicsdk.Message) llm.ChatOut {
	out := llm.ChatOut{}
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropicsdk.TextBlock:
			if out.Text != "" {
				out.Text += "\n"
			}
			out.Text += b.Text
		case anthropicsdk.ToolUseBlock:
			out.ToolCalls = append(out.ToolCalls, llm.ToolCall{
				Name:  b.Name,
				Input: convertToolInput(b.Input),
			})
		}
	}
	return out
}

func convertToolInput(input interface{}) map[string]interface{} {
	if input == nil {
		return nil
	}
	if m, ok := input.(map[string]interface{}); ok {
		return m
	}
	return map[string]interface{}{"_raw": input}
}

// anthropicError preserves the provider's error type for callers that want
// to branch on it (rate limits, overload, auth).
type anthropicError struct {
	Type    string
	Message string
}

func (e *anthropicError) Error() string {
	return e.Type + ": " + e.Message
}
