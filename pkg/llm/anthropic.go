package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/codeready-toolchain/vigil/pkg/session"
	"github.com/codeready-toolchain/vigil/pkg/tools"
)

const (
	providerMaxRetries = 3
	providerBaseDelay  = time.Second
	defaultReplyTokens = 4096
)

// AnthropicClient implements Client over the official SDK. Transient
// provider failures (429, 5xx, overload) retry with exponential backoff
// honoring ctx; everything else surfaces to the driver as a loop failure.
type AnthropicClient struct {
	client    anthropic.Client
	maxTokens int
	logger    *slog.Logger
}

// NewAnthropicClient builds the provider client. maxTokens caps one reply.
func NewAnthropicClient(apiKey string, maxTokens int) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic API key is required")
	}
	if maxTokens <= 0 {
		maxTokens = defaultReplyTokens
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: maxTokens,
		logger:    slog.Default().With("component", "llm"),
	}, nil
}

// Complete sends one conversation turn and returns the model's reply.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Reply, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return nil, err
	}

	var msg *anthropic.Message
	delay := providerBaseDelay
	for attempt := 1; ; attempt++ {
		msg, err = c.client.Messages.New(ctx, params)
		if err == nil {
			break
		}
		if !isRetryableProviderError(err) || attempt >= providerMaxRetries {
			return nil, fmt.Errorf("provider call failed: %w", err)
		}

		c.logger.Warn("Provider call failed, retrying",
			"attempt", attempt, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}

	reply := &Reply{
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			reply.ToolCalls = append(reply.ToolCalls, ToolCallRequest{
				ID:   block.ID,
				Name: block.Name,
				Args: json.RawMessage(block.Input),
			})
		}
	}
	reply.Text = text.String()
	return reply, nil
}

func (c *AnthropicClient) buildParams(req Request) (anthropic.MessageNewParams, error) {
	messages, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 || maxTokens > c.maxTokens {
		maxTokens = c.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}
	return params, nil
}

// convertMessages maps session turns to Anthropic content blocks.
// Consecutive tool calls collapse into one assistant message and their
// results into one user message, the shape the API expects.
func convertMessages(msgs []session.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam
	var pending []anthropic.ContentBlockParamUnion
	var pendingRole string

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if pendingRole == "assistant" {
			result = append(result, anthropic.NewAssistantMessage(pending...))
		} else {
			result = append(result, anthropic.NewUserMessage(pending...))
		}
		pending = nil
	}
	add := func(role string, block anthropic.ContentBlockParamUnion) {
		if role != pendingRole {
			flush()
			pendingRole = role
		}
		pending = append(pending, block)
	}

	for _, m := range msgs {
		switch m.Kind {
		case session.KindSystemPrompt:
			// Carried separately in params.System.
		case session.KindUserText:
			add("user", anthropic.NewTextBlock(m.Text))
		case session.KindAssistantText:
			add("assistant", anthropic.NewTextBlock(m.Text))
		case session.KindToolCall:
			var input map[string]any
			if len(m.Args) > 0 {
				if err := json.Unmarshal(m.Args, &input); err != nil {
					return nil, fmt.Errorf("invalid tool call args for %s: %w", m.ToolName, err)
				}
			}
			add("assistant", anthropic.NewToolUseBlock(m.ToolCallID, input, m.ToolName))
		case session.KindToolResult:
			add("user", anthropic.NewToolResultBlock(m.ToolCallID, m.Payload, !m.OK))
		}
	}
	flush()
	return result, nil
}

func convertTools(descriptors []tools.Descriptor) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(descriptors))
	for _, d := range descriptors {
		schema := anthropic.ToolInputSchemaParam{}
		if d.InputSchema != nil {
			js := d.InputSchema.JSONSchema()
			schema.Properties = js["properties"]
			schema.Required = d.InputSchema.Required
		}
		param := anthropic.ToolUnionParamOfTool(schema, d.Name)
		if param.OfTool != nil {
			param.OfTool.Description = anthropic.String(d.Description)
		}
		result = append(result, param)
	}
	return result
}

// isRetryableProviderError reports whether the call should be retried:
// rate limits, overload and server-side failures are; auth and validation
// errors are not.
func isRetryableProviderError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "overloaded")
}
