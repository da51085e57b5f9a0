// Package providers holds concrete agent.Provider adapters: one per
// wire protocol, translating the controller's CompletionRequest/Completion
// types into a specific backend's SDK calls and back.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentforge/core/internal/agent"
	"github.com/agentforge/core/internal/backoff"
	"github.com/agentforge/core/pkg/models"
)

// AnthropicConfig configures an AnthropicProvider. APIKey is required;
// everything else has a sensible default applied in NewAnthropicProvider.
type AnthropicConfig struct {
	APIKey  string
	BaseURL string

	// Model is used when a CompletionRequest does not specify one.
	Model string

	// ContextWindow and ReserveCompletion feed the Budget/BudgetFor
	// formula shared across every Provider implementation.
	ContextWindow     int
	ReserveCompletion int

	// MaxRetries bounds retry attempts for StreamComplete's stream-creation
	// step (rate limits, server errors, timeouts, connection failures).
	// Complete makes a single attempt; its retries are the agent loop's
	// responsibility, not the provider's.
	MaxRetries int
}

const (
	defaultAnthropicModel             = "claude-sonnet-4-20250514"
	defaultAnthropicContextWindow     = 200000
	defaultAnthropicReserveCompletion = 8192
	defaultAnthropicMaxTokens         = 4096
	defaultAnthropicMaxRetries        = 3
)

// AnthropicProvider adapts github.com/anthropics/anthropic-sdk-go to the
// agent.Provider contract: message/tool format conversion, SSE stream
// accumulation via agent.Accumulator, and retry/backoff for recoverable
// failures. Safe for concurrent use; each call opens its own request.
type AnthropicProvider struct {
	client anthropic.Client

	model             string
	contextWindow     int
	reserveCompletion int
	maxRetries        int
	retryPolicy       backoff.Policy
}

// NewAnthropicProvider validates config, applies defaults, and constructs
// the underlying SDK client.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if strings.TrimSpace(config.APIKey) == "" {
		return nil, &agent.ValidationError{Field: "APIKey", Message: "anthropic: API key is required"}
	}

	if config.Model == "" {
		config.Model = defaultAnthropicModel
	}
	if config.ContextWindow <= 0 {
		config.ContextWindow = defaultAnthropicContextWindow
	}
	if config.ReserveCompletion <= 0 {
		config.ReserveCompletion = defaultAnthropicReserveCompletion
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = defaultAnthropicMaxRetries
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicProvider{
		client:            anthropic.NewClient(opts...),
		model:             config.Model,
		contextWindow:     config.ContextWindow,
		reserveCompletion: config.ReserveCompletion,
		maxRetries:        config.MaxRetries,
		retryPolicy:       backoff.ProviderRetryPolicy(),
	}, nil
}

func (p *AnthropicProvider) ContextWindow() int     { return p.contextWindow }
func (p *AnthropicProvider) ReserveCompletion() int { return p.reserveCompletion }

func (p *AnthropicProvider) Budget(headroom agent.Headroom) int {
	return agent.BudgetFor(p.contextWindow, p.reserveCompletion, headroom)
}

func (p *AnthropicProvider) Validate() error {
	if strings.TrimSpace(p.model) == "" {
		return &agent.ValidationError{Field: "Model", Message: "anthropic: model must not be empty"}
	}
	return nil
}

// Close is a no-op: the SDK client holds no resources that outlive a call.
func (p *AnthropicProvider) Close() error { return nil }

func (p *AnthropicProvider) modelFor(req *agent.CompletionRequest) string {
	if req.Model != "" {
		return req.Model
	}
	return p.model
}

func maxTokensFor(opts models.CompletionOptions) int64 {
	if opts.MaxTokens > 0 {
		return int64(opts.MaxTokens)
	}
	return defaultAnthropicMaxTokens
}

// Complete sends req and blocks for the full response. It makes a single
// attempt: retrying recoverable failures is the agent loop's job
// (internal/agent.Loop wraps every Complete call in its own
// backoff.RetryWithBackoff), so retrying here too would compound into
// maxRetries^2 attempts for a single recoverable error.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*models.Completion, error) {
	model := p.modelFor(req)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	result, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	return p.convertMessage(result, model), nil
}

// StreamComplete opens a streaming request, invoking onChunk for every
// content and tool-call delta, and returns the completion assembled by
// agent.Accumulator once the stream ends. Only stream creation is retried;
// a stream that fails mid-flight is not resumed.
func (p *AnthropicProvider) StreamComplete(ctx context.Context, req *agent.CompletionRequest, onChunk func(models.StreamedChunk)) (*models.Completion, error) {
	model := p.modelFor(req)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	streamResult, err := backoff.RetryWithBackoff(ctx, p.retryPolicy, p.maxRetries, p.isRetryableError,
		func(attempt int) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			return p.client.Messages.NewStreaming(ctx, params), nil
		})
	if err != nil {
		return nil, p.wrapError(err, model)
	}

	acc := agent.NewAccumulator()
	acc.SetMetadata("", model, 0)
	if err := p.drainStream(streamResult.Value, acc, onChunk); err != nil {
		return nil, p.wrapError(err, model)
	}

	return acc.Finalize()
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	messages, system, err := convertMessages(req.Messages)
	if err != nil {
		return anthropic.MessageNewParams{}, agent.NewAgentError(agent.KindValidation, "anthropic: failed to convert messages", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  messages,
		MaxTokens: maxTokensFor(req.Options),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	if len(req.Options.Tools) > 0 {
		tools, err := convertTools(req.Options.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, agent.NewAgentError(agent.KindValidation, "anthropic: failed to convert tools", err)
		}
		params.Tools = tools
	}

	if budget := req.Options.ReasoningBudget(); budget > 0 {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}

	return params, nil
}

// convertMessages splits system-role messages out into a system prompt
// (Anthropic has no system role in its message array) and converts the
// remainder into Anthropic content blocks. Tool role maps to a user
// message carrying a tool_result block, matching Anthropic's convention
// that tool results are user turns.
func convertMessages(messages []models.Message) ([]anthropic.MessageParam, string, error) {
	var system strings.Builder
	var result []anthropic.MessageParam

	for _, msg := range messages {
		switch msg.Role {
		case models.RoleSystem:
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
			continue

		case models.RoleTool:
			result = append(result, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false),
			))
			continue
		}

		var blocks []anthropic.ContentBlockParamUnion
		if msg.Content != "" {
			blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
		}
		for _, call := range msg.ToolCalls {
			var input map[string]any
			if len(call.Arguments) > 0 {
				if err := json.Unmarshal(call.Arguments, &input); err != nil {
					return nil, "", fmt.Errorf("invalid tool call arguments for %s: %w", call.Name, err)
				}
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}
	}

	return result, system.String(), nil
}

// convertTools converts the stable ToolDef wire format into Anthropic's
// tool parameter shape by round-tripping the JSON schema.
func convertTools(defs []models.ToolDef) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		raw, err := json.Marshal(def.Function.Parameters)
		if err != nil {
			return nil, fmt.Errorf("marshal schema for %s: %w", def.Function.Name, err)
		}

		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", def.Function.Name, err)
		}

		toolParam := anthropic.ToolUnionParamOfTool(schema, def.Function.Name)
		if toolParam.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", def.Function.Name)
		}
		toolParam.OfTool.Description = anthropic.String(def.Function.Description)
		result = append(result, toolParam)
	}
	return result, nil
}

func (p *AnthropicProvider) convertMessage(msg *anthropic.Message, model string) *models.Completion {
	completion := &models.Completion{
		ID:           msg.ID,
		Model:        model,
		FinishReason: convertStopReason(string(msg.StopReason)),
		Usage: &models.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}

	var content strings.Builder
	var toolCalls []models.ToolCall
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: json.RawMessage(variant.Input),
			})
		}
	}

	completion.Content = content.String()
	completion.ToolCalls = toolCalls
	completion.Message = models.Message{
		Role:      models.RoleAssistant,
		Content:   completion.Content,
		ToolCalls: toolCalls,
	}
	return completion
}

func convertStopReason(reason string) models.FinishReason {
	switch reason {
	case "end_turn", "stop_sequence":
		return models.FinishStop
	case "max_tokens":
		return models.FinishLength
	case "tool_use":
		return models.FinishToolCalls
	default:
		return models.FinishStop
	}
}

// drainStream consumes Anthropic's SSE events, converting each into a
// models.StreamedChunk delivered to onChunk, and records usage/finish
// reason into acc directly since those never arrive as content deltas.
// Tool-use blocks arrive across three events (content_block_start with
// id/name, one or more content_block_delta with partial JSON, then
// content_block_stop); blocks are strictly sequential so a simple
// incrementing counter stands in for an explicit block index.
func (p *AnthropicProvider) drainStream(stream *ssestream.Stream[anthropic.MessageStreamEventUnion], acc *agent.Accumulator, onChunk func(models.StreamedChunk)) error {
	blockIndex := -1
	var usage models.Usage

	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "message_start":
			start := event.AsMessageStart()
			usage.PromptTokens = int(start.Message.Usage.InputTokens)

		case "content_block_start":
			blockStart := event.AsContentBlockStart()
			if blockStart.ContentBlock.Type == "tool_use" {
				blockIndex++
				toolUse := blockStart.ContentBlock.AsToolUse()
				delta := models.ToolCallDelta{Index: blockIndex, ID: toolUse.ID, Name: toolUse.Name}
				chunk := models.StreamedChunk{ToolCallDelta: &delta}
				acc.Add(chunk)
				onChunk(chunk)
			}

		case "content_block_delta":
			blockDelta := event.AsContentBlockDelta()
			switch blockDelta.Delta.Type {
			case "text_delta":
				if text := blockDelta.Delta.Text; text != "" {
					chunk := models.StreamedChunk{Content: text}
					acc.Add(chunk)
					onChunk(chunk)
				}
			case "input_json_delta":
				if frag := blockDelta.Delta.PartialJSON; frag != "" {
					delta := models.ToolCallDelta{Index: blockIndex, ArgumentsFragment: frag}
					chunk := models.StreamedChunk{ToolCallDelta: &delta}
					acc.Add(chunk)
					onChunk(chunk)
				}
			}

		case "message_delta":
			msgDelta := event.AsMessageDelta()
			usage.CompletionTokens = int(msgDelta.Usage.OutputTokens)
			if reason := string(msgDelta.Delta.StopReason); reason != "" {
				chunk := models.StreamedChunk{FinishReason: convertStopReason(reason)}
				acc.Add(chunk)
				onChunk(chunk)
			}

		case "message_stop":
			usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
			finalUsage := usage
			chunk := models.StreamedChunk{Usage: &finalUsage}
			acc.Add(chunk)
			onChunk(chunk)
			return nil
		}
	}

	if err := stream.Err(); err != nil {
		return err
	}
	return nil
}

// isRetryableError classifies errors the same way across Complete and
// StreamComplete: rate limits, server errors, timeouts, and connection
// failures are retried; authentication and validation errors are not.
func (p *AnthropicProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return true
		case apiErr.StatusCode >= 500:
			return true
		default:
			return false
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host")
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, backoff.ErrMaxAttemptsExhausted) {
		err = errors.Unwrap(err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		kind := agent.KindUnknown
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			kind = agent.KindAuthentication
		case apiErr.StatusCode == 429:
			kind = agent.KindRateLimit
		case apiErr.StatusCode == 400:
			kind = agent.KindValidation
		case apiErr.StatusCode >= 500:
			kind = agent.KindNetwork
		}
		return agent.NewAgentError(kind, fmt.Sprintf("anthropic: request failed for model %s", model), err)
	}

	if p.isRetryableError(err) {
		return agent.NewAgentError(agent.KindNetwork, fmt.Sprintf("anthropic: request failed for model %s", model), err)
	}
	return agent.NewAgentError(agent.KindUnknown, fmt.Sprintf("anthropic: request failed for model %s", model), err)
}
