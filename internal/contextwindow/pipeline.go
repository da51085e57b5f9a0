// Package contextwindow fits a conversation within a provider's token
// budget by applying a fixed, ordered sequence of shrinking steps,
// stopping as soon as the budget is met. Named contextwindow rather than
// "context" to avoid shadowing the stdlib package of that name.
package contextwindow

import (
	"context"
	"fmt"

	"github.com/agentforge/core/pkg/models"
)

// Headroom names a reserved fraction of the budget subtracted before the
// final trim step, giving the provider's own accounting slack to differ
// from this package's token counts without overflowing.
type Headroom float64

const (
	HeadroomLight        Headroom = 0.05
	HeadroomStandard     Headroom = 0.08
	HeadroomConservative Headroom = 0.15
)

// TokenCounter is the narrow counting capability the pipeline needs;
// internal/tokenizer.Counter satisfies it without this package depending
// on tiktoken directly.
type TokenCounter interface {
	CountMessage(models.Message) int
	CountConversation([]models.Message) int
}

// Summarizer produces a condensed digest of a run of messages, either
// deterministically or by delegating to a provider. Kept narrow and local
// (rather than depending on internal/agent.Provider) so this package has
// no import-cycle risk with the controller that calls it.
type Summarizer interface {
	Summarize(ctx context.Context, messages []models.Message, targetTokens int) (string, error)
}

// Step names one stage of the fixed pipeline, surfaced in ManageResult and
// trace events so callers can see what fired.
type Step string

const (
	StepToolOutputCompaction Step = "ToolOutputCompaction"
	StepHistoryCompression   Step = "HistoryCompression"
	StepLLMSqueeze           Step = "LLMSqueeze"
	StepFinalTokenTrim       Step = "FinalTokenTrim"
)

// ManageResult reports what the pipeline did to a conversation.
type ManageResult struct {
	Conversation        []models.Message
	StepsApplied        []Step
	OriginalTokens      int
	FinalTokens         int
	CompressionRatio    float64
	WasTrimmed          bool
	RemovedMessageCount int
}

// ContextError reports the pipeline could not fit the conversation within
// budget after exhausting every step.
type ContextError struct {
	Budget int
	Tokens int
}

func (e *ContextError) Error() string {
	return fmt.Sprintf("contextwindow: cannot fit within budget: %d tokens over budget %d", e.Tokens, e.Budget)
}

// Config configures a Pipeline's optional steps and tunables.
type Config struct {
	Counter TokenCounter

	// EnableDeterministicCompression selects heuristic (non-LLM) history
	// summarization. HistoryCompression also falls back to the same
	// heuristic when neither compression flag is set.
	EnableDeterministicCompression bool

	// EnableLLMCompression enables provider-backed summarization, used in
	// place of the heuristic for every HistoryCompression summary, and for
	// the one-shot LLMSqueeze step.
	EnableLLMCompression bool

	// Summarizer is required when EnableLLMCompression is true.
	Summarizer Summarizer

	// Externalizer stores full tool payloads replaced by a truncation
	// marker in ToolOutputCompaction, so they can be rehydrated later.
	Externalizer Externalizer

	// PreserveRecentTurns (W) is the number of most recent turns kept
	// verbatim by HistoryCompression. Default 4.
	PreserveRecentTurns int

	// ToolOutputThresholdBytes is the per-call size above which a tool
	// message's content is truncated. Default 4096.
	ToolOutputThresholdBytes int

	// SummaryTokenTarget bounds the size of a produced summary. Default 400.
	SummaryTokenTarget int

	// SqueezeTokenTarget is the tighter target used by the one-shot
	// LLMSqueeze step. Default SummaryTokenTarget / 2.
	SqueezeTokenTarget int
}

func (c *Config) withDefaults() *Config {
	cfg := *c
	if cfg.PreserveRecentTurns <= 0 {
		cfg.PreserveRecentTurns = 4
	}
	if cfg.ToolOutputThresholdBytes <= 0 {
		cfg.ToolOutputThresholdBytes = 4096
	}
	if cfg.SummaryTokenTarget <= 0 {
		cfg.SummaryTokenTarget = 400
	}
	if cfg.SqueezeTokenTarget <= 0 {
		cfg.SqueezeTokenTarget = cfg.SummaryTokenTarget / 2
	}
	return &cfg
}

// Pipeline applies the fixed four-step shrinking sequence to a conversation.
type Pipeline struct {
	config *Config
}

// New builds a Pipeline. Counter is required; the remaining fields are
// optional and take documented defaults.
func New(config *Config) (*Pipeline, error) {
	if config == nil || config.Counter == nil {
		return nil, fmt.Errorf("contextwindow: Counter is required")
	}
	if config.EnableLLMCompression && config.Summarizer == nil {
		return nil, fmt.Errorf("contextwindow: Summarizer is required when EnableLLMCompression is set")
	}
	return &Pipeline{config: config.withDefaults()}, nil
}

// Manage fits conversation within budget (already headroom-adjusted by the
// caller's provider budget call) by applying headroom, then steps in
// order, stopping as soon as the running token count is within the
// effective budget. If the conversation already fits, it is returned
// unchanged with an empty StepsApplied.
func (p *Pipeline) Manage(ctx context.Context, conversation []models.Message, budget int, headroom Headroom) (*ManageResult, error) {
	original := p.config.Counter.CountConversation(conversation)

	result := &ManageResult{
		Conversation:   conversation,
		OriginalTokens: original,
		FinalTokens:    original,
	}
	if original <= budget {
		result.CompressionRatio = 1.0
		return result, nil
	}

	effectiveBudget := budget - int(float64(budget)*float64(headroom))

	current := conversation
	squeezed := false

	steps := []func(context.Context, []models.Message) ([]models.Message, bool, error){
		func(ctx context.Context, msgs []models.Message) ([]models.Message, bool, error) {
			return p.toolOutputCompaction(msgs)
		},
		func(ctx context.Context, msgs []models.Message) ([]models.Message, bool, error) {
			return p.historyCompression(ctx, msgs)
		},
	}

	names := []Step{StepToolOutputCompaction, StepHistoryCompression}

	for i, step := range steps {
		if p.config.Counter.CountConversation(current) <= effectiveBudget {
			break
		}
		next, applied, err := step(ctx, current)
		if err != nil {
			return nil, err
		}
		if applied {
			current = next
			result.StepsApplied = append(result.StepsApplied, names[i])
		}
	}

	if p.config.Counter.CountConversation(current) > effectiveBudget && p.config.EnableLLMCompression && !squeezed {
		next, applied, err := p.llmSqueeze(ctx, current)
		if err != nil {
			return nil, err
		}
		if applied {
			current = next
			result.StepsApplied = append(result.StepsApplied, StepLLMSqueeze)
		}
		squeezed = true
	}

	if p.config.Counter.CountConversation(current) > effectiveBudget {
		trimmed, removed := p.finalTokenTrim(current, effectiveBudget)
		if removed > 0 {
			current = trimmed
			result.StepsApplied = append(result.StepsApplied, StepFinalTokenTrim)
			result.WasTrimmed = true
			result.RemovedMessageCount = removed
		}
	}

	final := p.config.Counter.CountConversation(current)
	result.Conversation = current
	result.FinalTokens = final
	if original > 0 {
		result.CompressionRatio = float64(final) / float64(original)
	}

	if final > effectiveBudget {
		return result, &ContextError{Budget: effectiveBudget, Tokens: final}
	}

	return result, nil
}
