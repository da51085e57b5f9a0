package contextwindow

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentforge/core/pkg/models"
)

const historySummaryTag = "[HISTORY_SUMMARY]"

// historyCompression summarizes the oldest contiguous prefix of
// assistant/user/tool turns into one or more pinned system-role summary
// messages, preserving the most recent PreserveRecentTurns turns verbatim.
// The leading system message (if any) is always preserved.
func (p *Pipeline) historyCompression(ctx context.Context, messages []models.Message) ([]models.Message, bool, error) {
	if len(messages) == 0 {
		return messages, false, nil
	}

	leadingSystem := 0
	if messages[0].Role == models.RoleSystem {
		leadingSystem = 1
	}

	w := p.config.PreserveRecentTurns
	body := messages[leadingSystem:]
	if len(body) <= w {
		return messages, false, nil
	}

	splitAt := len(body) - w
	toSummarize := body[:splitAt]
	toKeep := body[splitAt:]

	if len(toSummarize) == 0 {
		return messages, false, nil
	}

	summaryText, err := p.produceSummary(ctx, toSummarize, p.config.SummaryTokenTarget)
	if err != nil {
		return nil, false, err
	}

	summaryMsg := models.Message{
		Role:    models.RoleSystem,
		Content: historySummaryTag + " " + summaryText,
		Pinned:  true,
	}

	out := make([]models.Message, 0, leadingSystem+1+len(toKeep))
	out = append(out, messages[:leadingSystem]...)
	out = append(out, summaryMsg)
	out = append(out, toKeep...)

	return out, true, nil
}

// produceSummary uses the provider summarizer when LLM compression is
// enabled and the deterministic heuristic otherwise; it never combines both.
func (p *Pipeline) produceSummary(ctx context.Context, messages []models.Message, targetTokens int) (string, error) {
	if p.config.EnableLLMCompression {
		summary, err := p.config.Summarizer.Summarize(ctx, messages, targetTokens)
		if err != nil {
			return "", fmt.Errorf("contextwindow: llm summarization: %w", err)
		}
		return summary, nil
	}
	if p.config.EnableDeterministicCompression {
		return deterministicSummary(messages, targetTokens), nil
	}
	// Neither flag enabled: a conservative heuristic digest is still
	// produced so the step has an effect rather than silently no-opping.
	return deterministicSummary(messages, targetTokens), nil
}

// deterministicSummary extracts a bounded digest without calling a model:
// role-tagged first lines of each turn, truncated to roughly targetTokens
// worth of characters (using the package's shared 4-chars-per-token rule
// of thumb for the no-counter code path).
func deterministicSummary(messages []models.Message, targetTokens int) string {
	var b strings.Builder
	maxChars := targetTokens * 4
	if maxChars <= 0 {
		maxChars = 1600
	}

	for _, m := range messages {
		line := firstLine(m.Content)
		if line == "" {
			continue
		}
		entry := fmt.Sprintf("%s: %s\n", m.Role, line)
		if b.Len()+len(entry) > maxChars {
			break
		}
		b.WriteString(entry)
	}

	if b.Len() == 0 {
		return "(no summarizable content)"
	}
	return strings.TrimSpace(b.String())
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	const maxLineChars = 240
	if len(s) > maxLineChars {
		s = s[:maxLineChars]
	}
	return strings.TrimSpace(s)
}

// llmSqueeze reruns summarization against the existing [HISTORY_SUMMARY]
// message(s) with a tighter target, shrinking the digest in place. Runs at
// most once per Manage call; the caller enforces that.
func (p *Pipeline) llmSqueeze(ctx context.Context, messages []models.Message) ([]models.Message, bool, error) {
	out := make([]models.Message, len(messages))
	copy(out, messages)

	applied := false
	for i, m := range out {
		if m.Role != models.RoleSystem || !strings.HasPrefix(m.Content, historySummaryTag) {
			continue
		}
		squeezed, err := p.config.Summarizer.Summarize(ctx, []models.Message{m}, p.config.SqueezeTokenTarget)
		if err != nil {
			return nil, false, fmt.Errorf("contextwindow: llm squeeze: %w", err)
		}
		out[i].Content = historySummaryTag + " " + squeezed
		applied = true
	}

	return out, applied, nil
}
