package contextwindow

import "github.com/agentforge/core/pkg/models"

// finalTokenTrim deletes oldest non-pinned messages one at a time until the
// conversation fits within effectiveBudget. [HISTORY_SUMMARY] messages and
// the trailing system message are pinned and never removed; if every
// remaining message is pinned, trimming stops even if still over budget
// (the caller surfaces a ContextError in that case).
func (p *Pipeline) finalTokenTrim(messages []models.Message, effectiveBudget int) ([]models.Message, int) {
	out := markTrailingSystemPinned(messages)

	removed := 0
	for p.config.Counter.CountConversation(out) > effectiveBudget {
		idx := firstRemovableIndex(out)
		if idx < 0 {
			break
		}
		out = append(out[:idx], out[idx+1:]...)
		removed++
	}

	return out, removed
}

// markTrailingSystemPinned returns a copy with the conversation's trailing
// system message (if present, if not already the same as a preserved
// leading system prompt) marked Pinned, since it is never eligible for
// removal regardless of how it was produced.
func markTrailingSystemPinned(messages []models.Message) []models.Message {
	out := make([]models.Message, len(messages))
	copy(out, messages)
	if n := len(out); n > 0 && out[n-1].Role == models.RoleSystem {
		out[n-1].Pinned = true
	}
	return out
}

func firstRemovableIndex(messages []models.Message) int {
	for i, m := range messages {
		if !m.Pinned {
			return i
		}
	}
	return -1
}
