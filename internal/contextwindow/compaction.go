package contextwindow

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/agentforge/core/pkg/models"
)

// truncatedDigestChars is how much of the original payload's start and end
// survives verbatim alongside the truncation marker.
const truncatedDigestChars = 200

// toolOutputCompaction replaces oversized tool-message payloads with a
// synthetic marker, externalizing the original so it can be rehydrated.
// Returns applied=false if no message needed compacting.
func (p *Pipeline) toolOutputCompaction(messages []models.Message) ([]models.Message, bool, error) {
	threshold := p.config.ToolOutputThresholdBytes
	applied := false

	out := make([]models.Message, len(messages))
	copy(out, messages)

	for i, msg := range out {
		if msg.Role != models.RoleTool || len(msg.Content) <= threshold {
			continue
		}

		payload := []byte(msg.Content)
		sum := sha256.Sum256(payload)
		hash := hex.EncodeToString(sum[:8])

		var key string
		if p.config.Externalizer != nil {
			storedKey, err := p.config.Externalizer.Store(msg.ToolCallID, payload)
			if err != nil {
				return nil, false, fmt.Errorf("contextwindow: externalize tool output: %w", err)
			}
			key = storedKey
		}

		digestHead := firstN(msg.Content, truncatedDigestChars)
		digestTail := lastN(msg.Content, truncatedDigestChars)

		marker := fmt.Sprintf("[TOOL_OUTPUT_TRUNCATED #%s %d bytes key=%s]\n%s\n...\n%s",
			hash, len(payload), key, digestHead, digestTail)

		out[i].Content = marker
		applied = true
	}

	return out, applied, nil
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
