package agent

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/agentforge/core/pkg/models"
)

// Accumulator merges a sequence of StreamedChunks, delivered in producer
// order, into a single Completion. Tool-call argument fragments are kept
// as a raw string buffer per index and only parsed into JSON on Finalize,
// since a fragment boundary rarely lands on a valid JSON token boundary.
type Accumulator struct {
	content     strings.Builder
	toolDrafts  map[int]*toolCallDraft
	finishSet   bool
	finish      models.FinishReason
	usage       *models.Usage
	thinking    strings.Builder
	id          string
	model       string
	createdUnix int64
}

type toolCallDraft struct {
	index     int
	id        string
	name      string
	arguments strings.Builder
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{toolDrafts: make(map[int]*toolCallDraft)}
}

// Add merges one chunk into the accumulator's running state. Once a finish
// reason has been recorded, subsequent chunks are merged for content but
// their finish reason is ignored (a provider should not send one twice,
// but a buggy adapter must not be allowed to reset the controller's view).
func (a *Accumulator) Add(chunk models.StreamedChunk) {
	if chunk.Content != "" {
		a.content.WriteString(chunk.Content)
	}

	if chunk.ToolCallDelta != nil {
		a.mergeToolCallDelta(*chunk.ToolCallDelta)
	}

	if chunk.FinishReason != "" && !a.finishSet {
		a.finish = chunk.FinishReason
		a.finishSet = true
	}

	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
}

func (a *Accumulator) mergeToolCallDelta(delta models.ToolCallDelta) {
	draft, ok := a.toolDrafts[delta.Index]
	if !ok {
		draft = &toolCallDraft{index: delta.Index}
		a.toolDrafts[delta.Index] = draft
	}
	if delta.ID != "" {
		draft.id = delta.ID
	}
	if delta.Name != "" {
		draft.name += delta.Name
	}
	if delta.ArgumentsFragment != "" {
		draft.arguments.WriteString(delta.ArgumentsFragment)
	}
}

// Finalize reparses accumulated tool-call argument buffers into JSON and
// returns the completed Completion. Tool calls are ordered by index to
// preserve producer order regardless of the arrival order of deltas.
func (a *Accumulator) Finalize() (*models.Completion, error) {
	completion := &models.Completion{
		ID:           a.id,
		Model:        a.model,
		Created:      a.createdUnix,
		Content:      a.content.String(),
		FinishReason: a.finish,
	}
	if a.usage != nil {
		completion.Usage = a.usage
	}
	if a.thinking.Len() > 0 {
		completion.Thinking = a.thinking.String()
	}

	if len(a.toolDrafts) > 0 {
		indices := make([]int, 0, len(a.toolDrafts))
		for idx := range a.toolDrafts {
			indices = append(indices, idx)
		}
		sort.Ints(indices)

		toolCalls := make([]models.ToolCall, 0, len(indices))
		for _, idx := range indices {
			draft := a.toolDrafts[idx]
			raw := draft.arguments.String()
			if raw == "" {
				raw = "{}"
			}
			if !json.Valid([]byte(raw)) {
				return nil, &AgentError{
					Kind:    KindProcessing,
					Message: "tool call arguments did not form valid JSON after accumulation",
				}
			}
			toolCalls = append(toolCalls, models.ToolCall{
				ID:        draft.id,
				Name:      draft.name,
				Arguments: json.RawMessage(raw),
			})
		}
		completion.ToolCalls = toolCalls
		completion.Message.ToolCalls = toolCalls
	}

	completion.Message.Role = models.RoleAssistant
	completion.Message.Content = completion.Content

	return completion, nil
}

// SetMetadata records the completion's id/model/created fields, normally
// known from the stream's first chunk or the originating request.
func (a *Accumulator) SetMetadata(id, model string, createdUnix int64) {
	a.id = id
	a.model = model
	a.createdUnix = createdUnix
}
