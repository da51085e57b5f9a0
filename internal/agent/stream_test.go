package agent

import (
	"testing"

	"github.com/agentforge/core/pkg/models"
)

func TestAccumulator_ContentAppend(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(models.StreamedChunk{Content: "Hello, "})
	acc.Add(models.StreamedChunk{Content: "world."})
	acc.Add(models.StreamedChunk{FinishReason: models.FinishStop})

	completion, err := acc.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if completion.Content != "Hello, world." {
		t.Errorf("Content = %q, want %q", completion.Content, "Hello, world.")
	}
	if completion.FinishReason != models.FinishStop {
		t.Errorf("FinishReason = %q, want stop", completion.FinishReason)
	}
}

func TestAccumulator_ToolCallDeltaMergeByIndex(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{Index: 0, ID: "call-1", Name: "search"}})
	acc.Add(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{Index: 0, ArgumentsFragment: `{"query":`}})
	acc.Add(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{Index: 0, ArgumentsFragment: `"golang"}`}})

	completion, err := acc.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if len(completion.ToolCalls) != 1 {
		t.Fatalf("len(ToolCalls) = %d, want 1", len(completion.ToolCalls))
	}
	tc := completion.ToolCalls[0]
	if tc.ID != "call-1" || tc.Name != "search" {
		t.Errorf("tool call = %+v", tc)
	}
	if string(tc.Arguments) != `{"query":"golang"}` {
		t.Errorf("Arguments = %s", tc.Arguments)
	}
}

func TestAccumulator_MultipleToolCallsOrderedByIndex(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{Index: 1, ID: "call-2", Name: "b", ArgumentsFragment: "{}"}})
	acc.Add(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{Index: 0, ID: "call-1", Name: "a", ArgumentsFragment: "{}"}})

	completion, err := acc.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if completion.ToolCalls[0].ID != "call-1" || completion.ToolCalls[1].ID != "call-2" {
		t.Errorf("tool calls not ordered by index: %+v", completion.ToolCalls)
	}
}

func TestAccumulator_FinishReasonSetOnce(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(models.StreamedChunk{FinishReason: models.FinishStop})
	acc.Add(models.StreamedChunk{FinishReason: models.FinishLength})

	completion, _ := acc.Finalize()
	if completion.FinishReason != models.FinishStop {
		t.Errorf("FinishReason = %q, want first-set value stop", completion.FinishReason)
	}
}

func TestAccumulator_UsageLastWriteWins(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(models.StreamedChunk{Usage: &models.Usage{TotalTokens: 10}})
	acc.Add(models.StreamedChunk{Usage: &models.Usage{TotalTokens: 42}})

	completion, _ := acc.Finalize()
	if completion.Usage == nil || completion.Usage.TotalTokens != 42 {
		t.Errorf("Usage = %+v, want TotalTokens=42", completion.Usage)
	}
}

func TestAccumulator_InvalidJSONArgumentsErrors(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{Index: 0, ID: "call-1", ArgumentsFragment: "{not json"}})

	if _, err := acc.Finalize(); err == nil {
		t.Error("expected Finalize() to error on invalid JSON arguments")
	}
}

func TestAccumulator_EmptyArgumentsDefaultToEmptyObject(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{Index: 0, ID: "call-1", Name: "noop"}})

	completion, err := acc.Finalize()
	if err != nil {
		t.Fatalf("Finalize() error = %v", err)
	}
	if string(completion.ToolCalls[0].Arguments) != "{}" {
		t.Errorf("Arguments = %s, want {}", completion.ToolCalls[0].Arguments)
	}
}
