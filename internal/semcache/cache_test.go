package semcache

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/agentforge/core/pkg/models"
)

// wordVectorEmbedder produces a tiny deterministic "embedding" so tests
// don't depend on a real embedding model: one dimension per tracked word,
// counting occurrences. Semantically similar phrasing that shares words
// yields high cosine similarity, which is all these tests need.
type wordVectorEmbedder struct{}

var vocab = []string{"weather", "paris", "today", "capital", "france", "recipe", "cake"}

func (wordVectorEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	vec := make([]float64, len(vocab))
	normalized := strings.NewReplacer(":", " ", "\n", " ").Replace(strings.ToLower(text))
	for _, word := range strings.Fields(normalized) {
		for i, v := range vocab {
			if word == v {
				vec[i]++
			}
		}
	}
	return vec, nil
}

func newTestCache(t *testing.T, clock func() time.Time) *Cache {
	t.Helper()
	c, err := New(Config{
		Embedder:            wordVectorEmbedder{},
		SimilarityThreshold: 0.9,
		TTL:                 time.Hour,
		MaxEntries:          10,
		Clock:               clock,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestCache_MissThenHit(t *testing.T) {
	c := newTestCache(t, func() time.Time { return time.Unix(0, 0) })
	ctx := context.Background()
	messages := []models.Message{{Role: models.RoleUser, Content: "what is the weather today in paris"}}
	opts := models.CompletionOptions{}

	_, reason, err := c.Lookup(ctx, messages, opts)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if reason == "" {
		t.Fatal("expected a miss reason on empty cache")
	}

	stored, _, err := c.Store(ctx, messages, opts, models.Completion{Content: "sunny"})
	if err != nil || !stored {
		t.Fatalf("Store() = %v, %v, want true, nil", stored, err)
	}

	completion, reason, err := c.Lookup(ctx, messages, opts)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if reason != "" || completion == nil {
		t.Fatalf("expected a hit, got reason=%q completion=%v", reason, completion)
	}
	if completion.Content != "sunny" {
		t.Errorf("Content = %q, want sunny", completion.Content)
	}
}

func TestCache_OptionsMismatchMisses(t *testing.T) {
	c := newTestCache(t, func() time.Time { return time.Unix(0, 0) })
	ctx := context.Background()
	messages := []models.Message{{Role: models.RoleUser, Content: "what is the weather today in paris"}}

	_, _, err := c.Store(ctx, messages, models.CompletionOptions{MaxTokens: 100}, models.Completion{Content: "sunny"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	_, reason, err := c.Lookup(ctx, messages, models.CompletionOptions{MaxTokens: 200})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if reason != ReasonOptionsMismatch {
		t.Errorf("reason = %q, want OptionsMismatch", reason)
	}
}

func TestCache_TtlExpiredMisses(t *testing.T) {
	now := time.Unix(1000, 0)
	c, err := New(Config{
		Embedder:            wordVectorEmbedder{},
		SimilarityThreshold: 0.9,
		TTL:                 time.Minute,
		MaxEntries:          10,
		Clock:               func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()
	messages := []models.Message{{Role: models.RoleUser, Content: "what is the weather today in paris"}}

	if _, _, err := c.Store(ctx, messages, models.CompletionOptions{}, models.Completion{Content: "sunny"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	now = now.Add(2 * time.Minute)
	_, reason, err := c.Lookup(ctx, messages, models.CompletionOptions{})
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if reason != ReasonTtlExpired {
		t.Errorf("reason = %q, want TtlExpired", reason)
	}
}

func TestCache_CapacityReject(t *testing.T) {
	c, err := New(Config{
		Embedder:            wordVectorEmbedder{},
		SimilarityThreshold: 0.9,
		TTL:                 time.Hour,
		MaxEntries:          1,
		Clock:               func() time.Time { return time.Unix(0, 0) },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	ctx := context.Background()

	first := []models.Message{{Role: models.RoleUser, Content: "what is the capital of france"}}
	second := []models.Message{{Role: models.RoleUser, Content: "give me a recipe for cake"}}

	if _, _, err := c.Store(ctx, first, models.CompletionOptions{}, models.Completion{Content: "paris"}); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	stored, reason, err := c.Store(ctx, second, models.CompletionOptions{}, models.Completion{Content: "bake it"})
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	if stored || reason != ReasonCapacityReject {
		t.Errorf("second Store() = stored=%v reason=%q, want false/CapacityReject", stored, reason)
	}
}

func TestCache_ExcludesAssistantAndToolContentFromKey(t *testing.T) {
	messages := []models.Message{
		{Role: models.RoleSystem, Content: "be terse"},
		{Role: models.RoleUser, Content: "what is the capital of france"},
		{Role: models.RoleAssistant, Content: "paris, obviously, secret-token-abc"},
		{Role: models.RoleTool, ToolCallID: "call-1", Content: "tool-secret-data"},
	}
	key := CacheKeyText(messages)
	if strings.Contains(key, "secret-token-abc") || strings.Contains(key, "tool-secret-data") {
		t.Errorf("cache key must not include assistant/tool content: %q", key)
	}
	if !strings.Contains(key, "capital of france") {
		t.Errorf("cache key should include user content: %q", key)
	}
}

func TestNew_ValidatesConfig(t *testing.T) {
	if _, err := New(Config{Embedder: wordVectorEmbedder{}, TTL: time.Hour, MaxEntries: 1, SimilarityThreshold: 1.5}); err == nil {
		t.Error("expected error for SimilarityThreshold out of [0,1]")
	}
	if _, err := New(Config{Embedder: wordVectorEmbedder{}, MaxEntries: 1}); err == nil {
		t.Error("expected error for missing TTL")
	}
	if _, err := New(Config{Embedder: wordVectorEmbedder{}, TTL: time.Hour}); err == nil {
		t.Error("expected error for missing MaxEntries")
	}
}
