// Package semcache caches completions keyed by semantic similarity of the
// prompt instead of exact string match, so paraphrased-but-equivalent
// requests under identical options can be served without another model
// call.
package semcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentforge/core/pkg/models"
)

// EmbeddingClient embeds text into a fixed-dimension vector. Caller-supplied
// so this package never picks an embedding model or provider on its own.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// MissReason explains why a lookup fell through to the wrapped client.
type MissReason string

const (
	ReasonLowSimilarity   MissReason = "LowSimilarity"
	ReasonOptionsMismatch MissReason = "OptionsMismatch"
	ReasonTtlExpired      MissReason = "TtlExpired"
	ReasonCapacityReject  MissReason = "CapacityReject"
	ReasonEmpty           MissReason = "Empty"
)

// entry is one stored cache row.
type entry struct {
	embedding   []float64
	optionsHash string
	completion  models.Completion
	storedAt    time.Time
	ttlDeadline time.Time
}

// Config configures a Cache. All fields are validated by New.
type Config struct {
	Embedder           EmbeddingClient
	SimilarityThreshold float64 // default 0.9
	TTL                time.Duration
	MaxEntries         int
	// Clock allows deterministic TTL evaluation in tests; defaults to time.Now.
	Clock func() time.Time
}

// Cache is a semantic response cache, internally synchronized so concurrent
// readers may observe either the pre- or post-write value for a given key,
// matching the linearizable-per-key guarantee in the concurrency model.
type Cache struct {
	mu         sync.RWMutex
	entries    []entry
	embedder   EmbeddingClient
	threshold  float64
	ttl        time.Duration
	maxEntries int
	clock      func() time.Time
}

// New validates config and returns a Cache. similarity_threshold must be in
// [0,1], ttl > 0, max_entries > 0.
func New(config Config) (*Cache, error) {
	if config.Embedder == nil {
		return nil, fmt.Errorf("semcache: Embedder is required")
	}
	if config.SimilarityThreshold < 0 || config.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("semcache: SimilarityThreshold must be in [0,1], got %v", config.SimilarityThreshold)
	}
	if config.TTL <= 0 {
		return nil, fmt.Errorf("semcache: TTL must be > 0")
	}
	if config.MaxEntries <= 0 {
		return nil, fmt.Errorf("semcache: MaxEntries must be > 0")
	}
	threshold := config.SimilarityThreshold
	if threshold == 0 {
		threshold = 0.9
	}
	clock := config.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Cache{
		embedder:   config.Embedder,
		threshold:  threshold,
		ttl:        config.TTL,
		maxEntries: config.MaxEntries,
		clock:      clock,
	}, nil
}

// CacheKeyText extracts the cache key source text from a conversation:
// role-tagged lines drawn only from user and system messages. Assistant
// content and tool outputs are excluded since they may carry private or
// tool-derived data that would cause false-positive hits.
func CacheKeyText(messages []models.Message) string {
	var b strings.Builder
	for _, m := range messages {
		if m.Role != models.RoleUser && m.Role != models.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	return b.String()
}

// OptionsHash computes a stable hash of the non-default fields of
// CompletionOptions, used as an exact-match guard alongside similarity.
func OptionsHash(opts models.CompletionOptions) string {
	var b strings.Builder
	if opts.Temperature != nil {
		fmt.Fprintf(&b, "temperature=%v;", *opts.Temperature)
	}
	if opts.MaxTokens != 0 {
		fmt.Fprintf(&b, "max_tokens=%d;", opts.MaxTokens)
	}
	if opts.TopP != nil {
		fmt.Fprintf(&b, "top_p=%v;", *opts.TopP)
	}
	if opts.ReasoningEffort != "" {
		fmt.Fprintf(&b, "reasoning_effort=%s;", opts.ReasoningEffort)
	}
	if opts.BudgetTokens != 0 {
		fmt.Fprintf(&b, "budget_tokens=%d;", opts.BudgetTokens)
	}
	if opts.ToolChoice != nil {
		fmt.Fprintf(&b, "tool_choice=%s:%s;", opts.ToolChoice.Mode, opts.ToolChoice.Name)
	}
	if len(opts.Tools) > 0 {
		names := make([]string, len(opts.Tools))
		for i, t := range opts.Tools {
			names[i] = t.Function.Name
		}
		sort.Strings(names)
		fmt.Fprintf(&b, "tools=%s;", strings.Join(names, ","))
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Lookup returns a cached completion for messages/opts if one matches by
// nearest-neighbor cosine similarity above the configured threshold and an
// exact options_hash match; TTL is evaluated against the cache's clock.
func (c *Cache) Lookup(ctx context.Context, messages []models.Message, opts models.CompletionOptions) (*models.Completion, MissReason, error) {
	keyText := CacheKeyText(messages)
	if strings.TrimSpace(keyText) == "" {
		return nil, ReasonEmpty, nil
	}

	queryEmbedding, err := c.embedder.Embed(ctx, keyText)
	if err != nil {
		return nil, "", fmt.Errorf("semcache: embed query: %w", err)
	}
	optionsHash := OptionsHash(opts)
	now := c.clock()

	c.mu.RLock()
	defer c.mu.RUnlock()

	bestScore := -1.0
	bestIdx := -1
	reason := ReasonLowSimilarity

	for i, e := range c.entries {
		if e.optionsHash != optionsHash {
			if reason == ReasonLowSimilarity {
				reason = ReasonOptionsMismatch
			}
			continue
		}
		if now.After(e.ttlDeadline) {
			if reason == ReasonLowSimilarity || reason == ReasonOptionsMismatch {
				reason = ReasonTtlExpired
			}
			continue
		}
		score := cosineSimilarity(queryEmbedding, e.embedding)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}

	if bestIdx >= 0 && bestScore >= c.threshold {
		result := c.entries[bestIdx].completion
		return &result, "", nil
	}

	return nil, reason, nil
}

// Store inserts a completion into the cache if capacity allows, embedding
// the key text itself (not re-embedding the caller's already-computed
// query vector, since a miss and a store may originate from different
// call sites).
func (c *Cache) Store(ctx context.Context, messages []models.Message, opts models.CompletionOptions, completion models.Completion) (bool, MissReason, error) {
	keyText := CacheKeyText(messages)
	if strings.TrimSpace(keyText) == "" {
		return false, ReasonEmpty, nil
	}

	embedding, err := c.embedder.Embed(ctx, keyText)
	if err != nil {
		return false, "", fmt.Errorf("semcache: embed key: %w", err)
	}

	now := c.clock()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		return false, ReasonCapacityReject, nil
	}

	c.entries = append(c.entries, entry{
		embedding:   embedding,
		optionsHash: OptionsHash(opts),
		completion:  completion,
		storedAt:    now,
		ttlDeadline: now.Add(c.ttl),
	})
	return true, "", nil
}

// Len reports the current entry count, mostly useful for tests and metrics.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// cosineSimilarity is hand-rolled rather than pulled from a vector-math
// library: the dimensionality here is small and this is the only place
// that needs it.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
