package config

import (
	"testing"

	"github.com/agentforge/core/internal/agent"
)

func TestLoadFromEnv_RequiresLLMModel(t *testing.T) {
	if _, err := LoadFromEnv(nil); err == nil {
		t.Error("expected error when LLM_MODEL is unset")
	}
}

func TestLoadFromEnv_RejectsMalformedModel(t *testing.T) {
	if _, err := LoadFromEnv([]string{"LLM_MODEL=anthropic"}); err == nil {
		t.Error("expected error for LLM_MODEL missing a model segment")
	}
}

func TestLoadFromEnv_RejectsUnsupportedProvider(t *testing.T) {
	if _, err := LoadFromEnv([]string{"LLM_MODEL=cohere/command"}); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestLoadFromEnv_AppliesDefaults(t *testing.T) {
	cfg, err := LoadFromEnv([]string{"LLM_MODEL=anthropic/claude-sonnet-4-20250514"})
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.Provider != "anthropic" || cfg.ProviderModel != "claude-sonnet-4-20250514" {
		t.Errorf("Provider/ProviderModel = %q/%q", cfg.Provider, cfg.ProviderModel)
	}
	if cfg.ContextHeadroom != agent.HeadroomStandard {
		t.Errorf("ContextHeadroom = %v, want default standard (0.08)", cfg.ContextHeadroom)
	}
	if !cfg.ContextEnableDeterministicCompression {
		t.Error("ContextEnableDeterministicCompression default should be true")
	}
	if cfg.ContextEnableLLMCompression {
		t.Error("ContextEnableLLMCompression default should be false")
	}
	if cfg.ToolDefaultTimeoutMs != 30000 {
		t.Errorf("ToolDefaultTimeoutMs = %d, want 30000", cfg.ToolDefaultTimeoutMs)
	}
	if cfg.CacheTTLMs != 300000 || cfg.CacheMaxEntries != 1000 {
		t.Errorf("cache defaults = %d/%d", cfg.CacheTTLMs, cfg.CacheMaxEntries)
	}
	if !cfg.ToolStrategy.Parallel {
		t.Error("ToolStrategy default should be parallel")
	}
}

func TestLoadFromEnv_ReadsProviderAPIKey(t *testing.T) {
	cfg, err := LoadFromEnv([]string{
		"LLM_MODEL=anthropic/claude-sonnet-4-20250514",
		"ANTHROPIC_API_KEY=sk-ant-test",
	})
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.ProviderAPIKeys["anthropic"] != "sk-ant-test" {
		t.Errorf("ProviderAPIKeys[anthropic] = %q, want sk-ant-test", cfg.ProviderAPIKeys["anthropic"])
	}
}

func TestLoadFromEnv_ParsesToolExecutionStrategy(t *testing.T) {
	cfg, err := LoadFromEnv([]string{
		"LLM_MODEL=anthropic/claude-sonnet-4-20250514",
		"TOOL_EXECUTION_STRATEGY=parallel_limit:3",
	})
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if !cfg.ToolStrategy.Parallel || cfg.ToolStrategy.Limit != 3 {
		t.Errorf("ToolStrategy = %+v, want parallel with limit 3", cfg.ToolStrategy)
	}
}

func TestLoadFromEnv_RejectsInvalidToolExecutionStrategy(t *testing.T) {
	_, err := LoadFromEnv([]string{
		"LLM_MODEL=anthropic/claude-sonnet-4-20250514",
		"TOOL_EXECUTION_STRATEGY=whenever",
	})
	if err == nil {
		t.Error("expected error for invalid TOOL_EXECUTION_STRATEGY")
	}
}

func TestLoadFromEnv_RejectsHeadroomOutOfRange(t *testing.T) {
	_, err := LoadFromEnv([]string{
		"LLM_MODEL=anthropic/claude-sonnet-4-20250514",
		"CONTEXT_HEADROOM_PERCENT=75",
	})
	if err == nil {
		t.Error("expected error for CONTEXT_HEADROOM_PERCENT out of [0,50]")
	}
}

func TestLoadFromEnv_RejectsSimilarityThresholdOutOfRange(t *testing.T) {
	_, err := LoadFromEnv([]string{
		"LLM_MODEL=anthropic/claude-sonnet-4-20250514",
		"CACHE_SIMILARITY_THRESHOLD=1.5",
	})
	if err == nil {
		t.Error("expected error for CACHE_SIMILARITY_THRESHOLD out of [0,1]")
	}
}

func TestContextWindowHeadroom_MapsToNearestPreset(t *testing.T) {
	cfg, err := LoadFromEnv([]string{
		"LLM_MODEL=anthropic/claude-sonnet-4-20250514",
		"CONTEXT_HEADROOM_PERCENT=5",
	})
	if err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}
	if cfg.ContextWindowHeadroom() != 0.05 {
		t.Errorf("ContextWindowHeadroom() = %v, want 0.05 (light)", cfg.ContextWindowHeadroom())
	}
}
