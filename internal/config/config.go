// Package config loads the runtime's configuration from environment
// variables. Unlike the teacher's YAML-tree config, this module's surface
// is small enough (spec.md §6: ~10 scalar settings) to stay flat and
// env-var driven rather than pulling in a YAML parser for it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/agentforge/core/internal/agent"
	"github.com/agentforge/core/internal/contextwindow"
)

// Config is the fully resolved runtime configuration.
type Config struct {
	// Provider and ProviderModel come from LLM_MODEL = "<provider>/<model>".
	Provider      string
	ProviderModel string

	// ProviderAPIKeys holds the env-named API key for each provider this
	// process has credentials for (e.g. "anthropic" -> ANTHROPIC_API_KEY).
	ProviderAPIKeys map[string]string

	ContextHeadroom                       agent.Headroom
	ContextEnableDeterministicCompression bool
	ContextEnableLLMCompression           bool
	ContextSummaryTokenTarget             int

	ToolStrategy         agent.ToolExecutionStrategy
	ToolDefaultTimeoutMs int

	CacheSimilarityThreshold float64
	CacheTTLMs               int
	CacheMaxEntries          int
}

// SupportedProviders enumerates the provider identifiers spec.md §6 allows
// in LLM_MODEL's <provider> segment.
var SupportedProviders = map[string]bool{
	"openai": true, "anthropic": true, "azure": true,
	"ollama": true, "openrouter": true, "gemini": true,
}

// envAPIKeyNames maps a provider identifier to the environment variable
// carrying its API key.
var envAPIKeyNames = map[string]string{
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
	"azure":      "AZURE_API_KEY",
	"openrouter": "OPENROUTER_API_KEY",
	"gemini":     "GEMINI_API_KEY",
	// ollama is typically unauthenticated; OLLAMA_API_KEY is honored if set.
	"ollama": "OLLAMA_API_KEY",
}

// Load reads configuration from the process environment, applying the
// defaults spec.md §6 documents for every optional setting. LLM_MODEL is
// the only required variable.
func Load() (*Config, error) {
	return LoadFromEnv(os.Environ())
}

// LoadFromEnv parses a slice of "KEY=VALUE" strings, as returned by
// os.Environ, so callers can test configuration resolution without
// mutating the real process environment.
func LoadFromEnv(environ []string) (*Config, error) {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}

	llmModel := env["LLM_MODEL"]
	if llmModel == "" {
		return nil, agent.NewAgentError(agent.KindConfiguration, "LLM_MODEL is required", nil)
	}
	provider, model, ok := strings.Cut(llmModel, "/")
	if !ok || provider == "" || model == "" {
		return nil, agent.NewAgentError(agent.KindConfiguration,
			fmt.Sprintf("LLM_MODEL %q must have the form <provider>/<model>", llmModel), nil)
	}
	if !SupportedProviders[provider] {
		return nil, agent.NewAgentError(agent.KindConfiguration,
			fmt.Sprintf("unsupported provider %q in LLM_MODEL", provider), nil)
	}

	cfg := &Config{
		Provider:        provider,
		ProviderModel:   model,
		ProviderAPIKeys: make(map[string]string),
	}
	for p, envName := range envAPIKeyNames {
		if key := env[envName]; key != "" {
			cfg.ProviderAPIKeys[p] = key
		}
	}

	headroomPercent, err := parseIntInRange(env, "CONTEXT_HEADROOM_PERCENT", 8, 0, 50)
	if err != nil {
		return nil, err
	}
	cfg.ContextHeadroom = agent.Headroom(float64(headroomPercent) / 100.0)

	cfg.ContextEnableDeterministicCompression, err = parseBool(env, "CONTEXT_ENABLE_DETERMINISTIC_COMPRESSION", true)
	if err != nil {
		return nil, err
	}
	cfg.ContextEnableLLMCompression, err = parseBool(env, "CONTEXT_ENABLE_LLM_COMPRESSION", false)
	if err != nil {
		return nil, err
	}
	cfg.ContextSummaryTokenTarget, err = parseIntMin(env, "CONTEXT_SUMMARY_TOKEN_TARGET", 400, 1)
	if err != nil {
		return nil, err
	}

	cfg.ToolStrategy, err = parseToolStrategy(env["TOOL_EXECUTION_STRATEGY"])
	if err != nil {
		return nil, err
	}
	cfg.ToolDefaultTimeoutMs, err = parseIntMin(env, "TOOL_DEFAULT_TIMEOUT_MS", 30000, 1)
	if err != nil {
		return nil, err
	}

	cfg.CacheSimilarityThreshold, err = parseFloatInRange(env, "CACHE_SIMILARITY_THRESHOLD", 0.9, 0, 1)
	if err != nil {
		return nil, err
	}
	cfg.CacheTTLMs, err = parseIntMin(env, "CACHE_TTL_MS", 300000, 1)
	if err != nil {
		return nil, err
	}
	cfg.CacheMaxEntries, err = parseIntMin(env, "CACHE_MAX_ENTRIES", 1000, 1)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// ContextWindowHeadroom converts the resolved Headroom into
// contextwindow's local enum by threshold: at or below Light maps to
// Light, at or above Conservative to Conservative, anything between to
// Standard. agent.HeadroomToProviderHeadroom converts the other way with a
// plain numeric conversion.
func (c *Config) ContextWindowHeadroom() contextwindow.Headroom {
	switch {
	case c.ContextHeadroom <= agent.HeadroomLight:
		return contextwindow.HeadroomLight
	case c.ContextHeadroom >= agent.HeadroomConservative:
		return contextwindow.HeadroomConservative
	default:
		return contextwindow.HeadroomStandard
	}
}

func parseToolStrategy(raw string) (agent.ToolExecutionStrategy, error) {
	if raw == "" {
		return agent.Parallel(), nil
	}
	if raw == "sequential" {
		return agent.Sequential(), nil
	}
	if raw == "parallel" {
		return agent.Parallel(), nil
	}
	if strings.HasPrefix(raw, "parallel_limit:") {
		n, err := strconv.Atoi(strings.TrimPrefix(raw, "parallel_limit:"))
		if err != nil || n <= 0 {
			return agent.ToolExecutionStrategy{}, agent.NewAgentError(agent.KindConfiguration,
				fmt.Sprintf("TOOL_EXECUTION_STRATEGY %q: invalid parallel_limit count", raw), err)
		}
		return agent.ParallelWithLimit(n), nil
	}
	return agent.ToolExecutionStrategy{}, agent.NewAgentError(agent.KindConfiguration,
		fmt.Sprintf("TOOL_EXECUTION_STRATEGY %q must be sequential, parallel, or parallel_limit:<n>", raw), nil)
}

func parseBool(env map[string]string, key string, def bool) (bool, error) {
	raw, ok := env[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, agent.NewAgentError(agent.KindConfiguration, fmt.Sprintf("%s must be true or false", key), err)
	}
	return v, nil
}

func parseIntMin(env map[string]string, key string, def, min int) (int, error) {
	raw, ok := env[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return 0, agent.NewAgentError(agent.KindConfiguration, fmt.Sprintf("%s must be an integer >= %d", key, min), err)
	}
	return v, nil
}

func parseIntInRange(env map[string]string, key string, def, min, max int) (int, error) {
	raw, ok := env[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		return 0, agent.NewAgentError(agent.KindConfiguration, fmt.Sprintf("%s must be an integer in [%d,%d]", key, min, max), err)
	}
	return v, nil
}

func parseFloatInRange(env map[string]string, key string, def, min, max float64) (float64, error) {
	raw, ok := env[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < min || v > max {
		return 0, agent.NewAgentError(agent.KindConfiguration, fmt.Sprintf("%s must be a number in [%g,%g]", key, min, max), err)
	}
	return v, nil
}
