// Command agentrun is a minimal CLI sample wiring the runtime's
// components end to end: configuration, provider, tool registry,
// context pipeline, and the agent controller. It exists to exercise the
// wiring, not as a production entry point — concrete tools, persistence,
// and transport are collaborators outside the core's scope.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/agentforge/core/internal/agent"
	"github.com/agentforge/core/internal/config"
	"github.com/agentforge/core/internal/contextwindow"
	"github.com/agentforge/core/internal/providers"
	"github.com/agentforge/core/internal/tokenizer"
	"github.com/agentforge/core/internal/tools"
	"github.com/agentforge/core/pkg/models"
)

var (
	tracePath string
	useMock   bool
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("agentrun failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "agentrun",
		Short:        "Run a single agent query against a configured provider",
		SilenceUsage: true,
	}
	root.AddCommand(buildQueryCmd())
	return root
}

func buildQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query [text]",
		Short: "Run the agent loop against a single user query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd.Context(), args[0])
		},
	}
	cmd.Flags().StringVar(&tracePath, "trace", "", "write a JSONL trace of the run to this path")
	cmd.Flags().BoolVar(&useMock, "mock", false, "use a scripted mock provider instead of a live API key")
	return cmd
}

func runQuery(ctx context.Context, query string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("agentrun: load config: %w", err)
	}

	provider, err := buildProvider(cfg)
	if err != nil {
		return fmt.Errorf("agentrun: build provider: %w", err)
	}
	defer provider.Close()
	if err := provider.Validate(); err != nil {
		return fmt.Errorf("agentrun: invalid provider configuration: %w", err)
	}

	registry := tools.NewRegistry()
	if err := registry.Register(clockTool{}); err != nil {
		return fmt.Errorf("agentrun: register tools: %w", err)
	}
	executor := tools.NewExecutor(registry, &tools.ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  time.Duration(cfg.ToolDefaultTimeoutMs) * time.Millisecond,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	})

	counter, err := tokenizer.NewCounter(cfg.Provider + "/" + cfg.ProviderModel)
	if err != nil {
		return fmt.Errorf("agentrun: build tokenizer: %w", err)
	}
	pipeline, err := contextwindow.New(&contextwindow.Config{
		Counter:                        counter,
		EnableDeterministicCompression: cfg.ContextEnableDeterministicCompression,
		EnableLLMCompression:           cfg.ContextEnableLLMCompression,
		SummaryTokenTarget:             cfg.ContextSummaryTokenTarget,
	})
	if err != nil {
		return fmt.Errorf("agentrun: build context pipeline: %w", err)
	}

	trace, err := buildTraceSink()
	if err != nil {
		return fmt.Errorf("agentrun: build trace sink: %w", err)
	}
	defer trace.Close()

	loop, err := agent.NewLoop(provider, executor, pipeline, nil, trace, &agent.LoopConfig{
		Model:        cfg.Provider + "/" + cfg.ProviderModel,
		Headroom:     cfg.ContextWindowHeadroom(),
		ToolStrategy: cfg.ToolStrategy,
	})
	if err != nil {
		return fmt.Errorf("agentrun: build loop: %w", err)
	}

	result, err := loop.Run(ctx, query)
	if err != nil {
		return fmt.Errorf("agentrun: run: %w", err)
	}

	slog.Info("run finished", "state", result.State, "steps", result.Steps, "failure_reason", result.FailureReason)
	if result.State == agent.StateComplete {
		messages := result.Conversation.Messages()
		if len(messages) > 0 {
			fmt.Println(messages[len(messages)-1].Content)
		}
	}
	return nil
}

func buildProvider(cfg *config.Config) (agent.Provider, error) {
	if useMock {
		return providers.NewMockProvider(cfg.ProviderModel), nil
	}

	switch cfg.Provider {
	case "anthropic":
		apiKey := cfg.ProviderAPIKeys["anthropic"]
		if apiKey == "" {
			return nil, agent.NewAgentError(agent.KindConfiguration, "ANTHROPIC_API_KEY is required for provider=anthropic", nil)
		}
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey: apiKey,
			Model:  cfg.ProviderModel,
		})
	default:
		return nil, agent.NewAgentError(agent.KindConfiguration,
			fmt.Sprintf("no provider adapter wired for %q; pass --mock to demo without one", cfg.Provider), nil)
	}
}

func buildTraceSink() (agent.TraceSink, error) {
	if tracePath == "" {
		return agent.NopTraceSink{}, nil
	}
	return agent.NewTraceWriterFile(tracePath, uuid.NewString())
}

// clockTool is a minimal sample tool so agentrun has something to dispatch
// without reaching for an external API.
type clockTool struct{}

func (clockTool) Name() string        { return "current_time" }
func (clockTool) Description() string { return "returns the current UTC time in RFC3339" }
func (clockTool) Schema() tools.SchemaDef {
	return tools.Obj("no arguments", map[string]tools.SchemaDef{})
}
func (clockTool) Execute(ctx context.Context, arguments json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: time.Now().UTC().Format(time.RFC3339)}, nil
}
