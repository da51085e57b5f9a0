package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/agentforge/core/internal/backoff"
	"github.com/agentforge/core/internal/tools"
	"github.com/agentforge/core/pkg/models"
)

// scriptedProvider returns one completion per call, in order, looping on
// the last entry if Complete is called more times than scripted.
type scriptedProvider struct {
	completions []*models.Completion
	calls       int
}

func (p *scriptedProvider) Complete(ctx context.Context, req *CompletionRequest) (*models.Completion, error) {
	idx := p.calls
	if idx >= len(p.completions) {
		idx = len(p.completions) - 1
	}
	p.calls++
	return p.completions[idx], nil
}

func (p *scriptedProvider) StreamComplete(ctx context.Context, req *CompletionRequest, onChunk func(models.StreamedChunk)) (*models.Completion, error) {
	return p.Complete(ctx, req)
}
func (p *scriptedProvider) ContextWindow() int     { return 100000 }
func (p *scriptedProvider) ReserveCompletion() int { return 4096 }
func (p *scriptedProvider) Budget(h Headroom) int  { return BudgetFor(100000, 4096, h) }
func (p *scriptedProvider) Validate() error        { return nil }
func (p *scriptedProvider) Close() error           { return nil }

type echoTool struct{}

func (echoTool) Name() string        { return "echo" }
func (echoTool) Description() string { return "echoes its input" }
func (echoTool) Schema() tools.SchemaDef {
	return tools.Obj("echo arguments", map[string]tools.SchemaDef{
		"message": tools.Str("text to echo"),
	})
}
func (echoTool) Execute(ctx context.Context, arguments json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "echoed"}, nil
}

func newTestLoop(t *testing.T, completions []*models.Completion) (*Loop, *scriptedProvider) {
	t.Helper()
	registry := tools.NewRegistry()
	if err := registry.Register(echoTool{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	executor := tools.NewExecutor(registry, tools.DefaultExecutorConfig())
	provider := &scriptedProvider{completions: completions}

	loop, err := NewLoop(provider, executor, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	return loop, provider
}

func TestLoop_CompletesWithoutToolCalls(t *testing.T) {
	loop, _ := newTestLoop(t, []*models.Completion{
		{Content: "the answer is 4", FinishReason: models.FinishStop},
	})

	result, err := loop.Run(context.Background(), "what is 2+2?")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateComplete {
		t.Fatalf("State = %s, want Complete", result.State)
	}
	if result.Steps != 1 {
		t.Errorf("Steps = %d, want 1", result.Steps)
	}
}

func TestLoop_DispatchesToolCallsThenCompletes(t *testing.T) {
	loop, _ := newTestLoop(t, []*models.Completion{
		{
			ToolCalls: []models.ToolCall{{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{"message":"hi"}`)}},
		},
		{Content: "done", FinishReason: models.FinishStop},
	})

	result, err := loop.Run(context.Background(), "echo hi")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateComplete {
		t.Fatalf("State = %s, want Complete", result.State)
	}

	var sawToolResult bool
	for _, m := range result.Conversation.Messages() {
		if m.Role == models.RoleTool && m.ToolCallID == "call-1" {
			sawToolResult = true
			if m.Content != "echoed" {
				t.Errorf("tool result content = %q, want echoed", m.Content)
			}
		}
	}
	if !sawToolResult {
		t.Error("expected a tool-result message for call-1")
	}
}

func TestLoop_StepLimitReachedFails(t *testing.T) {
	loop, _ := newTestLoop(t, []*models.Completion{
		{ToolCalls: []models.ToolCall{{ID: "call-1", Name: "echo", Arguments: json.RawMessage(`{}`)}}},
	})
	loop.config.MaxSteps = 2

	result, err := loop.Run(context.Background(), "loop forever")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("State = %s, want Failed", result.State)
	}
	if result.FailureReason != "step limit reached" {
		t.Errorf("FailureReason = %q, want %q", result.FailureReason, "step limit reached")
	}
}

func TestLoop_CancelledContextFailsCleanly(t *testing.T) {
	loop, _ := newTestLoop(t, []*models.Completion{
		{Content: "should not be reached"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := loop.Run(ctx, "anything")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateFailed || result.FailureReason != "cancelled" {
		t.Errorf("result = %+v, want Failed/cancelled", result)
	}
}

// flakyProvider fails with a recoverable error on its first failCount
// calls to Complete, then returns completion.
type flakyProvider struct {
	scriptedProvider
	failCount int
	calls     int
}

func (p *flakyProvider) Complete(ctx context.Context, req *CompletionRequest) (*models.Completion, error) {
	p.calls++
	if p.calls <= p.failCount {
		return nil, NewAgentError(KindRateLimit, "rate limited", nil)
	}
	return p.scriptedProvider.Complete(ctx, req)
}

// fastRetryPolicy eliminates real sleeps in tests exercising the retry loop.
func fastRetryPolicy() backoff.Policy {
	return backoff.Policy{InitialMs: 0, MaxMs: 0, Factor: 1, Jitter: 0}
}

func TestLoop_RetriesRecoverableProviderErrorThenSucceeds(t *testing.T) {
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, tools.DefaultExecutorConfig())
	provider := &flakyProvider{
		scriptedProvider: scriptedProvider{completions: []*models.Completion{
			{Content: "done", FinishReason: models.FinishStop},
		}},
		failCount: 2,
	}

	loop, err := NewLoop(provider, executor, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	loop.config.RetryPolicy = fastRetryPolicy()

	result, err := loop.Run(context.Background(), "retry then succeed")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateComplete {
		t.Fatalf("State = %s, want Complete", result.State)
	}
	if provider.calls != 3 {
		t.Errorf("provider.calls = %d, want 3 (2 recoverable failures + 1 success)", provider.calls)
	}
}

func TestLoop_ExhaustsExactlyRetryMaxAttempts(t *testing.T) {
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, tools.DefaultExecutorConfig())
	provider := &flakyProvider{failCount: 1000}

	loop, err := NewLoop(provider, executor, nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("NewLoop() error = %v", err)
	}
	loop.config.RetryPolicy = fastRetryPolicy()

	result, err := loop.Run(context.Background(), "always fails")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.State != StateFailed {
		t.Fatalf("State = %s, want Failed", result.State)
	}
	// A single retry layer governs total attempts: the provider's own
	// Complete makes one attempt per call (internal/providers/anthropic.go
	// no longer retries internally), so exactly RetryMaxAttempts calls
	// reach the provider, not RetryMaxAttempts^2.
	if provider.calls != loop.config.RetryMaxAttempts {
		t.Errorf("provider.calls = %d, want %d", provider.calls, loop.config.RetryMaxAttempts)
	}
}

func TestNewLoop_RequiresProviderAndExecutor(t *testing.T) {
	registry := tools.NewRegistry()
	executor := tools.NewExecutor(registry, nil)

	if _, err := NewLoop(nil, executor, nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := NewLoop(&scriptedProvider{}, nil, nil, nil, nil, nil); err == nil {
		t.Error("expected error for nil executor")
	}
}
