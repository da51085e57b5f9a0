package providers

import (
	"context"
	"sync"

	"github.com/agentforge/core/internal/agent"
	"github.com/agentforge/core/pkg/models"
)

// MockScript is one scripted response a MockProvider returns in sequence.
// Exactly one of Completion or Err should be set.
type MockScript struct {
	Completion *models.Completion
	Err        error
}

// MockProvider is a scripted agent.Provider for local demos and tests that
// don't need a live API key: it returns MockScripts in order and loops on
// the final entry once exhausted.
type MockProvider struct {
	mu      sync.Mutex
	scripts []MockScript
	calls   int

	model             string
	contextWindow     int
	reserveCompletion int
}

// NewMockProvider returns a MockProvider that replays scripts in order.
// An empty scripts list always returns a short canned completion.
func NewMockProvider(model string, scripts ...MockScript) *MockProvider {
	if len(scripts) == 0 {
		scripts = []MockScript{{Completion: &models.Completion{
			Content:      "mock response",
			FinishReason: models.FinishStop,
			Message:      models.Message{Role: models.RoleAssistant, Content: "mock response"},
		}}}
	}
	return &MockProvider{
		scripts:           scripts,
		model:             model,
		contextWindow:     defaultAnthropicContextWindow,
		reserveCompletion: defaultAnthropicReserveCompletion,
	}
}

func (m *MockProvider) next() MockScript {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	if idx >= len(m.scripts) {
		idx = len(m.scripts) - 1
	}
	m.calls++
	return m.scripts[idx]
}

// Complete returns the next scripted completion or error.
func (m *MockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*models.Completion, error) {
	script := m.next()
	if script.Err != nil {
		return nil, script.Err
	}
	return script.Completion, nil
}

// StreamComplete replays the scripted completion as a single content
// chunk (when there is content), one tool-call delta chunk per tool call,
// and a finish-reason chunk, then returns it unchanged.
func (m *MockProvider) StreamComplete(ctx context.Context, req *agent.CompletionRequest, onChunk func(models.StreamedChunk)) (*models.Completion, error) {
	script := m.next()
	if script.Err != nil {
		return nil, script.Err
	}
	if script.Completion.Content != "" {
		onChunk(models.StreamedChunk{Content: script.Completion.Content})
	}
	for i, call := range script.Completion.ToolCalls {
		onChunk(models.StreamedChunk{ToolCallDelta: &models.ToolCallDelta{
			Index: i, ID: call.ID, Name: call.Name, ArgumentsFragment: string(call.Arguments),
		}})
	}
	onChunk(models.StreamedChunk{FinishReason: script.Completion.FinishReason})
	return script.Completion, nil
}

func (m *MockProvider) ContextWindow() int     { return m.contextWindow }
func (m *MockProvider) ReserveCompletion() int { return m.reserveCompletion }

func (m *MockProvider) Budget(headroom agent.Headroom) int {
	return agent.BudgetFor(m.contextWindow, m.reserveCompletion, headroom)
}

func (m *MockProvider) Validate() error {
	if m.model == "" {
		return &agent.ValidationError{Field: "model", Message: "mock: model must not be empty"}
	}
	return nil
}

func (m *MockProvider) Close() error { return nil }

// CallCount reports how many times Complete/StreamComplete have been
// invoked, for assertions in callers that wire MockProvider into tests.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
