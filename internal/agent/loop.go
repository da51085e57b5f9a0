package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/agentforge/core/internal/backoff"
	"github.com/agentforge/core/internal/contextwindow"
	"github.com/agentforge/core/internal/semcache"
	"github.com/agentforge/core/internal/tools"
	"github.com/agentforge/core/pkg/models"
)

// AgentState is the controller's four-state contract:
//
//	(start) → InProgress ──complete──▶ assistant message
//	             │                          │
//	             │              (no tool_calls) ──▶ Complete
//	             │              (tool_calls)   ──▶ WaitingForTools
//	             ▼                          │
//	      WaitingForTools ◀── run_step ─────┘
//	        │ execute all tool_calls, append Tool messages
//	        └──▶ InProgress
//
// This is deliberately smaller than LoopPhase: LoopPhase tags where in the
// step an error occurred for diagnostics, while AgentState is the public
// state the controller itself transitions through.
type AgentState string

const (
	StateInProgress      AgentState = "InProgress"
	StateWaitingForTools AgentState = "WaitingForTools"
	StateComplete        AgentState = "Complete"
	StateFailed          AgentState = "Failed"
)

const defaultMaxSteps = 25

const defaultSystemPrompt = "You are a helpful assistant with access to tools. Use them when needed to answer the user's request."

// ToolExecutionStrategy selects how a step's tool calls are dispatched.
type ToolExecutionStrategy struct {
	// Parallel enables concurrent dispatch; false means Sequential
	// (equivalent to Parallel with Limit 1).
	Parallel bool
	// Limit bounds concurrency when Parallel is true. Zero means the
	// executor's configured MaxConcurrency.
	Limit int
}

// Sequential dispatches one tool call at a time.
func Sequential() ToolExecutionStrategy { return ToolExecutionStrategy{Parallel: false} }

// Parallel dispatches a step's tool calls concurrently, up to the
// executor's configured MaxConcurrency at once.
func Parallel() ToolExecutionStrategy { return ToolExecutionStrategy{Parallel: true} }

// ParallelWithLimit dispatches with at most n tool calls in flight at once.
func ParallelWithLimit(n int) ToolExecutionStrategy {
	return ToolExecutionStrategy{Parallel: true, Limit: n}
}

// LoopConfig configures a Loop's run-level behavior.
type LoopConfig struct {
	MaxSteps            int
	DefaultSystemPrompt string
	Model               string
	Headroom            contextwindow.Headroom
	ToolStrategy        ToolExecutionStrategy
	RetryPolicy         backoff.Policy
	RetryMaxAttempts    int
}

// DefaultLoopConfig returns the spec's defaults: 25-step budget, standard
// headroom, parallel tool dispatch, and the default provider retry policy
// (3 attempts, 500ms-4s backoff, 10% jitter).
func DefaultLoopConfig() *LoopConfig {
	return &LoopConfig{
		MaxSteps:            defaultMaxSteps,
		DefaultSystemPrompt: defaultSystemPrompt,
		Headroom:            contextwindow.HeadroomStandard,
		ToolStrategy:        Parallel(),
		RetryPolicy:         backoff.ProviderRetryPolicy(),
		RetryMaxAttempts:    3,
	}
}

func (c *LoopConfig) withDefaults() *LoopConfig {
	cfg := *c
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.DefaultSystemPrompt == "" {
		cfg.DefaultSystemPrompt = defaultSystemPrompt
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 3
	}
	return &cfg
}

// Loop is the agent controller (C10): it drives a Conversation through the
// InProgress/WaitingForTools state machine until it reaches Complete or
// Failed, calling the provider, the tool executor, the context pipeline,
// and (optionally) the semantic cache at each step.
type Loop struct {
	provider Provider
	executor *tools.Executor
	pipeline *contextwindow.Pipeline
	cache    *semcache.Cache
	trace    TraceSink
	config   *LoopConfig
}

// NewLoop builds a Loop. provider and executor are required; pipeline,
// cache, and trace are optional collaborators (nil pipeline skips context
// management, nil cache skips the semantic cache, nil trace discards
// events).
func NewLoop(provider Provider, executor *tools.Executor, pipeline *contextwindow.Pipeline, cache *semcache.Cache, trace TraceSink, config *LoopConfig) (*Loop, error) {
	if provider == nil {
		return nil, ErrNoProvider
	}
	if executor == nil {
		return nil, fmt.Errorf("agent: executor is required")
	}
	if config == nil {
		config = DefaultLoopConfig()
	}
	if trace == nil {
		trace = NopTraceSink{}
	}
	return &Loop{
		provider: provider,
		executor: executor,
		pipeline: pipeline,
		cache:    cache,
		trace:    trace,
		config:   config.withDefaults(),
	}, nil
}

// RunResult is the terminal outcome of a Run call.
type RunResult struct {
	Conversation  *Conversation
	State         AgentState
	FailureReason string
	Steps         int
}

// Run initializes a conversation with a default system message (if none is
// configured) plus the user's query, then drives the state machine until
// Complete, Failed, or the step budget is exhausted (which is itself a
// Failed("step limit reached") outcome).
func (l *Loop) Run(ctx context.Context, query string) (*RunResult, error) {
	conv := NewConversation(l.config.DefaultSystemPrompt)
	conv = conv.AppendUser(query)

	state := StateInProgress
	steps := 0

	for steps < l.config.MaxSteps {
		select {
		case <-ctx.Done():
			l.trace.Emit(TraceEvent{Kind: TraceError, Iteration: steps, Error: &ErrorEvent{Message: "cancelled", Kind: "cancelled"}})
			return &RunResult{Conversation: conv, State: StateFailed, FailureReason: "cancelled", Steps: steps}, nil
		default:
		}

		nextConv, nextState, reason, err := l.runStep(ctx, conv, state, steps)
		if err != nil {
			return nil, err
		}
		conv = nextConv

		if nextState != state {
			l.trace.Emit(TraceEvent{
				Kind:      TraceAgentStep,
				Iteration: steps,
				AgentStep: &AgentStepEvent{FromState: state, ToState: nextState},
			})
		}
		state = nextState

		if state == StateComplete {
			return &RunResult{Conversation: conv, State: state, Steps: steps + 1}, nil
		}
		if state == StateFailed {
			return &RunResult{Conversation: conv, State: state, FailureReason: reason, Steps: steps + 1}, nil
		}

		steps++
	}

	l.trace.Emit(TraceEvent{Kind: TraceError, Iteration: steps, Error: &ErrorEvent{Message: "step limit reached", Kind: "step_limit"}})
	return &RunResult{Conversation: conv, State: StateFailed, FailureReason: "step limit reached", Steps: steps}, nil
}

// runStep performs one iteration of the state machine: a context-pipeline
// pass, then either a provider call (InProgress) or a tool dispatch
// (WaitingForTools).
func (l *Loop) runStep(ctx context.Context, conv *Conversation, state AgentState, iteration int) (*Conversation, AgentState, string, error) {
	conv, err := l.applyContextPipeline(ctx, conv, iteration)
	if err != nil {
		l.trace.Emit(TraceEvent{Kind: TraceError, Iteration: iteration, Error: &ErrorEvent{Message: err.Error(), Kind: "context_error"}})
		return conv, StateFailed, err.Error(), nil
	}

	switch state {
	case StateInProgress:
		return l.runProviderStep(ctx, conv, iteration)
	case StateWaitingForTools:
		return l.runToolStep(ctx, conv, iteration)
	default:
		return conv, state, "", fmt.Errorf("agent: runStep called in terminal state %s", state)
	}
}

func (l *Loop) applyContextPipeline(ctx context.Context, conv *Conversation, iteration int) (*Conversation, error) {
	if l.pipeline == nil {
		return conv, nil
	}
	budget := l.provider.Budget(HeadroomToProviderHeadroom(l.config.Headroom))
	result, err := l.pipeline.Manage(ctx, conv.Messages(), budget, l.config.Headroom)
	if err != nil {
		return conv, NewAgentError(KindContext, "context pipeline could not fit conversation within budget", err)
	}
	if len(result.StepsApplied) == 0 {
		return conv, nil
	}

	stepNames := make([]string, len(result.StepsApplied))
	for i, s := range result.StepsApplied {
		stepNames[i] = string(s)
	}
	l.trace.Emit(TraceEvent{
		Kind:      TraceContextPipelineApplied,
		Iteration: iteration,
		ContextPipelineApplied: &ContextPipelineEvent{
			Steps:            stepNames,
			OriginalTokens:   result.OriginalTokens,
			FinalTokens:      result.FinalTokens,
			CompressionRatio: result.CompressionRatio,
		},
	})

	return replaceMessages(conv, result.Conversation), nil
}

// HeadroomToProviderHeadroom adapts contextwindow's Headroom to the
// provider budget call's Headroom type. The two packages define their own
// copies of the same three named values to avoid an import cycle between
// internal/agent and internal/contextwindow.
func HeadroomToProviderHeadroom(h contextwindow.Headroom) Headroom {
	return Headroom(h)
}

func (l *Loop) runProviderStep(ctx context.Context, conv *Conversation, iteration int) (*Conversation, AgentState, string, error) {
	req := &CompletionRequest{
		Model:    l.config.Model,
		Messages: conv.Messages(),
		Options: models.CompletionOptions{
			Tools: l.executor.Registry().ToolDefs(),
		},
	}

	if l.cache != nil {
		cached, reason, err := l.cache.Lookup(ctx, req.Messages, req.Options)
		if err == nil && cached != nil {
			l.trace.Emit(TraceEvent{Kind: TraceCacheHit, Iteration: iteration, CacheHit: &CacheHitEvent{}})
			return appendCompletion(conv, *cached)
		}
		if err == nil {
			l.trace.Emit(TraceEvent{Kind: TraceCacheMiss, Iteration: iteration, CacheMiss: &CacheMissEvent{Reason: string(reason)}})
		}
	}

	start := time.Now()
	result, err := backoff.RetryWithBackoff(ctx, l.config.RetryPolicy, l.config.RetryMaxAttempts, isRecoverableProviderError, func(attempt int) (*models.Completion, error) {
		return l.provider.Complete(ctx, req)
	})
	latency := time.Since(start)

	l.trace.Emit(TraceEvent{
		Kind:      TraceProviderCall,
		Iteration: iteration,
		ProviderCall: &ProviderCallEvent{
			Model:      req.Model,
			LatencyMs:  latency.Milliseconds(),
			RetryCount: result.Attempts - 1,
		},
	})

	if err != nil {
		return conv, StateFailed, err.Error(), nil
	}

	completion := result.Value

	if l.cache != nil {
		_, _, _ = l.cache.Store(ctx, req.Messages, req.Options, *completion)
	}

	return appendCompletion(conv, *completion)
}

func appendCompletion(conv *Conversation, completion models.Completion) (*Conversation, AgentState, string, error) {
	next, err := conv.AppendAssistant(completion.Content, completion.ToolCalls)
	if err != nil {
		return conv, StateFailed, err.Error(), nil
	}
	if len(completion.ToolCalls) > 0 {
		return next, StateWaitingForTools, "", nil
	}
	return next, StateComplete, "", nil
}

func (l *Loop) runToolStep(ctx context.Context, conv *Conversation, iteration int) (*Conversation, AgentState, string, error) {
	calls := conv.OutstandingToolCalls()
	if len(calls) == 0 {
		return conv, StateInProgress, "", nil
	}

	for _, c := range calls {
		l.trace.Emit(TraceEvent{
			Kind:      TraceToolCall,
			Iteration: iteration,
			ToolCall:  &ToolCallEvent{ToolCallID: c.ID, ToolName: c.Name, Arguments: c.Arguments},
		})
	}

	concurrency := 0 // 0 means "use the executor's configured default"
	if !l.config.ToolStrategy.Parallel {
		concurrency = 1
	} else if l.config.ToolStrategy.Limit > 0 {
		concurrency = l.config.ToolStrategy.Limit
	}

	results := l.executor.ExecuteAllWithConcurrency(ctx, calls, concurrency)

	next := conv
	for _, r := range results {
		l.trace.Emit(TraceEvent{
			Kind:       TraceToolResult,
			Iteration:  iteration,
			ToolResult: &ToolResultEvent{ToolCallID: r.ToolCallID, ToolName: r.ToolName, IsError: r.Error != nil, LatencyMs: r.Duration.Milliseconds(), Attempts: r.Attempts},
		})

		content := ""
		if r.Error != nil {
			content = tools.SerializeExecutionError(r.Error)
		} else if r.Result != nil {
			content = r.Result.Content
		}
		updated, err := next.AppendToolResult(r.ToolCallID, content)
		if err != nil {
			return next, StateFailed, err.Error(), nil
		}
		next = updated
	}

	return next, StateInProgress, "", nil
}

func isRecoverableProviderError(err error) bool {
	if agentErr, ok := err.(*AgentError); ok {
		return agentErr.Recoverable()
	}
	return true
}

// replaceMessages rebuilds a Conversation from a plain message slice, used
// after the context pipeline produces a new (possibly summarized/trimmed)
// message set.
func replaceMessages(conv *Conversation, messages []models.Message) *Conversation {
	return &Conversation{messages: append([]models.Message(nil), messages...)}
}
