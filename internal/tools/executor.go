package tools

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentforge/core/pkg/models"
)

// ExecutorConfig configures bounded-concurrency tool dispatch.
type ExecutorConfig struct {
	// MaxConcurrency limits how many tool calls run at once. Default: 5.
	MaxConcurrency int

	// DefaultTimeout bounds a single tool call. Default: 30s.
	DefaultTimeout time.Duration

	// DefaultRetries is the number of retries for retryable tool errors. Default: 2.
	DefaultRetries int

	// RetryBackoff is the initial backoff between retries. Default: 100ms.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff. Default: 5s.
	MaxRetryBackoff time.Duration
}

// DefaultExecutorConfig returns sensible dispatch defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrency:  5,
		DefaultTimeout:  30 * time.Second,
		DefaultRetries:  2,
		RetryBackoff:    100 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
	}
}

// ToolOverride holds per-tool configuration overrides.
type ToolOverride struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
}

// Executor dispatches a batch of tool calls with a fixed worker pool
// pulling from a shared atomic ticket counter, rather than one goroutine
// per call gated by a semaphore. This avoids head-of-line blocking: a slow
// call at index 0 never holds up workers from picking up index 1..N while
// it runs, because workers pull the next ticket independently instead of
// being assigned fixed chunks or one-goroutine-per-item.
type Executor struct {
	registry    *Registry
	config      *ExecutorConfig
	overrides   map[string]*ToolOverride
	overridesMu sync.RWMutex
	metrics     executorMetrics
}

type executorMetrics struct {
	totalExecutions atomic.Int64
	totalRetries    atomic.Int64
	totalFailures   atomic.Int64
	totalTimeouts   atomic.Int64
	totalPanics     atomic.Int64
}

// ExecutorMetricsSnapshot is a point-in-time copy of executor counters.
type ExecutorMetricsSnapshot struct {
	TotalExecutions int64
	TotalRetries    int64
	TotalFailures   int64
	TotalTimeouts   int64
	TotalPanics     int64
}

// NewExecutor returns an Executor dispatching through registry. A nil
// config uses DefaultExecutorConfig.
func NewExecutor(registry *Registry, config *ExecutorConfig) *Executor {
	if config == nil {
		config = DefaultExecutorConfig()
	}
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = 1
	}
	return &Executor{
		registry:  registry,
		config:    config,
		overrides: make(map[string]*ToolOverride),
	}
}

// ConfigureTool sets a per-tool override, consulted on every call to that tool.
func (e *Executor) ConfigureTool(name string, override *ToolOverride) {
	e.overridesMu.Lock()
	defer e.overridesMu.Unlock()
	e.overrides[name] = override
}

func (e *Executor) getOverride(name string) *ToolOverride {
	e.overridesMu.RLock()
	defer e.overridesMu.RUnlock()
	return e.overrides[name]
}

// ExecutionResult is the outcome of one dispatched tool call.
type ExecutionResult struct {
	ToolCallID string
	ToolName   string
	Result     *models.ToolResult
	Error      error
	Duration   time.Duration
	Attempts   int
}

// Registry returns the registry this executor dispatches against.
func (e *Executor) Registry() *Registry {
	return e.registry
}

// ExecuteAll dispatches calls with bounded concurrency and returns results
// in the same order as calls, regardless of completion order.
func (e *Executor) ExecuteAll(ctx context.Context, calls []models.ToolCall) []*ExecutionResult {
	return e.ExecuteAllWithConcurrency(ctx, calls, e.config.MaxConcurrency)
}

// ExecuteAllWithConcurrency is ExecuteAll with a per-call concurrency
// override (e.g. 1 for a sequential strategy, or a smaller limit than the
// executor's default), used by callers that select a dispatch strategy
// per batch rather than per executor.
func (e *Executor) ExecuteAllWithConcurrency(ctx context.Context, calls []models.ToolCall, maxConcurrency int) []*ExecutionResult {
	if len(calls) == 0 {
		return nil
	}
	if maxConcurrency <= 0 {
		maxConcurrency = e.config.MaxConcurrency
	}

	results := make([]*ExecutionResult, len(calls))

	workers := maxConcurrency
	if workers > len(calls) {
		workers = len(calls)
	}

	var ticket atomic.Int64
	var wg sync.WaitGroup
	wg.Add(workers)

	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for {
				idx := int(ticket.Add(1)) - 1
				if idx >= len(calls) {
					return
				}
				results[idx] = e.execute(ctx, calls[idx])
			}
		}()
	}

	wg.Wait()
	return results
}

// execute runs a single tool call with retry and timeout handling.
func (e *Executor) execute(ctx context.Context, call models.ToolCall) *ExecutionResult {
	start := time.Now()
	result := &ExecutionResult{ToolCallID: call.ID, ToolName: call.Name}

	if ctx.Err() != nil {
		result.Error = NewToolError(call.Name, ctx.Err()).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID)
		result.Duration = time.Since(start)
		return result
	}

	override := e.getOverride(call.Name)
	timeout := e.config.DefaultTimeout
	maxRetries := e.config.DefaultRetries
	backoff := e.config.RetryBackoff

	if override != nil {
		if override.Timeout > 0 {
			timeout = override.Timeout
		}
		if override.Retries >= 0 {
			maxRetries = override.Retries
		}
		if override.RetryBackoff > 0 {
			backoff = override.RetryBackoff
		}
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		result.Attempts = attempt + 1

		execResult, execErr := e.executeWithTimeout(ctx, call, timeout)
		if execErr == nil {
			result.Result = execResult
			result.Duration = time.Since(start)
			e.metrics.totalExecutions.Add(1)
			if attempt > 0 {
				e.metrics.totalRetries.Add(int64(attempt))
			}
			return result
		}

		lastErr = execErr

		if !IsToolRetryable(execErr) || ctx.Err() != nil || attempt >= maxRetries {
			break
		}

		sleepDuration := backoff * time.Duration(int64(1)<<uint(attempt))
		if sleepDuration > e.config.MaxRetryBackoff {
			sleepDuration = e.config.MaxRetryBackoff
		}

		select {
		case <-time.After(sleepDuration):
		case <-ctx.Done():
			lastErr = NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID)
		}
	}

	result.Error = lastErr
	result.Duration = time.Since(start)

	e.metrics.totalExecutions.Add(1)
	e.metrics.totalFailures.Add(1)
	if toolErr, ok := GetToolError(lastErr); ok {
		switch toolErr.Type {
		case ToolErrorTimeout:
			e.metrics.totalTimeouts.Add(1)
		case ToolErrorPanic:
			e.metrics.totalPanics.Add(1)
		}
	}

	return result
}

func (e *Executor) executeWithTimeout(ctx context.Context, call models.ToolCall, timeout time.Duration) (*models.ToolResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type execOutcome struct {
		result *models.ToolResult
		err    error
	}
	resultCh := make(chan execOutcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				err := NewToolError(call.Name, fmt.Errorf("panic: %v\n%s", r, stack)).
					WithType(ToolErrorPanic).
					WithToolCallID(call.ID)
				resultCh <- execOutcome{err: err}
			}
		}()

		result, err := e.registry.Execute(execCtx, call.Name, call.Arguments)
		if err != nil {
			resultCh <- execOutcome{err: NewToolError(call.Name, err).WithToolCallID(call.ID)}
			return
		}
		resultCh <- execOutcome{result: result}
	}()

	select {
	case res := <-resultCh:
		return res.result, res.err
	case <-execCtx.Done():
		if ctx.Err() != nil {
			return nil, NewToolError(call.Name, ctx.Err()).
				WithType(ToolErrorTimeout).
				WithToolCallID(call.ID).
				WithMessage("context cancelled")
		}
		return nil, NewToolError(call.Name, ErrToolTimeout).
			WithType(ToolErrorTimeout).
			WithToolCallID(call.ID).
			WithMessage(fmt.Sprintf("execution timed out after %s", timeout))
	}
}

// Metrics returns a snapshot of the executor's counters.
func (e *Executor) Metrics() ExecutorMetricsSnapshot {
	return ExecutorMetricsSnapshot{
		TotalExecutions: e.metrics.totalExecutions.Load(),
		TotalRetries:    e.metrics.totalRetries.Load(),
		TotalFailures:   e.metrics.totalFailures.Load(),
		TotalTimeouts:   e.metrics.totalTimeouts.Load(),
		TotalPanics:     e.metrics.totalPanics.Load(),
	}
}

// ResultsToMessages converts execution results into tool-result messages
// ready to append to a Conversation. A failed result's content is the
// stable ToolCallError JSON object (spec.md §4.3), not r.Error's flattened
// string, so the structured kind and (for invalid arguments) the
// per-parameter detail survive into the conversation.
func ResultsToMessages(results []*ExecutionResult) []models.Message {
	messages := make([]models.Message, len(results))
	for i, r := range results {
		msg := models.Message{Role: models.RoleTool, ToolCallID: r.ToolCallID}
		if r.Error != nil {
			msg.Content = SerializeExecutionError(r.Error)
		} else if r.Result != nil {
			msg.Content = r.Result.Content
		}
		messages[i] = msg
	}
	return messages
}

// AnyErrors reports whether any result in results failed.
func AnyErrors(results []*ExecutionResult) bool {
	for _, r := range results {
		if r.Error != nil {
			return true
		}
	}
	return false
}
