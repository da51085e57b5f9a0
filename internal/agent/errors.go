package agent

import (
	"errors"
	"fmt"
)

// Sentinel errors for agent loop failures.
var (
	// ErrMaxIterations indicates the agent loop exceeded its iteration budget.
	ErrMaxIterations = errors.New("max iterations exceeded")

	// ErrNoProvider indicates no provider was configured for the loop.
	ErrNoProvider = errors.New("no provider configured")
)

// AgentErrorKind categorizes a failure surfaced anywhere in the agent
// runtime — provider calls, context pipeline, tool dispatch — so callers
// can branch on Kind without parsing message text.
type AgentErrorKind string

const (
	KindAuthentication AgentErrorKind = "authentication_error"
	KindRateLimit      AgentErrorKind = "rate_limit_error"
	KindNetwork        AgentErrorKind = "network_error"
	KindTimeout        AgentErrorKind = "timeout_error"
	KindValidation     AgentErrorKind = "validation_error"
	KindConfiguration  AgentErrorKind = "configuration_error"
	KindProcessing     AgentErrorKind = "processing_error"
	KindToolCall       AgentErrorKind = "tool_call_error"
	KindContext        AgentErrorKind = "context_error"
	KindUnknown        AgentErrorKind = "unknown_error"
)

// Recoverable reports whether a failure of this kind is worth retrying.
// Rate limits, network blips, and timeouts are transient; everything else
// reflects a problem retrying will not fix.
func (k AgentErrorKind) Recoverable() bool {
	switch k {
	case KindRateLimit, KindNetwork, KindTimeout:
		return true
	default:
		return false
	}
}

// AgentError is the idiomatic-Go stand-in for a tagged Result<T,E> error:
// a plain (T, error) return plus this typed wrapper whenever the caller
// needs to branch on failure kind.
type AgentError struct {
	Kind    AgentErrorKind
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether retrying this error may succeed.
func (e *AgentError) Recoverable() bool {
	return e.Kind.Recoverable()
}

// NewAgentError builds an AgentError of the given kind.
func NewAgentError(kind AgentErrorKind, message string, cause error) *AgentError {
	return &AgentError{Kind: kind, Message: message, Cause: cause}
}

// LoopPhase names a stage of the agent's state machine, for error context
// and trace events.
type LoopPhase string

const (
	PhaseInit         LoopPhase = "init"
	PhaseStream       LoopPhase = "stream"
	PhaseExecuteTools LoopPhase = "execute_tools"
	PhaseContinue     LoopPhase = "continue"
	PhaseComplete     LoopPhase = "complete"
)

// LoopError carries the loop phase and iteration an error occurred in,
// so a caller can tell a streaming failure from a tool-dispatch failure.
type LoopError struct {
	Phase     LoopPhase
	Iteration int
	Message   string
	Cause     error
}

func (e *LoopError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("loop error at %s (iteration %d): %s", e.Phase, e.Iteration, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("loop error at %s (iteration %d): %v", e.Phase, e.Iteration, e.Cause)
	}
	return fmt.Sprintf("loop error at %s (iteration %d)", e.Phase, e.Iteration)
}

func (e *LoopError) Unwrap() error {
	return e.Cause
}
