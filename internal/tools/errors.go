package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for tool dispatch failures.
var (
	// ErrToolNotFound indicates a requested tool is not registered.
	ErrToolNotFound = errors.New("tool not found")

	// ErrToolTimeout indicates a tool execution exceeded its per-call timeout.
	ErrToolTimeout = errors.New("tool execution timed out")

	// ErrToolPanic indicates a tool goroutine panicked during execution.
	ErrToolPanic = errors.New("tool panicked")
)

// ToolErrorType categorizes a tool execution failure.
type ToolErrorType string

const (
	ToolErrorNotFound     ToolErrorType = "not_found"
	ToolErrorInvalidInput ToolErrorType = "invalid_input"
	ToolErrorTimeout      ToolErrorType = "timeout"
	ToolErrorNetwork      ToolErrorType = "network"
	ToolErrorPermission   ToolErrorType = "permission"
	ToolErrorRateLimit    ToolErrorType = "rate_limit"
	ToolErrorExecution    ToolErrorType = "execution"
	ToolErrorPanic        ToolErrorType = "panic"
	ToolErrorUnknown      ToolErrorType = "unknown"
)

// IsRetryable reports whether this error type is worth a retry. Timeout,
// network, and rate-limit failures are considered transient.
func (t ToolErrorType) IsRetryable() bool {
	switch t {
	case ToolErrorTimeout, ToolErrorNetwork, ToolErrorRateLimit:
		return true
	default:
		return false
	}
}

// ToolError is a structured error from tool execution, carrying enough
// context to correlate it with the originating call and to decide whether
// the dispatcher should retry.
type ToolError struct {
	Type       ToolErrorType
	ToolName   string
	ToolCallID string
	Message    string
	Cause      error
	Retryable  bool
	Attempts   int
}

func (e *ToolError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[tool:%s]", e.Type))

	if e.ToolName != "" {
		parts = append(parts, e.ToolName)
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	if e.Attempts > 1 {
		parts = append(parts, fmt.Sprintf("(attempts=%d)", e.Attempts))
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause, enabling errors.Is/As traversal.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewToolError wraps cause in a ToolError, classifying its type from the
// cause's message.
func NewToolError(toolName string, cause error) *ToolError {
	err := &ToolError{
		ToolName: toolName,
		Cause:    cause,
		Type:     ToolErrorUnknown,
		Attempts: 1,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Type = classifyToolError(cause)
		err.Retryable = err.Type.IsRetryable()
	}

	return err
}

// WithType sets the error type and recomputes Retryable from it.
func (e *ToolError) WithType(t ToolErrorType) *ToolError {
	e.Type = t
	e.Retryable = t.IsRetryable()
	return e
}

// WithToolCallID sets the tool call ID this error correlates with.
func (e *ToolError) WithToolCallID(id string) *ToolError {
	e.ToolCallID = id
	return e
}

// WithMessage overrides the human-readable message.
func (e *ToolError) WithMessage(msg string) *ToolError {
	e.Message = msg
	return e
}

// WithAttempts records how many attempts were made before this error was
// returned as final.
func (e *ToolError) WithAttempts(n int) *ToolError {
	e.Attempts = n
	return e
}

func classifyToolError(err error) ToolErrorType {
	if err == nil {
		return ToolErrorUnknown
	}

	if errors.Is(err, ErrToolNotFound) {
		return ToolErrorNotFound
	}
	if errors.Is(err, ErrToolTimeout) {
		return ToolErrorTimeout
	}
	if errors.Is(err, ErrToolPanic) {
		return ToolErrorPanic
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "context deadline"):
		return ToolErrorTimeout
	case strings.Contains(errStr, "connection"),
		strings.Contains(errStr, "network"),
		strings.Contains(errStr, "dns"),
		strings.Contains(errStr, "refused"),
		strings.Contains(errStr, "unreachable"):
		return ToolErrorNetwork
	case strings.Contains(errStr, "rate limit"),
		strings.Contains(errStr, "rate_limit"),
		strings.Contains(errStr, "too many requests"),
		strings.Contains(errStr, "429"):
		return ToolErrorRateLimit
	case strings.Contains(errStr, "permission"),
		strings.Contains(errStr, "forbidden"),
		strings.Contains(errStr, "unauthorized"),
		strings.Contains(errStr, "access denied"):
		return ToolErrorPermission
	case strings.Contains(errStr, "invalid"),
		strings.Contains(errStr, "validation"),
		strings.Contains(errStr, "required"),
		strings.Contains(errStr, "missing"):
		return ToolErrorInvalidInput
	default:
		return ToolErrorExecution
	}
}

// IsToolError reports whether err is or wraps a *ToolError.
func IsToolError(err error) bool {
	var toolErr *ToolError
	return errors.As(err, &toolErr)
}

// GetToolError extracts a *ToolError from err's chain, if present.
func GetToolError(err error) (*ToolError, bool) {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr, true
	}
	return nil, false
}

// IsToolRetryable reports whether err should trigger another dispatch
// attempt, consulting a wrapped ToolError's Retryable flag if present.
func IsToolRetryable(err error) bool {
	if toolErr, ok := GetToolError(err); ok {
		return toolErr.Retryable
	}
	return classifyToolError(err).IsRetryable()
}

// ToolCallErrorKind discriminates the five dispatch-failure variants
// spec.md §4.3 defines for a Tool message's error content.
type ToolCallErrorKind string

const (
	ToolCallUnknownFunction  ToolCallErrorKind = "unknown_function"
	ToolCallNullArguments    ToolCallErrorKind = "null_arguments"
	ToolCallInvalidArguments ToolCallErrorKind = "invalid_arguments"
	ToolCallHandlerError     ToolCallErrorKind = "handler_error"
	ToolCallExecutionError   ToolCallErrorKind = "execution_error"
)

// ToolParameterError is one parameter's failure within an InvalidArguments
// ToolCallError, mirroring ParamError's shape on the wire.
type ToolParameterError struct {
	ParameterName       string         `json:"parameterName"`
	Kind                ParamErrorKind `json:"kind"`
	ExpectedType        string         `json:"expectedType,omitempty"`
	AvailableParameters []string       `json:"availableParameters,omitempty"`
}

// ToolCallError is the structured failure a dispatch attempt produces,
// serialized into a Tool message's content rather than flattened to a
// string, so the model (and any consumer replaying the trace) can act on
// the kind and, for InvalidArguments, the individual parameter failures.
type ToolCallError struct {
	ToolName        string
	Kind            ToolCallErrorKind
	Message         string
	ParameterErrors []ToolParameterError
	Cause           error
}

func (e *ToolCallError) Error() string {
	switch e.Kind {
	case ToolCallUnknownFunction:
		return fmt.Sprintf("tool %q is not registered", e.ToolName)
	case ToolCallNullArguments:
		return fmt.Sprintf("tool %q received null arguments", e.ToolName)
	case ToolCallInvalidArguments:
		parts := make([]string, len(e.ParameterErrors))
		for i, pe := range e.ParameterErrors {
			parts[i] = fmt.Sprintf("%s: %s", pe.ParameterName, pe.Kind)
		}
		return fmt.Sprintf("tool %q: invalid arguments (%s)", e.ToolName, strings.Join(parts, "; "))
	case ToolCallHandlerError, ToolCallExecutionError:
		if e.Message != "" {
			return fmt.Sprintf("tool %q: %s", e.ToolName, e.Message)
		}
		return fmt.Sprintf("tool %q failed", e.ToolName)
	default:
		return fmt.Sprintf("tool %q: error", e.ToolName)
	}
}

// Unwrap returns the underlying cause, if any, enabling errors.As traversal.
func (e *ToolCallError) Unwrap() error {
	return e.Cause
}

// toolCallErrorWire is the stable JSON shape spec.md §4.3 mandates for a
// Tool message's error content. Error preserves a human-readable
// legacy-string form for consumers that predate the structured kind/
// parameterErrors fields.
type toolCallErrorWire struct {
	IsError         bool                 `json:"isError"`
	ToolName        string               `json:"toolName"`
	ErrorType       ToolCallErrorKind    `json:"errorType"`
	Message         string               `json:"message"`
	ParameterErrors []ToolParameterError `json:"parameterErrors,omitempty"`
	Error           string               `json:"error"`
}

// Serialize renders e into the stable JSON object spec.md §4.3 defines,
// suitable as a Tool message's content.
func (e *ToolCallError) Serialize() (string, error) {
	wire := toolCallErrorWire{
		IsError:         true,
		ToolName:        e.ToolName,
		ErrorType:       e.Kind,
		Message:         e.Message,
		ParameterErrors: e.ParameterErrors,
		Error:           e.Error(),
	}
	raw, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("tools: serialize ToolCallError: %w", err)
	}
	return string(raw), nil
}

// DeserializeToolCallError parses a Tool message's content produced by
// Serialize back into a ToolCallError, preserving kind and the parameter
// error list (spec.md §8's round-trip property).
func DeserializeToolCallError(data []byte) (*ToolCallError, error) {
	var wire toolCallErrorWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("tools: deserialize ToolCallError: %w", err)
	}
	return &ToolCallError{
		ToolName:        wire.ToolName,
		Kind:            wire.ErrorType,
		Message:         wire.Message,
		ParameterErrors: wire.ParameterErrors,
	}, nil
}

// NewUnknownFunctionError reports a dispatch attempt against a tool name
// the registry does not recognize.
func NewUnknownFunctionError(name string) *ToolCallError {
	return &ToolCallError{ToolName: name, Kind: ToolCallUnknownFunction, Message: "unknown tool"}
}

// NewNullArgumentsError reports a dispatch attempt whose arguments were
// JSON null or empty.
func NewNullArgumentsError(name string) *ToolCallError {
	return &ToolCallError{ToolName: name, Kind: ToolCallNullArguments, Message: "arguments must not be null"}
}

// NewInvalidArgumentsError wraps a ParamError (flattening a nested
// MultipleErrors) into an InvalidArguments ToolCallError.
func NewInvalidArgumentsError(name string, paramErr *ParamError) *ToolCallError {
	flat := flattenParamErrors(paramErr)
	paramErrors := make([]ToolParameterError, len(flat))
	for i, pe := range flat {
		paramErrors[i] = ToolParameterError{
			ParameterName:       pe.Path,
			Kind:                pe.Kind,
			ExpectedType:        pe.Want,
			AvailableParameters: pe.AvailableKeys,
		}
	}
	return &ToolCallError{
		ToolName:        name,
		Kind:            ToolCallInvalidArguments,
		Message:         paramErr.Error(),
		ParameterErrors: paramErrors,
	}
}

// flattenParamErrors unwraps a nested ParamMultipleErrors into its leaves,
// or returns e itself as a single-element slice.
func flattenParamErrors(e *ParamError) []*ParamError {
	if e.Kind != ParamMultipleErrors {
		return []*ParamError{e}
	}
	var out []*ParamError
	for _, sub := range e.Errors {
		out = append(out, flattenParamErrors(sub)...)
	}
	return out
}

// toolCallErrorFromToolError maps an execution-time *ToolError (timeouts,
// panics, network/handler failures) into the same stable ToolCallError
// shape InvalidArguments/UnknownFunction/NullArguments already use, so
// every dispatch failure reaches the Tool message through one
// serialization path instead of some going through Error() as a flat
// string.
func toolCallErrorFromToolError(te *ToolError) *ToolCallError {
	kind := ToolCallExecutionError
	switch te.Type {
	case ToolErrorNotFound:
		kind = ToolCallUnknownFunction
	case ToolErrorInvalidInput:
		kind = ToolCallInvalidArguments
	case ToolErrorExecution:
		kind = ToolCallHandlerError
	}
	return &ToolCallError{
		ToolName: te.ToolName,
		Kind:     kind,
		Message:  te.Message,
		Cause:    te.Cause,
	}
}

// SerializeExecutionError renders err (typically an *ExecutionResult.Error)
// into the stable Tool-message JSON content, falling back to a generic
// ExecutionError wrapper for errors that are not already a *ToolCallError
// or *ToolError.
func SerializeExecutionError(err error) string {
	var tce *ToolCallError
	if errors.As(err, &tce) {
		serialized, serErr := tce.Serialize()
		if serErr == nil {
			return serialized
		}
		return tce.Error()
	}

	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		serialized, serErr := toolCallErrorFromToolError(toolErr).Serialize()
		if serErr == nil {
			return serialized
		}
		return toolErr.Error()
	}

	serialized, serErr := (&ToolCallError{Kind: ToolCallExecutionError, Message: err.Error(), Cause: err}).Serialize()
	if serErr == nil {
		return serialized
	}
	return err.Error()
}
