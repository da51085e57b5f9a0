package tools

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func TestToolErrorType_IsRetryable(t *testing.T) {
	tests := []struct {
		typ  ToolErrorType
		want bool
	}{
		{ToolErrorTimeout, true},
		{ToolErrorNetwork, true},
		{ToolErrorRateLimit, true},
		{ToolErrorNotFound, false},
		{ToolErrorInvalidInput, false},
		{ToolErrorPermission, false},
		{ToolErrorExecution, false},
		{ToolErrorPanic, false},
		{ToolErrorUnknown, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			if got := tt.typ.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToolError_Error(t *testing.T) {
	err := NewToolError("test_tool", errors.New("connection refused")).
		WithType(ToolErrorNetwork).
		WithToolCallID("call-123").
		WithAttempts(3)

	errStr := err.Error()
	if errStr == "" {
		t.Error("error string should not be empty")
	}

	for _, want := range []string{"tool:network", "test_tool", "attempts=3"} {
		if !contains(errStr, want) {
			t.Errorf("error string %q should contain %q", errStr, want)
		}
	}
}

func TestNewToolError_Classification(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		wantType ToolErrorType
	}{
		{"timeout", "context deadline exceeded", ToolErrorTimeout},
		{"network", "connection refused", ToolErrorNetwork},
		{"rate_limit", "rate limit exceeded", ToolErrorRateLimit},
		{"permission", "permission denied", ToolErrorPermission},
		{"invalid", "invalid input parameter", ToolErrorInvalidInput},
		{"unknown", "some random error", ToolErrorExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewToolError("tool", errors.New(tt.errMsg))
			if err.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", err.Type, tt.wantType)
			}
		})
	}
}

func TestToolError_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")
	err := NewToolError("tool", cause)

	if !errors.Is(err, cause) {
		t.Error("should unwrap to underlying cause")
	}
}

func TestIsToolError(t *testing.T) {
	toolErr := NewToolError("tool", errors.New("test"))
	regularErr := errors.New("regular error")

	if !IsToolError(toolErr) {
		t.Error("should recognize ToolError")
	}
	if IsToolError(regularErr) {
		t.Error("should not recognize regular error as ToolError")
	}
}

func TestGetToolError(t *testing.T) {
	toolErr := NewToolError("tool", errors.New("test"))

	got, ok := GetToolError(toolErr)
	if !ok {
		t.Fatal("should extract ToolError")
	}
	if got.ToolName != "tool" {
		t.Errorf("ToolName = %q, want %q", got.ToolName, "tool")
	}
}

func TestIsToolRetryable(t *testing.T) {
	retryable := NewToolError("tool", errors.New("timeout")).WithType(ToolErrorTimeout)
	nonRetryable := NewToolError("tool", errors.New("invalid")).WithType(ToolErrorInvalidInput)

	if !IsToolRetryable(retryable) {
		t.Error("timeout error should be retryable")
	}
	if IsToolRetryable(nonRetryable) {
		t.Error("invalid input error should not be retryable")
	}

	if !IsToolRetryable(errors.New("connection timeout")) {
		t.Error("raw timeout error should be retryable")
	}
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrToolNotFound,
		ErrToolTimeout,
		ErrToolPanic,
	}

	for _, err := range sentinels {
		if err == nil {
			t.Error("sentinel error should not be nil")
		}
		if err.Error() == "" {
			t.Error("sentinel error should have a message")
		}
	}
}

func TestToolCallError_SerializeRoundTrip(t *testing.T) {
	original := NewInvalidArgumentsError("calculator", &ParamError{
		Kind:          ParamMissing,
		Path:          "b",
		Want:          "number",
		AvailableKeys: []string{"a", "operation"},
	})

	raw, err := original.Serialize()
	if err != nil {
		t.Fatalf("Serialize() error = %v", err)
	}

	var wire map[string]any
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("Serialize() produced invalid JSON: %v", err)
	}
	if wire["isError"] != true {
		t.Errorf("isError = %v, want true", wire["isError"])
	}
	if wire["toolName"] != "calculator" {
		t.Errorf("toolName = %v, want %q", wire["toolName"], "calculator")
	}
	if wire["errorType"] != string(ToolCallInvalidArguments) {
		t.Errorf("errorType = %v, want %q", wire["errorType"], ToolCallInvalidArguments)
	}

	roundTripped, err := DeserializeToolCallError([]byte(raw))
	if err != nil {
		t.Fatalf("DeserializeToolCallError() error = %v", err)
	}

	if roundTripped.Kind != original.Kind {
		t.Errorf("Kind = %v, want %v", roundTripped.Kind, original.Kind)
	}
	if roundTripped.ToolName != original.ToolName {
		t.Errorf("ToolName = %v, want %v", roundTripped.ToolName, original.ToolName)
	}
	if len(roundTripped.ParameterErrors) != len(original.ParameterErrors) {
		t.Fatalf("ParameterErrors len = %d, want %d", len(roundTripped.ParameterErrors), len(original.ParameterErrors))
	}
	got := roundTripped.ParameterErrors[0]
	want := original.ParameterErrors[0]
	if got.ParameterName != want.ParameterName || got.Kind != want.Kind ||
		got.ExpectedType != want.ExpectedType || !stringSlicesEqual(got.AvailableParameters, want.AvailableParameters) {
		t.Errorf("ParameterErrors[0] = %+v, want %+v", got, want)
	}
}

func stringSlicesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestNewInvalidArgumentsError_FlattensMultipleErrors(t *testing.T) {
	nested := &ParamError{
		Kind: ParamMultipleErrors,
		Errors: []*ParamError{
			{Kind: ParamMissing, Path: "b", Want: "number", AvailableKeys: []string{"a", "operation"}},
			{Kind: ParamTypeMismatch, Path: "operation", Want: "string", Got: "number"},
		},
	}

	tce := NewInvalidArgumentsError("calculator", nested)

	if tce.Kind != ToolCallInvalidArguments {
		t.Fatalf("Kind = %v, want %v", tce.Kind, ToolCallInvalidArguments)
	}
	if len(tce.ParameterErrors) != 2 {
		t.Fatalf("ParameterErrors len = %d, want 2", len(tce.ParameterErrors))
	}
	if tce.ParameterErrors[0].ParameterName != "b" || tce.ParameterErrors[0].Kind != ParamMissing {
		t.Errorf("ParameterErrors[0] = %+v", tce.ParameterErrors[0])
	}
	if tce.ParameterErrors[1].ParameterName != "operation" || tce.ParameterErrors[1].Kind != ParamTypeMismatch {
		t.Errorf("ParameterErrors[1] = %+v", tce.ParameterErrors[1])
	}
}

func TestSerializeExecutionError_ToolCallErrorPassthrough(t *testing.T) {
	tce := NewUnknownFunctionError("nonexistent_tool")

	raw := SerializeExecutionError(tce)

	var wire map[string]any
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("SerializeExecutionError produced invalid JSON: %v", err)
	}
	if wire["errorType"] != string(ToolCallUnknownFunction) {
		t.Errorf("errorType = %v, want %q", wire["errorType"], ToolCallUnknownFunction)
	}
	if wire["toolName"] != "nonexistent_tool" {
		t.Errorf("toolName = %v, want %q", wire["toolName"], "nonexistent_tool")
	}
}

func TestSerializeExecutionError_ToolErrorMapping(t *testing.T) {
	te := NewToolError("weather", errors.New("context deadline exceeded")).WithToolCallID("call-1")

	raw := SerializeExecutionError(te)

	var wire map[string]any
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("SerializeExecutionError produced invalid JSON: %v", err)
	}
	if wire["isError"] != true {
		t.Errorf("isError = %v, want true", wire["isError"])
	}
	if wire["toolName"] != "weather" {
		t.Errorf("toolName = %v, want %q", wire["toolName"], "weather")
	}
	if wire["errorType"] != string(ToolCallExecutionError) {
		t.Errorf("errorType = %v, want %q", wire["errorType"], ToolCallExecutionError)
	}
}

func TestSerializeExecutionError_GenericFallback(t *testing.T) {
	raw := SerializeExecutionError(errors.New("boom"))

	var wire map[string]any
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		t.Fatalf("SerializeExecutionError produced invalid JSON: %v", err)
	}
	if wire["errorType"] != string(ToolCallExecutionError) {
		t.Errorf("errorType = %v, want %q", wire["errorType"], ToolCallExecutionError)
	}
	if wire["message"] != "boom" {
		t.Errorf("message = %v, want %q", wire["message"], "boom")
	}
}
