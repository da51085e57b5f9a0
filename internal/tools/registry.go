package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/agentforge/core/pkg/models"
)

// Tool parameter limits, preventing a misbehaving or adversarial model
// output from exhausting registry resources.
const (
	// MaxToolNameLength bounds the length of a tool name accepted by Execute.
	MaxToolNameLength = 256

	// MaxToolArgumentsSize bounds the size of a tool call's argument JSON (10MB).
	MaxToolArgumentsSize = 10 << 20
)

// Tool is a single callable the agent loop may invoke. Name must be stable
// across a conversation; Schema is compiled once at Register time.
type Tool interface {
	Name() string
	Description() string
	Schema() SchemaDef
	Execute(ctx context.Context, arguments json.RawMessage) (*models.ToolResult, error)
}

// Registry holds the set of tools available to an agent loop, keyed by
// name, with thread-safe registration and lookup.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	specs map[string]*CompiledSchema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
		specs: make(map[string]*CompiledSchema),
	}
}

// Register compiles tool's schema and adds it to the registry, replacing
// any existing tool with the same name. Returns an error if the schema
// fails to compile.
func (r *Registry) Register(tool Tool) error {
	compiled, err := tool.Schema().Compile(tool.Name() + ".schema.json")
	if err != nil {
		return fmt.Errorf("tools: register %q: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.specs[tool.Name()] = compiled
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.specs, name)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute validates and runs a tool call by name. Validation failures and
// an unknown tool name are returned as error ToolResults rather than Go
// errors, matching spec.md §4.4's dispatch contract: a bad tool call is
// conversation data the model should see, not a loop-fatal error. Every
// failure is serialized into the stable ToolCallError JSON object
// (spec.md §4.3) so a model or trace consumer can act on the kind and,
// for invalid arguments, the individual parameter failures, rather than a
// flattened English sentence.
func (r *Registry) Execute(ctx context.Context, name string, arguments json.RawMessage) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return errorResult(&ToolCallError{
			ToolName: name,
			Kind:     ToolCallExecutionError,
			Message:  fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
		}), nil
	}
	if len(arguments) > MaxToolArgumentsSize {
		return errorResult(&ToolCallError{
			ToolName: name,
			Kind:     ToolCallExecutionError,
			Message:  fmt.Sprintf("tool arguments exceed maximum size of %d bytes", MaxToolArgumentsSize),
		}), nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.specs[name]
	r.mu.RUnlock()
	if !ok {
		return errorResult(NewUnknownFunctionError(name)), nil
	}

	if isNullArguments(arguments) {
		return errorResult(NewNullArgumentsError(name)), nil
	}

	if schema != nil {
		if err := schema.Validate(arguments); err != nil {
			if paramErr := ValidateArguments(tool.Schema(), arguments); paramErr != nil {
				return errorResult(NewInvalidArgumentsError(name, paramErr)), nil
			}
			return errorResult(&ToolCallError{
				ToolName: name,
				Kind:     ToolCallInvalidArguments,
				Message:  err.Error(),
			}), nil
		}
	}

	return tool.Execute(ctx, arguments)
}

// isNullArguments reports whether arguments is empty or the JSON literal
// null, spec.md §4.3's NullArguments case.
func isNullArguments(arguments json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(arguments))
	return trimmed == "" || trimmed == "null"
}

// errorResult serializes tce into a ToolResult with IsError set, falling
// back to tce.Error()'s plain message if JSON marshaling itself fails.
func errorResult(tce *ToolCallError) *models.ToolResult {
	content, err := tce.Serialize()
	if err != nil {
		content = tce.Error()
	}
	return &models.ToolResult{Content: content, IsError: true}
}

// ToolDefs returns the registered tools rendered as provider-facing
// definitions (spec.md §6), in no particular order.
func (r *Registry) ToolDefs() []models.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]models.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, models.ToolDef{
			Type: "function",
			Function: models.ToolDefBody{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Schema().ToParametersMap(),
				Strict:      true,
			},
		})
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
