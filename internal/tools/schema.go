// Package tools implements the tool registry and dispatch subsystem: tool
// parameter schemas (this file), dotted-path parameter extraction, the
// registry of available tools, and bounded-concurrency execution.
package tools

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaKind discriminates the variants of SchemaDef (spec.md §3's
// algebraic parameter schema: Str/Int/Num/Bool/Arr/Obj/Nullable).
type SchemaKind string

const (
	KindString   SchemaKind = "string"
	KindInt      SchemaKind = "integer"
	KindNumber   SchemaKind = "number"
	KindBool     SchemaKind = "boolean"
	KindArray    SchemaKind = "array"
	KindObject   SchemaKind = "object"
	KindNullable SchemaKind = "nullable"
)

// SchemaDef is a small algebraic description of a tool parameter type. It
// compiles to a JSON Schema fragment via Compile, and is itself the type a
// tool author builds with the Str/StrEnum/Int/Num/Bool/Arr/Obj/Nullable
// constructors below.
type SchemaDef struct {
	Kind        SchemaKind
	Description string

	// Enum restricts a KindString value to one of these options, if set.
	Enum []string

	// Items describes the element type for KindArray.
	Items *SchemaDef

	// Properties and Required describe a KindObject's fields.
	Properties map[string]SchemaDef
	Required   []string

	// Inner is the wrapped type for KindNullable.
	Inner *SchemaDef
}

// Str builds a string parameter schema.
func Str(description string) SchemaDef {
	return SchemaDef{Kind: KindString, Description: description}
}

// StrEnum builds a string parameter schema restricted to the given values.
func StrEnum(description string, values ...string) SchemaDef {
	return SchemaDef{Kind: KindString, Description: description, Enum: values}
}

// Int builds an integer parameter schema.
func Int(description string) SchemaDef {
	return SchemaDef{Kind: KindInt, Description: description}
}

// Num builds a floating-point number parameter schema.
func Num(description string) SchemaDef {
	return SchemaDef{Kind: KindNumber, Description: description}
}

// Bool builds a boolean parameter schema.
func Bool(description string) SchemaDef {
	return SchemaDef{Kind: KindBool, Description: description}
}

// Arr builds an array parameter schema with the given element type.
func Arr(description string, items SchemaDef) SchemaDef {
	return SchemaDef{Kind: KindArray, Description: description, Items: &items}
}

// Obj builds an object parameter schema from its named properties and the
// subset of property names that are required.
func Obj(description string, properties map[string]SchemaDef, required ...string) SchemaDef {
	return SchemaDef{
		Kind:        KindObject,
		Description: description,
		Properties:  properties,
		Required:    required,
	}
}

// Nullable wraps inner so it also accepts JSON null.
func Nullable(inner SchemaDef) SchemaDef {
	return SchemaDef{Kind: KindNullable, Inner: &inner}
}

// toJSONSchema renders s as a JSON-Schema-compatible map fragment.
func (s SchemaDef) toJSONSchema() map[string]any {
	if s.Kind == KindNullable {
		frag := s.Inner.toJSONSchema()
		frag["type"] = []any{frag["type"], "null"}
		return frag
	}

	frag := map[string]any{}
	if s.Description != "" {
		frag["description"] = s.Description
	}

	switch s.Kind {
	case KindString:
		frag["type"] = "string"
		if len(s.Enum) > 0 {
			enum := make([]any, len(s.Enum))
			for i, v := range s.Enum {
				enum[i] = v
			}
			frag["enum"] = enum
		}
	case KindInt:
		frag["type"] = "integer"
	case KindNumber:
		frag["type"] = "number"
	case KindBool:
		frag["type"] = "boolean"
	case KindArray:
		frag["type"] = "array"
		if s.Items != nil {
			frag["items"] = s.Items.toJSONSchema()
		}
	case KindObject:
		frag["type"] = "object"
		props := map[string]any{}
		for name, p := range s.Properties {
			props[name] = p.toJSONSchema()
		}
		frag["properties"] = props
		if len(s.Required) > 0 {
			required := make([]any, len(s.Required))
			for i, r := range s.Required {
				required[i] = r
			}
			frag["required"] = required
		}
		frag["additionalProperties"] = false
	}

	return frag
}

// ToParametersMap renders s as the `parameters` object of a tool
// definition, suitable for models.ToolDefBody.Parameters.
func (s SchemaDef) ToParametersMap() map[string]any {
	return s.toJSONSchema()
}

// CompiledSchema wraps a compiled *jsonschema.Schema for repeated
// validation against tool call arguments.
type CompiledSchema struct {
	schema *jsonschema.Schema
}

// Compile renders s to a JSON Schema document and compiles it, ready for
// repeated Validate calls. Compilation failures indicate a malformed tool
// schema and should surface at tool-registration time, not at call time.
func (s SchemaDef) Compile(resourceName string) (*CompiledSchema, error) {
	doc := s.toJSONSchema()

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("tools: marshal schema: %w", err)
	}
	var schemaDoc any
	if err := json.Unmarshal(raw, &schemaDoc); err != nil {
		return nil, fmt.Errorf("tools: unmarshal schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceName, schemaDoc); err != nil {
		return nil, fmt.Errorf("tools: add schema resource: %w", err)
	}
	compiled, err := c.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("tools: compile schema: %w", err)
	}

	return &CompiledSchema{schema: compiled}, nil
}

// Validate checks argumentsJSON against the compiled schema.
func (cs *CompiledSchema) Validate(argumentsJSON json.RawMessage) error {
	var doc any
	if err := json.Unmarshal(argumentsJSON, &doc); err != nil {
		return fmt.Errorf("tools: unmarshal arguments: %w", err)
	}
	return cs.schema.Validate(doc)
}
