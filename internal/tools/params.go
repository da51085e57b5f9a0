package tools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ParamErrorKind discriminates why a dotted-path parameter extraction
// failed (spec.md §4.3's five structured error kinds).
type ParamErrorKind string

const (
	ParamMissing        ParamErrorKind = "missing_parameter"
	ParamNull           ParamErrorKind = "null_parameter"
	ParamTypeMismatch   ParamErrorKind = "type_mismatch"
	ParamInvalidNesting ParamErrorKind = "invalid_nesting"
	ParamMultipleErrors ParamErrorKind = "multiple_errors"
)

// ParamError is a structured error from dotted-path parameter extraction.
// AvailableKeys lists the sibling keys present at the point of failure,
// sorted alphabetically, to help a model correct a malformed tool call.
type ParamError struct {
	Kind          ParamErrorKind
	Path          string
	Want          string
	Got           string
	AvailableKeys []string
	Errors        []*ParamError // populated only when Kind == ParamMultipleErrors
}

func (e *ParamError) Error() string {
	switch e.Kind {
	case ParamMissing:
		msg := fmt.Sprintf("missing parameter %q", e.Path)
		if len(e.AvailableKeys) > 0 {
			msg += fmt.Sprintf(" (available: %s)", strings.Join(e.AvailableKeys, ", "))
		}
		return msg
	case ParamNull:
		return fmt.Sprintf("parameter %q is null", e.Path)
	case ParamTypeMismatch:
		return fmt.Sprintf("parameter %q: want %s, got %s", e.Path, e.Want, e.Got)
	case ParamInvalidNesting:
		return fmt.Sprintf("parameter %q: cannot descend into %s", e.Path, e.Got)
	case ParamMultipleErrors:
		parts := make([]string, len(e.Errors))
		for i, sub := range e.Errors {
			parts[i] = sub.Error()
		}
		return fmt.Sprintf("multiple parameter errors: %s", strings.Join(parts, "; "))
	default:
		return fmt.Sprintf("parameter error at %q", e.Path)
	}
}

// jsonTypeName reports the JSON type name of v, for TypeMismatch messages.
func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// sortedKeys returns the keys of m sorted alphabetically.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// navigate walks dotted path segments through doc, returning the value at
// the leaf or a *ParamError describing where it failed.
func navigate(doc any, path string) (any, *ParamError) {
	segments := strings.Split(path, ".")
	cur := doc
	walked := ""

	for i, seg := range segments {
		if walked == "" {
			walked = seg
		} else {
			walked = walked + "." + seg
		}

		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, &ParamError{
				Kind: ParamInvalidNesting,
				Path: walked,
				Got:  jsonTypeName(cur),
			}
		}

		val, present := obj[seg]
		if !present {
			return nil, &ParamError{
				Kind:          ParamMissing,
				Path:          walked,
				AvailableKeys: sortedKeys(obj),
			}
		}

		if val == nil {
			if i == len(segments)-1 {
				return nil, &ParamError{Kind: ParamNull, Path: walked}
			}
			return nil, &ParamError{Kind: ParamInvalidNesting, Path: walked, Got: "null"}
		}

		cur = val
	}

	return cur, nil
}

// Extract resolves a single dotted path (e.g. "filters.category") against
// a tool call's JSON arguments and type-asserts the result into T.
func Extract[T any](argumentsJSON json.RawMessage, path string) (T, *ParamError) {
	var zero T

	var doc any
	if err := json.Unmarshal(argumentsJSON, &doc); err != nil {
		return zero, &ParamError{Kind: ParamInvalidNesting, Path: path, Got: "invalid JSON"}
	}

	val, paramErr := navigate(doc, path)
	if paramErr != nil {
		return zero, paramErr
	}

	typed, ok := val.(T)
	if !ok {
		return zero, &ParamError{
			Kind: ParamTypeMismatch,
			Path: path,
			Want: fmt.Sprintf("%T", zero),
			Got:  jsonTypeName(val),
		}
	}

	return typed, nil
}

// ExtractInt resolves path as a JSON number and converts it to int,
// reporting TypeMismatch if the number has a fractional part or is not
// a number at all.
func ExtractInt(argumentsJSON json.RawMessage, path string) (int, *ParamError) {
	f, paramErr := Extract[float64](argumentsJSON, path)
	if paramErr != nil {
		return 0, paramErr
	}
	if f != float64(int64(f)) {
		return 0, &ParamError{Kind: ParamTypeMismatch, Path: path, Want: "integer", Got: "number"}
	}
	return int(f), nil
}

// ValidateArguments checks a tool call's top-level JSON arguments against
// schema's declared properties, returning every missing/null/type-mismatched
// required-or-present parameter as a ParamError (a ParamMultipleErrors when
// more than one fails), or nil when every declared property is satisfied.
// This is the structured counterpart to CompiledSchema.Validate: it
// reports which parameter failed, its expected type, and (for a missing
// parameter) the sibling keys actually present, so a dispatch failure can
// be corrected in one round trip instead of being surfaced as opaque
// jsonschema prose.
func ValidateArguments(schema SchemaDef, argumentsJSON json.RawMessage) *ParamError {
	var doc any
	if err := json.Unmarshal(argumentsJSON, &doc); err != nil {
		return &ParamError{Kind: ParamInvalidNesting, Got: "invalid JSON"}
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		return &ParamError{Kind: ParamTypeMismatch, Want: "object", Got: jsonTypeName(doc)}
	}

	available := sortedKeys(obj)
	var failures []*ParamError

	for _, name := range sortedPropertyNames(schema.Properties) {
		prop := schema.Properties[name]
		val, present := obj[name]

		if !present {
			if containsString(schema.Required, name) {
				failures = append(failures, &ParamError{
					Kind:          ParamMissing,
					Path:          name,
					Want:          expectedTypeName(prop),
					AvailableKeys: available,
				})
			}
			continue
		}

		if val == nil {
			if prop.Kind != KindNullable {
				failures = append(failures, &ParamError{Kind: ParamNull, Path: name, Want: expectedTypeName(prop)})
			}
			continue
		}

		if !matchesSchemaKind(prop, val) {
			failures = append(failures, &ParamError{
				Kind: ParamTypeMismatch,
				Path: name,
				Want: expectedTypeName(prop),
				Got:  jsonTypeName(val),
			})
		}
	}

	switch len(failures) {
	case 0:
		return nil
	case 1:
		return failures[0]
	default:
		return &ParamError{Kind: ParamMultipleErrors, Errors: failures}
	}
}

// expectedTypeName reports s's JSON type name, unwrapping a Nullable to
// its inner type (the "expectedType" a caller should supply).
func expectedTypeName(s SchemaDef) string {
	if s.Kind == KindNullable && s.Inner != nil {
		return expectedTypeName(*s.Inner)
	}
	return string(s.Kind)
}

// matchesSchemaKind reports whether val's JSON-decoded type satisfies s.
func matchesSchemaKind(s SchemaDef, val any) bool {
	if s.Kind == KindNullable && s.Inner != nil {
		return matchesSchemaKind(*s.Inner, val)
	}
	switch s.Kind {
	case KindString:
		_, ok := val.(string)
		return ok
	case KindInt:
		f, ok := val.(float64)
		return ok && f == float64(int64(f))
	case KindNumber:
		_, ok := val.(float64)
		return ok
	case KindBool:
		_, ok := val.(bool)
		return ok
	case KindArray:
		_, ok := val.([]any)
		return ok
	case KindObject:
		_, ok := val.(map[string]any)
		return ok
	default:
		return true
	}
}

// sortedPropertyNames returns props' keys sorted alphabetically, so
// ValidateArguments reports failures in a deterministic order.
func sortedPropertyNames(props map[string]SchemaDef) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// containsString reports whether s appears in list.
func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// ExtractAll resolves every path in paths, collecting all failures into a
// single ParamMultipleErrors when more than one path fails, so a tool call
// can be corrected in one round trip instead of one error at a time.
func ExtractAll(argumentsJSON json.RawMessage, paths []string) (map[string]any, *ParamError) {
	result := make(map[string]any, len(paths))
	var failures []*ParamError

	var doc any
	if err := json.Unmarshal(argumentsJSON, &doc); err != nil {
		return nil, &ParamError{Kind: ParamInvalidNesting, Path: strings.Join(paths, ","), Got: "invalid JSON"}
	}

	for _, p := range paths {
		val, paramErr := navigate(doc, p)
		if paramErr != nil {
			failures = append(failures, paramErr)
			continue
		}
		result[p] = val
	}

	switch len(failures) {
	case 0:
		return result, nil
	case 1:
		return nil, failures[0]
	default:
		return nil, &ParamError{Kind: ParamMultipleErrors, Errors: failures}
	}
}

