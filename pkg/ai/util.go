package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

func stripDuplicateLeadingBrace(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		rest := strings.TrimSpace(s[1:])
		if strings.HasPrefix(rest, "{") {
			return rest
		}
	}
	return s
}

// GenerateSchema creates a JSON Schema from the given Go type.
// It uses reflection to inspect the type structure and generates
// a schema suitable for use with AI structured output.
func GenerateSchema(value any) *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	v := reflect.New(t).Interface()
	return reflector.Reflect(v)
}

// RestrictEnum narrows the string field reached by path to the given values.
// Each path element names an object property; array items are traversed
// implicitly. It returns false if the path does not exist.
//
//	schema := ai.GenerateSchema(&typingResponse{})
//	ai.RestrictEnum(schema, []string{"entities", "class_ids"}, classIDs)
func RestrictEnum(schema *jsonschema.Schema, path []string, values []string) bool {
	cur := schema
	for _, key := range path {
		cur = itemsOf(cur)
		if cur == nil || cur.Properties == nil {
			return false
		}
		next, ok := cur.Properties.Get(key)
		if !ok || next == nil {
			return false
		}
		cur = next
	}
	cur = itemsOf(cur)
	if cur == nil {
		return false
	}

	enum := make([]any, 0, len(values))
	for _, v := range values {
		enum = append(enum, v)
	}
	cur.Enum = enum
	return true
}

func itemsOf(s *jsonschema.Schema) *jsonschema.Schema {
	for s != nil && s.Type == "array" {
		s = s.Items
	}
	return s
}

// UnmarshalFlexible attempts to unmarshal JSON into the target with multiple fallback strategies.
// It first tries standard JSON unmarshaling, then handles double-encoded JSON strings,
// and finally attempts to repair malformed JSON before parsing.
//
// This is useful for parsing AI-generated JSON which may be malformed or wrapped in strings.
//
// Example:
//
//	var result MyStruct
//	// All of these inputs would work:
//	UnmarshalFlexible(`{"name": "test"}`, &result)           // standard JSON
//	UnmarshalFlexible(`"{\"name\": \"test\"}"`, &result)     // double-encoded
//	UnmarshalFlexible(`{name: "test"}`, &result)             // malformed (repaired)
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	var asString string
	if err := json.Unmarshal([]byte(input), &asString); err == nil {
		asString = strings.TrimSpace(asString)
		if err := json.Unmarshal([]byte(asString), out); err == nil {
			return nil
		}
		input = asString
	}

	input = stripDuplicateLeadingBrace(input)
	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w (input: %s)", err, input)
	}

	if err := json.Unmarshal([]byte(repaired), out); err == nil {
		return nil
	}

	return fmt.Errorf(
		"unmarshal failed after repair: input=%s repaired=%s",
		input, repaired,
	)
}

// DecodeStructured decodes a model response into out, reporting failures as
// *SchemaValidationError.
func DecodeStructured(name string, content string, out any) error {
	if strings.TrimSpace(content) == "" {
		return &SchemaValidationError{Schema: name, Reason: "empty response"}
	}
	if err := UnmarshalFlexible(content, out); err != nil {
		return &SchemaValidationError{Schema: name, Reason: err.Error(), Raw: content}
	}
	return nil
}
