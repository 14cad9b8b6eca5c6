package ai

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/kaptinlin/jsonrepair"
)

// GenerateSchema reflects a JSON Schema from the given Go type, suitable for
// structured-output requests. References are inlined and additional
// properties are disallowed, which most providers require for strict mode.
func GenerateSchema(value any) any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}

	t := reflect.TypeOf(value)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return reflector.Reflect(reflect.New(t).Interface())
}

// UnmarshalFlexible parses model output into out, tolerating the common
// failure shapes of generated JSON: double-encoded strings, stray leading
// braces, and structurally broken documents that jsonrepair can fix.
func UnmarshalFlexible(input string, out any) error {
	input = strings.TrimSpace(input)

	if err := json.Unmarshal([]byte(input), out); err == nil {
		return nil
	}

	// Double-encoded: the payload is a JSON string containing JSON.
	var inner string
	if err := json.Unmarshal([]byte(input), &inner); err == nil {
		inner = strings.TrimSpace(inner)
		if err := json.Unmarshal([]byte(inner), out); err == nil {
			return nil
		}
		input = inner
	}

	if strings.HasPrefix(input, "{") {
		rest := strings.TrimSpace(input[1:])
		if strings.HasPrefix(rest, "{") {
			input = rest
		}
	}

	repaired, err := jsonrepair.JSONRepair(input)
	if err != nil {
		return fmt.Errorf("json repair failed: %w", err)
	}
	if err := json.Unmarshal([]byte(repaired), out); err != nil {
		return fmt.Errorf("unmarshal failed after repair: %w", err)
	}
	return nil
}
