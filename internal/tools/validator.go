package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks tool call arguments against each tool's normalized
// parameter schema. Compiled schemas are cached, so repeated calls for the
// same tool are cheap.
type Validator struct {
	cache sync.Map // schema JSON -> *jsonschema.Schema
}

// NewValidator returns a validator with an empty schema cache.
func NewValidator() *Validator {
	return &Validator{}
}

// Validate reports whether args satisfy the tool's parameter schema. On
// failure the second return is a human-readable message naming the offending
// location.
func (v *Validator) Validate(tool Tool, args map[string]any) (bool, string) {
	if args == nil {
		args = map[string]any{}
	}

	schema, err := v.compile(NormalizeSchema(tool.Parameters()))
	if err != nil {
		return false, fmt.Sprintf("compile schema for %s: %v", tool.Name(), err)
	}

	// Round-trip the arguments through JSON so numbers and nested values
	// arrive in the forms the validator understands.
	payload, err := json.Marshal(args)
	if err != nil {
		return false, fmt.Sprintf("encode arguments: %v", err)
	}
	var decoded any
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return false, fmt.Sprintf("decode arguments: %v", err)
	}

	if err := schema.Validate(decoded); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return false, leafMessage(verr)
		}
		return false, err.Error()
	}
	return true, ""
}

func (v *Validator) compile(schema map[string]any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, err
	}
	key := string(raw)

	if cached, ok := v.cache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiled, err := jsonschema.CompileString("tool.schema.json", key)
	if err != nil {
		return nil, err
	}
	v.cache.Store(key, compiled)
	return compiled, nil
}

// leafMessage digs to the most specific cause so the model sees "count:
// expected integer, but got string" rather than the full validation tree.
func leafMessage(err *jsonschema.ValidationError) string {
	for len(err.Causes) > 0 {
		err = err.Causes[0]
	}
	if loc := strings.TrimPrefix(err.InstanceLocation, "/"); loc != "" {
		return fmt.Sprintf("%s: %s", loc, err.Message)
	}
	return err.Message
}
