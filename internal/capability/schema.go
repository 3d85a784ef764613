package capability

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jkaninda/warden/internal/action"
)

type validator struct {
	mu      sync.RWMutex
	schemas map[action.Kind]*jsonschema.Schema
}

func newValidator() *validator {
	return &validator{schemas: make(map[action.Kind]*jsonschema.Schema)}
}

func (v *validator) add(kind action.Kind, schema map[string]any) error {
	if len(schema) == 0 {
		return nil
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return fmt.Errorf("encoding schema: %w", err)
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://warden.schemas.local/capability/%s.schema.json", kind)
	if err := c.AddResource(url, strings.NewReader(string(data))); err != nil {
		return fmt.Errorf("loading schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("compiling schema: %w", err)
	}

	v.mu.Lock()
	v.schemas[kind] = compiled
	v.mu.Unlock()
	return nil
}

func (v *validator) validate(kind action.Kind, params action.Params) error {
	v.mu.RLock()
	schema, ok := v.schemas[kind]
	v.mu.RUnlock()
	if !ok {
		return nil
	}

	// Round-trip through JSON so the validator sees only JSON value types.
	doc := map[string]any{}
	if len(params) > 0 {
		data, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("encoding parameters: %w", err)
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("decoding parameters: %w", err)
		}
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid parameters for %s: %w", kind, err)
	}
	return nil
}
