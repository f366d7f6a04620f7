package queue

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// CustomPayloadValidator compiles and holds a JSON Schema that custom-task
// payloads must satisfy. Set on a Manager via SetCustomSchema so operators
// can constrain the otherwise free-form `custom` payload shape.
type CustomPayloadValidator struct {
	schema *jsonschema.Schema
}

// NewCustomPayloadValidator compiles a JSON Schema document.
func NewCustomPayloadValidator(schemaJSON json.RawMessage) (*CustomPayloadValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(schemaJSON)))
	if err != nil {
		return nil, fmt.Errorf("unmarshal custom payload schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("custom-payload.json", doc); err != nil {
		return nil, fmt.Errorf("add custom payload schema resource: %w", err)
	}
	schema, err := c.Compile("custom-payload.json")
	if err != nil {
		return nil, fmt.Errorf("compile custom payload schema: %w", err)
	}
	return &CustomPayloadValidator{schema: schema}, nil
}

// Validate checks data against the compiled schema.
func (v *CustomPayloadValidator) Validate(data map[string]any) error {
	return v.schema.Validate(data)
}

// SetCustomSchema installs (or clears, with nil) the validator applied to
// KindCustom payloads on Enqueue.
func (m *Manager) SetCustomSchema(v *CustomPayloadValidator) {
	m.mu.Lock()
	m.customSchema = v
	m.mu.Unlock()
}
