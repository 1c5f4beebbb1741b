package compiler

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// SchemaRegistry validates per-kind node configuration against JSON Schemas
// (Draft 2020-12). Each agent kind owns the shape of its config; unknown
// kinds pass through unvalidated so external agent collaborators can be
// registered without a schema. Safe for concurrent use.
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*jsonschema.Schema)}
}

// Register compiles schemaJSON and binds it to the given agent kind.
func (r *SchemaRegistry) Register(kind, schemaJSON string) error {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(schemaJSON))
	if err != nil {
		return fmt.Errorf("unmarshal schema for kind %q: %w", kind, err)
	}
	url := "graphrun://config-schema/" + kind
	if err := c.AddResource(url, doc); err != nil {
		return fmt.Errorf("add schema resource for kind %q: %w", kind, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return fmt.Errorf("compile schema for kind %q: %w", kind, err)
	}

	r.mu.Lock()
	r.schemas[kind] = compiled
	r.mu.Unlock()
	return nil
}

// ValidateConfig checks config against the schema registered for kind.
// Kinds without a schema are accepted.
func (r *SchemaRegistry) ValidateConfig(kind string, config map[string]any) error {
	r.mu.RLock()
	sch, ok := r.schemas[kind]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	if config == nil {
		config = map[string]any{}
	}
	// Round-trip through JSON so numbers become json.Number, as the
	// jsonschema library expects.
	raw, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("deserialize config: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("config for kind %q: %s", kind, flattenValidation(err))
	}
	return nil
}

// flattenValidation reduces a jsonschema.ValidationError tree to a single
// readable line of leaf violations.
func flattenValidation(err error) string {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	leaves := collectLeaves(verr)
	if len(leaves) == 0 {
		return verr.Error()
	}
	return strings.Join(leaves, "; ")
}

func collectLeaves(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var leaves []string
	for _, cause := range verr.Causes {
		leaves = append(leaves, collectLeaves(cause)...)
	}
	return leaves
}

// BuiltinSchemas returns a registry pre-loaded with the schemas for the
// built-in agent kinds.
func BuiltinSchemas() (*SchemaRegistry, error) {
	r := NewSchemaRegistry()
	builtins := map[string]string{
		"transform": `{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"required": ["expression"],
			"properties": {
				"expression": {"type": "string", "minLength": 1},
				"output_port": {"type": "string"}
			},
			"additionalProperties": false
		}`,
		"http": `{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object",
			"required": ["url"],
			"properties": {
				"url": {"type": "string", "minLength": 1},
				"method": {"type": "string", "enum": ["GET", "POST", "PUT"]},
				"headers": {"type": "object", "additionalProperties": {"type": "string"}}
			},
			"additionalProperties": false
		}`,
		"echo": `{
			"$schema": "https://json-schema.org/draft/2020-12/schema",
			"type": "object"
		}`,
	}
	for kind, schemaJSON := range builtins {
		if err := r.Register(kind, schemaJSON); err != nil {
			return nil, err
		}
	}
	return r, nil
}
