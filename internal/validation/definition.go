package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/cascadehq/cascade/pkg/schema"
)

// workflowSchemaJSON is the JSON Schema for WorkflowDefinition validation.
// Embedded as a constant to avoid filesystem dependencies.
const workflowSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cascadehq.dev/schemas/workflow.json",
  "type": "object",
  "required": ["nodes"],
  "properties": {
    "id": { "type": "string" },
    "name": { "type": "string" },
    "description": { "type": "string" },
    "nodes": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/node" }
    },
    "edges": {
      "type": "array",
      "items": { "$ref": "#/$defs/edge" }
    },
    "variables": {
      "type": "object",
      "additionalProperties": { "type": "string" }
    },
    "tools": {
      "type": "array",
      "items": { "$ref": "#/$defs/tool_decl" }
    },
    "triggers": {
      "type": "array",
      "items": { "$ref": "#/$defs/trigger" }
    },
    "max_iterations": {
      "type": "integer",
      "minimum": 1
    },
    "max_execution_time": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "metadata": {
      "type": "object"
    }
  },
  "additionalProperties": false,
  "$defs": {
    "node": {
      "type": "object",
      "required": ["id", "type"],
      "properties": {
        "id": {
          "type": "string",
          "minLength": 1
        },
        "type": {
          "type": "string",
          "enum": ["input", "tool", "mcp", "agent"]
        },
        "position": {
          "type": "object",
          "properties": {
            "x": { "type": "number" },
            "y": { "type": "number" }
          },
          "additionalProperties": false
        },
        "data": { "type": "object" }
      },
      "additionalProperties": false
    },
    "edge": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "id": { "type": "string" },
        "source": {
          "type": "string",
          "minLength": 1
        },
        "target": {
          "type": "string",
          "minLength": 1
        },
        "sourceHandle": { "type": "string" },
        "targetHandle": { "type": "string" }
      },
      "additionalProperties": false
    },
    "tool_decl": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "name": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["tool", "mcp"]
        },
        "qualified_name": { "type": "string" },
        "enabled_tools": {
          "type": "array",
          "items": { "type": "string" }
        },
        "profile_id": { "type": "string" },
        "config": {}
      },
      "additionalProperties": false
    },
    "trigger": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "id": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["schedule", "webhook", "manual"]
        },
        "cron_expression": { "type": "string" },
        "config": {}
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator implements the Validator interface using JSON Schema
// Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	workflowSchema *jsonschema.Schema

	// mu guards the cache for dynamic tool-input schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a validator with the workflow schema
// pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(workflowSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal workflow schema: %w", err)
	}
	if err := c.AddResource("https://cascadehq.dev/schemas/workflow.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add workflow schema resource: %w", err)
	}

	wfSchema, err := c.Compile("https://cascadehq.dev/schemas/workflow.json")
	if err != nil {
		return nil, fmt.Errorf("compile workflow schema: %w", err)
	}

	return &JSONSchemaValidator{
		workflowSchema: wfSchema,
		cache:          make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateDefinition validates a WorkflowDefinition against the workflow JSON
// Schema plus the structural checks the schema cannot express.
func (v *JSONSchemaValidator) ValidateDefinition(def *schema.WorkflowDefinition) error {
	if def == nil {
		return schema.NewError(schema.ErrCodeValidation, "workflow definition is nil")
	}

	doc, err := toJSONValue(def)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize workflow definition").WithCause(err)
	}

	if err := v.workflowSchema.Validate(doc); err != nil {
		return toCascadeError(err)
	}

	nodeIDs := make(map[string]struct{}, len(def.Nodes))
	for _, node := range def.Nodes {
		if _, exists := nodeIDs[node.ID]; exists {
			return schema.NewErrorf(schema.ErrCodeValidation, "duplicate node id %q", node.ID)
		}
		nodeIDs[node.ID] = struct{}{}
	}

	for i, edge := range def.Edges {
		if _, ok := nodeIDs[edge.Source]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"edges[%d] references non-existent source node %q", i, edge.Source)
		}
		if _, ok := nodeIDs[edge.Target]; !ok {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"edges[%d] references non-existent target node %q", i, edge.Target)
		}
	}

	// Declared tool-input schemas must at least compile.
	for _, node := range def.Nodes {
		if node.Type != schema.NodeTypeTool || len(node.Data) == 0 {
			continue
		}
		var data schema.ToolNodeData
		if err := json.Unmarshal(node.Data, &data); err != nil {
			continue // payload shape errors surface at graph build
		}
		if len(data.InputSchema) > 0 {
			if _, err := v.getOrCompile(data.InputSchema); err != nil {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"node %q has invalid input_schema", node.ID).WithNode(node.ID).WithCause(err)
			}
		}
	}

	return validateTriggers(def.Triggers)
}

// ValidateToolInput validates invocation arguments against a tool's declared
// input schema. The schema is compiled and cached for subsequent calls.
func (v *JSONSchemaValidator) ValidateToolInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toCascadeError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL to avoid collisions in the compiler.
	url := fmt.Sprintf("cascade://input-schema/%d", len(v.cache))

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toCascadeError converts a jsonschema.ValidationError into a CascadeError
// with clear, actionable messages.
func toCascadeError(err error) *schema.CascadeError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
