package validation

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cascadehq/cascade/pkg/schema"
)

func newValidator(t *testing.T) *JSONSchemaValidator {
	t.Helper()
	v, err := NewJSONSchemaValidator()
	require.NoError(t, err)
	return v
}

func validDefinition() *schema.WorkflowDefinition {
	return &schema.WorkflowDefinition{
		Name: "report pipeline",
		Nodes: []schema.WorkflowNode{
			{ID: "in", Type: schema.NodeTypeInput, Data: json.RawMessage(`{"prompt":"go"}`)},
			{ID: "agent", Type: schema.NodeTypeAgent, Data: json.RawMessage(`{"model":"gpt-4o"}`)},
		},
		Edges: []schema.WorkflowEdge{
			{Source: "in", Target: "agent"},
		},
	}
}

func TestValidateDefinition_Valid(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.ValidateDefinition(validDefinition()))
}

func TestValidateDefinition_Nil(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateDefinition(nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestValidateDefinition_NoNodes(t *testing.T) {
	v := newValidator(t)
	err := v.ValidateDefinition(&schema.WorkflowDefinition{})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestValidateDefinition_BadNodeType(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Nodes[0].Type = "parallel"
	err := v.ValidateDefinition(def)
	require.Error(t, err)
}

func TestValidateDefinition_DuplicateNodeID(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Nodes = append(def.Nodes, schema.WorkflowNode{ID: "in", Type: schema.NodeTypeInput})
	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate node id")
}

func TestValidateDefinition_DanglingEdge(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Edges = append(def.Edges, schema.WorkflowEdge{Source: "ghost", Target: "agent"})
	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-existent source")
}

func TestValidateDefinition_InvalidToolInputSchema(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.Nodes = append(def.Nodes, schema.WorkflowNode{
		ID:   "tool",
		Type: schema.NodeTypeTool,
		Data: json.RawMessage(`{"tool_id":"x","input_schema":{"type":"nonsense"}}`),
	})
	err := v.ValidateDefinition(def)
	require.Error(t, err)
}

func TestValidateDefinition_Triggers(t *testing.T) {
	v := newValidator(t)

	def := validDefinition()
	def.Triggers = []schema.TriggerDefinition{
		{Type: "schedule", CronExpression: "0 9 * * 1-5"},
		{Type: "webhook"},
		{Type: "manual"},
	}
	require.NoError(t, v.ValidateDefinition(def))

	def.Triggers = []schema.TriggerDefinition{{Type: "schedule", CronExpression: "not a cron"}}
	err := v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))

	def.Triggers = []schema.TriggerDefinition{{Type: "schedule"}}
	err = v.ValidateDefinition(def)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a cron_expression")
}

func TestValidateDefinition_MaxIterationsBounds(t *testing.T) {
	v := newValidator(t)
	def := validDefinition()
	def.MaxIterations = 50
	require.NoError(t, v.ValidateDefinition(def))
}

func TestValidateToolInput(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{
		"type": "object",
		"required": ["query"],
		"properties": {
			"query": { "type": "string", "minLength": 1 }
		}
	}`)

	require.NoError(t, v.ValidateToolInput(map[string]any{"query": "golang"}, inputSchema))

	err := v.ValidateToolInput(map[string]any{"other": 1}, inputSchema)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeValidation, schema.CodeOf(err))
}

func TestValidateToolInput_NoSchema(t *testing.T) {
	v := newValidator(t)
	require.NoError(t, v.ValidateToolInput(map[string]any{"anything": true}, nil))
}

func TestValidateToolInput_SchemaCached(t *testing.T) {
	v := newValidator(t)
	inputSchema := []byte(`{"type":"object"}`)

	require.NoError(t, v.ValidateToolInput(map[string]any{}, inputSchema))
	require.NoError(t, v.ValidateToolInput(map[string]any{}, inputSchema))
	assert.Len(t, v.cache, 1)
}
