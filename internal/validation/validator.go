package validation

import "github.com/cascadehq/cascade/pkg/schema"

// Validator checks workflow definitions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for structural validation.
type Validator interface {
	ValidateDefinition(def *schema.WorkflowDefinition) error
	ValidateToolInput(input map[string]any, inputSchema []byte) error
}
