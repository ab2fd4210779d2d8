package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeGraphValidation    = "GRAPH_VALIDATION"
	ErrCodeUnknownNodeType    = "UNKNOWN_NODE_TYPE"
	ErrCodeLoopOverlap        = "LOOP_OVERLAP"
	ErrCodeIterationLimit     = "ITERATION_LIMIT_EXCEEDED"
	ErrCodeNodeExecution      = "NODE_EXECUTION"
	ErrCodeAgentRuntime       = "AGENT_RUNTIME"
	ErrCodeCredential         = "CREDENTIAL"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeExecution          = "EXECUTION_ERROR"
	ErrCodeStore              = "STORE_ERROR"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
)

// CascadeError is the structured error type for all engine operations.
type CascadeError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	NodeID  string         `json:"node_id,omitempty"`
	Cause   error          `json:"-"`
}

func (e *CascadeError) Error() string {
	if e.NodeID != "" {
		return fmt.Sprintf("[%s] node %s: %s", e.Code, e.NodeID, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *CascadeError) Unwrap() error {
	return e.Cause
}

// NewError creates a new CascadeError.
func NewError(code, message string) *CascadeError {
	return &CascadeError{Code: code, Message: message}
}

// NewErrorf creates a new CascadeError with a formatted message.
func NewErrorf(code, format string, args ...any) *CascadeError {
	return &CascadeError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithNode attaches a node ID to the error.
func (e *CascadeError) WithNode(nodeID string) *CascadeError {
	e.NodeID = nodeID
	return e
}

// WithCause attaches an underlying cause.
func (e *CascadeError) WithCause(err error) *CascadeError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *CascadeError) WithDetails(details map[string]any) *CascadeError {
	e.Details = details
	return e
}

// CodeOf returns the code of the first CascadeError in err's chain, or ""
// when there is none.
func CodeOf(err error) string {
	var ce *CascadeError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}
