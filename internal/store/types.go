package store

import (
	"encoding/json"
	"time"

	"github.com/cascadehq/cascade/pkg/schema"
)

// WorkflowExecution is the persisted record of a single workflow run.
type WorkflowExecution struct {
	ID           string                    `json:"id"`
	WorkflowID   string                    `json:"workflow_id,omitempty"`
	AccountID    string                    `json:"account_id"`
	ThreadID     string                    `json:"thread_id,omitempty"`
	Definition   schema.WorkflowDefinition `json:"definition"`
	Status       schema.ExecutionStatus    `json:"status"`
	Variables    map[string]string         `json:"variables,omitempty"`
	Output       json.RawMessage           `json:"output,omitempty"`
	Error        json.RawMessage           `json:"error,omitempty"`
	PendingNodes []string                  `json:"pending_nodes,omitempty"`
	CreatedAt    time.Time                 `json:"created_at"`
	StartedAt    *time.Time                `json:"started_at,omitempty"`
	CompletedAt  *time.Time                `json:"completed_at,omitempty"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// Event is an immutable entry in the execution event log.
type Event struct {
	ID          int64           `json:"id"`
	ExecutionID string          `json:"execution_id"`
	NodeID      string          `json:"node_id,omitempty"`
	Type        string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
	Sequence    int64           `json:"sequence"`
}

// NodeState is the materialized view of a node's current execution state.
type NodeState struct {
	ExecutionID string            `json:"execution_id"`
	NodeID      string            `json:"node_id"`
	NodeType    schema.NodeType   `json:"node_type"`
	Status      schema.NodeStatus `json:"status"`
	Input       json.RawMessage   `json:"input,omitempty"`
	Output      json.RawMessage   `json:"output,omitempty"`
	Error       json.RawMessage   `json:"error,omitempty"`
	Iteration   int               `json:"iteration"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	DurationMs  int64             `json:"duration_ms,omitempty"`
}

// Thread is the conversation thread backing an execution's agent calls.
// EnsureThread creates it on demand before the first agent node runs.
type Thread struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Credential is an encrypted credential blob for an external integration,
// keyed by account and qualified name plus an optional profile.
type Credential struct {
	AccountID     string    `json:"account_id"`
	QualifiedName string    `json:"qualified_name"`
	ProfileID     string    `json:"profile_id,omitempty"`
	Value         []byte    `json:"-"` // encrypted, never serialized
	CreatedAt     time.Time `json:"created_at"`
}

// --- Filter and update types ---

// ExecutionFilter specifies criteria for listing executions.
type ExecutionFilter struct {
	Status    *schema.ExecutionStatus `json:"status,omitempty"`
	AccountID string                  `json:"account_id,omitempty"`
	Since     *time.Time              `json:"since,omitempty"`
	Limit     int                     `json:"limit,omitempty"`
	Offset    int                     `json:"offset,omitempty"`
}

// ExecutionUpdate specifies mutable fields of an execution record.
type ExecutionUpdate struct {
	Status       *schema.ExecutionStatus `json:"status,omitempty"`
	Output       json.RawMessage         `json:"output,omitempty"`
	Error        json.RawMessage         `json:"error,omitempty"`
	PendingNodes []string                `json:"pending_nodes,omitempty"`
	StartedAt    *time.Time              `json:"started_at,omitempty"`
	CompletedAt  *time.Time              `json:"completed_at,omitempty"`
}

// EventFilter specifies criteria for listing events.
type EventFilter struct {
	ExecutionID string     `json:"execution_id,omitempty"`
	NodeID      string     `json:"node_id,omitempty"`
	EventType   string     `json:"event_type,omitempty"`
	Since       *time.Time `json:"since,omitempty"`
	Limit       int        `json:"limit,omitempty"`
}
