package store

import "context"

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Executions
	CreateExecution(ctx context.Context, exec *WorkflowExecution) error
	GetExecution(ctx context.Context, id string) (*WorkflowExecution, error)
	UpdateExecution(ctx context.Context, id string, update ExecutionUpdate) error
	ListExecutions(ctx context.Context, filter ExecutionFilter) ([]*WorkflowExecution, error)
	DeleteExecution(ctx context.Context, id string) error

	// Event log (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Node state (materialized view)
	UpsertNodeState(ctx context.Context, state *NodeState) error
	GetNodeState(ctx context.Context, executionID, nodeID string) (*NodeState, error)
	ListNodeStates(ctx context.Context, executionID string) ([]*NodeState, error)

	// Threads
	EnsureThread(ctx context.Context, thread *Thread) (*Thread, error)
	GetThread(ctx context.Context, id string) (*Thread, error)

	// Credentials (values are stored encrypted by the vault layer)
	StoreCredential(ctx context.Context, cred *Credential) error
	GetCredential(ctx context.Context, accountID, qualifiedName, profileID string) (*Credential, error)
	DeleteCredential(ctx context.Context, accountID, qualifiedName, profileID string) error
	ListCredentials(ctx context.Context, accountID string) ([]*Credential, error)

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
