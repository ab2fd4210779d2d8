package schema

// Event type constants for the live stream and the event log.
const (
	EventNodeStatus       = "node_status"
	EventWorkflowProgress = "workflow_progress"
	EventLoopStatus       = "loop_status"
	EventWorkflowStatus   = "workflow_status"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// NodeStatus represents the lifecycle state of a node within an execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusCompleted NodeStatus = "completed"
	NodeStatusFailed    NodeStatus = "failed"
	NodeStatusSkipped   NodeStatus = "skipped"
)

// LoopPhase is the phase reported by loop_status events.
type LoopPhase string

const (
	LoopPhaseStarted   LoopPhase = "started"
	LoopPhaseIteration LoopPhase = "iteration"
	LoopPhaseCompleted LoopPhase = "completed"
)

// NodeStatusPayload is the payload of node_status events. Completed events
// carry the node's output; failed events carry the error instead.
type NodeStatusPayload struct {
	NodeID   string     `json:"node_id"`
	NodeType NodeType   `json:"node_type"`
	Status   NodeStatus `json:"status"`
	Output   any        `json:"output,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// WorkflowProgressPayload is the payload of workflow_progress events.
type WorkflowProgressPayload struct {
	CompletedNodes int    `json:"completed_nodes"`
	TotalNodes     int    `json:"total_nodes"`
	CurrentNode    string `json:"current_node,omitempty"`
}

// LoopStatusPayload is the payload of loop_status events.
type LoopStatusPayload struct {
	LoopID        string    `json:"loop_id"`
	EntryNode     string    `json:"entry_node"`
	Phase         LoopPhase `json:"phase"`
	Iteration     int       `json:"iteration"`
	MaxIterations int       `json:"max_iterations"`
	ForcedExit    bool      `json:"forced_exit,omitempty"`
}

// WorkflowStatusPayload is the payload of workflow_status events. Exactly one
// terminal workflow_status event is emitted per run.
type WorkflowStatusPayload struct {
	Status       ExecutionStatus `json:"status"`
	Error        string          `json:"error,omitempty"`
	PendingNodes []string        `json:"pending_nodes,omitempty"`
}
