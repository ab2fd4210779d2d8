package engine

import (
	"time"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/pkg/schema"
)

// DefaultGlobalIterations is the hard cap on queue pops for one run when the
// definition does not set its own limit. It bounds both loop re-entries and
// dependency-gate requeues, so a stuck run always terminates.
const DefaultGlobalIterations = 100

// Context is the per-run mutable state. It is owned exclusively by one
// execution and discarded when the run reaches a terminal state.
type Context struct {
	ExecutionID string
	AccountID   string
	ThreadID    string

	Variables map[string]string
	Outputs   map[string]any // node ID → output payload
	History   []HistoryEntry

	Iterations    int // global queue-pop counter
	MaxIterations int
}

// HistoryEntry records one node execution attempt.
type HistoryEntry struct {
	NodeID      string
	NodeType    schema.NodeType
	Status      schema.NodeStatus
	Iteration   int // loop iteration the attempt ran in, 0 outside loops
	Error       string
	StartedAt   time.Time
	CompletedAt time.Time
}

// loopState tracks one detected loop through a run.
type loopState struct {
	loop      *graph.Loop
	iteration int // 1-based; 0 until the loop starts
}

// Result is the terminal outcome of one run.
type Result struct {
	ExecutionID  string
	Status       schema.ExecutionStatus
	Outputs      map[string]any
	PendingNodes []string // reachable-but-never-run node IDs on soft success
	History      []HistoryEntry
}

func newContext(def *schema.WorkflowDefinition, opts RunOptions) *Context {
	vars := make(map[string]string, len(def.Variables)+len(opts.Variables))
	for k, v := range def.Variables {
		vars[k] = v
	}
	for k, v := range opts.Variables {
		vars[k] = v
	}

	maxIter := def.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultGlobalIterations
	}

	return &Context{
		ExecutionID:   opts.ExecutionID,
		AccountID:     opts.AccountID,
		ThreadID:      opts.ThreadID,
		Variables:     vars,
		Outputs:       make(map[string]any),
		MaxIterations: maxIter,
	}
}
