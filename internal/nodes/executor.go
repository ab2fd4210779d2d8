package nodes

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cascadehq/cascade/pkg/schema"
)

// Request carries everything an executor needs for one node dispatch. Input
// holds the prepared per-handle payloads; Variables is the full workflow
// variable map, passed to every node.
type Request struct {
	Node        schema.WorkflowNode
	Input       map[string]any
	Variables   map[string]string
	Terminal    bool // node has no outgoing edges
	LegacyTools []schema.AgentToolDecl
	ExecutionID string
	AccountID   string
	ThreadID    string
}

// Executor runs a single node and returns its output payload. Executors are
// pure with respect to the graph: they only read the request and produce the
// node's own output.
type Executor interface {
	Execute(ctx context.Context, req *Request) (any, error)
}

// coerceText flattens a node output payload into plain text. Agent nodes
// output strings; input nodes output a map with a prompt slot; anything else
// is rendered as JSON.
func coerceText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case map[string]any:
		if p, ok := t["prompt"].(string); ok {
			return p
		}
		if p, ok := t["text"].(string); ok {
			return p
		}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}

// primaryInput returns the payload wired into the node's default channel.
func primaryInput(input map[string]any) any {
	if v, ok := input["input"]; ok {
		return v
	}
	return nil
}
