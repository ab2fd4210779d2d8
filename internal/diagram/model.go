package diagram

import "github.com/cascadehq/cascade/pkg/schema"

// Model is the intermediate representation used by all renderers.
type Model struct {
	Title  string
	Nodes  []*Node
	Edges  []Edge
	Levels [][]string
}

// Node represents a single workflow node in the diagram.
type Node struct {
	ID         string
	Label      string
	Kind       schema.NodeType
	LoopMember bool
	Status     *StatusOverlay
}

// StatusOverlay carries runtime state for a node.
type StatusOverlay struct {
	Status     string // from schema.NodeStatus
	Iteration  int
	DurationMs int64
	Error      string
}

// Edge represents a connection between two nodes. Back edges close a loop
// and are excluded from the level layout.
type Edge struct {
	From  string
	To    string
	Label string // target handle, when routed to a named port
	Back  bool
}
