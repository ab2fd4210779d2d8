package graph

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/cascadehq/cascade/pkg/schema"
)

// DefaultMaxIterations bounds a loop when its entry node does not configure
// an explicit limit.
const DefaultMaxIterations = 10

// Loop is a detected cycle, resolved into a bounded construct. The entry node
// is the first cycle member reachable from outside the cycle; the closing
// node is the member whose edge returns to the entry node. The exit condition
// is evaluated at the closing node after each iteration.
type Loop struct {
	ID            string   // synthetic, stable for the lifetime of one build
	Members       []string // cycle members in traversal order, starting at the entry node
	EntryNode     string
	ClosingNode   string
	MaxIterations int
	ExitCondition string // CEL expression; empty means run until MaxIterations

	memberSet map[string]bool
}

// Contains reports whether nodeID is a member of the loop.
func (l *Loop) Contains(nodeID string) bool {
	return l.memberSet[nodeID]
}

// DetectLoops finds all cycles in the graph using a depth-first search with
// an on-stack marker. Each distinct cycle becomes one Loop. Two cycles
// sharing a node cannot be given consistent iteration semantics, so overlap
// is rejected.
func DetectLoops(g *Graph) ([]*Loop, error) {
	const (
		white = 0 // unvisited
		gray  = 1 // on the recursion stack
		black = 2 // fully explored
	)

	color := make(map[string]int, len(g.Order))
	var stack []string
	var loops []*Loop
	claimed := make(map[string]string) // node ID → loop ID that owns it
	seen := make(map[string]bool)      // canonical member sets already recorded

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		stack = append(stack, id)

		for _, edge := range g.Outgoing[id] {
			next := edge.Target
			switch color[next] {
			case white:
				if err := visit(next); err != nil {
					return err
				}
			case gray:
				// Back edge: the cycle runs from next through the stack top.
				start := -1
				for i := len(stack) - 1; i >= 0; i-- {
					if stack[i] == next {
						start = i
						break
					}
				}
				if start < 0 {
					continue
				}
				members := make([]string, len(stack)-start)
				copy(members, stack[start:])

				// Parallel edges between the same pair of nodes surface the
				// same cycle once per edge; record it once.
				key := memberKey(members)
				if seen[key] {
					continue
				}
				seen[key] = true

				loop, err := newLoop(g, members)
				if err != nil {
					return err
				}
				for _, m := range members {
					if owner, taken := claimed[m]; taken && owner != loop.ID {
						return schema.NewErrorf(schema.ErrCodeLoopOverlap,
							"node %s belongs to more than one loop; overlapping loops are not supported", m).
							WithNode(m)
					}
					claimed[m] = loop.ID
				}
				loops = append(loops, loop)
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	// Walk from entry points first so the cycle entry seen by the DFS is the
	// member actually reached from outside the loop.
	for _, id := range g.EntryPoints {
		if color[id] == white {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}
	for _, id := range g.Order {
		if color[id] == white {
			if err := visit(id); err != nil {
				return nil, err
			}
		}
	}

	return loops, nil
}

// newLoop builds the Loop descriptor for a cycle path. members[0] is the
// entry node; the last member closes the cycle back to it.
func newLoop(g *Graph, members []string) (*Loop, error) {
	loop := &Loop{
		ID:            uuid.NewString(),
		Members:       members,
		EntryNode:     members[0],
		ClosingNode:   members[len(members)-1],
		MaxIterations: DefaultMaxIterations,
		memberSet:     make(map[string]bool, len(members)),
	}
	for _, m := range members {
		loop.memberSet[m] = true
	}

	entry := g.Nodes[loop.EntryNode]
	var data schema.LoopNodeData
	if len(entry.Data) > 0 {
		if err := json.Unmarshal(entry.Data, &data); err != nil {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation,
				"loop entry node %s has invalid data: %v", loop.EntryNode, err).
				WithNode(loop.EntryNode).WithCause(err)
		}
	}
	if data.MaxIterations > 0 {
		loop.MaxIterations = data.MaxIterations
	}
	loop.ExitCondition = data.ExitCondition

	// The closing node may carry the exit condition instead of the entry node.
	if loop.ExitCondition == "" && loop.ClosingNode != loop.EntryNode {
		closing := g.Nodes[loop.ClosingNode]
		var closingData schema.LoopNodeData
		if len(closing.Data) > 0 {
			if err := json.Unmarshal(closing.Data, &closingData); err == nil {
				loop.ExitCondition = closingData.ExitCondition
				if loop.MaxIterations == DefaultMaxIterations && closingData.MaxIterations > 0 {
					loop.MaxIterations = closingData.MaxIterations
				}
			}
		}
	}

	return loop, nil
}

// memberKey builds an order-independent identity for a cycle's member set.
func memberKey(members []string) string {
	sorted := make([]string, len(members))
	copy(sorted, members)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// LoopIndex maps every loop member to its loop for O(1) lookups during
// interpretation.
func LoopIndex(loops []*Loop) map[string]*Loop {
	idx := make(map[string]*Loop)
	for _, l := range loops {
		for _, m := range l.Members {
			idx[m] = l
		}
	}
	return idx
}
