package diagram

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cascadehq/cascade/internal/graph"
	"github.com/cascadehq/cascade/internal/store"
	"github.com/cascadehq/cascade/pkg/schema"
)

// Build constructs a Model from a WorkflowDefinition and optional node states.
// It uses graph.Build for topology and graph.DetectLoops to mark loop members
// and their closing edges.
func Build(def *schema.WorkflowDefinition, states []*store.NodeState) (*Model, error) {
	g, err := graph.Build(def.Nodes, def.Edges)
	if err != nil {
		return nil, fmt.Errorf("diagram: build graph: %w", err)
	}
	loops, err := graph.DetectLoops(g)
	if err != nil {
		return nil, fmt.Errorf("diagram: detect loops: %w", err)
	}
	loopIdx := graph.LoopIndex(loops)

	stateMap := make(map[string]*store.NodeState, len(states))
	for _, s := range states {
		stateMap[s.NodeID] = s
	}

	nodes := make([]*Node, 0, len(g.Order))
	for _, nodeID := range g.Order {
		wn := g.Nodes[nodeID]
		node := &Node{
			ID:         nodeID,
			Label:      nodeLabel(wn),
			Kind:       wn.Type,
			LoopMember: loopIdx[nodeID] != nil,
		}
		overlayStatus(node, stateMap)
		nodes = append(nodes, node)
	}

	edges := buildEdges(def.Edges, loopIdx)

	return &Model{
		Title:  titleFromDef(def),
		Nodes:  nodes,
		Edges:  edges,
		Levels: buildLevels(g, edges),
	}, nil
}

// nodeLabel creates a human-readable label from the node's data payload.
func nodeLabel(node *schema.WorkflowNode) string {
	switch node.Type {
	case schema.NodeTypeInput:
		var data schema.InputNodeData
		if json.Unmarshal(node.Data, &data) == nil {
			if data.Label != "" {
				return data.Label
			}
			if data.Prompt != "" {
				return firstLine(data.Prompt)
			}
		}
	case schema.NodeTypeTool:
		var data schema.ToolNodeData
		if json.Unmarshal(node.Data, &data) == nil {
			if data.Label != "" {
				return data.Label
			}
			if data.ToolID != "" {
				return data.ToolID
			}
		}
	case schema.NodeTypeMCP:
		var data schema.MCPNodeData
		if json.Unmarshal(node.Data, &data) == nil {
			if data.Label != "" {
				return data.Label
			}
			if data.QualifiedName != "" {
				return data.QualifiedName
			}
		}
	case schema.NodeTypeAgent:
		var data schema.AgentNodeData
		if json.Unmarshal(node.Data, &data) == nil {
			if data.Label != "" {
				return data.Label
			}
			if data.Model != "" {
				return data.Model
			}
		}
	}
	return node.ID
}

// overlayStatus applies runtime node state to a diagram node.
func overlayStatus(node *Node, stateMap map[string]*store.NodeState) {
	ns, ok := stateMap[node.ID]
	if !ok {
		return
	}
	errStr := ""
	if len(ns.Error) > 0 {
		errStr = string(ns.Error)
	}
	node.Status = &StatusOverlay{
		Status:     string(ns.Status),
		Iteration:  ns.Iteration,
		DurationMs: ns.DurationMs,
		Error:      errStr,
	}
}

// buildEdges maps workflow edges to diagram edges, marking loop-closing ones.
// An edge closes a loop when both endpoints share a loop and it lands on the
// loop's entry node.
func buildEdges(workflowEdges []schema.WorkflowEdge, loopIdx map[string]*graph.Loop) []Edge {
	edges := make([]Edge, 0, len(workflowEdges))
	for _, we := range workflowEdges {
		back := false
		if l := loopIdx[we.Source]; l != nil && l.Contains(we.Target) && we.Target == l.EntryNode {
			back = true
		}
		edges = append(edges, Edge{
			From:  we.Source,
			To:    we.Target,
			Label: we.TargetHandle,
			Back:  back,
		})
	}
	return edges
}

// buildLevels computes a breadth-first layout from the entry points, ignoring
// back edges so loop members lay out as a straight chain.
func buildLevels(g *graph.Graph, edges []Edge) [][]string {
	forward := make(map[string][]string, len(g.Nodes))
	indegree := make(map[string]int, len(g.Nodes))
	for _, e := range edges {
		if e.Back {
			continue
		}
		forward[e.From] = append(forward[e.From], e.To)
		indegree[e.To]++
	}

	var current []string
	for _, nodeID := range g.Order {
		if indegree[nodeID] == 0 {
			current = append(current, nodeID)
		}
	}

	var levels [][]string
	for len(current) > 0 {
		levels = append(levels, current)
		var next []string
		for _, nodeID := range current {
			for _, dep := range forward[nodeID] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		current = next
	}
	return levels
}

// titleFromDef generates a diagram title from workflow metadata.
func titleFromDef(def *schema.WorkflowDefinition) string {
	if def.Name != "" {
		return def.Name
	}
	return "Workflow"
}

// firstLine returns only the first line of a multi-line string.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}
