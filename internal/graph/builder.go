package graph

import (
	"encoding/json"
	"fmt"

	"github.com/cascadehq/cascade/pkg/schema"
)

// Graph is the in-memory adjacency representation of a visual workflow.
// Built from node and edge lists, used by the interpreter to determine
// execution order. Unlike a plain DAG, a Graph may contain cycles; those are
// resolved into bounded loops by DetectLoops.
type Graph struct {
	Nodes        map[string]*schema.WorkflowNode // node ID → node
	Order        []string                        // node IDs in definition order
	Outgoing     map[string][]schema.WorkflowEdge
	Incoming     map[string][]schema.WorkflowEdge
	Dependencies map[string][]string // node ID → distinct upstream node IDs
	Dependents   map[string][]string // node ID → distinct downstream node IDs
	EntryPoints  []string            // nodes with no dependencies, definition order
}

// validNodeTypes is the closed set of recognized node types.
var validNodeTypes = map[schema.NodeType]bool{
	schema.NodeTypeInput: true,
	schema.NodeTypeTool:  true,
	schema.NodeTypeMCP:   true,
	schema.NodeTypeAgent: true,
}

// Build turns node and edge lists into an executable Graph. It validates node
// IDs and types, checks every edge endpoint against the node set, and computes
// dependency and dependent sets. All validation failures surface here, before
// any node executes.
func Build(nodes []schema.WorkflowNode, edges []schema.WorkflowEdge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeGraphValidation, "workflow has no nodes")
	}

	g := &Graph{
		Nodes:        make(map[string]*schema.WorkflowNode, len(nodes)),
		Order:        make([]string, 0, len(nodes)),
		Outgoing:     make(map[string][]schema.WorkflowEdge, len(nodes)),
		Incoming:     make(map[string][]schema.WorkflowEdge, len(nodes)),
		Dependencies: make(map[string][]string, len(nodes)),
		Dependents:   make(map[string][]string, len(nodes)),
	}

	// First pass: register nodes, check duplicates and types.
	for i := range nodes {
		node := &nodes[i]

		if node.ID == "" {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation, "node at index %d has empty ID", i)
		}
		if _, exists := g.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation, "duplicate node ID: %s", node.ID)
		}
		if !validNodeTypes[node.Type] {
			return nil, schema.NewErrorf(schema.ErrCodeUnknownNodeType,
				"node %s has unknown type: %s", node.ID, node.Type).WithNode(node.ID)
		}

		g.Nodes[node.ID] = node
		g.Order = append(g.Order, node.ID)
	}

	// Second pass: validate type-specific payloads.
	for _, id := range g.Order {
		if err := validateNodeData(g.Nodes[id]); err != nil {
			return nil, err
		}
	}

	// Third pass: wire edges and build distinct dependency/dependent sets.
	depSeen := make(map[string]map[string]bool, len(nodes))
	revSeen := make(map[string]map[string]bool, len(nodes))
	for i, edge := range edges {
		if edge.Source == "" || edge.Target == "" {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation, "edge at index %d has empty endpoint", i)
		}
		if _, ok := g.Nodes[edge.Source]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation,
				"edge %s references non-existent source node: %s", edgeLabel(edge, i), edge.Source)
		}
		if _, ok := g.Nodes[edge.Target]; !ok {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation,
				"edge %s references non-existent target node: %s", edgeLabel(edge, i), edge.Target)
		}
		if edge.Source == edge.Target {
			return nil, schema.NewErrorf(schema.ErrCodeGraphValidation,
				"edge %s connects node %s to itself", edgeLabel(edge, i), edge.Source)
		}

		g.Outgoing[edge.Source] = append(g.Outgoing[edge.Source], edge)
		g.Incoming[edge.Target] = append(g.Incoming[edge.Target], edge)

		if depSeen[edge.Target] == nil {
			depSeen[edge.Target] = make(map[string]bool)
		}
		if !depSeen[edge.Target][edge.Source] {
			depSeen[edge.Target][edge.Source] = true
			g.Dependencies[edge.Target] = append(g.Dependencies[edge.Target], edge.Source)
		}
		if revSeen[edge.Source] == nil {
			revSeen[edge.Source] = make(map[string]bool)
		}
		if !revSeen[edge.Source][edge.Target] {
			revSeen[edge.Source][edge.Target] = true
			g.Dependents[edge.Source] = append(g.Dependents[edge.Source], edge.Target)
		}
	}

	// Entry points: nodes with no dependencies, scheduled in definition order.
	for _, id := range g.Order {
		if len(g.Dependencies[id]) == 0 {
			g.EntryPoints = append(g.EntryPoints, id)
		}
	}
	if len(g.EntryPoints) == 0 {
		return nil, schema.NewError(schema.ErrCodeGraphValidation,
			"workflow has no entry point: every node is part of a cycle")
	}

	return g, nil
}

// HasOutgoing reports whether the node has at least one outgoing edge.
// Terminal tool nodes execute immediately instead of producing a descriptor.
func (g *Graph) HasOutgoing(nodeID string) bool {
	return len(g.Outgoing[nodeID]) > 0
}

// validateNodeData checks type-specific constraints on a node payload.
func validateNodeData(node *schema.WorkflowNode) error {
	switch node.Type {
	case schema.NodeTypeInput:
		var data schema.InputNodeData
		if err := unmarshalData(node, &data); err != nil {
			return err
		}
		if data.Prompt == "" {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"input node %s has no prompt", node.ID).WithNode(node.ID)
		}

	case schema.NodeTypeTool:
		var data schema.ToolNodeData
		if err := unmarshalData(node, &data); err != nil {
			return err
		}
		if data.ToolID == "" {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"tool node %s has no tool_id", node.ID).WithNode(node.ID)
		}

	case schema.NodeTypeMCP:
		var data schema.MCPNodeData
		if err := unmarshalData(node, &data); err != nil {
			return err
		}
		if data.QualifiedName == "" {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"mcp node %s has no qualified_name", node.ID).WithNode(node.ID)
		}

	case schema.NodeTypeAgent:
		var data schema.AgentNodeData
		if err := unmarshalData(node, &data); err != nil {
			return err
		}
		if data.MaxIterations < 0 {
			return schema.NewErrorf(schema.ErrCodeGraphValidation,
				"agent node %s has negative max_iterations", node.ID).WithNode(node.ID)
		}
	}
	return nil
}

func unmarshalData(node *schema.WorkflowNode, out any) error {
	if len(node.Data) == 0 {
		return schema.NewErrorf(schema.ErrCodeGraphValidation,
			"%s node %s has no data", node.Type, node.ID).WithNode(node.ID)
	}
	if err := json.Unmarshal(node.Data, out); err != nil {
		return schema.NewErrorf(schema.ErrCodeGraphValidation,
			"%s node %s has invalid data: %v", node.Type, node.ID, err).WithNode(node.ID).WithCause(err)
	}
	return nil
}

func edgeLabel(edge schema.WorkflowEdge, index int) string {
	if edge.ID != "" {
		return edge.ID
	}
	return fmt.Sprintf("#%d", index)
}
