package engine

import (
	"github.com/cascadehq/cascade/internal/graph"
)

// prepareInput assembles a node's input from its incoming edges. Each edge
// routes the source node's stored output to the slot named by the edge's
// target handle. The tools and mcp handles accumulate ordered lists, since a
// node may receive several descriptors; any other handle overwrites a single
// named slot, and an unnamed handle lands in the default "input" slot.
func prepareInput(g *graph.Graph, nodeID string, outputs map[string]any) map[string]any {
	input := make(map[string]any)
	for _, edge := range g.Incoming[nodeID] {
		out, ok := outputs[edge.Source]
		if !ok {
			continue
		}
		switch edge.TargetHandle {
		case "tools", "mcp":
			list, _ := input[edge.TargetHandle].([]any)
			input[edge.TargetHandle] = append(list, out)
		case "":
			input["input"] = out
		default:
			input[edge.TargetHandle] = out
		}
	}
	return input
}
