package diagram

import (
	"fmt"
	"strings"
)

// statusTag returns a short ASCII indicator for a status string.
func statusTag(status string) string {
	switch status {
	case "completed":
		return "[OK]"
	case "failed":
		return "[FAIL]"
	case "running":
		return "[RUN]"
	case "skipped":
		return "[SKIP]"
	case "pending":
		return "[PEND]"
	default:
		return ""
	}
}

// RenderASCII renders a Model as a text-based ASCII diagram.
// It uses a level-based layout with box-drawing characters.
func RenderASCII(model *Model) string {
	var b strings.Builder

	// Title.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	// Render each level.
	for levelIdx, level := range model.Levels {
		var boxes []asciiBox
		for _, nodeID := range level {
			node := findNode(model.Nodes, nodeID)
			if node == nil {
				continue
			}
			boxes = append(boxes, makeBox(node))
		}

		renderBoxRow(&b, boxes)

		// Draw connectors between levels (except after last level).
		if levelIdx < len(model.Levels)-1 {
			renderConnector(&b, len(boxes))
		}
	}

	// Loop-closing edges don't fit the level layout; list them below.
	var backEdges []Edge
	for _, edge := range model.Edges {
		if edge.Back {
			backEdges = append(backEdges, edge)
		}
	}
	if len(backEdges) > 0 {
		b.WriteString("\n--- loops ---\n")
		for _, edge := range backEdges {
			b.WriteString(fmt.Sprintf("  %s ─→ %s\n", edge.From, edge.To))
		}
	}

	return b.String()
}

// asciiBox holds the rendered lines of a single box.
type asciiBox struct {
	lines []string
	width int
}

// makeBox creates an ASCII box for a node.
func makeBox(node *Node) asciiBox {
	var contentLines []string

	label := firstLine(node.Label)
	if node.LoopMember {
		label += " (loop)"
	}
	contentLines = append(contentLines, label)

	if node.Status != nil {
		tag := statusTag(node.Status.Status)
		if node.Status.Iteration > 1 {
			tag += fmt.Sprintf(" x%d", node.Status.Iteration)
		}
		if tag != "" {
			contentLines = append(contentLines, tag)
		}
		if node.Status.DurationMs > 0 {
			contentLines = append(contentLines, fmt.Sprintf("%dms", node.Status.DurationMs))
		}
	}

	maxLen := 0
	for _, line := range contentLines {
		if len(line) > maxLen {
			maxLen = len(line)
		}
	}
	width := maxLen + 4 // 2 border + 2 padding

	var lines []string
	top := "┌" + strings.Repeat("─", width-2) + "┐"
	bot := "└" + strings.Repeat("─", width-2) + "┘"
	lines = append(lines, top)
	for _, content := range contentLines {
		padded := content + strings.Repeat(" ", maxLen-len(content))
		lines = append(lines, "│ "+padded+" │")
	}
	lines = append(lines, bot)

	return asciiBox{lines: lines, width: width}
}

// renderBoxRow writes boxes side by side.
func renderBoxRow(b *strings.Builder, boxes []asciiBox) {
	if len(boxes) == 0 {
		return
	}

	maxHeight := 0
	for _, box := range boxes {
		if len(box.lines) > maxHeight {
			maxHeight = len(box.lines)
		}
	}

	for row := 0; row < maxHeight; row++ {
		for i, box := range boxes {
			if i > 0 {
				b.WriteString("  ") // gap between boxes
			}
			if row < len(box.lines) {
				b.WriteString(box.lines[row])
			} else {
				b.WriteString(strings.Repeat(" ", box.width))
			}
		}
		b.WriteByte('\n')
	}
}

// renderConnector draws a vertical connector between levels.
func renderConnector(b *strings.Builder, boxCount int) {
	if boxCount == 0 {
		return
	}
	b.WriteString("       │\n")
	b.WriteString("       ▼\n")
}

// findNode looks up a node by ID in the model's node list.
func findNode(nodes []*Node, id string) *Node {
	for _, n := range nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}
