package diagram

import (
	"fmt"
	"strings"
)

// dotShapes maps diagram shapes to Graphviz node shapes.
var dotShapes = map[Shape]string{
	ShapeInput:  "oval",
	ShapeModel:  "box",
	ShapeAction: "hexagon",
	ShapeOutput: "doublecircle",
}

// RenderDOT renders a Model in Graphviz DOT format, suitable for piping
// into the dot binary.
func RenderDOT(model *Model) string {
	var b strings.Builder

	b.WriteString("digraph flow {\n")
	b.WriteString("    rankdir=TB;\n")
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    label=%q;\n", model.Title))
	}

	for _, node := range model.Nodes {
		shape, ok := dotShapes[node.Shape]
		if !ok {
			shape = "box"
		}
		attrs := fmt.Sprintf("label=%q, shape=%s", firstLine(node.Label), shape)
		if node.Status != nil {
			switch node.Status.Status {
			case "completed":
				attrs += `, style=filled, fillcolor="#2d6a2d", fontcolor=white`
			case "failed":
				attrs += `, style=filled, fillcolor="#8b1a1a", fontcolor=white`
			}
		}
		b.WriteString(fmt.Sprintf("    %q [%s];\n", node.ID, attrs))
	}

	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %q -> %q;\n", edge.From, edge.To))
	}

	b.WriteString("}\n")
	return b.String()
}
