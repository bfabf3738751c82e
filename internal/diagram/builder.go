package diagram

import (
	"fmt"

	"github.com/rmead777/agentflow/internal/engine"
	"github.com/rmead777/agentflow/pkg/schema"
)

// Build constructs a diagram Model from a flow graph, optionally overlaying
// the outputs of a finished run. Topology comes from engine.ResolveDAG, so
// an unresolvable graph fails here the same way it fails at run time.
func Build(title string, graph *schema.FlowGraph, outputs []schema.FlowOutput) (*Model, error) {
	graph.ResolveInputs()
	dag, err := engine.ResolveDAG(graph)
	if err != nil {
		return nil, fmt.Errorf("diagram: resolve graph: %w", err)
	}

	byNode := make(map[string]*schema.FlowOutput, len(outputs))
	for i := range outputs {
		byNode[outputs[i].NodeID] = &outputs[i]
	}

	nodes := make([]*Node, 0, len(dag.Sorted))
	for _, id := range dag.Sorted {
		flowNode := dag.Nodes[id]
		node := &Node{
			ID:    id,
			Label: nodeLabel(flowNode),
			Shape: nodeShape(flowNode.Type),
		}
		if out, ok := byNode[id]; ok {
			node.Status = overlayFor(out)
		}
		nodes = append(nodes, node)
	}

	var edges []Edge
	for _, id := range dag.Sorted {
		for _, dep := range dag.Edges[id] {
			edges = append(edges, Edge{From: dep, To: id})
		}
	}

	return &Model{
		Title:  title,
		Nodes:  nodes,
		Edges:  edges,
		Levels: dag.Levels,
	}, nil
}

func nodeLabel(node *schema.FlowNode) string {
	label := node.ID
	if node.Config.Label != "" {
		label = node.Config.Label
	}
	if node.ModelID != "" {
		return fmt.Sprintf("%s\n(%s)", label, node.ModelID)
	}
	return label
}

func nodeShape(t schema.NodeType) Shape {
	switch t {
	case schema.NodeTypeInput, schema.NodeTypeInputPrompt:
		return ShapeInput
	case schema.NodeTypeAction:
		return ShapeAction
	case schema.NodeTypeOutput:
		return ShapeOutput
	default:
		return ShapeModel
	}
}

func overlayFor(out *schema.FlowOutput) *StatusOverlay {
	status := "completed"
	if out.NodeType == schema.NodeTypeError {
		status = "failed"
	}
	return &StatusOverlay{Status: status, DurationMs: out.ExecutionTime}
}
