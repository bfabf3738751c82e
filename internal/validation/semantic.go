package validation

import (
	"fmt"

	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/pkg/schema"
)

// validateSemantic performs semantic analysis on a flow graph: every
// model-bound node must resolve to a registered adapter and carry a config
// that adapter accepts, action nodes must carry an expression, and edges
// must reference existing nodes. All failures are collected into one
// result so the caller surfaces them at once.
func validateSemantic(graph *schema.FlowGraph, registry *adapters.Registry) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	nodeIDs := make(map[string]bool, len(graph.Nodes))
	for _, n := range graph.Nodes {
		nodeIDs[n.ID] = true
	}

	for i := range graph.Nodes {
		path := fmt.Sprintf("nodes[%d]", i)
		validateNodeSemantic(&graph.Nodes[i], path, nodeIDs, registry, result)
	}

	for j, e := range graph.Edges {
		if !nodeIDs[e.Source] {
			result.AddError(fmt.Sprintf("edges[%d].source", j), schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Source))
		}
		if !nodeIDs[e.Target] {
			result.AddError(fmt.Sprintf("edges[%d].target", j), schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", e.Target))
		}
	}

	return result
}

func validateNodeSemantic(node *schema.FlowNode, path string, nodeIDs map[string]bool, registry *adapters.Registry, result *schema.ValidationResult) {
	nodeType := node.Type
	if nodeType == "" {
		nodeType = schema.NodeTypeModel
	}

	switch nodeType {
	case schema.NodeTypeModel:
		if node.ModelID == "" {
			result.AddError(path+".model_id", schema.ErrCodeConfig, "model node has no model id")
			break
		}
		adapter := registry.Get(node.ModelID)
		if adapter == nil {
			result.AddError(path+".model_id", schema.ErrCodeNotFound,
				fmt.Sprintf("no adapter found for model %q", node.ModelID))
			break
		}
		merged := adapter.DefaultConfig().Merge(node.Config)
		if err := adapter.ValidateConfig(merged); err != nil {
			result.AddError(path+".config", schema.ErrCodeConfig,
				fmt.Sprintf("model %q rejected config: %s", node.ModelID, err.Error()))
		}

	case schema.NodeTypeAction:
		if expression, _ := node.Config.Extra["expression"].(string); expression == "" {
			result.AddError(path+".config.expression", schema.ErrCodeConfig,
				"action node has no expression")
		}

	case schema.NodeTypeInput, schema.NodeTypeInputPrompt:
		if node.Prompt == "" {
			result.AddWarning(path+".prompt", schema.ErrCodeValidation,
				"prompt-source node has an empty prompt")
		}
	}

	for j, dep := range node.InputNodeIDs {
		if !nodeIDs[dep] {
			result.AddError(fmt.Sprintf("%s.input_node_ids[%d]", path, j),
				schema.ErrCodeValidation,
				fmt.Sprintf("references non-existent node %q", dep))
		}
	}
}
