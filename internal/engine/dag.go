package engine

import (
	"fmt"
	"sort"

	"github.com/rmead777/agentflow/pkg/schema"
)

// DAG is the in-memory directed acyclic graph of a flow.
// Built from a FlowGraph, used by the Engine to determine execution order.
type DAG struct {
	Nodes   map[string]*schema.FlowNode // node ID → node
	Edges   map[string][]string         // node ID → dependencies (inputNodeIds)
	Reverse map[string][]string         // node ID → dependents (who reads my output)
	Sorted  []string                    // topological order
	Roots   []string                    // nodes with no dependencies
	Levels  [][]string                  // parallel execution levels
}

// validNodeTypes is the set of recognized node types.
var validNodeTypes = map[schema.NodeType]bool{
	schema.NodeTypeInput:       true,
	schema.NodeTypeModel:       true,
	schema.NodeTypeAction:      true,
	schema.NodeTypeOutput:      true,
	schema.NodeTypeInputPrompt: true,
}

// ResolveDAG parses a FlowGraph into an executable DAG. It validates the
// graph, builds adjacency lists, performs a topological sort using Kahn's
// algorithm, detects cycles and unreachable nodes, and computes parallel
// execution levels. Resolution failures are fatal for the whole run: the
// Engine reports them as one synthetic error record and executes nothing.
func ResolveDAG(graph *schema.FlowGraph) (*DAG, error) {
	if graph == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "flow graph is nil")
	}
	if len(graph.Nodes) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "flow graph has no nodes")
	}

	dag := &DAG{
		Nodes:   make(map[string]*schema.FlowNode, len(graph.Nodes)),
		Edges:   make(map[string][]string, len(graph.Nodes)),
		Reverse: make(map[string][]string, len(graph.Nodes)),
	}

	// First pass: register all nodes and check for duplicates.
	for i := range graph.Nodes {
		node := &graph.Nodes[i]

		if node.ID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, fmt.Sprintf("node at index %d has empty ID", i))
		}
		if _, exists := dag.Nodes[node.ID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "duplicate node ID: %s", node.ID)
		}

		// Default node type to model when empty.
		if node.Type == "" {
			node.Type = schema.NodeTypeModel
		}
		if !validNodeTypes[node.Type] {
			return nil, schema.NewErrorf(schema.ErrCodeValidation, "node %s has unknown type: %s", node.ID, node.Type)
		}

		dag.Nodes[node.ID] = node
	}

	// Second pass: build adjacency lists. Nodes whose inputs point at
	// nonexistent ids can never be scheduled; collect them all and fail
	// with one error naming every offender.
	var unreachable []string
	for id, node := range dag.Nodes {
		seen := make(map[string]bool, len(node.InputNodeIDs))
		deps := make([]string, 0, len(node.InputNodeIDs))
		broken := false
		for _, dep := range node.InputNodeIDs {
			if dep == id {
				return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "node %s depends on itself", id).WithNode(id)
			}
			if _, exists := dag.Nodes[dep]; !exists {
				broken = true
				continue
			}
			if seen[dep] {
				continue
			}
			seen[dep] = true
			deps = append(deps, dep)
			dag.Reverse[dep] = append(dag.Reverse[dep], id)
		}
		if broken {
			unreachable = append(unreachable, id)
		}
		dag.Edges[id] = deps
	}
	if len(unreachable) > 0 {
		sort.Strings(unreachable)
		return nil, schema.NewErrorf(schema.ErrCodeUnreachableNodes,
			"unreachable nodes (inputs reference nonexistent nodes): %v", unreachable).
			WithDetails(map[string]any{"node_ids": unreachable})
	}

	// Kahn's algorithm: topological sort + cycle detection.
	inDegree := make(map[string]int, len(dag.Nodes))
	for id := range dag.Nodes {
		inDegree[id] = len(dag.Edges[id])
	}

	queue := make([]string, 0)
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	// Sort roots for deterministic ordering.
	sort.Strings(queue)
	dag.Roots = make([]string, len(queue))
	copy(dag.Roots, queue)

	sorted := make([]string, 0, len(dag.Nodes))
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		sorted = append(sorted, node)

		dependents := make([]string, len(dag.Reverse[node]))
		copy(dependents, dag.Reverse[node])
		sort.Strings(dependents)

		for _, dep := range dependents {
			inDegree[dep]--
			if inDegree[dep] == 0 {
				queue = append(queue, dep)
			}
		}
	}

	if len(sorted) != len(dag.Nodes) {
		// Every unsorted node sits on or behind a cycle; name them.
		var cyclic []string
		for id := range dag.Nodes {
			if inDegree[id] > 0 {
				cyclic = append(cyclic, id)
			}
		}
		sort.Strings(cyclic)
		return nil, schema.NewErrorf(schema.ErrCodeCycleDetected, "flow graph contains a cycle involving: %v", cyclic).
			WithDetails(map[string]any{"node_ids": cyclic})
	}

	dag.Sorted = sorted
	dag.Levels = computeLevels(dag)

	return dag, nil
}

// computeLevels groups nodes into parallel execution levels. A node's
// level is 1 + the max level over ALL of its direct predecessors, so
// every dependency is guaranteed to have executed in an earlier level
// even when the node is reachable via paths of different lengths.
func computeLevels(dag *DAG) [][]string {
	depth := make(map[string]int, len(dag.Nodes))

	for _, id := range dag.Sorted {
		maxDep := -1
		for _, dep := range dag.Edges[id] {
			if depth[dep] > maxDep {
				maxDep = depth[dep]
			}
		}
		depth[id] = maxDep + 1
	}

	maxLevel := 0
	for _, d := range depth {
		if d > maxLevel {
			maxLevel = d
		}
	}

	levels := make([][]string, maxLevel+1)
	for _, id := range dag.Sorted {
		d := depth[id]
		levels[d] = append(levels[d], id)
	}

	return levels
}

// LevelNodes resolves a level's ids into FlowNode pointers.
func (d *DAG) LevelNodes(level int) []*schema.FlowNode {
	if level < 0 || level >= len(d.Levels) {
		return nil
	}
	nodes := make([]*schema.FlowNode, 0, len(d.Levels[level]))
	for _, id := range d.Levels[level] {
		nodes = append(nodes, d.Nodes[id])
	}
	return nodes
}
