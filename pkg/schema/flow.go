package schema

import (
	"encoding/json"
	"time"
)

// NodeType enumerates the structural kinds of nodes in a flow graph.
type NodeType string

const (
	NodeTypeInput       NodeType = "input"
	NodeTypeModel       NodeType = "model"
	NodeTypeAction      NodeType = "action"
	NodeTypeOutput      NodeType = "output"
	NodeTypeInputPrompt NodeType = "inputPrompt"

	// NodeTypeError is not a buildable node type; it marks error records
	// in the output log.
	NodeTypeError NodeType = "error"
)

// Narrative node kinds refine model nodes when a flow runs in novel mode.
// The set is open: unrecognized kinds fall back to a generic prompt builder.
const (
	NodeKindChapter     = "chapter"
	NodeKindDialogue    = "dialogue"
	NodeKindSummary     = "summary"
	NodeKindRetroinject = "retroinject"
	NodeKindCompiler    = "compiler"
	NodeKindOutline     = "outline"
)

// FlowNode is a single unit of computation in a flow graph.
// Constructed fresh from a graph snapshot at the start of an execution
// and discarded after the run; outputs are externalized into FlowOutput.
type FlowNode struct {
	ID           string     `json:"id"`
	Type         NodeType   `json:"type"`
	ModelID      string     `json:"model_id,omitempty"`
	Config       NodeConfig `json:"config,omitempty"`
	InputNodeIDs []string   `json:"input_node_ids,omitempty"`
	Prompt       string     `json:"prompt,omitempty"`
	NodeKind     string     `json:"node_kind,omitempty"`
}

// Edge is a directed dependency from Source to Target.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// FlowGraph is the graph description handed to the execution core:
// a node list plus edges sufficient to derive per-node input sets.
type FlowGraph struct {
	Nodes []FlowNode `json:"nodes"`
	Edges []Edge     `json:"edges,omitempty"`
}

// ResolveInputs derives InputNodeIDs for every node from the edge list.
// Explicitly listed input IDs are kept; edge-derived IDs are appended
// without duplicates. Edge insertion order is preserved but carries no
// semantic weight beyond membership.
func (g *FlowGraph) ResolveInputs() {
	byTarget := make(map[string][]string)
	for _, e := range g.Edges {
		byTarget[e.Target] = append(byTarget[e.Target], e.Source)
	}
	for i := range g.Nodes {
		node := &g.Nodes[i]
		seen := make(map[string]bool, len(node.InputNodeIDs))
		for _, id := range node.InputNodeIDs {
			seen[id] = true
		}
		for _, src := range byTarget[node.ID] {
			if !seen[src] {
				node.InputNodeIDs = append(node.InputNodeIDs, src)
				seen[src] = true
			}
		}
	}
}

// NodeConfig is the execution configuration of a node: a shared base shape
// plus provider-specific extensions kept in Extra. Temperature and
// MaxTokens are pointers so "unset" is distinguishable from zero.
type NodeConfig struct {
	SystemPrompt   string
	Temperature    *float64
	MaxTokens      *int
	StreamResponse bool
	RetryOnError   bool
	Label          string
	Extra          map[string]any
}

// baseConfigKeys are the keys lifted out of the raw JSON object; everything
// else lands in Extra.
var baseConfigKeys = map[string]bool{
	"systemPrompt":   true,
	"temperature":    true,
	"maxTokens":      true,
	"streamResponse": true,
	"retryOnError":   true,
	"label":          true,
}

// UnmarshalJSON splits a raw config object into the typed base shape and
// the Extra map of unrecognized keys.
func (c *NodeConfig) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if v, ok := raw["systemPrompt"]; ok {
		if err := json.Unmarshal(v, &c.SystemPrompt); err != nil {
			return err
		}
	}
	if v, ok := raw["temperature"]; ok {
		if err := json.Unmarshal(v, &c.Temperature); err != nil {
			return err
		}
	}
	if v, ok := raw["maxTokens"]; ok {
		if err := json.Unmarshal(v, &c.MaxTokens); err != nil {
			return err
		}
	}
	if v, ok := raw["streamResponse"]; ok {
		if err := json.Unmarshal(v, &c.StreamResponse); err != nil {
			return err
		}
	}
	if v, ok := raw["retryOnError"]; ok {
		if err := json.Unmarshal(v, &c.RetryOnError); err != nil {
			return err
		}
	}
	if v, ok := raw["label"]; ok {
		if err := json.Unmarshal(v, &c.Label); err != nil {
			return err
		}
	}
	for k, v := range raw {
		if baseConfigKeys[k] {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return err
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = val
	}
	return nil
}

// MarshalJSON flattens the base shape and Extra back into one object.
func (c NodeConfig) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(c.Extra)+6)
	for k, v := range c.Extra {
		out[k] = v
	}
	if c.SystemPrompt != "" {
		out["systemPrompt"] = c.SystemPrompt
	}
	if c.Temperature != nil {
		out["temperature"] = *c.Temperature
	}
	if c.MaxTokens != nil {
		out["maxTokens"] = *c.MaxTokens
	}
	if c.StreamResponse {
		out["streamResponse"] = true
	}
	if c.RetryOnError {
		out["retryOnError"] = true
	}
	if c.Label != "" {
		out["label"] = c.Label
	}
	return json.Marshal(out)
}

// Merge overlays non-empty fields of other onto a copy of c.
// Used to combine adapter defaults with user-supplied node config.
func (c NodeConfig) Merge(other NodeConfig) NodeConfig {
	merged := c
	if other.SystemPrompt != "" {
		merged.SystemPrompt = other.SystemPrompt
	}
	if other.Temperature != nil {
		merged.Temperature = other.Temperature
	}
	if other.MaxTokens != nil {
		merged.MaxTokens = other.MaxTokens
	}
	if other.StreamResponse {
		merged.StreamResponse = true
	}
	if other.RetryOnError {
		merged.RetryOnError = true
	}
	if other.Label != "" {
		merged.Label = other.Label
	}
	if len(other.Extra) > 0 {
		extra := make(map[string]any, len(c.Extra)+len(other.Extra))
		for k, v := range c.Extra {
			extra[k] = v
		}
		for k, v := range other.Extra {
			extra[k] = v
		}
		merged.Extra = extra
	}
	return merged
}

// WithMaxTokens returns a copy of c with MaxTokens forced to n.
func (c NodeConfig) WithMaxTokens(n int) NodeConfig {
	merged := c
	merged.MaxTokens = &n
	return merged
}

// FlowOutput is one execution record per node per run. Treated as an
// immutable append-only log entry.
type FlowOutput struct {
	NodeID        string     `json:"node_id"`
	NodeName      string     `json:"node_name"`
	NodeType      NodeType   `json:"node_type"`
	ModelID       string     `json:"model_id,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
	Input         any        `json:"input"`
	Output        any        `json:"output"`
	ExecutionTime int64      `json:"execution_time_ms"`
	Config        NodeConfig `json:"config,omitempty"`
}

// Flow mode selects the executor's operating mode.
const (
	FlowModeDefault = "default"
	FlowModeNovel   = "novel"
)

// RunSettings are run-level execution settings.
type RunSettings struct {
	FlowMode string `json:"flow_mode,omitempty"`
	// MaxTokens overrides the per-node-kind token budgets in novel mode.
	MaxTokens map[string]int `json:"max_tokens,omitempty"`
}

// RunStatus represents the lifecycle state of a single flow run.
type RunStatus string

const (
	RunStatusIdle       RunStatus = "idle"
	RunStatusValidating RunStatus = "validating"
	RunStatusRunning    RunStatus = "running"
	RunStatusCompleted  RunStatus = "completed"
	RunStatusFailed     RunStatus = "failed"
)
