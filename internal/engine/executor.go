package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/internal/expressions"
	"github.com/rmead777/agentflow/internal/logging"
	"github.com/rmead777/agentflow/internal/narrative"
	"github.com/rmead777/agentflow/internal/trace"
	"github.com/rmead777/agentflow/pkg/schema"
)

// ModelCaller performs the actual provider call for a built request.
// The executor never does network I/O itself; timeout policy lives with
// the caller implementation.
type ModelCaller interface {
	Call(ctx context.Context, adapter adapters.ModelAdapter, req adapters.Request) (map[string]any, error)
}

// Upstream is one resolved input to a node: the producing node's id and
// kind plus whatever it wrote into the run context.
type Upstream struct {
	NodeID   string
	NodeKind string
	Output   any
}

// NodeResult is the normalized outcome of executing one node.
type NodeResult struct {
	Output      string
	Memory      schema.NarrativeMemory
	DebugPrompt string
	Raw         map[string]any
}

// nodeKindBudgets are the default max-output-token budgets per narrative
// node kind, overridable via RunSettings.MaxTokens.
var nodeKindBudgets = map[string]int{
	schema.NodeKindChapter:     2048,
	schema.NodeKindSummary:     1024,
	schema.NodeKindDialogue:    1024,
	schema.NodeKindRetroinject: 1024,
	schema.NodeKindOutline:     2048,
}

// modelTokenCeilings caps the budget per model. Unlisted models get the
// conservative fallback.
var modelTokenCeilings = map[string]int{
	"claude-3-7-sonnet-20250219": 16384,
	"gpt-4o":                     128000,
}

const (
	defaultModelCeiling    = 16000
	defaultNarrativeBudget = 2048
)

// Executor runs exactly one node given its resolved upstream outputs and
// merged memory. All failures are returned, never panicked; the Engine
// converts them into error-typed output records so one bad node never
// aborts the run.
type Executor struct {
	registry *adapters.Registry
	caller   ModelCaller
	exprs    *expressions.Registry
	sink     trace.Sink
	logger   *slog.Logger
}

// NewExecutor creates an executor. A nil sink disables tracing; a nil
// expression registry disables action nodes.
func NewExecutor(registry *adapters.Registry, caller ModelCaller, exprs *expressions.Registry, sink trace.Sink, logger *slog.Logger) *Executor {
	if sink == nil {
		sink = trace.Discard{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		registry: registry,
		caller:   caller,
		exprs:    exprs,
		sink:     sink,
		logger:   logger,
	}
}

// Execute runs one node and returns its normalized result. Exactly one
// trace record is appended per call, success or failure.
func (e *Executor) Execute(ctx context.Context, node *schema.FlowNode, inputs []Upstream, mem schema.NarrativeMemory, settings schema.RunSettings) (NodeResult, error) {
	ctx = logging.WithNodeID(ctx, node.ID)
	start := time.Now()

	var res NodeResult
	var err error
	if settings.FlowMode == schema.FlowModeNovel && node.NodeKind != "" {
		res, err = e.executeNarrative(ctx, node, inputs, mem, settings)
	} else {
		res, err = e.executePlain(ctx, node, inputs, mem)
	}

	elapsed := time.Since(start)
	rec := trace.Record{
		NodeID:        node.ID,
		NodeName:      nodeName(node),
		NodeType:      string(node.Type),
		ModelID:       node.ModelID,
		Input:         res.DebugPrompt,
		Output:        res.Output,
		ExecutionTime: elapsed.Milliseconds(),
		Config:        node.Config,
	}
	if err != nil {
		rec.NodeType = string(schema.NodeTypeError)
		rec.Output = err.Error()
		logging.LogWith(ctx, e.logger).Error("node execution failed",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", elapsed))
	} else {
		logging.LogWith(ctx, e.logger).Debug("node executed",
			slog.Duration("elapsed", elapsed))
	}
	e.sink.Append(rec)

	return res, err
}

// executePlain handles the default flow mode: one model call on the full
// flattened input, with prompt-source and pass-through nodes short-cut.
func (e *Executor) executePlain(ctx context.Context, node *schema.FlowNode, inputs []Upstream, mem schema.NarrativeMemory) (NodeResult, error) {
	switch node.Type {
	case schema.NodeTypeInput, schema.NodeTypeInputPrompt:
		// Prompt-source nodes originate text; no model call.
		return NodeResult{Output: node.Prompt, Memory: mem, DebugPrompt: node.Prompt}, nil

	case schema.NodeTypeOutput:
		flat := flattenAll(inputs)
		return NodeResult{Output: flat, Memory: mem, DebugPrompt: flat}, nil

	case schema.NodeTypeAction:
		return e.executeAction(ctx, node, inputs, mem)
	}

	input := flattenAll(inputs)
	if node.Prompt != "" && input == "" {
		input = node.Prompt
	}

	if node.ModelID == adapters.MockModelID {
		out := fmt.Sprintf("[Mock response for node %s: %s]", node.ID, input)
		return NodeResult{Output: out, Memory: mem, DebugPrompt: input}, nil
	}

	parsed, err := e.callModel(ctx, node, input, node.Config)
	if err != nil {
		return NodeResult{DebugPrompt: input, Memory: mem}, err
	}
	return NodeResult{Output: parsed.Output, Memory: mem, DebugPrompt: input, Raw: parsed.Raw}, nil
}

// executeAction evaluates the node's configured expression against the
// upstream outputs. The language is selected via config ("expr", "cel",
// "jq"); expr is the default.
func (e *Executor) executeAction(ctx context.Context, node *schema.FlowNode, inputs []Upstream, mem schema.NarrativeMemory) (NodeResult, error) {
	if e.exprs == nil {
		return NodeResult{Memory: mem}, schema.NewError(schema.ErrCodeConfig, "action nodes are disabled: no expression registry").WithNode(node.ID)
	}

	expression, _ := node.Config.Extra["expression"].(string)
	if expression == "" {
		return NodeResult{Memory: mem}, schema.NewError(schema.ErrCodeConfig, "action node has no expression").WithNode(node.ID)
	}
	lang, _ := node.Config.Extra["lang"].(string)

	engine, err := e.exprs.Get(lang)
	if err != nil {
		return NodeResult{Memory: mem}, schema.NewErrorf(schema.ErrCodeConfig, "action node language: %s", err.Error()).WithNode(node.ID).WithCause(err)
	}

	byID := make(map[string]any, len(inputs))
	for _, up := range inputs {
		byID[up.NodeID] = up.Output
	}
	data := map[string]any{
		"input":  flattenAll(inputs),
		"inputs": byID,
	}

	value, err := engine.Evaluate(ctx, expression, data)
	if err != nil {
		return NodeResult{DebugPrompt: expression, Memory: mem},
			schema.NewErrorf(schema.ErrCodeExecution, "evaluate %s expression: %s", engine.Name(), err.Error()).
				WithNode(node.ID).WithCause(err)
	}
	return NodeResult{Output: FlattenInput(value), Memory: mem, DebugPrompt: expression}, nil
}

// executeNarrative dispatches input shaping by node kind, applies the
// effective token budget, and extracts structured results where the kind
// demands it. The returned memory is always default-filled.
func (e *Executor) executeNarrative(ctx context.Context, node *schema.FlowNode, inputs []Upstream, mem schema.NarrativeMemory, settings schema.RunSettings) (NodeResult, error) {
	prompt := e.narrativePrompt(node, inputs, mem)
	tokens := effectiveMaxTokens(node.NodeKind, node.ModelID, settings)
	cfg := node.Config.WithMaxTokens(tokens)

	if node.ModelID == adapters.MockModelID {
		out := fmt.Sprintf("[Mock response for node %s: %s]", node.ID, prompt)
		return e.narrativeResult(node, out, prompt, mem, nil)
	}

	parsed, err := e.callModel(ctx, node, prompt, cfg)
	if err != nil {
		return NodeResult{DebugPrompt: prompt, Memory: mem.Normalize()}, err
	}
	return e.narrativeResult(node, parsed.Output, prompt, mem, parsed.Raw)
}

// narrativePrompt shapes a node's prompt from its kind, inputs, and memory.
func (e *Executor) narrativePrompt(node *schema.FlowNode, inputs []Upstream, mem schema.NarrativeMemory) string {
	in := narrative.PromptInput{Memory: mem}

	switch node.NodeKind {
	case schema.NodeKindSummary:
		// Single upstream chapter; unwrap nested output wrappers.
		var first any
		if len(inputs) > 0 {
			first = inputs[0].Output
		}
		in.ChapterText = FlattenInput(unwrapOutput(unwrapOutput(first)))

	case schema.NodeKindChapter:
		in.ChapterNumber = narrative.ChapterNumberFromLabel(node.Config.Label)
		entry := narrative.FallbackOutlineEntry(in.ChapterNumber)
		for _, up := range inputs {
			if up.NodeKind == schema.NodeKindOutline {
				entry = narrative.OutlineEntryForChapter(FlattenInput(up.Output), in.ChapterNumber)
				break
			}
		}
		in.OutlineTitle = entry.Title
		in.OutlineSummary = entry.Summary

	case schema.NodeKindDialogue:
		if len(inputs) > 0 {
			in.Context = FlattenInput(inputs[0].Output)
		}

	case schema.NodeKindRetroinject:
		in.Summary = flattenAll(inputs)

	case schema.NodeKindOutline:
		userPrompt := node.Prompt
		if userPrompt == "" {
			userPrompt = flattenAll(inputs)
		}
		if sp := node.Config.SystemPrompt; sp != "" {
			userPrompt = sp + "\n\n" + userPrompt
		}
		in.Prompt = userPrompt

	default:
		in.Prompt = node.Prompt
	}

	return narrative.PromptFor(node.NodeKind, in)
}

// narrativeResult post-processes a narrative model output by kind.
func (e *Executor) narrativeResult(node *schema.FlowNode, output, prompt string, mem schema.NarrativeMemory, raw map[string]any) (NodeResult, error) {
	res := NodeResult{Output: output, Memory: mem.Normalize(), DebugPrompt: prompt, Raw: raw}

	switch node.NodeKind {
	case schema.NodeKindRetroinject:
		res.Memory = narrative.ExtractMemory(output)

	case schema.NodeKindOutline:
		entries, ok := narrative.ExtractOutline(output)
		if !ok {
			entries = narrative.ParseFailureOutline()
		}
		encoded, err := json.Marshal(entries)
		if err != nil {
			return res, schema.NewErrorf(schema.ErrCodeParse, "encode outline: %s", err.Error()).WithNode(node.ID).WithCause(err)
		}
		res.Output = string(encoded)
	}

	return res, nil
}

// callModel resolves the adapter, merges and validates config, builds the
// request, and performs the call with a single retry when the node opts in
// and the failure looks transient.
func (e *Executor) callModel(ctx context.Context, node *schema.FlowNode, input string, cfg schema.NodeConfig) (adapters.Parsed, error) {
	adapter := e.registry.Get(node.ModelID)
	if adapter == nil {
		return adapters.Parsed{}, schema.NewErrorf(schema.ErrCodeNotFound, "no adapter found for model %q", node.ModelID).WithNode(node.ID)
	}

	merged := adapter.DefaultConfig().Merge(cfg)
	if err := adapter.ValidateConfig(merged); err != nil {
		return adapters.Parsed{}, schema.NewErrorf(schema.ErrCodeConfig, "invalid config for model %q: %s", node.ModelID, err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	req := adapter.BuildRequest(input, merged)
	resp, err := e.caller.Call(ctx, adapter, req)
	if err != nil && merged.RetryOnError && isRetryableCallError(err) {
		logging.LogWith(ctx, e.logger).Warn("model call failed, retrying once",
			slog.String("model_id", node.ModelID),
			slog.String("error", err.Error()))
		resp, err = e.caller.Call(ctx, adapter, req)
	}
	if err != nil {
		return adapters.Parsed{}, schema.NewErrorf(schema.ErrCodeProvider, "model call failed for %q: %s", node.ModelID, err.Error()).
			WithNode(node.ID).WithCause(err)
	}

	parsed, err := adapter.ParseResponse(resp)
	if err != nil {
		var flowErr *schema.FlowError
		if errors.As(err, &flowErr) {
			return adapters.Parsed{}, flowErr.WithNode(node.ID)
		}
		return adapters.Parsed{}, schema.NewErrorf(schema.ErrCodeParse, "parse response for %q: %s", node.ModelID, err.Error()).
			WithNode(node.ID).WithCause(err)
	}
	return parsed, nil
}

// isRetryableCallError classifies transient call failures. Cancellation is
// never retried; network errors and common gateway failures are.
func isRetryableCallError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o timeout",
		"service unavailable",
		"bad gateway",
		"gateway timeout",
		"too many requests",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// effectiveMaxTokens is min(per-node-kind budget, per-model ceiling).
func effectiveMaxTokens(nodeKind, modelID string, settings schema.RunSettings) int {
	budget, ok := settings.MaxTokens[nodeKind]
	if !ok {
		if budget, ok = nodeKindBudgets[nodeKind]; !ok {
			budget = defaultNarrativeBudget
		}
	}
	ceiling, ok := modelTokenCeilings[modelID]
	if !ok {
		ceiling = defaultModelCeiling
	}
	if budget > ceiling {
		return ceiling
	}
	return budget
}

// FlattenInput coerces an upstream value to a string: objects with a
// string "output" field yield that string, arrays yield their flattened
// elements newline-joined, strings pass through, everything else is
// JSON-stringified.
func FlattenInput(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case map[string]any:
		if out, ok := val["output"].(string); ok {
			return out
		}
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, FlattenInput(item))
		}
		return strings.Join(parts, "\n")
	case []string:
		return strings.Join(val, "\n")
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}

// flattenAll joins all upstream outputs per the uniform flattening rule.
func flattenAll(inputs []Upstream) string {
	if len(inputs) == 0 {
		return ""
	}
	if len(inputs) == 1 {
		return FlattenInput(inputs[0].Output)
	}
	parts := make([]string, 0, len(inputs))
	for _, up := range inputs {
		parts = append(parts, FlattenInput(up.Output))
	}
	return strings.Join(parts, "\n")
}

// unwrapOutput peels one {"output": ...} wrapper layer off a value.
func unwrapOutput(v any) any {
	if m, ok := v.(map[string]any); ok {
		if inner, ok := m["output"]; ok {
			return inner
		}
	}
	return v
}

// nodeName is the display name for output records: the configured label,
// falling back to the node id.
func nodeName(node *schema.FlowNode) string {
	if node.Config.Label != "" {
		return node.Config.Label
	}
	return node.ID
}
