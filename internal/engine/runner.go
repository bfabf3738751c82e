package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rmead777/agentflow/internal/logging"
	"github.com/rmead777/agentflow/internal/narrative"
	"github.com/rmead777/agentflow/internal/trace"
	"github.com/rmead777/agentflow/internal/validation"
	"github.com/rmead777/agentflow/pkg/schema"
)

// RunResult is the outcome of one flow run: the full ordered output log
// plus the final shared context and memories, keyed by node id.
type RunResult struct {
	RunID    string
	Status   schema.RunStatus
	Outputs  []schema.FlowOutput
	Context  map[string]any
	Memories map[string]schema.NarrativeMemory
}

// Options configures an Engine.
type Options struct {
	// Concurrency bounds how many nodes of one level run at once.
	// Zero means the level size (full fan-out).
	Concurrency int
	Trace       trace.Sink
	Logger      *slog.Logger
}

// Engine drives a flow run level by level: validate the graph, resolve it
// into execution levels, fan out each level concurrently, and collect one
// output record per node regardless of success or failure.
type Engine struct {
	executor    *Executor
	validator   *validation.Validator
	sink        trace.Sink
	logger      *slog.Logger
	concurrency int

	mu      sync.Mutex
	running bool
}

// New creates an Engine around an executor and validator.
func New(executor *Executor, validator *validation.Validator, opts Options) *Engine {
	sink := opts.Trace
	if sink == nil {
		sink = trace.Discard{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		executor:    executor,
		validator:   validator,
		sink:        sink,
		logger:      logger,
		concurrency: opts.Concurrency,
	}
}

// Running reports whether a run is currently in flight.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Run executes the flow graph to completion. Node-level failures are
// contained: the run continues and the failed node's record carries an
// error-prefixed output. Only graph-structure failures abort the run, in
// which case the result holds exactly one synthetic error record and no
// node executed. Concurrent Run calls on the same Engine are rejected.
func (e *Engine) Run(ctx context.Context, graph *schema.FlowGraph, settings schema.RunSettings) (*RunResult, error) {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil, schema.NewError(schema.ErrCodeExecution, "a run is already in progress")
	}
	e.running = true
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.running = false
		e.mu.Unlock()
	}()

	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)
	logger := logging.LogWith(ctx, e.logger)

	fsm := NewRunFSM()
	fsm.OnAfter(schema.RunStatusRunning, schema.RunStatusCompleted, func(from, to schema.RunStatus) error {
		logger.Info("run completed")
		return nil
	})

	result := &RunResult{
		RunID:    runID,
		Context:  make(map[string]any),
		Memories: make(map[string]schema.NarrativeMemory),
	}

	if err := fsm.Transition(schema.RunStatusValidating); err != nil {
		return nil, err
	}

	if graph != nil {
		graph.ResolveInputs()
	}
	if e.validator != nil {
		if err := e.validator.Validate(graph); err != nil {
			_ = fsm.Transition(schema.RunStatusFailed)
			result.Status = fsm.State()
			logger.Error("flow validation failed", slog.String("error", err.Error()))
			return result, err
		}
	}

	dag, err := ResolveDAG(graph)
	if err != nil {
		_ = fsm.Transition(schema.RunStatusFailed)
		result.Status = fsm.State()
		result.Outputs = append(result.Outputs, syntheticErrorOutput(err))
		logger.Error("flow resolution failed", slog.String("error", err.Error()))
		return result, err
	}

	if err := fsm.Transition(schema.RunStatusRunning); err != nil {
		return nil, err
	}
	logger.Info("run started",
		slog.Int("nodes", len(dag.Nodes)),
		slog.Int("levels", len(dag.Levels)))

	var outMu sync.Mutex
	for level := range dag.Levels {
		nodes := dag.LevelNodes(level)

		size := e.concurrency
		if size <= 0 {
			size = len(nodes)
		}
		pool := NewWorkerPool(size)

		for _, node := range nodes {
			inputs, mem := e.resolveNode(dag, node, result)

			submitErr := pool.Submit(ctx, func(ctx context.Context) error {
				started := time.Now()
				res, execErr := e.executeGuarded(ctx, node, inputs, mem, settings)

				out := schema.FlowOutput{
					NodeID:        node.ID,
					NodeName:      nodeName(node),
					NodeType:      node.Type,
					ModelID:       node.ModelID,
					Timestamp:     time.Now().UTC(),
					Input:         res.DebugPrompt,
					Output:        res.Output,
					ExecutionTime: time.Since(started).Milliseconds(),
					Config:        node.Config,
				}

				outputValue := res.Output
				memory := res.Memory
				if execErr != nil {
					out.NodeType = schema.NodeTypeError
					out.Output = "Error: " + execErr.Error()
					outputValue = "Error: " + execErr.Error()
					memory = memory.Normalize()
				}

				// The output log and shared maps are written once per node,
				// immediately after it settles; append order is completion
				// order within the level.
				outMu.Lock()
				result.Outputs = append(result.Outputs, out)
				result.Context[node.ID] = outputValue
				result.Memories[node.ID] = memory
				outMu.Unlock()
				return execErr
			})
			if submitErr != nil {
				// Pool submission only fails on cancellation or shutdown;
				// record the node as errored so the one-record guarantee holds.
				outMu.Lock()
				result.Outputs = append(result.Outputs, schema.FlowOutput{
					NodeID:    node.ID,
					NodeName:  nodeName(node),
					NodeType:  schema.NodeTypeError,
					ModelID:   node.ModelID,
					Timestamp: time.Now().UTC(),
					Output:    "Error: " + submitErr.Error(),
					Config:    node.Config,
				})
				result.Context[node.ID] = "Error: " + submitErr.Error()
				result.Memories[node.ID] = schema.DefaultMemory()
				outMu.Unlock()
			}
		}

		// Fan-in barrier: the next level may read any output of this one.
		pool.Wait()
		pool.Shutdown()
	}

	if err := fsm.Transition(schema.RunStatusCompleted); err != nil {
		return nil, err
	}
	result.Status = fsm.State()
	return result, nil
}

// executeGuarded runs a node and converts a panic into a regular node
// error, so the output log still gets exactly one record per node.
func (e *Engine) executeGuarded(ctx context.Context, node *schema.FlowNode, inputs []Upstream, mem schema.NarrativeMemory, settings schema.RunSettings) (res NodeResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = schema.NewErrorf(schema.ErrCodeNodeFailed, "node panicked: %v", r).WithNode(node.ID)
		}
	}()
	return e.executor.Execute(ctx, node, inputs, mem, settings)
}

// resolveNode gathers a node's upstream outputs in inputNodeIds order and
// merges all direct-predecessor memories. Reads happen before the level's
// tasks launch, so no lock is needed.
func (e *Engine) resolveNode(dag *DAG, node *schema.FlowNode, result *RunResult) ([]Upstream, schema.NarrativeMemory) {
	inputs := make([]Upstream, 0, len(node.InputNodeIDs))
	upstreamMems := make([]schema.NarrativeMemory, 0, len(node.InputNodeIDs))
	for _, dep := range dag.Edges[node.ID] {
		up := Upstream{NodeID: dep, Output: result.Context[dep]}
		if parent, ok := dag.Nodes[dep]; ok {
			up.NodeKind = parent.NodeKind
		}
		inputs = append(inputs, up)
		if mem, ok := result.Memories[dep]; ok {
			upstreamMems = append(upstreamMems, mem)
		}
	}
	return inputs, narrative.Merge(upstreamMems...)
}

// syntheticErrorOutput is the single record a run produces when the graph
// itself cannot be resolved.
func syntheticErrorOutput(err error) schema.FlowOutput {
	return schema.FlowOutput{
		NodeID:    "error",
		NodeName:  "Flow Engine",
		NodeType:  schema.NodeTypeError,
		Timestamp: time.Now().UTC(),
		Output:    "Error: " + err.Error(),
	}
}
