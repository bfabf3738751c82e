package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/internal/expressions"
	"github.com/rmead777/agentflow/internal/trace"
	"github.com/rmead777/agentflow/internal/validation"
	"github.com/rmead777/agentflow/pkg/schema"
)

func newTestEngine(t *testing.T, caller ModelCaller, sink trace.Sink) *Engine {
	t.Helper()
	exprs, err := expressions.NewRegistry()
	require.NoError(t, err)
	validator, err := validation.New(adapters.Default())
	require.NoError(t, err)
	executor := NewExecutor(adapters.Default(), caller, exprs, sink, nil)
	return New(executor, validator, Options{Trace: sink})
}

func outputByNode(outputs []schema.FlowOutput, nodeID string) *schema.FlowOutput {
	for i := range outputs {
		if outputs[i].NodeID == nodeID {
			return &outputs[i]
		}
	}
	return nil
}

func TestRun_ThreeNodeChain(t *testing.T) {
	engine := newTestEngine(t, &stubCaller{}, nil)

	graph := graphOf(
		schema.FlowNode{ID: "Input", Type: schema.NodeTypeInput, Prompt: "Write a haiku about rivers"},
		schema.FlowNode{ID: "Process", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID, InputNodeIDs: []string{"Input"}},
		schema.FlowNode{ID: "Generate", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID, InputNodeIDs: []string{"Process"}},
	)

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Outputs, 3)

	// Each downstream node saw its predecessor's full output: the mock
	// echo nests, proving Process settled before Generate started.
	processOut := outputByNode(result.Outputs, "Process")
	require.NotNil(t, processOut)
	assert.Equal(t, "[Mock response for node Process: Write a haiku about rivers]", processOut.Output)

	generateOut := outputByNode(result.Outputs, "Generate")
	require.NotNil(t, generateOut)
	assert.Equal(t, "[Mock response for node Generate: [Mock response for node Process: Write a haiku about rivers]]", generateOut.Output)

	// The shared context holds every node's final output.
	assert.Equal(t, processOut.Output, result.Context["Process"])
	assert.Equal(t, generateOut.Output, result.Context["Generate"])
	assert.NotEmpty(t, result.RunID)
}

func TestRun_EdgesDeriveInputs(t *testing.T) {
	engine := newTestEngine(t, &stubCaller{}, nil)

	graph := &schema.FlowGraph{
		Nodes: []schema.FlowNode{
			{ID: "src", Type: schema.NodeTypeInput, Prompt: "seed"},
			{ID: "dst", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID},
		},
		Edges: []schema.Edge{{Source: "src", Target: "dst"}},
	}

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.NoError(t, err)
	dst := outputByNode(result.Outputs, "dst")
	require.NotNil(t, dst)
	assert.Equal(t, "[Mock response for node dst: seed]", dst.Output)
}

func TestRun_ParallelLevelCompletes(t *testing.T) {
	engine := newTestEngine(t, &stubCaller{}, nil)

	graph := graphOf(
		schema.FlowNode{ID: "root", Type: schema.NodeTypeInput, Prompt: "go"},
		modelNode("a", "root"),
		modelNode("b", "root"),
		modelNode("c", "root"),
		modelNode("sink", "a", "b", "c"),
	)

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 5)

	// The sink saw all three parallel outputs joined.
	sink := outputByNode(result.Outputs, "sink")
	require.NotNil(t, sink)
	out, ok := sink.Output.(string)
	require.True(t, ok)
	for _, id := range []string{"a", "b", "c"} {
		assert.Contains(t, out, "[Mock response for node "+id+": go]")
	}
}

func TestRun_NodeFailureIsContained(t *testing.T) {
	// The provider call fails; downstream nodes still run with the
	// error-prefixed output as their input.
	caller := &stubCaller{errs: []error{errors.New("provider down"), nil, nil}}
	engine := newTestEngine(t, caller, nil)

	graph := graphOf(
		schema.FlowNode{ID: "start", Type: schema.NodeTypeInput, Prompt: "hello"},
		schema.FlowNode{ID: "broken", Type: schema.NodeTypeModel, ModelID: "gpt-4o", InputNodeIDs: []string{"start"}},
		schema.FlowNode{ID: "after", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID, InputNodeIDs: []string{"broken"}},
	)

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.NoError(t, err, "node failures must not fail the run")
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Outputs, 3)

	broken := outputByNode(result.Outputs, "broken")
	require.NotNil(t, broken)
	assert.Equal(t, schema.NodeTypeError, broken.NodeType)
	out, ok := broken.Output.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "Error: "), "error outputs carry the Error: prefix, got %q", out)

	after := outputByNode(result.Outputs, "after")
	require.NotNil(t, after)
	afterOut, _ := after.Output.(string)
	assert.Contains(t, afterOut, "Error: ")
}

func TestRun_NodePanicIsContained(t *testing.T) {
	// A panicking provider call degrades to a node error record; the
	// run and its downstream nodes proceed.
	caller := callerFunc(func(ctx context.Context, _ adapters.ModelAdapter, _ adapters.Request) (map[string]any, error) {
		panic("exploded mid-call")
	})
	engine := newTestEngine(t, caller, nil)

	graph := graphOf(
		schema.FlowNode{ID: "start", Type: schema.NodeTypeInput, Prompt: "hello"},
		schema.FlowNode{ID: "volatile", Type: schema.NodeTypeModel, ModelID: "gpt-4o", InputNodeIDs: []string{"start"}},
		schema.FlowNode{ID: "after", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID, InputNodeIDs: []string{"volatile"}},
	)

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, schema.RunStatusCompleted, result.Status)
	require.Len(t, result.Outputs, 3, "every node settles exactly one record, panics included")

	volatile := outputByNode(result.Outputs, "volatile")
	require.NotNil(t, volatile)
	assert.Equal(t, schema.NodeTypeError, volatile.NodeType)
	out, ok := volatile.Output.(string)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(out, "Error: "), "got %q", out)
	assert.Contains(t, out, "exploded mid-call")
}

func TestRun_CycleProducesSyntheticRecord(t *testing.T) {
	engine := newTestEngine(t, &stubCaller{}, nil)

	graph := graphOf(
		modelNode("a", "b"),
		modelNode("b", "a"),
	)

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, result.Status)
	require.Len(t, result.Outputs, 1, "a resolution failure yields exactly one synthetic record")

	synthetic := result.Outputs[0]
	assert.Equal(t, "error", synthetic.NodeID)
	assert.Equal(t, "Flow Engine", synthetic.NodeName)
	assert.Equal(t, schema.NodeTypeError, synthetic.NodeType)
	out, _ := synthetic.Output.(string)
	assert.True(t, strings.HasPrefix(out, "Error: "))

	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeCycleDetected, flowErr.Code)
}

func TestRun_ValidationFailure(t *testing.T) {
	engine := newTestEngine(t, &stubCaller{}, nil)

	// Model node without a model_id fails validation before anything runs.
	graph := graphOf(schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel})

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.Error(t, err)
	assert.Equal(t, schema.RunStatusFailed, result.Status)
	assert.Empty(t, result.Outputs)

	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeValidation, flowErr.Code)
}

func TestRun_RejectsConcurrentRuns(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	caller := callerFunc(func(ctx context.Context, _ adapters.ModelAdapter, _ adapters.Request) (map[string]any, error) {
		close(started)
		<-block
		return openaiResponse("done"), nil
	})
	engine := newTestEngine(t, caller, nil)

	graph := graphOf(schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: "gpt-4o", Prompt: "x"})

	var wg sync.WaitGroup
	wg.Add(1)
	var firstErr error
	go func() {
		defer wg.Done()
		_, firstErr = engine.Run(context.Background(), graph, schema.RunSettings{})
	}()

	<-started
	assert.True(t, engine.Running())

	_, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.Error(t, err)
	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeExecution, flowErr.Code)

	close(block)
	wg.Wait()
	require.NoError(t, firstErr)
	assert.False(t, engine.Running())
}

// callerFunc adapts a function to the ModelCaller interface.
type callerFunc func(ctx context.Context, adapter adapters.ModelAdapter, req adapters.Request) (map[string]any, error)

func (f callerFunc) Call(ctx context.Context, adapter adapters.ModelAdapter, req adapters.Request) (map[string]any, error) {
	return f(ctx, adapter, req)
}

func TestRun_BoundedConcurrency(t *testing.T) {
	var current, maxSeen int64
	var mu sync.Mutex
	caller := callerFunc(func(ctx context.Context, _ adapters.ModelAdapter, _ adapters.Request) (map[string]any, error) {
		mu.Lock()
		current++
		if current > maxSeen {
			maxSeen = current
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		current--
		mu.Unlock()
		return openaiResponse("ok"), nil
	})

	exprs, err := expressions.NewRegistry()
	require.NoError(t, err)
	validator, err := validation.New(adapters.Default())
	require.NoError(t, err)
	executor := NewExecutor(adapters.Default(), caller, exprs, nil, nil)
	engine := New(executor, validator, Options{Concurrency: 2})

	graph := graphOf(
		schema.FlowNode{ID: "a", Type: schema.NodeTypeModel, ModelID: "gpt-4o", Prompt: "x"},
		schema.FlowNode{ID: "b", Type: schema.NodeTypeModel, ModelID: "gpt-4o", Prompt: "x"},
		schema.FlowNode{ID: "c", Type: schema.NodeTypeModel, ModelID: "gpt-4o", Prompt: "x"},
		schema.FlowNode{ID: "d", Type: schema.NodeTypeModel, ModelID: "gpt-4o", Prompt: "x"},
	)

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 4)

	mu.Lock()
	defer mu.Unlock()
	assert.LessOrEqual(t, maxSeen, int64(2))
	assert.Greater(t, maxSeen, int64(0))
}

func TestRun_NovelModeMemoryFlows(t *testing.T) {
	engine := newTestEngine(t, &stubCaller{}, nil)

	graph := graphOf(
		schema.FlowNode{
			ID:       "outline",
			Type:     schema.NodeTypeModel,
			ModelID:  adapters.MockModelID,
			NodeKind: schema.NodeKindOutline,
			Prompt:   "Outline a short story",
		},
		schema.FlowNode{
			ID:           "ch1",
			Type:         schema.NodeTypeModel,
			ModelID:      adapters.MockModelID,
			NodeKind:     schema.NodeKindChapter,
			InputNodeIDs: []string{"outline"},
			Config:       schema.NodeConfig{Label: "Chapter 1"},
		},
	)

	result, err := engine.Run(context.Background(), graph, schema.RunSettings{FlowMode: schema.FlowModeNovel})
	require.NoError(t, err)
	require.Len(t, result.Outputs, 2)

	// Every node deposits a default-filled memory.
	for _, id := range []string{"outline", "ch1"} {
		mem, ok := result.Memories[id]
		require.True(t, ok, "missing memory for %s", id)
		assert.NotNil(t, mem.CharacterArcs)
		assert.NotEmpty(t, mem.EmotionalTone)
	}
}

func TestRun_TraceCoversRun(t *testing.T) {
	log := trace.NewLog()
	engine := newTestEngine(t, &stubCaller{}, log)

	graph := graphOf(
		schema.FlowNode{ID: "in", Type: schema.NodeTypeInput, Prompt: "hi"},
		schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID, InputNodeIDs: []string{"in"}},
	)

	_, err := engine.Run(context.Background(), graph, schema.RunSettings{})
	require.NoError(t, err)

	records := log.Records()
	require.Len(t, records, 2)
	// Sequence numbers increase monotonically.
	assert.Less(t, records[0].Sequence, records[1].Sequence)
}
