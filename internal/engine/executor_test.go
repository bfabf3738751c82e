package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rmead777/agentflow/internal/adapters"
	"github.com/rmead777/agentflow/internal/expressions"
	"github.com/rmead777/agentflow/internal/narrative"
	"github.com/rmead777/agentflow/internal/trace"
	"github.com/rmead777/agentflow/pkg/schema"
)

// stubCaller replays canned responses and records requests.
type stubCaller struct {
	mu       sync.Mutex
	requests []adapters.Request
	response map[string]any
	errs     []error // consumed one per call; nil entries mean success
	calls    int
}

func (c *stubCaller) Call(_ context.Context, _ adapters.ModelAdapter, req adapters.Request) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	idx := c.calls
	c.calls++
	if idx < len(c.errs) && c.errs[idx] != nil {
		return nil, c.errs[idx]
	}
	return c.response, nil
}

func (c *stubCaller) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func openaiResponse(text string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": text}},
		},
	}
}

func newTestExecutor(t *testing.T, caller ModelCaller, sink trace.Sink) *Executor {
	t.Helper()
	exprs, err := expressions.NewRegistry()
	require.NoError(t, err)
	return NewExecutor(adapters.Default(), caller, exprs, sink, nil)
}

// --- flattening ---

func TestFlattenInput(t *testing.T) {
	assert.Equal(t, "", FlattenInput(nil))
	assert.Equal(t, "hello", FlattenInput("hello"))
	assert.Equal(t, "inner", FlattenInput(map[string]any{"output": "inner", "other": 1}))
	assert.Equal(t, "a\nb", FlattenInput([]any{"a", "b"}))
	assert.Equal(t, "a\nb", FlattenInput([]string{"a", "b"}))

	// Objects without a string output field are JSON-stringified.
	assert.Equal(t, `{"count":3}`, FlattenInput(map[string]any{"count": 3}))
	assert.Equal(t, "42", FlattenInput(42))
}

func TestFlattenInput_NestedArrays(t *testing.T) {
	v := []any{
		map[string]any{"output": "one"},
		[]any{"two", "three"},
	}
	assert.Equal(t, "one\ntwo\nthree", FlattenInput(v))
}

// --- plain mode ---

func TestExecute_InputNodePassesPromptThrough(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	node := &schema.FlowNode{ID: "start", Type: schema.NodeTypeInput, Prompt: "Write a haiku"}
	res, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "Write a haiku", res.Output)
}

func TestExecute_OutputNodeForwardsInputs(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	node := &schema.FlowNode{ID: "end", Type: schema.NodeTypeOutput, InputNodeIDs: []string{"a", "b"}}
	inputs := []Upstream{
		{NodeID: "a", Output: "first"},
		{NodeID: "b", Output: "second"},
	}
	res, err := exec.Execute(context.Background(), node, inputs, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond", res.Output)
}

func TestExecute_MockModelShortCircuits(t *testing.T) {
	caller := &stubCaller{}
	exec := newTestExecutor(t, caller, nil)

	node := &schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID}
	inputs := []Upstream{{NodeID: "up", Output: "some text"}}
	res, err := exec.Execute(context.Background(), node, inputs, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "[Mock response for node gen: some text]", res.Output)
	assert.Equal(t, 0, caller.callCount(), "mock model must not reach the caller")
}

func TestExecute_ModelNodeUsesPromptWhenNoInputs(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	node := &schema.FlowNode{
		ID:      "gen",
		Type:    schema.NodeTypeModel,
		ModelID: adapters.MockModelID,
		Prompt:  "standalone prompt",
	}
	res, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "[Mock response for node gen: standalone prompt]", res.Output)
}

func TestExecute_ModelNodeCallsProvider(t *testing.T) {
	caller := &stubCaller{response: openaiResponse("generated text")}
	exec := newTestExecutor(t, caller, nil)

	node := &schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: "gpt-4o"}
	inputs := []Upstream{{NodeID: "up", Output: "context"}}
	res, err := exec.Execute(context.Background(), node, inputs, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "generated text", res.Output)
	assert.Equal(t, 1, caller.callCount())
}

func TestExecute_UnknownModelID(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	node := &schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: "model-from-the-future"}
	_, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeNotFound, flowErr.Code)
	assert.Equal(t, "gen", flowErr.NodeID)
}

func TestExecute_ProviderFailure(t *testing.T) {
	caller := &stubCaller{errs: []error{errors.New("upstream rejected request")}}
	exec := newTestExecutor(t, caller, nil)

	node := &schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: "gpt-4o"}
	_, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeProvider, flowErr.Code)
}

func TestExecute_RetryOnTransientError(t *testing.T) {
	caller := &stubCaller{
		response: openaiResponse("ok after retry"),
		errs:     []error{errors.New("503 service unavailable"), nil},
	}
	exec := newTestExecutor(t, caller, nil)

	node := &schema.FlowNode{
		ID:      "gen",
		Type:    schema.NodeTypeModel,
		ModelID: "gpt-4o",
		Config:  schema.NodeConfig{RetryOnError: true},
	}
	res, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "ok after retry", res.Output)
	assert.Equal(t, 2, caller.callCount())
}

func TestExecute_NoRetryWithoutOptIn(t *testing.T) {
	caller := &stubCaller{errs: []error{errors.New("503 service unavailable")}}
	exec := newTestExecutor(t, caller, nil)

	node := &schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: "gpt-4o"}
	_, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.Error(t, err)
	assert.Equal(t, 1, caller.callCount())
}

func TestIsRetryableCallError(t *testing.T) {
	assert.False(t, isRetryableCallError(nil))
	assert.False(t, isRetryableCallError(context.Canceled))
	assert.True(t, isRetryableCallError(context.DeadlineExceeded))
	assert.True(t, isRetryableCallError(errors.New("dial tcp: connection refused")))
	assert.True(t, isRetryableCallError(errors.New("502 bad gateway")))
	assert.False(t, isRetryableCallError(errors.New("invalid api key")))
}

// --- action nodes ---

func actionNodeWith(expression, lang string) *schema.FlowNode {
	extra := map[string]any{"expression": expression}
	if lang != "" {
		extra["lang"] = lang
	}
	return &schema.FlowNode{
		ID:     "act",
		Type:   schema.NodeTypeAction,
		Config: schema.NodeConfig{Extra: extra},
	}
}

func TestExecute_ActionExpr(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	inputs := []Upstream{{NodeID: "up", Output: "hello"}}
	res, err := exec.Execute(context.Background(), actionNodeWith(`upper(input)`, ""), inputs, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "HELLO", res.Output)
}

func TestExecute_ActionJQ(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	inputs := []Upstream{
		{NodeID: "a", Output: "one"},
		{NodeID: "b", Output: "two"},
	}
	res, err := exec.Execute(context.Background(), actionNodeWith(`.inputs.b`, "jq"), inputs, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)
	assert.Equal(t, "two", res.Output)
}

func TestExecute_ActionMissingExpression(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	node := &schema.FlowNode{ID: "act", Type: schema.NodeTypeAction}
	_, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeConfig, flowErr.Code)
}

func TestExecute_ActionUnknownLang(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	_, err := exec.Execute(context.Background(), actionNodeWith("input", "brainfuck"), nil, schema.DefaultMemory(), schema.RunSettings{})
	require.Error(t, err)

	var flowErr *schema.FlowError
	require.ErrorAs(t, err, &flowErr)
	assert.Equal(t, schema.ErrCodeConfig, flowErr.Code)
}

// --- token budgets ---

func TestEffectiveMaxTokens(t *testing.T) {
	settings := schema.RunSettings{}

	assert.Equal(t, 2048, effectiveMaxTokens(schema.NodeKindChapter, "claude-3-7-sonnet-20250219", settings))
	assert.Equal(t, 1024, effectiveMaxTokens(schema.NodeKindSummary, "gpt-4o", settings))
	assert.Equal(t, 2048, effectiveMaxTokens("unheard-of-kind", "gpt-4o", settings))

	// Override above the model ceiling clamps to the ceiling.
	settings.MaxTokens = map[string]int{schema.NodeKindChapter: 999999}
	assert.Equal(t, 16384, effectiveMaxTokens(schema.NodeKindChapter, "claude-3-7-sonnet-20250219", settings))

	// Unlisted models get the conservative ceiling.
	assert.Equal(t, 16000, effectiveMaxTokens(schema.NodeKindChapter, "mystery-model", settings))

	// Override below the ceiling wins.
	settings.MaxTokens = map[string]int{schema.NodeKindChapter: 512}
	assert.Equal(t, 512, effectiveMaxTokens(schema.NodeKindChapter, "gpt-4o", settings))
}

func TestExecute_NarrativeBudgetAppliedToRequest(t *testing.T) {
	caller := &stubCaller{response: openaiResponse("chapter text")}
	exec := newTestExecutor(t, caller, nil)

	node := &schema.FlowNode{
		ID:       "ch1",
		Type:     schema.NodeTypeModel,
		ModelID:  "gpt-4o",
		NodeKind: schema.NodeKindChapter,
		Config:   schema.NodeConfig{Label: "Chapter 1"},
	}
	_, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{FlowMode: schema.FlowModeNovel})
	require.NoError(t, err)

	require.Len(t, caller.requests, 1)
	assert.EqualValues(t, 2048, caller.requests[0]["max_tokens"])
}

// --- novel mode shaping ---

func novelSettings() schema.RunSettings {
	return schema.RunSettings{FlowMode: schema.FlowModeNovel}
}

func TestExecute_NovelMockIncludesShapedPrompt(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	node := &schema.FlowNode{
		ID:       "ch1",
		Type:     schema.NodeTypeModel,
		ModelID:  adapters.MockModelID,
		NodeKind: schema.NodeKindChapter,
		Config:   schema.NodeConfig{Label: "Chapter 2"},
	}
	outline := []narrative.OutlineEntry{
		{Chapter: 1, Title: "Beginnings", Summary: "It starts."},
		{Chapter: 2, Title: "The Turn", Summary: "It turns."},
	}
	encoded, _ := json.Marshal(outline)
	inputs := []Upstream{{NodeID: "out", NodeKind: schema.NodeKindOutline, Output: string(encoded)}}

	res, err := exec.Execute(context.Background(), node, inputs, schema.DefaultMemory(), novelSettings())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Output, "[Mock response for node ch1: "))
	assert.Contains(t, res.Output, "The Turn")
	assert.Contains(t, res.Output, "It turns.")
	assert.NotContains(t, res.Output, "Beginnings")
}

func TestExecute_SummaryUnwrapsNestedOutput(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{}, nil)

	node := &schema.FlowNode{
		ID:       "sum",
		Type:     schema.NodeTypeModel,
		ModelID:  adapters.MockModelID,
		NodeKind: schema.NodeKindSummary,
	}
	inputs := []Upstream{{
		NodeID: "ch",
		Output: map[string]any{"output": map[string]any{"output": "the chapter body"}},
	}}
	res, err := exec.Execute(context.Background(), node, inputs, schema.DefaultMemory(), novelSettings())
	require.NoError(t, err)
	assert.Contains(t, res.Output, "the chapter body")
}

func TestExecute_RetroinjectExtractsMemory(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{response: openaiResponse(`{
		"characterArcs": {"Elena": "hardened"},
		"emotionalTone": "grim",
		"openThreads": ["the debt"],
		"worldState": "city under siege"
	}`)}, nil)

	node := &schema.FlowNode{
		ID:       "mem",
		Type:     schema.NodeTypeModel,
		ModelID:  "gpt-4o",
		NodeKind: schema.NodeKindRetroinject,
	}
	res, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), novelSettings())
	require.NoError(t, err)
	assert.Equal(t, "hardened", res.Memory.CharacterArcs["Elena"])
	assert.Equal(t, "grim", res.Memory.EmotionalTone)
	assert.Equal(t, []string{"the debt"}, res.Memory.OpenThreads)
	assert.Equal(t, "city under siege", res.Memory.WorldState)
}

func TestExecute_OutlineNormalizedToJSON(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{response: openaiResponse("```json\n[{\"chapter\":1,\"title\":\"One\",\"summary\":\"First.\"}]\n```")}, nil)

	node := &schema.FlowNode{
		ID:       "out",
		Type:     schema.NodeTypeModel,
		ModelID:  "gpt-4o",
		NodeKind: schema.NodeKindOutline,
		Prompt:   "Outline a heist novel",
	}
	res, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), novelSettings())
	require.NoError(t, err)

	var entries []narrative.OutlineEntry
	require.NoError(t, json.Unmarshal([]byte(res.Output), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "One", entries[0].Title)
}

func TestExecute_OutlineFallbackOnGarbage(t *testing.T) {
	exec := newTestExecutor(t, &stubCaller{response: openaiResponse("I refuse to produce JSON today.")}, nil)

	node := &schema.FlowNode{
		ID:       "out",
		Type:     schema.NodeTypeModel,
		ModelID:  "gpt-4o",
		NodeKind: schema.NodeKindOutline,
		Prompt:   "Outline something",
	}
	res, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), novelSettings())
	require.NoError(t, err)

	var entries []narrative.OutlineEntry
	require.NoError(t, json.Unmarshal([]byte(res.Output), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Chapter)
	assert.Contains(t, entries[0].Title, "Outline parsing failed")
}

// --- tracing ---

func TestExecute_AppendsOneTraceRecord(t *testing.T) {
	log := trace.NewLog()
	exec := newTestExecutor(t, &stubCaller{}, log)

	node := &schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: adapters.MockModelID}
	_, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.NoError(t, err)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, "gen", records[0].NodeID)
	assert.Equal(t, string(schema.NodeTypeModel), records[0].NodeType)
}

func TestExecute_TraceRecordOnFailure(t *testing.T) {
	log := trace.NewLog()
	exec := newTestExecutor(t, &stubCaller{}, log)

	node := &schema.FlowNode{ID: "gen", Type: schema.NodeTypeModel, ModelID: "no-such-model"}
	_, err := exec.Execute(context.Background(), node, nil, schema.DefaultMemory(), schema.RunSettings{})
	require.Error(t, err)

	records := log.Records()
	require.Len(t, records, 1)
	assert.Equal(t, string(schema.NodeTypeError), records[0].NodeType)
	assert.Contains(t, records[0].Output, "no-such-model")
}
