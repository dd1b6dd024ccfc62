package agent

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/model"
	"github.com/deskmate-ai/deskmate/tool"
)

// scriptedLLM returns canned responses in order.
type scriptedLLM struct {
	responses []*model.Response
	errs      []error
	calls     [][]model.Message
}

func (s *scriptedLLM) Generate(_ context.Context, messages []model.Message, _ []model.ToolDefinition) (*model.Response, error) {
	i := len(s.calls)
	s.calls = append(s.calls, append([]model.Message(nil), messages...))
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.responses) {
		return nil, fmt.Errorf("unexpected generation call %d", i)
	}
	return s.responses[i], nil
}

func (s *scriptedLLM) ModelName() string { return "scripted" }
func (s *scriptedLLM) Close() error      { return nil }

type fakeTool struct {
	name   string
	result any
	err    error
	panics bool
	args   map[string]any
}

func (f *fakeTool) Name() string           { return f.name }
func (f *fakeTool) Description() string    { return "fake tool" }
func (f *fakeTool) Schema() map[string]any { return map[string]any{"type": "object"} }

func (f *fakeTool) Call(_ context.Context, args map[string]any) (any, error) {
	f.args = args
	if f.panics {
		panic("boom")
	}
	return f.result, f.err
}

// recordingObserver captures the observer callback sequence.
type recordingObserver struct {
	nodes     []string
	finalized int
	panics    bool
}

func (r *recordingObserver) RecordNode(name string, _, _ any) {
	if r.panics {
		panic("observer down")
	}
	r.nodes = append(r.nodes, name)
}

func (r *recordingObserver) Finalize(_ any) {
	if r.panics {
		panic("observer down")
	}
	r.finalized++
}

func newOrchestrator(t *testing.T, llm model.LLM, tools ...tool.Tool) *Orchestrator {
	t.Helper()
	registry := tool.NewRegistry()
	for _, tl := range tools {
		require.NoError(t, registry.Register(tl))
	}
	o, err := NewOrchestrator(llm, registry, nil, OrchestratorConfig{})
	require.NoError(t, err)
	return o
}

func seed(content string) []model.Message {
	return []model.Message{{Role: model.RoleUser, Content: content}}
}

func TestRunDirectAnswer(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{{Content: "hello there"}}}
	o := newOrchestrator(t, llm)
	obs := &recordingObserver{}

	state, err := o.Run(context.Background(), seed("hi"), obs)
	require.NoError(t, err)

	assert.Equal(t, "hello there", state.FinalAnswer)
	assert.Len(t, state.Messages, 2)
	assert.Empty(t, state.PendingToolCalls)
	assert.Empty(t, state.ToolInvocations)
	assert.Equal(t, []string{StepGenerate}, obs.nodes)
	assert.Equal(t, 1, obs.finalized)
}

func TestRunToolLoop(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "lookup", Arguments: `{"q":"pay"}`}}},
		{Content: "answer built from the tool result"},
	}}
	lookup := &fakeTool{name: "lookup", result: "found the payroll page"}
	o := newOrchestrator(t, llm, lookup)
	obs := &recordingObserver{}

	state, err := o.Run(context.Background(), seed("what is the payroll date"), obs)
	require.NoError(t, err)

	assert.Equal(t, "answer built from the tool result", state.FinalAnswer)
	assert.Equal(t, map[string]any{"q": "pay"}, lookup.args)

	// user, assistant(tool call), tool result, assistant(final)
	require.Len(t, state.Messages, 4)
	assert.Equal(t, model.RoleTool, state.Messages[2].Role)
	assert.Equal(t, "c1", state.Messages[2].ToolCallID)
	assert.Equal(t, "found the payroll page", state.Messages[2].Content)

	require.Len(t, state.ToolInvocations, 1)
	assert.Equal(t, "found the payroll page", state.ToolInvocations[0].Result)
	assert.Empty(t, state.ToolInvocations[0].Error)
	assert.Empty(t, state.PendingToolCalls)

	assert.Equal(t, []string{StepGenerate, StepDispatchTools, StepGenerate}, obs.nodes)
	assert.Equal(t, 1, obs.finalized)

	// the second generation saw the tool result
	require.Len(t, llm.calls, 2)
	assert.Equal(t, model.RoleTool, llm.calls[1][2].Role)
}

func TestRunUnknownTool(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{{ID: "c1", Name: "unknown_tool", Arguments: "{}"}}},
		{Content: "sorry, I could not do that"},
	}}
	o := newOrchestrator(t, llm)

	state, err := o.Run(context.Background(), seed("do the thing"), nil)
	require.NoError(t, err)

	require.Len(t, state.ToolInvocations, 1)
	inv := state.ToolInvocations[0]
	assert.Contains(t, inv.Error, "is not registered")
	assert.Empty(t, inv.Result)
	assert.Contains(t, state.Messages[2].Content, "is not registered")
}

func TestRunMalformedArguments(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "lookup", Arguments: `{"broken`},
			{ID: "c2", Name: "lookup", Arguments: `{"q":"ok"}`},
		}},
		{Content: "done"},
	}}
	lookup := &fakeTool{name: "lookup", result: "second call ran"}
	o := newOrchestrator(t, llm, lookup)

	state, err := o.Run(context.Background(), seed("go"), nil)
	require.NoError(t, err)

	// the malformed call does not abort the batch
	require.Len(t, state.ToolInvocations, 2)
	assert.Contains(t, state.ToolInvocations[0].Error, "malformed arguments")
	assert.Contains(t, state.ToolInvocations[0].Error, `{"broken`)
	assert.Equal(t, `{"broken`, state.ToolInvocations[0].Arguments)
	assert.Equal(t, "second call ran", state.ToolInvocations[1].Result)
}

func TestRunToolErrorAndPanicAreLocal(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{
		{ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "failing", Arguments: "{}"},
			{ID: "c2", Name: "panicking", Arguments: "{}"},
		}},
		{Content: "survived"},
	}}
	failing := &fakeTool{name: "failing", err: errors.New("downstream 500")}
	panicking := &fakeTool{name: "panicking", panics: true}
	o := newOrchestrator(t, llm, failing, panicking)

	state, err := o.Run(context.Background(), seed("go"), nil)
	require.NoError(t, err)

	assert.Equal(t, "survived", state.FinalAnswer)
	require.Len(t, state.ToolInvocations, 2)
	assert.Contains(t, state.ToolInvocations[0].Error, "downstream 500")
	assert.Contains(t, state.ToolInvocations[1].Error, "panicked")
}

func TestRunModelFailureIsFatal(t *testing.T) {
	llm := &scriptedLLM{errs: []error{fmt.Errorf("%w: connection refused", model.ErrUnavailable)}}
	o := newOrchestrator(t, llm)
	obs := &recordingObserver{}

	state, err := o.Run(context.Background(), seed("hi"), obs)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnavailable))
	assert.NotNil(t, state)
	assert.Equal(t, 1, obs.finalized, "finalize must run on failure too")
}

func TestRunEmptySeedRejected(t *testing.T) {
	o := newOrchestrator(t, &scriptedLLM{})
	_, err := o.Run(context.Background(), nil, nil)
	require.Error(t, err)
}

func TestRunPanickingObserverIsIsolated(t *testing.T) {
	llm := &scriptedLLM{responses: []*model.Response{{Content: "fine"}}}
	o := newOrchestrator(t, llm)

	state, err := o.Run(context.Background(), seed("hi"), &recordingObserver{panics: true})
	require.NoError(t, err)
	assert.Equal(t, "fine", state.FinalAnswer)
}

func TestRunNonConvergence(t *testing.T) {
	// every response asks for another tool call
	responses := make([]*model.Response, 8)
	for i := range responses {
		responses[i] = &model.Response{ToolCalls: []model.ToolCall{{ID: "c", Name: "loop", Arguments: "{}"}}}
	}
	llm := &scriptedLLM{responses: responses}
	loop := &fakeTool{name: "loop", result: "again"}
	o := newOrchestrator(t, llm, loop)

	_, err := o.Run(context.Background(), seed("go"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "did not converge")
}
