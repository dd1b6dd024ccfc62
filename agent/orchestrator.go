// Copyright 2026 Deskmate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskmate-ai/deskmate/model"
	"github.com/deskmate-ai/deskmate/observability"
	"github.com/deskmate-ai/deskmate/tool"
)

// OrchestratorConfig bounds a single turn.
type OrchestratorConfig struct {
	// MaxIterations caps the number of generate steps per turn.
	MaxIterations int `yaml:"max_iterations"`
}

// SetDefaults fills in zero-valued fields.
func (c *OrchestratorConfig) SetDefaults() {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 8
	}
}

// Orchestrator drives one conversation turn through the generate /
// dispatch loop. It is stateless across turns and safe for concurrent
// use.
type Orchestrator struct {
	llm      model.LLM
	registry *tool.Registry
	metrics  *observability.Metrics
	cfg      OrchestratorConfig
}

// NewOrchestrator wires the orchestrator. metrics may be nil.
func NewOrchestrator(llm model.LLM, registry *tool.Registry, metrics *observability.Metrics, cfg OrchestratorConfig) (*Orchestrator, error) {
	if llm == nil {
		return nil, fmt.Errorf("llm is required")
	}
	if registry == nil {
		return nil, fmt.Errorf("tool registry is required")
	}
	cfg.SetDefaults()
	return &Orchestrator{llm: llm, registry: registry, metrics: metrics, cfg: cfg}, nil
}

// Run executes one turn seeded with messages. The sequence must contain
// at least the new user message. The returned state carries the full
// message sequence, the tool invocation audit trail, and the final
// answer. observer may be nil; observer failures never affect the
// returned state or error.
//
// A model endpoint failure is fatal to the turn and wraps
// model.ErrUnavailable. Tool failures are local: each failed call
// produces an error tool-result message and the loop continues.
func (o *Orchestrator) Run(ctx context.Context, messages []model.Message, observer Observer) (*State, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("at least one seed message is required")
	}

	state := &State{Messages: append([]model.Message(nil), messages...)}
	defer func() {
		// Finalize is guaranteed even when the turn fails. TurnObserver
		// makes repeated finalization a no-op on its side too.
		o.observe(func(obs Observer) { obs.Finalize(state.clone()) }, observer)
	}()

	for i := 0; i < o.cfg.MaxIterations; i++ {
		done, err := o.generate(ctx, state, observer)
		if err != nil {
			return state, err
		}
		if done {
			return state, nil
		}

		o.dispatchTools(ctx, state, observer)
	}

	return state, fmt.Errorf("turn did not converge after %d generation steps", o.cfg.MaxIterations)
}

// generate invokes the model and applies its response to the state.
// Returns done=true when the response carries no tool calls.
func (o *Orchestrator) generate(ctx context.Context, state *State, observer Observer) (bool, error) {
	before := state.clone()

	resp, err := o.llm.Generate(ctx, state.Messages, o.registry.Definitions())
	if err != nil {
		return false, fmt.Errorf("model generation failed: %w", err)
	}

	state.Messages = append(state.Messages, model.Message{
		Role:      model.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
	})
	state.ToolCalls = resp.ToolCalls
	state.PendingToolCalls = resp.ToolCalls

	done := len(resp.ToolCalls) == 0
	if done {
		state.FinalAnswer = resp.Content
	}

	after := state.clone()
	o.observe(func(obs Observer) { obs.RecordNode(StepGenerate, before, after) }, observer)
	return done, nil
}

// dispatchTools resolves every pending call in order. Per-call failures
// are recorded and never abort the batch; pending calls are cleared
// unconditionally so the loop always returns to generation.
func (o *Orchestrator) dispatchTools(ctx context.Context, state *State, observer Observer) {
	before := state.clone()

	for _, call := range state.PendingToolCalls {
		inv := o.dispatchOne(ctx, call)
		state.ToolInvocations = append(state.ToolInvocations, inv)

		content := inv.Result
		if inv.Error != "" {
			content = inv.Error
		}
		state.Messages = append(state.Messages, model.Message{
			Role:       model.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
	state.PendingToolCalls = nil

	after := state.clone()
	o.observe(func(obs Observer) { obs.RecordNode(StepDispatchTools, before, after) }, observer)
}

// dispatchOne executes a single tool call and renders its outcome.
func (o *Orchestrator) dispatchOne(ctx context.Context, call model.ToolCall) Invocation {
	inv := Invocation{ID: call.ID, Name: call.Name, Arguments: call.Arguments}

	args, err := call.ParseArguments()
	if err != nil {
		inv.Error = fmt.Sprintf("tool %q received malformed arguments %q: %v", call.Name, call.Arguments, err)
		o.metrics.RecordToolCall(call.Name, err)
		return inv
	}

	t, ok := o.registry.Get(call.Name)
	if !ok {
		inv.Error = fmt.Sprintf("tool %q is not registered", call.Name)
		o.metrics.RecordToolCall(call.Name, fmt.Errorf("unknown tool %s", call.Name))
		return inv
	}

	start := time.Now()
	result, err := o.invoke(ctx, t, args)
	o.metrics.RecordToolCall(call.Name, err)
	if err != nil {
		inv.Error = fmt.Sprintf("tool %q failed: %v", call.Name, err)
		slog.Warn("tool call failed",
			"tool", call.Name,
			"duration", time.Since(start),
			"error", err)
		return inv
	}

	inv.Result = tool.RenderResult(result)
	return inv
}

// invoke shields the turn from a panicking tool implementation.
func (o *Orchestrator) invoke(ctx context.Context, t tool.Tool, args map[string]any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tool panicked: %v", r)
		}
	}()
	return t.Call(ctx, args)
}

// observe runs an observer callback inside an isolating boundary.
func (o *Orchestrator) observe(fn func(Observer), observer Observer) {
	if observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("observer failure ignored", "panic", fmt.Sprint(r))
		}
	}()
	fn(observer)
}
