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

// Package agent implements the conversation turn orchestrator: a small
// state machine that alternates between model generation and tool
// dispatch until the model produces a final answer.
package agent

import "github.com/deskmate-ai/deskmate/model"

// Step names reported to the observer.
const (
	StepGenerate      = "generate"
	StepDispatchTools = "dispatch_tools"
)

// State carries everything accumulated during one conversation turn.
type State struct {
	// Messages is the full rendered message sequence, growing as the
	// turn progresses.
	Messages []model.Message `json:"messages"`

	// ToolCalls holds the normalized tool calls from the most recent
	// generation step.
	ToolCalls []model.ToolCall `json:"tool_calls,omitempty"`

	// PendingToolCalls are the calls awaiting dispatch. Cleared
	// unconditionally at the end of every dispatch step.
	PendingToolCalls []model.ToolCall `json:"pending_tool_calls,omitempty"`

	// ToolInvocations records every dispatched call with its outcome.
	ToolInvocations []Invocation `json:"tool_invocations,omitempty"`

	// FinalAnswer is the assistant text that ended the turn.
	FinalAnswer string `json:"final_answer,omitempty"`
}

// Invocation is the audit record of one dispatched tool call. Exactly
// one of Result and Error is meaningful.
type Invocation struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
	Result    string `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Observer receives best-effort notifications about orchestration
// steps. Implementations must tolerate being called from the hot path;
// the orchestrator isolates any panic they raise.
type Observer interface {
	// RecordNode reports the state immediately before and after one
	// completed step.
	RecordNode(name string, before, after any)

	// Finalize reports the terminal state. The orchestrator calls it
	// exactly once per run, success or failure.
	Finalize(final any)
}

// clone returns a value copy of the state. Slice headers are copied;
// steps only ever append, never mutate existing elements, so a clone
// taken before a step is a stable snapshot of the state at that point.
func (s *State) clone() State {
	return *s
}
