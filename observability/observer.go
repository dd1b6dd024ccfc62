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

package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// maxSnapshotLen caps the serialized state attached to a span so large
// conversations do not blow up exporter payloads.
const maxSnapshotLen = 4096

// TurnObserver records orchestration steps of one conversation turn as
// child spans under a root turn span. All methods are best-effort: any
// internal failure is logged and swallowed, and Finalize only acts
// once no matter how often it is called.
type TurnObserver struct {
	ctx  context.Context
	root trace.Span

	tracer   *Tracer
	finalize sync.Once
}

// NewTurnObserver opens the root span for a turn. A nil tracer yields
// a working observer that records nothing.
func NewTurnObserver(ctx context.Context, tracer *Tracer, sessionID, turnID string) *TurnObserver {
	spanCtx, root := tracer.StartTurn(ctx, sessionID, turnID)
	return &TurnObserver{ctx: spanCtx, root: root, tracer: tracer}
}

// RecordNode emits one child span for a completed orchestration step,
// carrying truncated before/after state snapshots.
func (o *TurnObserver) RecordNode(name string, before, after any) {
	defer o.guard("record node")

	_, span := o.tracer.Start(o.ctx, "agent.step",
		trace.WithAttributes(
			attribute.String("step.name", name),
			attribute.String("step.state_before", snapshot(before)),
			attribute.String("step.state_after", snapshot(after)),
		),
	)
	span.End()
}

// Finalize attaches the final state and closes the root span. Later
// calls are no-ops.
func (o *TurnObserver) Finalize(final any) {
	defer o.guard("finalize")

	o.finalize.Do(func() {
		o.root.SetAttributes(attribute.String("turn.final_state", snapshot(final)))
		o.root.End()
	})
}

func (o *TurnObserver) guard(op string) {
	if r := recover(); r != nil {
		slog.Warn("trace observer failure ignored", "op", op, "panic", fmt.Sprint(r))
	}
}

// snapshot renders a state value as truncated JSON.
func snapshot(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return truncate(fmt.Sprintf("%+v", v))
	}
	return truncate(string(data))
}

func truncate(s string) string {
	if len(s) <= maxSnapshotLen {
		return s
	}
	return s[:maxSnapshotLen] + "...(truncated)"
}
