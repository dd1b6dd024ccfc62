package observability

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNilTracerObserverIsSafe(t *testing.T) {
	obs := NewTurnObserver(context.Background(), nil, "session-1", "turn-1")

	obs.RecordNode("generate", map[string]any{"messages": 1}, map[string]any{"messages": 2})
	obs.Finalize(map[string]any{"messages": 2})
	obs.Finalize(nil) // second finalize must be a no-op
}

func TestSnapshotTruncates(t *testing.T) {
	long := strings.Repeat("x", maxSnapshotLen*2)
	out := snapshot(long)
	assert.LessOrEqual(t, len(out), maxSnapshotLen+len("...(truncated)"))
	assert.True(t, strings.HasSuffix(out, "...(truncated)"))
}

func TestSnapshotUnmarshalableValue(t *testing.T) {
	out := snapshot(map[string]any{"fn": func() {}})
	assert.NotEmpty(t, out)
}

func TestMetricsRecordersNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordTurn(0, nil)
	m.RecordToolCall("kb_lookup", nil)
	m.RecordRetrieval(assert.AnError)
}

func TestOutcomeLabel(t *testing.T) {
	assert.Equal(t, "ok", outcome(nil))
	assert.Equal(t, "error", outcome(assert.AnError))
}
