package kbtool

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/retrieval"
	"github.com/deskmate-ai/deskmate/vector"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 2 }
func (stubEmbedder) Close() error   { return nil }

type stubStore struct {
	docs []vector.Result
}

func (s *stubStore) Upsert(_ context.Context, _, _ string, _ []float32, _ map[string]any) error {
	return nil
}

func (s *stubStore) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return s.SearchWithFilter(ctx, collection, vec, topK, nil)
}

func (s *stubStore) SearchWithFilter(_ context.Context, _ string, _ []float32, topK int, _ *vector.Filter) ([]vector.Result, error) {
	if topK > len(s.docs) {
		topK = len(s.docs)
	}
	return s.docs[:topK], nil
}

func (s *stubStore) Count(_ context.Context, _ string) (uint64, error) {
	return uint64(len(s.docs)), nil
}

func (s *stubStore) Delete(_ context.Context, _, _ string) error       { return nil }
func (s *stubStore) DeleteCollection(_ context.Context, _ string) error { return nil }
func (s *stubStore) Name() string                                       { return "stub" }
func (s *stubStore) Close() error                                       { return nil }

func newTestEngine(t *testing.T, docs []vector.Result) *retrieval.Engine {
	t.Helper()
	engine, err := retrieval.NewEngine(stubEmbedder{}, &stubStore{docs: docs}, retrieval.NopReranker{}, retrieval.Config{})
	require.NoError(t, err)
	return engine
}

func TestLookupFormatsPassages(t *testing.T) {
	engine := newTestEngine(t, []vector.Result{
		{ID: "a", Content: "Expense claims are reimbursed within five working days.", Score: 0.91},
		{ID: "b", Content: "Submit claims through the finance portal.", Score: 0.64},
	})

	kb, err := New(engine)
	require.NoError(t, err)
	assert.Equal(t, "kb_lookup", kb.Name())

	out, err := kb.Call(context.Background(), map[string]any{"query": "how are expenses reimbursed"})
	require.NoError(t, err)

	text, ok := out.(string)
	require.True(t, ok)
	assert.Contains(t, text, "[Source 1] score=0.910")
	assert.Contains(t, text, "Expense claims are reimbursed")
	assert.Contains(t, text, "[Source 2]")
}

func TestLookupEmptyQuery(t *testing.T) {
	kb, err := New(newTestEngine(t, nil))
	require.NoError(t, err)

	out, err := kb.Call(context.Background(), map[string]any{"query": "   "})
	require.NoError(t, err)
	assert.Contains(t, out.(string), "provide a question")
}

func TestLookupNoResults(t *testing.T) {
	kb, err := New(newTestEngine(t, nil))
	require.NoError(t, err)

	out, err := kb.Call(context.Background(), map[string]any{"query": "anything"})
	require.NoError(t, err)
	assert.Equal(t, "No relevant documents were found in the knowledge base.", out)
}

func TestFormatPassagesOrdering(t *testing.T) {
	text := FormatPassages([]retrieval.ScoredNode{
		{Content: "first", Score: 0.9},
		{Content: "second", Score: 0.5},
	})
	first := strings.Index(text, "first")
	second := strings.Index(text, "second")
	assert.Less(t, first, second)
}
