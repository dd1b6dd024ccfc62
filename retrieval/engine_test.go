package retrieval

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/vector"
)

type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		vec, _ := f.Embed(ctx, texts[i])
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 3 }
func (f *fakeEmbedder) Close() error   { return nil }

type fakeStore struct {
	docs       []vector.Result
	lastFilter *vector.Filter
	lastTopK   int
}

func (f *fakeStore) Upsert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error {
	content, _ := metadata["content"].(string)
	f.docs = append(f.docs, vector.Result{ID: id, Content: content, Score: 1, Metadata: metadata})
	return nil
}

func (f *fakeStore) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return f.SearchWithFilter(ctx, collection, vec, topK, nil)
}

func (f *fakeStore) SearchWithFilter(ctx context.Context, collection string, vec []float32, topK int, filter *vector.Filter) ([]vector.Result, error) {
	f.lastFilter = filter
	f.lastTopK = topK
	if topK > len(f.docs) {
		topK = len(f.docs)
	}
	return f.docs[:topK], nil
}

func (f *fakeStore) Count(ctx context.Context, collection string) (uint64, error) {
	return uint64(len(f.docs)), nil
}

func (f *fakeStore) Delete(ctx context.Context, collection, id string) error        { return nil }
func (f *fakeStore) DeleteCollection(ctx context.Context, collection string) error  { return nil }
func (f *fakeStore) Name() string                                                   { return "fake" }
func (f *fakeStore) Close() error                                                   { return nil }

// scriptedReranker assigns fixed scores by document ID and sorts
// descending.
type scriptedReranker struct {
	scores map[string]float32
}

func (r *scriptedReranker) Rerank(ctx context.Context, query string, candidates []ScoredNode) ([]ScoredNode, error) {
	out := make([]ScoredNode, len(candidates))
	for i, c := range candidates {
		c.Score = r.scores[c.ID]
		out[i] = c
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func storeWithDocs(n int) *fakeStore {
	s := &fakeStore{}
	for i := 0; i < n; i++ {
		s.docs = append(s.docs, vector.Result{
			ID:      fmt.Sprintf("doc-%d", i),
			Content: fmt.Sprintf("passage %d", i),
			Score:   float32(n-i) / float32(n),
		})
	}
	return s
}

func newEngine(t *testing.T, store vector.Provider, reranker Reranker, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(&fakeEmbedder{}, store, reranker, cfg)
	require.NoError(t, err)
	return e
}

func TestRetrieve_EmptyIndexReturnsEmptyResult(t *testing.T) {
	emb := &fakeEmbedder{}
	e, err := NewEngine(emb, &fakeStore{}, nil, Config{})
	require.NoError(t, err)

	result, err := e.Retrieve(context.Background(), "anything", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, result.RerankedNodes)
	assert.Empty(t, result.RawHits)
	assert.Zero(t, emb.calls, "empty index must not trigger an embedding call")
}

func TestRetrieve_SearchBreadthAtLeastTopK(t *testing.T) {
	store := storeWithDocs(50)
	e := newEngine(t, store, nil, Config{SearchBreadth: 20})

	_, err := e.Retrieve(context.Background(), "q", 30, nil)
	require.NoError(t, err)
	assert.Equal(t, 30, store.lastTopK)

	_, err = e.Retrieve(context.Background(), "q", 5, nil)
	require.NoError(t, err)
	assert.Equal(t, 20, store.lastTopK)
}

func TestRetrieve_TruncationInvariant(t *testing.T) {
	store := storeWithDocs(10)
	reranker := &scriptedReranker{scores: map[string]float32{}}
	for i := 0; i < 10; i++ {
		reranker.scores[fmt.Sprintf("doc-%d", i)] = float32(i) / 10
	}

	cases := []struct {
		rerankTopN int
		topK       int
		want       int
	}{
		{rerankTopN: 5, topK: 3, want: 3},
		{rerankTopN: 2, topK: 8, want: 2},
		{rerankTopN: 50, topK: 40, want: 10},
	}

	for _, tc := range cases {
		e := newEngine(t, store, reranker, Config{RerankTopN: tc.rerankTopN})
		result, err := e.Retrieve(context.Background(), "q", tc.topK, nil)
		require.NoError(t, err)
		assert.Len(t, result.RerankedNodes, tc.want)

		for i := 1; i < len(result.RerankedNodes); i++ {
			assert.LessOrEqual(t, result.RerankedNodes[i].Score, result.RerankedNodes[i-1].Score)
		}
	}
}

func TestRetrieve_TopKTwoTakesHighestRerankScores(t *testing.T) {
	store := storeWithDocs(4)
	reranker := &scriptedReranker{scores: map[string]float32{
		"doc-0": 0.1,
		"doc-1": 0.9,
		"doc-2": 0.5,
		"doc-3": 0.7,
	}}
	e := newEngine(t, store, reranker, Config{RerankTopN: 5})

	result, err := e.Retrieve(context.Background(), "q", 2, nil)
	require.NoError(t, err)
	require.Len(t, result.RerankedNodes, 2)
	assert.Equal(t, "doc-1", result.RerankedNodes[0].ID)
	assert.Equal(t, "doc-3", result.RerankedNodes[1].ID)
	assert.Len(t, result.RawHits, 4)
}

func TestRetrieve_MinScoreThreshold(t *testing.T) {
	store := storeWithDocs(10) // scores 1.0 down to 0.1
	threshold := float32(0.55)
	e := newEngine(t, store, nil, Config{MinScore: &threshold, RerankTopN: 20})

	result, err := e.Retrieve(context.Background(), "q", 10, nil)
	require.NoError(t, err)
	require.NotEmpty(t, result.RerankedNodes)
	for _, n := range result.RerankedNodes {
		assert.GreaterOrEqual(t, n.Score, threshold)
	}
	// Raw hits keep everything the ANN returned.
	assert.Len(t, result.RawHits, 10)
}

func TestRetrieve_NilThresholdKeepsAll(t *testing.T) {
	store := storeWithDocs(5)
	e := newEngine(t, store, nil, Config{RerankTopN: 10})

	result, err := e.Retrieve(context.Background(), "q", 5, nil)
	require.NoError(t, err)
	assert.Len(t, result.RerankedNodes, 5)
}

func TestRetrieve_AllBelowThresholdReturnsEmpty(t *testing.T) {
	store := storeWithDocs(5)
	threshold := float32(2.0)
	e := newEngine(t, store, nil, Config{MinScore: &threshold})

	result, err := e.Retrieve(context.Background(), "q", 5, nil)
	require.NoError(t, err)
	assert.Empty(t, result.RerankedNodes)
}

func TestRetrieve_LabelFilterPassedToStore(t *testing.T) {
	store := storeWithDocs(3)
	e := newEngine(t, store, nil, Config{})

	_, err := e.Retrieve(context.Background(), "q", 3, []string{"hr", "it"})
	require.NoError(t, err)
	require.NotNil(t, store.lastFilter)
	assert.Equal(t, []string{"hr", "it"}, store.lastFilter.Labels)

	_, err = e.Retrieve(context.Background(), "q", 3, nil)
	require.NoError(t, err)
	assert.Nil(t, store.lastFilter)
}

func TestIngest_MakesEngineReady(t *testing.T) {
	store := &fakeStore{}
	e := newEngine(t, store, nil, Config{})
	ctx := context.Background()

	result, err := e.Retrieve(ctx, "q", 3, nil)
	require.NoError(t, err)
	assert.Empty(t, result.RawHits)

	ids, err := e.Ingest(ctx, []Document{
		{Content: "expenses are reimbursed monthly", Labels: []string{"finance"}},
		{ID: "fixed", Content: "vpn setup guide", Labels: []string{"it"}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])
	assert.Equal(t, "fixed", ids[1])

	result, err = e.Retrieve(ctx, "q", 3, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, result.RawHits)
}
