package retrieval

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCrossEncoderReranker_SortsByScore(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rerankRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "query", req.Query)
		require.Len(t, req.Documents, 3)

		json.NewEncoder(w).Encode(rerankResponse{Scores: []float32{0.2, 0.9, 0.5}})
	}))
	t.Cleanup(server.Close)

	reranker := NewCrossEncoderReranker(server.URL, 0)
	candidates := []ScoredNode{
		{ID: "a", Content: "first"},
		{ID: "b", Content: "second"},
		{ID: "c", Content: "third"},
	}

	out, err := reranker.Rerank(context.Background(), "query", candidates)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, []string{"b", "c", "a"}, []string{out[0].ID, out[1].ID, out[2].ID})
	assert.InDelta(t, 0.9, out[0].Score, 1e-6)
}

func TestCrossEncoderReranker_ScoreCountMismatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(rerankResponse{Scores: []float32{0.2}})
	}))
	t.Cleanup(server.Close)

	reranker := NewCrossEncoderReranker(server.URL, 0)
	_, err := reranker.Rerank(context.Background(), "q", []ScoredNode{{ID: "a"}, {ID: "b"}})
	require.Error(t, err)
}

func TestCrossEncoderReranker_EmptyCandidates(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	t.Cleanup(server.Close)

	reranker := NewCrossEncoderReranker(server.URL, 0)
	out, err := reranker.Rerank(context.Background(), "q", nil)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, called)
}

func TestNopReranker_PreservesOrder(t *testing.T) {
	in := []ScoredNode{{ID: "a", Score: 0.9}, {ID: "b", Score: 0.5}}
	out, err := NopReranker{}.Rerank(context.Background(), "q", in)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}
