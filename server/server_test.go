package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskmate-ai/deskmate/agent"
	"github.com/deskmate-ai/deskmate/model"
	"github.com/deskmate-ai/deskmate/retrieval"
	"github.com/deskmate-ai/deskmate/session"
	"github.com/deskmate-ai/deskmate/tool"
	"github.com/deskmate-ai/deskmate/vector"
)

type stubLLM struct {
	response *model.Response
	err      error
}

func (s *stubLLM) Generate(_ context.Context, _ []model.Message, _ []model.ToolDefinition) (*model.Response, error) {
	return s.response, s.err
}

func (s *stubLLM) ModelName() string { return "stub" }
func (s *stubLLM) Close() error      { return nil }

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

// memStore is a minimal in-memory vector.Provider.
type memStore struct {
	docs map[string]vector.Result
}

func newMemStore() *memStore { return &memStore{docs: map[string]vector.Result{}} }

func (m *memStore) Upsert(_ context.Context, _, id string, _ []float32, metadata map[string]any) error {
	content, _ := metadata["content"].(string)
	m.docs[id] = vector.Result{ID: id, Content: content, Score: 0.8, Metadata: metadata}
	return nil
}

func (m *memStore) Search(ctx context.Context, collection string, vec []float32, topK int) ([]vector.Result, error) {
	return m.SearchWithFilter(ctx, collection, vec, topK, nil)
}

func (m *memStore) SearchWithFilter(_ context.Context, _ string, _ []float32, topK int, _ *vector.Filter) ([]vector.Result, error) {
	out := make([]vector.Result, 0, len(m.docs))
	for _, d := range m.docs {
		if len(out) == topK {
			break
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *memStore) Count(_ context.Context, _ string) (uint64, error) {
	return uint64(len(m.docs)), nil
}

func (m *memStore) Delete(_ context.Context, _, id string) error {
	delete(m.docs, id)
	return nil
}

func (m *memStore) DeleteCollection(_ context.Context, _ string) error {
	m.docs = map[string]vector.Result{}
	return nil
}

func (m *memStore) Name() string { return "mem" }
func (m *memStore) Close() error { return nil }

func newTestServer(t *testing.T, llm model.LLM, store *memStore) (*Server, session.HistoryStore) {
	t.Helper()

	engine, err := retrieval.NewEngine(stubEmbedder{}, store, retrieval.NopReranker{}, retrieval.Config{})
	require.NoError(t, err)

	orch, err := agent.NewOrchestrator(llm, tool.NewRegistry(), nil, agent.OrchestratorConfig{})
	require.NoError(t, err)

	history := session.NewMemoryHistoryStore()
	chat, err := agent.NewChatService(orch, engine, history, nil, nil, nil, agent.ChatConfig{})
	require.NoError(t, err)

	srv, err := New(chat, engine, history, nil, Config{})
	require.NoError(t, err)
	return srv, history
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChatEndpoint(t *testing.T) {
	srv, history := newTestServer(t, &stubLLM{response: &model.Response{Content: "it opens at nine"}}, newMemStore())
	router := srv.Router()

	rec := postJSON(t, router, "/chat", map[string]any{
		"session_id": "sess-1",
		"message":    "when does the office open?",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Answer string `json:"answer"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "it opens at nine", resp.Answer)

	turns, err := history.FetchRecentMessages(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	assert.Len(t, turns, 2)
}

func TestChatEndpointValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubLLM{response: &model.Response{}}, newMemStore())
	router := srv.Router()

	rec := postJSON(t, router, "/chat", map[string]any{"message": "no session"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatEndpointModelUnavailable(t *testing.T) {
	llm := &stubLLM{err: fmt.Errorf("%w: dial tcp refused", model.ErrUnavailable)}
	srv, _ := newTestServer(t, llm, newMemStore())
	router := srv.Router()

	rec := postJSON(t, router, "/chat", map[string]any{
		"session_id": "sess-1",
		"message":    "hello",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRetrieverQueryNotReady(t *testing.T) {
	srv, _ := newTestServer(t, &stubLLM{response: &model.Response{}}, newMemStore())
	router := srv.Router()

	rec := postJSON(t, router, "/retriever/query", map[string]any{"query": "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestThenQuery(t *testing.T) {
	srv, _ := newTestServer(t, &stubLLM{response: &model.Response{}}, newMemStore())
	router := srv.Router()

	rec := postJSON(t, router, "/documents", map[string]any{
		"documents": []map[string]any{
			{"id": "doc-1", "text": "Payroll runs on the 25th.", "labels": []string{"hr"}},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		IDs []string `json:"ids"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, []string{"doc-1"}, created.IDs)

	rec = postJSON(t, router, "/retriever/query", map[string]any{"query": "payroll"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Results []struct {
			NodeID string  `json:"node_id"`
			Score  float32 `json:"score"`
			Text   string  `json:"text"`
		} `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-1", resp.Results[0].NodeID)
	assert.Equal(t, "Payroll runs on the 25th.", resp.Results[0].Text)
}

func TestDeleteSession(t *testing.T) {
	srv, history := newTestServer(t, &stubLLM{response: &model.Response{Content: "ok"}}, newMemStore())
	router := srv.Router()

	rec := postJSON(t, router, "/chat", map[string]any{"session_id": "sess-1", "message": "hello"})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/sessions/sess-1", nil)
	del := httptest.NewRecorder()
	router.ServeHTTP(del, req)
	assert.Equal(t, http.StatusNoContent, del.Code)

	turns, err := history.FetchRecentMessages(context.Background(), "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestHealthz(t *testing.T) {
	srv, _ := newTestServer(t, &stubLLM{response: &model.Response{}}, newMemStore())
	router := srv.Router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
	assert.Equal(t, false, resp["retriever_ready"])
}
