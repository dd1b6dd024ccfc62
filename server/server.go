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

// Package server is the thin HTTP surface over the chat service and the
// retrieval engine. Handlers validate requests and map errors to status
// codes; all orchestration semantics live in the agent package.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/deskmate-ai/deskmate/agent"
	"github.com/deskmate-ai/deskmate/model"
	"github.com/deskmate-ai/deskmate/observability"
	"github.com/deskmate-ai/deskmate/retrieval"
	"github.com/deskmate-ai/deskmate/session"
)

// Config configures the HTTP listener.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// SetDefaults fills in zero-valued fields.
func (c *Config) SetDefaults() {
	if c.Host == "" {
		c.Host = "0.0.0.0"
	}
	if c.Port == 0 {
		c.Port = 8000
	}
}

// Server wires the HTTP routes.
type Server struct {
	chat    *agent.ChatService
	engine  *retrieval.Engine
	history session.HistoryStore
	metrics *observability.Metrics
	cfg     Config

	httpServer *http.Server
}

// New builds the server. metrics may be nil, which disables the
// /metrics endpoint and request instrumentation.
func New(chat *agent.ChatService, engine *retrieval.Engine, history session.HistoryStore, metrics *observability.Metrics, cfg Config) (*Server, error) {
	if chat == nil {
		return nil, fmt.Errorf("chat service is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("retrieval engine is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history store is required")
	}
	cfg.SetDefaults()
	return &Server{chat: chat, engine: engine, history: history, metrics: metrics, cfg: cfg}, nil
}

// Router assembles the route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Post("/chat", s.handleChat)
	r.Post("/retriever/query", s.handleRetrieverQuery)
	r.Post("/documents", s.handleIngest)
	r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	return r
}

// ListenAndServe blocks until the context is cancelled, then shuts the
// listener down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"retriever_ready": s.engine.Ready(r.Context()),
	})
}

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SessionID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "session_id and message are required")
		return
	}

	result, err := s.chat.RunTurn(r.Context(), req.SessionID, req.Message)
	if err != nil {
		if errors.Is(err, model.ErrUnavailable) {
			writeError(w, http.StatusServiceUnavailable, "the language model is currently unavailable")
			return
		}
		slog.Error("chat turn failed", "session_id", req.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process the message")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type retrieverQueryRequest struct {
	Query  string   `json:"query"`
	TopK   int      `json:"top_k,omitempty"`
	Labels []string `json:"labels,omitempty"`
}

type retrieverNode struct {
	NodeID   string         `json:"node_id"`
	Score    float32        `json:"score"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleRetrieverQuery(w http.ResponseWriter, r *http.Request) {
	var req retrieverQueryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	if !s.engine.Ready(r.Context()) {
		writeError(w, http.StatusServiceUnavailable, "the knowledge base index is empty")
		return
	}

	result, err := s.engine.Retrieve(r.Context(), req.Query, req.TopK, req.Labels)
	s.metrics.RecordRetrieval(err)
	if err != nil {
		slog.Error("retriever query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "retrieval failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"results":  toNodes(result.RerankedNodes),
		"raw_hits": toNodes(result.RawHits),
	})
}

type ingestRequest struct {
	Documents []ingestDocument `json:"documents"`
}

type ingestDocument struct {
	ID       string         `json:"id,omitempty"`
	Text     string         `json:"text"`
	Labels   []string       `json:"labels,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Documents) == 0 {
		writeError(w, http.StatusBadRequest, "at least one document is required")
		return
	}

	docs := make([]retrieval.Document, 0, len(req.Documents))
	for i, d := range req.Documents {
		if d.Text == "" {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("document %d has no text", i))
			return
		}
		docs = append(docs, retrieval.Document{
			ID:      d.ID,
			Content: d.Text,
			Labels:  d.Labels,
			Extra:   d.Metadata,
		})
	}

	ids, err := s.engine.Ingest(r.Context(), docs)
	if err != nil {
		slog.Error("document ingest failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to index documents")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"ids": ids})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}

	if err := s.history.DeleteSession(r.Context(), sessionID); err != nil {
		slog.Error("session delete failed", "session_id", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toNodes(nodes []retrieval.ScoredNode) []retrieverNode {
	out := make([]retrieverNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, retrieverNode{
			NodeID:   n.ID,
			Score:    n.Score,
			Text:     n.Content,
			Metadata: n.Metadata,
		})
	}
	return out
}

func decodeBody(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
