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

// Package retrieval turns natural-language queries into ranked evidence
// passages via embedding search and cross-encoder reranking.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/deskmate-ai/deskmate/embedder"
	"github.com/deskmate-ai/deskmate/vector"
)

// ScoredNode is one evidence passage with a relevance score. The score
// is the ANN similarity for raw hits and the cross-encoder score for
// reranked hits.
type ScoredNode struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Score    float32        `json:"score"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RetrievalResult holds both stages of a retrieval pass.
type RetrievalResult struct {
	// RerankedNodes are the final ranked passages, reranker score order.
	RerankedNodes []ScoredNode `json:"reranked_nodes"`

	// RawHits are the ANN hits before reranking, ANN order.
	RawHits []ScoredNode `json:"raw_hits"`
}

// Config tunes the retrieval pipeline.
type Config struct {
	// Collection is the vector store collection to search.
	Collection string

	// TopK is the default number of results when the caller does not ask
	// for a specific count.
	TopK int

	// SearchBreadth is the minimum ANN candidate pool size. The actual
	// pool is max(SearchBreadth, requested top-k).
	SearchBreadth int

	// RerankTopN caps the passages kept after reranking.
	RerankTopN int

	// MinScore drops raw hits scoring below it. Nil disables the
	// threshold.
	MinScore *float32

	// RerankMinScore drops reranked hits scoring below it. Nil disables
	// the threshold.
	RerankMinScore *float32
}

// Document is a pre-chunked passage for indexing.
type Document struct {
	ID      string         `json:"id,omitempty"`
	Content string         `json:"content"`
	Labels  []string       `json:"labels,omitempty"`
	Extra   map[string]any `json:"extra,omitempty"`
}

// Engine retrieves evidence passages for a query. It caches a readiness
// count of indexed items so that queries against an empty index return
// an empty result instead of failing.
type Engine struct {
	embedder embedder.Embedder
	store    vector.Provider
	reranker Reranker
	config   Config

	mu         sync.Mutex
	readyCount *uint64
}

// NewEngine creates a retrieval engine. A nil reranker falls back to
// NopReranker, which keeps ANN order.
func NewEngine(emb embedder.Embedder, store vector.Provider, reranker Reranker, cfg Config) (*Engine, error) {
	if emb == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if reranker == nil {
		reranker = NopReranker{}
	}
	if cfg.Collection == "" {
		cfg.Collection = "knowledge_base"
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.SearchBreadth <= 0 {
		cfg.SearchBreadth = 20
	}
	if cfg.RerankTopN <= 0 {
		cfg.RerankTopN = 5
	}

	return &Engine{
		embedder: emb,
		store:    store,
		reranker: reranker,
		config:   cfg,
	}, nil
}

// Retrieve runs the full retrieval pipeline for a query. topK <= 0 uses
// the configured default; labels, when non-empty, restrict results to
// documents carrying at least one of them.
func (e *Engine) Retrieve(ctx context.Context, query string, topK int, labels []string) (*RetrievalResult, error) {
	ready, err := e.isReady(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		slog.Debug("Retrieval index empty, returning empty result", "collection", e.config.Collection)
		return &RetrievalResult{}, nil
	}

	desiredTopK := topK
	if desiredTopK <= 0 {
		desiredTopK = e.config.TopK
	}
	searchK := e.config.SearchBreadth
	if desiredTopK > searchK {
		searchK = desiredTopK
	}

	queryVector, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var filter *vector.Filter
	if len(labels) > 0 {
		filter = &vector.Filter{Labels: labels}
	}

	hits, err := e.store.SearchWithFilter(ctx, e.config.Collection, queryVector, searchK, filter)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	rawHits := make([]ScoredNode, 0, len(hits))
	for _, h := range hits {
		rawHits = append(rawHits, ScoredNode{
			ID:       h.ID,
			Content:  h.Content,
			Score:    h.Score,
			Metadata: h.Metadata,
		})
	}
	if len(rawHits) > searchK {
		rawHits = rawHits[:searchK]
	}

	filtered := filterByScore(rawHits, e.config.MinScore)
	if len(filtered) == 0 {
		return &RetrievalResult{}, nil
	}

	reranked, err := e.reranker.Rerank(ctx, query, filtered)
	if err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}

	reranked = filterByScore(reranked, e.config.RerankMinScore)

	limit := e.config.RerankTopN
	if desiredTopK < limit {
		limit = desiredTopK
	}
	if len(reranked) > limit {
		reranked = reranked[:limit]
	}

	slog.Debug("Retrieval completed",
		"collection", e.config.Collection,
		"raw_hits", len(rawHits),
		"reranked", len(reranked))

	return &RetrievalResult{
		RerankedNodes: reranked,
		RawHits:       rawHits,
	}, nil
}

// Ingest embeds and indexes pre-chunked documents, then refreshes the
// readiness count. Documents without an ID get a generated one.
func (e *Engine) Ingest(ctx context.Context, docs []Document) ([]string, error) {
	if len(docs) == 0 {
		return nil, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}
	vectors, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}

	ids := make([]string, len(docs))
	for i, d := range docs {
		id := d.ID
		if id == "" {
			id = uuid.NewString()
		}
		ids[i] = id

		metadata := map[string]any{"content": d.Content}
		if len(d.Labels) > 0 {
			metadata[vector.MetadataLabelsKey] = d.Labels
		}
		for k, v := range d.Extra {
			metadata[k] = v
		}

		if err := e.store.Upsert(ctx, e.config.Collection, id, vectors[i], metadata); err != nil {
			return nil, fmt.Errorf("failed to index document %s: %w", id, err)
		}
	}

	e.invalidateReadiness()
	return ids, nil
}

// Ready reports whether the index holds any documents. Count failures
// read as not ready.
func (e *Engine) Ready(ctx context.Context) bool {
	ready, err := e.isReady(ctx)
	return err == nil && ready
}

// isReady returns whether the index holds any documents, refreshing the
// cached count on first use. A zero count stays uncached so later calls
// observe index population.
func (e *Engine) isReady(ctx context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.readyCount != nil {
		return *e.readyCount > 0, nil
	}

	count, err := e.store.Count(ctx, e.config.Collection)
	if err != nil {
		return false, fmt.Errorf("failed to count indexed documents: %w", err)
	}
	if count > 0 {
		e.readyCount = &count
	}
	return count > 0, nil
}

func (e *Engine) invalidateReadiness() {
	e.mu.Lock()
	e.readyCount = nil
	e.mu.Unlock()
}

// filterByScore drops nodes scoring below the threshold. A nil
// threshold disables filtering.
func filterByScore(nodes []ScoredNode, threshold *float32) []ScoredNode {
	if threshold == nil {
		return nodes
	}
	kept := make([]ScoredNode, 0, len(nodes))
	for _, n := range nodes {
		if n.Score >= *threshold {
			kept = append(kept, n)
		}
	}
	return kept
}
