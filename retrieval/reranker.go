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

package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"
)

// Reranker re-scores candidate passages against the original query text.
type Reranker interface {
	// Rerank returns the candidates ordered by descending relevance to
	// the query, with rerank scores attached. Ties keep their input
	// order.
	Rerank(ctx context.Context, query string, candidates []ScoredNode) ([]ScoredNode, error)
}

// CrossEncoderReranker calls an HTTP cross-encoder scoring service. The
// service accepts {"query": ..., "documents": [...]} and returns
// {"scores": [...]} positionally aligned with the documents.
type CrossEncoderReranker struct {
	client  *http.Client
	baseURL string
}

// NewCrossEncoderReranker creates a reranker backed by an HTTP scoring
// service.
func NewCrossEncoderReranker(baseURL string, timeout time.Duration) *CrossEncoderReranker {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &CrossEncoderReranker{
		client:  &http.Client{Timeout: timeout},
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

type rerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float32 `json:"scores"`
}

// Rerank implements Reranker.
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, candidates []ScoredNode) ([]ScoredNode, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	documents := make([]string, len(candidates))
	for i, c := range candidates {
		documents[i] = c.Content
	}

	body, err := json.Marshal(rerankRequest{Query: query, Documents: documents})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal rerank request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create rerank request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rerank request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("rerank request rejected: status %d", resp.StatusCode)
	}

	var parsed rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode rerank response: %w", err)
	}
	if len(parsed.Scores) != len(candidates) {
		return nil, fmt.Errorf("rerank response returned %d scores for %d documents", len(parsed.Scores), len(candidates))
	}

	reranked := make([]ScoredNode, len(candidates))
	for i, c := range candidates {
		c.Score = parsed.Scores[i]
		reranked[i] = c
	}
	sort.SliceStable(reranked, func(i, j int) bool {
		return reranked[i].Score > reranked[j].Score
	})

	return reranked, nil
}

// NopReranker passes candidates through in their original order with
// their raw scores intact. Used when no reranking service is configured.
type NopReranker struct{}

// Rerank implements Reranker.
func (NopReranker) Rerank(ctx context.Context, query string, candidates []ScoredNode) ([]ScoredNode, error) {
	return candidates, nil
}

var (
	_ Reranker = (*CrossEncoderReranker)(nil)
	_ Reranker = NopReranker{}
)
