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

package embedder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"time"
)

// OllamaEmbedder calls Ollama's embedding endpoint with bounded retries.
// Transient transport failures are retried with exponential backoff plus
// jitter; malformed responses fail immediately.
type OllamaEmbedder struct {
	client  *http.Client
	config  OllamaConfig
	failLog string
	jitter  func() float64
	sleep   func(time.Duration)
}

// OllamaConfig configures the Ollama embedder.
type OllamaConfig struct {
	// BaseURL of the Ollama server (default: http://localhost:11434).
	BaseURL string

	// Model name (default: bge-m3).
	Model string

	// Dimension of the embedding vectors (default: 1024).
	Dimension int

	// MaxRetries is the number of retries after the first attempt
	// (default: 3, so up to 4 attempts total).
	MaxRetries int

	// RetryBackoff is the base backoff unit (default: 500ms). Attempt n
	// sleeps RetryBackoff*2^n plus a uniform jitter in [0, RetryBackoff).
	RetryBackoff time.Duration

	// Timeout for a single embedding request (default: 30s).
	Timeout time.Duration

	// FailureLogPath, when set, receives an append-only line per
	// exhausted-retry failure. Logging failures never mask the embedding
	// error.
	FailureLogPath string
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// Ollama has shipped both of these payloads across versions.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Data      []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Option customizes an OllamaEmbedder.
type Option func(*OllamaEmbedder)

// WithJitter overrides the jitter source. The function must return a
// value in [0, 1).
func WithJitter(f func() float64) Option {
	return func(e *OllamaEmbedder) { e.jitter = f }
}

// WithSleep overrides the sleep function used between retries.
func WithSleep(f func(time.Duration)) Option {
	return func(e *OllamaEmbedder) { e.sleep = f }
}

// NewOllamaEmbedder creates a new Ollama embedder.
func NewOllamaEmbedder(cfg OllamaConfig, opts ...Option) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "bge-m3"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 1024
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")

	e := &OllamaEmbedder{
		client:  &http.Client{Timeout: cfg.Timeout},
		config:  cfg,
		failLog: cfg.FailureLogPath,
		jitter:  rand.Float64,
		sleep:   time.Sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Embed implements Embedder. The request is attempted up to
// MaxRetries+1 times; only transport-level failures are retried.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error

	for attempt := 0; attempt <= e.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := e.backoff(attempt - 1)
			slog.Debug("Retrying embedding request",
				"attempt", attempt,
				"delay", delay,
				"model", e.config.Model)
			e.sleep(delay)
		}

		vector, retryable, err := e.embedOnce(ctx, text)
		if err == nil {
			return vector, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}

	err := fmt.Errorf("embedding failed after %d attempts: %w", e.config.MaxRetries+1, lastErr)
	e.logFailure(text, err)
	return nil, err
}

// EmbedBatch implements Embedder. Texts are embedded sequentially; the
// first failure aborts the batch.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vector, err := e.Embed(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed text %d of %d: %w", i+1, len(texts), err)
		}
		vectors = append(vectors, vector)
	}
	return vectors, nil
}

// Dimension implements Embedder.
func (e *OllamaEmbedder) Dimension() int {
	return e.config.Dimension
}

// Close implements Embedder.
func (e *OllamaEmbedder) Close() error {
	return nil
}

// embedOnce performs a single embedding request. The second return value
// reports whether the failure is worth retrying.
func (e *OllamaEmbedder) embedOnce(ctx context.Context, text string) ([]float32, bool, error) {
	body, err := json.Marshal(embedRequest{Model: e.config.Model, Prompt: text})
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal embedding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, false, fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, true, fmt.Errorf("embedding server error: status %d: %s", resp.StatusCode, string(raw))
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, false, fmt.Errorf("embedding request rejected: status %d: %s", resp.StatusCode, string(raw))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, false, fmt.Errorf("failed to decode embedding response: %w", err)
	}

	vector := parsed.Embedding
	if len(vector) == 0 && len(parsed.Data) > 0 {
		vector = parsed.Data[0].Embedding
	}
	if len(vector) == 0 {
		return nil, false, fmt.Errorf("embedding response contained no vector")
	}

	return vector, false, nil
}

// backoff computes the delay before retry n (0-based):
// RetryBackoff*2^n plus uniform jitter in [0, RetryBackoff).
func (e *OllamaEmbedder) backoff(n int) time.Duration {
	base := e.config.RetryBackoff << uint(n)
	jitter := time.Duration(e.jitter() * float64(e.config.RetryBackoff))
	return base + jitter
}

// logFailure appends one line to the failure log. Best effort; any error
// here is only logged.
func (e *OllamaEmbedder) logFailure(text string, embedErr error) {
	if e.failLog == "" {
		return
	}

	preview := text
	if len(preview) > 200 {
		preview = preview[:200]
	}
	line := fmt.Sprintf("%s\t%s\t%q\n", time.Now().UTC().Format(time.RFC3339), embedErr.Error(), preview)

	f, err := os.OpenFile(e.failLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Warn("Failed to open embedding failure log", "path", e.failLog, "error", err)
		return
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		slog.Warn("Failed to write embedding failure log", "path", e.failLog, "error", err)
	}
}

var _ Embedder = (*OllamaEmbedder)(nil)
