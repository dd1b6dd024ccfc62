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

package model

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// OllamaProvider implements LLM against Ollama's /api/chat endpoint with
// native tool calling.
type OllamaProvider struct {
	client  *http.Client
	baseURL string
	config  OllamaConfig
}

// OllamaConfig configures the Ollama chat provider.
type OllamaConfig struct {
	// BaseURL of the Ollama server (default: http://localhost:11434).
	BaseURL string

	// Model name (required).
	Model string

	// Temperature for sampling (default: 0.7).
	Temperature float64

	// MaxTokens caps the generated tokens (default: 1024).
	MaxTokens int

	// Timeout for API requests (default: 60s). Timeouts are owned by the
	// transport; a timed-out call surfaces as ErrUnavailable.
	Timeout time.Duration
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Tools    []ollamaTool        `json:"tools,omitempty"`
	Options  *ollamaOptions      `json:"options,omitempty"`
}

type ollamaChatMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []map[string]any `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaChatResponse struct {
	Model           string            `json:"model"`
	Message         ollamaChatMessage `json:"message"`
	Done            bool              `json:"done"`
	PromptEvalCount int               `json:"prompt_eval_count"`
	EvalCount       int               `json:"eval_count"`
	Error           string            `json:"error,omitempty"`
}

// NewOllamaProvider creates a new Ollama chat provider.
func NewOllamaProvider(cfg OllamaConfig) (*OllamaProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	return &OllamaProvider{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		config:  cfg,
	}, nil
}

// Generate implements LLM.
func (p *OllamaProvider) Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error) {
	tracer := otel.Tracer("deskmate.llm")
	ctx, span := tracer.Start(ctx, "llm.generate",
		trace.WithAttributes(
			attribute.String("llm.model", p.config.Model),
			attribute.String("llm.provider", "ollama"),
			attribute.Int("llm.tools", len(tools)),
		),
	)
	defer span.End()

	request := p.buildRequest(messages, tools)

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("Model call failed", "model", p.config.Model, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(raw))
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, apiErr.Error())
		return nil, apiErr
	}

	var response ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode chat response: %w", err)
	}
	if response.Error != "" {
		apiErr := fmt.Errorf("%w: %s", ErrUnavailable, response.Error)
		span.RecordError(apiErr)
		span.SetStatus(codes.Error, response.Error)
		return nil, apiErr
	}

	calls := NormalizeToolCalls(response.Message.ToolCalls)

	span.SetAttributes(
		attribute.Int("llm.tokens_input", response.PromptEvalCount),
		attribute.Int("llm.tokens_output", response.EvalCount),
		attribute.Int("llm.tool_calls", len(calls)),
	)
	span.SetStatus(codes.Ok, "")

	return &Response{
		Content:    response.Message.Content,
		ToolCalls:  calls,
		TokensUsed: response.PromptEvalCount + response.EvalCount,
	}, nil
}

// ModelName implements LLM.
func (p *OllamaProvider) ModelName() string {
	return p.config.Model
}

// Close implements LLM.
func (p *OllamaProvider) Close() error {
	return nil
}

func (p *OllamaProvider) buildRequest(messages []Message, tools []ToolDefinition) ollamaChatRequest {
	ollamaMessages := make([]ollamaChatMessage, 0, len(messages))
	for _, msg := range messages {
		om := ollamaChatMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		}

		// Ollama addresses tool results by tool_name rather than call id.
		if msg.Role == RoleTool {
			om.ToolName = msg.ToolName
		}

		for _, call := range msg.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, map[string]any{
				"id": call.ID,
				"function": map[string]any{
					"name":      call.Name,
					"arguments": argumentsValue(call.Arguments),
				},
			})
		}

		ollamaMessages = append(ollamaMessages, om)
	}

	ollamaTools := make([]ollamaTool, 0, len(tools))
	for _, def := range tools {
		params := def.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		ollamaTools = append(ollamaTools, ollamaTool{
			Type: "function",
			Function: ollamaToolFunction{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  params,
			},
		})
	}

	return ollamaChatRequest{
		Model:    p.config.Model,
		Messages: ollamaMessages,
		Stream:   false,
		Tools:    ollamaTools,
		Options: &ollamaOptions{
			Temperature: p.config.Temperature,
			NumPredict:  p.config.MaxTokens,
		},
	}
}

// argumentsValue re-encodes a tool call's argument text for the wire.
// Valid JSON passes through untouched; anything else ships as a string.
func argumentsValue(s string) any {
	if s == "" {
		return json.RawMessage("{}")
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

// Ensure OllamaProvider implements LLM.
var _ LLM = (*OllamaProvider)(nil)
