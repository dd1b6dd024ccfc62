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

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskmate-ai/deskmate/model"
	"github.com/deskmate-ai/deskmate/observability"
	"github.com/deskmate-ai/deskmate/retrieval"
	"github.com/deskmate-ai/deskmate/session"
)

// ChatConfig controls prompt assembly for a turn.
type ChatConfig struct {
	SystemPrompt          string `yaml:"system_prompt"`
	ContextMaxCharsPerSrc int    `yaml:"context_max_chars_per_source"`
	HistoryMaxMessages    int    `yaml:"history_max_messages"`
	HistoryTokenBudget    int    `yaml:"history_token_budget"`
}

// SetDefaults fills in zero-valued fields.
func (c *ChatConfig) SetDefaults() {
	if c.SystemPrompt == "" {
		c.SystemPrompt = "You are a helpful enterprise assistant. Answer using the provided knowledge context when relevant, and call tools when they can help."
	}
	if c.ContextMaxCharsPerSrc <= 0 {
		c.ContextMaxCharsPerSrc = 1200
	}
	if c.HistoryMaxMessages <= 0 {
		c.HistoryMaxMessages = 20
	}
}

// TurnResult is what one completed conversation turn yields.
type TurnResult struct {
	Answer      string                 `json:"answer"`
	Messages    []model.Message        `json:"messages"`
	Invocations []Invocation           `json:"tool_invocations"`
	Sources     []retrieval.ScoredNode `json:"sources,omitempty"`
}

// ChatService assembles the seed prompt for a turn, runs the
// orchestrator, and persists both sides of the exchange.
type ChatService struct {
	orchestrator *Orchestrator
	engine       *retrieval.Engine
	history      session.HistoryStore
	tracer       *observability.Tracer
	metrics      *observability.Metrics
	counter      Counter
	cfg          ChatConfig
}

// NewChatService wires a chat service. engine, tracer, metrics, and
// counter may be nil; the corresponding feature is simply skipped.
func NewChatService(
	orchestrator *Orchestrator,
	engine *retrieval.Engine,
	history session.HistoryStore,
	tracer *observability.Tracer,
	metrics *observability.Metrics,
	counter Counter,
	cfg ChatConfig,
) (*ChatService, error) {
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if history == nil {
		return nil, fmt.Errorf("history store is required")
	}
	cfg.SetDefaults()
	return &ChatService{
		orchestrator: orchestrator,
		engine:       engine,
		history:      history,
		tracer:       tracer,
		metrics:      metrics,
		counter:      counter,
		cfg:          cfg,
	}, nil
}

// RunTurn answers one user message within a session. The user turn is
// persisted before orchestration and the assistant turn after it, so a
// failed turn still leaves the user's message in the history.
func (s *ChatService) RunTurn(ctx context.Context, sessionID, userMessage string) (*TurnResult, error) {
	start := time.Now()
	result, err := s.runTurn(ctx, sessionID, userMessage)
	s.metrics.RecordTurn(time.Since(start), err)
	return result, err
}

func (s *ChatService) runTurn(ctx context.Context, sessionID, userMessage string) (*TurnResult, error) {
	userMessage = strings.TrimSpace(userMessage)
	if sessionID == "" {
		return nil, fmt.Errorf("session id is required")
	}
	if userMessage == "" {
		return nil, fmt.Errorf("user message is required")
	}

	history, err := s.history.FetchRecentMessages(ctx, sessionID, s.cfg.HistoryMaxMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation history: %w", err)
	}
	history = TrimHistory(history, s.counter, s.cfg.HistoryTokenBudget)

	if _, err := s.history.AddMessage(ctx, sessionID, string(model.RoleUser), userMessage); err != nil {
		return nil, fmt.Errorf("failed to persist user turn: %w", err)
	}

	sources := s.retrieveContext(ctx, userMessage)
	seed := s.buildSeedMessages(history, sources, userMessage)

	observer := observability.NewTurnObserver(ctx, s.tracer, sessionID, uuid.NewString())
	state, err := s.orchestrator.Run(ctx, seed, observer)
	if err != nil {
		return nil, err
	}

	if _, err := s.history.AddMessage(ctx, sessionID, string(model.RoleAssistant), state.FinalAnswer); err != nil {
		// The answer was produced; losing the persisted copy is not
		// worth failing the turn over.
		slog.Warn("failed to persist assistant turn", "session_id", sessionID, "error", err)
	}

	return &TurnResult{
		Answer:      state.FinalAnswer,
		Messages:    state.Messages,
		Invocations: state.ToolInvocations,
		Sources:     sources,
	}, nil
}

// retrieveContext fetches evidence passages for the user message.
// Retrieval trouble degrades to an uninformed answer, never a failed
// turn.
func (s *ChatService) retrieveContext(ctx context.Context, query string) []retrieval.ScoredNode {
	if s.engine == nil {
		return nil
	}
	result, err := s.engine.Retrieve(ctx, query, 0, nil)
	s.metrics.RecordRetrieval(err)
	if err != nil {
		slog.Warn("context retrieval failed", "error", err)
		return nil
	}
	return result.RerankedNodes
}

func (s *ChatService) buildSeedMessages(history []session.Turn, sources []retrieval.ScoredNode, userMessage string) []model.Message {
	seed := make([]model.Message, 0, len(history)+3)
	seed = append(seed, model.Message{Role: model.RoleSystem, Content: s.cfg.SystemPrompt})

	if block := FormatContext(sources, s.cfg.ContextMaxCharsPerSrc); block != "" {
		seed = append(seed, model.Message{Role: model.RoleSystem, Content: block})
	}

	for _, turn := range history {
		seed = append(seed, model.Message{Role: model.Role(turn.Role), Content: turn.Content})
	}

	return append(seed, model.Message{Role: model.RoleUser, Content: userMessage})
}

// FormatContext renders retrieved passages as a context block, one
// numbered source per passage, each capped at maxChars characters.
func FormatContext(sources []retrieval.ScoredNode, maxChars int) string {
	if len(sources) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Knowledge context:")
	for i, src := range sources {
		text := src.Content
		if maxChars > 0 && len(text) > maxChars {
			text = text[:maxChars] + "..."
		}
		fmt.Fprintf(&b, "\n\n[Source %d] score=%.3f\n%s", i+1, src.Score, text)
		if meta := formatMetadata(src.Metadata); meta != "" {
			fmt.Fprintf(&b, "\nMetadata: %s", meta)
		}
	}
	return b.String()
}

// formatMetadata renders metadata as "k=v | k=v" with stable key order,
// skipping the content duplicate stored alongside each vector.
func formatMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		if k == "content" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, metadata[k]))
	}
	return strings.Join(pairs, " | ")
}
