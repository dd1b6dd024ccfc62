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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/deskmate-ai/deskmate/agent"
	"github.com/deskmate-ai/deskmate/config"
	"github.com/deskmate-ai/deskmate/embedder"
	"github.com/deskmate-ai/deskmate/model"
	"github.com/deskmate-ai/deskmate/observability"
	"github.com/deskmate-ai/deskmate/refstore"
	"github.com/deskmate-ai/deskmate/retrieval"
	"github.com/deskmate-ai/deskmate/server"
	"github.com/deskmate-ai/deskmate/session"
	"github.com/deskmate-ai/deskmate/tool"
	"github.com/deskmate-ai/deskmate/tool/accesstool"
	"github.com/deskmate-ai/deskmate/tool/kbtool"
	"github.com/deskmate-ai/deskmate/tool/newstool"
	"github.com/deskmate-ai/deskmate/tool/speakuptool"
	"github.com/deskmate-ai/deskmate/tool/weathertool"
	"github.com/deskmate-ai/deskmate/vector"
)

// app holds every wired component plus the resources to release on
// shutdown.
type app struct {
	server *server.Server

	llm     model.LLM
	emb     embedder.Embedder
	store   vector.Provider
	history session.HistoryStore
	refs    refstore.Store
	tracer  *observability.Tracer
}

// buildApp wires the full service from configuration, leaf components
// first.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	llm, err := model.NewOllamaProvider(model.OllamaConfig{
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create llm provider: %w", err)
	}
	a.llm = llm

	a.emb = embedder.NewOllamaEmbedder(embedder.OllamaConfig{
		BaseURL:        cfg.Embedding.BaseURL,
		Model:          cfg.Embedding.Model,
		MaxRetries:     cfg.Embedding.MaxRetries,
		RetryBackoff:   cfg.Embedding.RetryBackoff,
		Timeout:        cfg.Embedding.Timeout,
		FailureLogPath: cfg.Embedding.FailureLog,
	})

	a.store, err = vector.NewProvider(&vector.ProviderConfig{
		Type: cfg.Vector.Provider,
		Chromem: &vector.ChromemConfig{
			PersistPath: cfg.Vector.Chromem.PersistPath,
			Compress:    cfg.Vector.Chromem.Compress,
		},
		Qdrant: &vector.QdrantConfig{
			Host:   cfg.Vector.Qdrant.Host,
			Port:   cfg.Vector.Qdrant.Port,
			APIKey: cfg.Vector.Qdrant.APIKey,
			UseTLS: cfg.Vector.Qdrant.UseTLS,
		},
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create vector store: %w", err)
	}

	var reranker retrieval.Reranker = retrieval.NopReranker{}
	if cfg.Retriever.RerankerURL != "" {
		reranker = retrieval.NewCrossEncoderReranker(cfg.Retriever.RerankerURL, cfg.Retriever.RerankerTimeout)
	}

	engine, err := retrieval.NewEngine(a.emb, a.store, reranker, retrieval.Config{
		Collection:     cfg.Vector.Collection,
		TopK:           cfg.Retriever.TopK,
		SearchBreadth:  cfg.Retriever.SearchK,
		RerankTopN:     cfg.Retriever.RerankTopN,
		MinScore:       cfg.Retriever.MinScore,
		RerankMinScore: cfg.Retriever.RerankMinScore,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create retrieval engine: %w", err)
	}

	a.history, err = session.NewSQLHistoryStore(cfg.History.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	if cfg.RefStore.Path != "" {
		a.refs, err = refstore.NewSQLStore(cfg.RefStore.Path)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open reference store: %w", err)
		}
	} else {
		a.refs = refstore.NewMemoryStore()
	}

	a.tracer, err = observability.NewTracer(ctx, &observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		Timeout:        cfg.Tracing.Timeout,
	})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}

	metrics := observability.NewMetrics()

	registry, err := buildRegistry(engine, a.refs)
	if err != nil {
		a.Close()
		return nil, err
	}

	orchestrator, err := agent.NewOrchestrator(a.llm, registry, metrics, agent.OrchestratorConfig{})
	if err != nil {
		a.Close()
		return nil, err
	}

	counter, err := agent.NewTokenCounter(cfg.Chat.TokenizerModel)
	if err != nil {
		// Token-budget trimming degrades to the message-count cap.
		slog.Warn("tokenizer unavailable, history trimming by message count only", "error", err)
		counter = nil
	}

	chat, err := agent.NewChatService(orchestrator, engine, a.history, a.tracer, metrics, tokenCounter(counter), agent.ChatConfig{
		SystemPrompt:          cfg.Chat.SystemPrompt,
		ContextMaxCharsPerSrc: cfg.Chat.ContextMaxCharsPerSrc,
		HistoryMaxMessages:    cfg.Chat.HistoryMaxMessages,
		HistoryTokenBudget:    cfg.Chat.HistoryTokenBudget,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	a.server, err = server.New(chat, engine, a.history, metrics, server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	return a, nil
}

// tokenCounter keeps a nil *TokenCounter from becoming a non-nil
// interface value.
func tokenCounter(c *agent.TokenCounter) agent.Counter {
	if c == nil {
		return nil
	}
	return c
}

// buildRegistry registers the full tool kit.
func buildRegistry(engine *retrieval.Engine, refs refstore.Store) (*tool.Registry, error) {
	registry := tool.NewRegistry()

	kb, err := kbtool.New(engine)
	if err != nil {
		return nil, err
	}
	weather, err := weathertool.New(rand.New(rand.NewSource(time.Now().UnixNano())))
	if err != nil {
		return nil, err
	}
	news, err := newstool.New(rand.New(rand.NewSource(time.Now().UnixNano())), nil)
	if err != nil {
		return nil, err
	}

	tools := []tool.Tool{kb, weather, news}

	speakup, err := speakuptool.Tools(refs)
	if err != nil {
		return nil, err
	}
	tools = append(tools, speakup...)

	access, err := accesstool.Tools(refs, nil)
	if err != nil {
		return nil, err
	}
	tools = append(tools, access...)

	for _, t := range tools {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("failed to register tool: %w", err)
		}
	}
	return registry, nil
}

// Close releases resources in reverse dependency order. Safe on a
// partially built app.
func (a *app) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("tracer shutdown failed", "error", err)
		}
	}
	if a.refs != nil {
		if err := a.refs.Close(); err != nil {
			slog.Warn("reference store close failed", "error", err)
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			slog.Warn("history store close failed", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("vector store close failed", "error", err)
		}
	}
	if a.emb != nil {
		if err := a.emb.Close(); err != nil {
			slog.Warn("embedder close failed", "error", err)
		}
	}
	if a.llm != nil {
		if err := a.llm.Close(); err != nil {
			slog.Warn("llm close failed", "error", err)
		}
	}
}
