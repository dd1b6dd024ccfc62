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

// Package config defines the service configuration, loaded from YAML with
// ${VAR} / ${VAR:-default} environment expansion.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the deskmate service.
type Config struct {
	Server        ServerConfig    `yaml:"server"`
	LLM           LLMConfig       `yaml:"llm"`
	Embedding     EmbeddingConfig `yaml:"embedding"`
	Vector        VectorConfig    `yaml:"vector"`
	Retriever     RetrieverConfig `yaml:"retriever"`
	Chat          ChatConfig      `yaml:"chat"`
	History       HistoryConfig   `yaml:"history"`
	RefStore      RefStoreConfig  `yaml:"ref_store"`
	Tracing       TracingConfig   `yaml:"tracing"`
	LogLevel      string          `yaml:"log_level"`
	LogFormat     string          `yaml:"log_format"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// LLMConfig configures the chat model endpoint.
type LLMConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
}

// EmbeddingConfig configures the embedding model endpoint.
type EmbeddingConfig struct {
	BaseURL      string        `yaml:"base_url"`
	Model        string        `yaml:"model"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	FailureLog   string        `yaml:"failure_log"`
}

// VectorConfig selects and configures the vector store backend.
type VectorConfig struct {
	// Provider is "qdrant" or "chromem".
	Provider   string `yaml:"provider"`
	Collection string `yaml:"collection"`

	Qdrant  QdrantConfig  `yaml:"qdrant"`
	Chromem ChromemConfig `yaml:"chromem"`
}

// QdrantConfig configures the Qdrant gRPC client.
type QdrantConfig struct {
	Host   string `yaml:"host"`
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key,omitempty"`
	UseTLS bool   `yaml:"use_tls,omitempty"`
}

// ChromemConfig configures the embedded chromem store.
type ChromemConfig struct {
	PersistPath string `yaml:"persist_path,omitempty"`
	Compress    bool   `yaml:"compress,omitempty"`
}

// RetrieverConfig configures the retrieval pipeline.
//
// MinScore and RerankMinScore are pointers: nil means no threshold filtering
// at that stage.
type RetrieverConfig struct {
	TopK           int      `yaml:"top_k"`
	SearchK        int      `yaml:"search_k"`
	MinScore       *float32 `yaml:"min_score,omitempty"`
	RerankTopN     int      `yaml:"rerank_top_n"`
	RerankMinScore *float32 `yaml:"rerank_min_score,omitempty"`

	// RerankerURL is the cross-encoder scoring endpoint. Empty disables
	// reranking; the top raw hits stand in for the reranked result.
	RerankerURL     string        `yaml:"reranker_url,omitempty"`
	RerankerTimeout time.Duration `yaml:"reranker_timeout"`
}

// ChatConfig configures prompt assembly for a conversation turn.
type ChatConfig struct {
	SystemPrompt          string `yaml:"system_prompt"`
	ContextMaxCharsPerSrc int    `yaml:"context_max_chars_per_source"`
	HistoryMaxMessages    int    `yaml:"history_max_messages"`
	HistoryTokenBudget    int    `yaml:"history_token_budget"`
	TokenizerModel        string `yaml:"tokenizer_model"`
}

// HistoryConfig configures the conversation history store.
type HistoryConfig struct {
	// Path of the SQLite database file. ":memory:" keeps history in memory.
	Path string `yaml:"path"`
}

// RefStoreConfig configures the keyed reference store used by stateful tools.
type RefStoreConfig struct {
	// Path of the SQLite database file. Empty uses an in-memory store.
	Path string `yaml:"path"`
}

// TracingConfig configures the trace observer.
type TracingConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ServiceName string        `yaml:"service_name"`
	Exporter    string        `yaml:"exporter"` // "stdout" or "otlp"
	Endpoint    string        `yaml:"endpoint,omitempty"`
	Insecure    bool          `yaml:"insecure,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Load reads, env-expands, parses, defaults and validates a config file.
// An empty path yields a default configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		expanded := expandEnvVars(string(raw))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills unset fields with sensible defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}

	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://localhost:11434"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "llama3.1"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.7
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Embedding.BaseURL == "" {
		c.Embedding.BaseURL = c.LLM.BaseURL
	}
	if c.Embedding.Model == "" {
		c.Embedding.Model = "bge-m3"
	}
	if c.Embedding.Timeout == 0 {
		c.Embedding.Timeout = 30 * time.Second
	}
	if c.Embedding.MaxRetries == 0 {
		c.Embedding.MaxRetries = 3
	}
	if c.Embedding.RetryBackoff == 0 {
		c.Embedding.RetryBackoff = 500 * time.Millisecond
	}

	if c.Vector.Provider == "" {
		c.Vector.Provider = "chromem"
	}
	if c.Vector.Collection == "" {
		c.Vector.Collection = "knowledge_base"
	}
	if c.Vector.Qdrant.Host == "" {
		c.Vector.Qdrant.Host = "localhost"
	}
	if c.Vector.Qdrant.Port == 0 {
		c.Vector.Qdrant.Port = 6334
	}

	if c.Retriever.TopK == 0 {
		c.Retriever.TopK = 5
	}
	if c.Retriever.SearchK == 0 {
		c.Retriever.SearchK = 20
	}
	if c.Retriever.RerankTopN == 0 {
		c.Retriever.RerankTopN = 5
	}
	if c.Retriever.RerankerTimeout == 0 {
		c.Retriever.RerankerTimeout = 30 * time.Second
	}

	if c.Chat.SystemPrompt == "" {
		c.Chat.SystemPrompt = "You are a helpful enterprise assistant. Answer using the provided knowledge context when relevant, and call tools when they can help."
	}
	if c.Chat.ContextMaxCharsPerSrc == 0 {
		c.Chat.ContextMaxCharsPerSrc = 1200
	}
	if c.Chat.HistoryMaxMessages == 0 {
		c.Chat.HistoryMaxMessages = 20
	}
	if c.Chat.HistoryTokenBudget == 0 {
		c.Chat.HistoryTokenBudget = 3000
	}
	if c.Chat.TokenizerModel == "" {
		c.Chat.TokenizerModel = "gpt-4"
	}

	if c.History.Path == "" {
		c.History.Path = "deskmate.db"
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "deskmate"
	}
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = "stdout"
	}
	if c.Tracing.Timeout == 0 {
		c.Tracing.Timeout = 10 * time.Second
	}

	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate checks cross-field invariants.
func (c *Config) Validate() error {
	switch c.Vector.Provider {
	case "qdrant", "chromem":
	default:
		return fmt.Errorf("unknown vector provider %q", c.Vector.Provider)
	}
	if c.Retriever.TopK < 0 || c.Retriever.SearchK < 0 {
		return fmt.Errorf("retriever top_k and search_k must be non-negative")
	}
	if c.Embedding.MaxRetries < 0 {
		return fmt.Errorf("embedding max_retries must be non-negative")
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing endpoint is required for the otlp exporter")
	}
	return nil
}
