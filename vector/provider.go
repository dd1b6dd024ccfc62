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

// Package vector abstracts vector database backends behind a single
// Provider interface. Embeddings are always computed externally and
// passed in pre-computed.
package vector

import (
	"context"
	"fmt"
)

// MetadataLabelsKey is the payload key holding a document's labels.
const MetadataLabelsKey = "labels"

// Filter narrows a similarity search by payload metadata.
type Filter struct {
	// Labels matches documents carrying ANY of the given labels.
	Labels []string

	// Fields matches documents whose payload has the exact value for
	// every key.
	Fields map[string]any
}

// Empty reports whether the filter constrains nothing.
func (f *Filter) Empty() bool {
	return f == nil || (len(f.Labels) == 0 && len(f.Fields) == 0)
}

// Result is one similarity search hit.
type Result struct {
	ID       string
	Content  string
	Score    float32
	Metadata map[string]any
}

// Provider is a vector database backend.
type Provider interface {
	// Upsert adds or updates a document with its pre-computed vector.
	Upsert(ctx context.Context, collection string, id string, vector []float32, metadata map[string]any) error

	// Search finds the topK most similar documents.
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)

	// SearchWithFilter combines vector similarity with metadata filtering.
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter *Filter) ([]Result, error)

	// Count returns the number of documents in the collection. A missing
	// collection counts as zero, not an error.
	Count(ctx context.Context, collection string) (uint64, error)

	// Delete removes a document by ID.
	Delete(ctx context.Context, collection string, id string) error

	// DeleteCollection removes a collection and all its documents.
	DeleteCollection(ctx context.Context, collection string) error

	// Name returns the provider name.
	Name() string

	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig selects and configures a vector backend.
type ProviderConfig struct {
	// Type is "chromem" or "qdrant" (default: chromem).
	Type string `yaml:"type"`

	// Chromem configuration (used when Type == "chromem").
	Chromem *ChromemConfig `yaml:"chromem,omitempty"`

	// Qdrant configuration (used when Type == "qdrant").
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// SetDefaults applies default values.
func (c *ProviderConfig) SetDefaults() {
	if c.Type == "" {
		c.Type = "chromem"
	}
	if c.Type == "chromem" && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

// Validate checks the configuration.
func (c *ProviderConfig) Validate() error {
	switch c.Type {
	case "chromem":
		return nil
	case "qdrant":
		if c.Qdrant == nil {
			return fmt.Errorf("qdrant configuration is required")
		}
		if c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	default:
		return fmt.Errorf("unknown vector provider type: %q", c.Type)
	}
}

// NewProvider creates a vector provider from configuration.
func NewProvider(cfg *ProviderConfig) (Provider, error) {
	if cfg == nil {
		cfg = &ProviderConfig{}
	}
	cfg.SetDefaults()

	switch cfg.Type {
	case "chromem":
		chromemCfg := ChromemConfig{}
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemProvider(chromemCfg)
	case "qdrant":
		if cfg.Qdrant == nil {
			return nil, fmt.Errorf("qdrant configuration is required")
		}
		return NewQdrantProvider(*cfg.Qdrant)
	default:
		return nil, fmt.Errorf("unknown vector provider type: %q", cfg.Type)
	}
}
