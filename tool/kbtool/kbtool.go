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

// Package kbtool exposes the retrieval engine as a knowledge base lookup
// tool.
package kbtool

import (
	"context"
	"fmt"
	"strings"

	"github.com/deskmate-ai/deskmate/retrieval"
	"github.com/deskmate-ai/deskmate/tool"
	"github.com/deskmate-ai/deskmate/tool/functiontool"
)

// Args are the knowledge base lookup parameters.
type Args struct {
	Query  string   `json:"query" jsonschema:"required,description=Natural language question to search the knowledge base with"`
	TopK   int      `json:"top_k,omitempty" jsonschema:"description=Number of passages to return,minimum=1,maximum=20"`
	Labels []string `json:"labels,omitempty" jsonschema:"description=Optional labels to filter retrieval; leave empty to search all"`
}

// New creates the kb_lookup tool backed by a retrieval engine.
func New(engine *retrieval.Engine) (tool.Tool, error) {
	if engine == nil {
		return nil, fmt.Errorf("retrieval engine is required")
	}

	return functiontool.New(
		functiontool.Config{
			Name: "kb_lookup",
			Description: "Search the company knowledge base covering technology, finance, careers, " +
				"employee programs, HR, payroll, and related internal topics.",
		},
		func(ctx context.Context, args Args) (any, error) {
			query := strings.TrimSpace(args.Query)
			if query == "" {
				return "Please provide a question to search the knowledge base.", nil
			}

			result, err := engine.Retrieve(ctx, query, args.TopK, args.Labels)
			if err != nil {
				return nil, fmt.Errorf("knowledge base lookup failed: %w", err)
			}

			return FormatPassages(result.RerankedNodes), nil
		},
	)
}

// FormatPassages renders retrieved passages as numbered evidence blocks
// for the model's context window.
func FormatPassages(nodes []retrieval.ScoredNode) string {
	if len(nodes) == 0 {
		return "No relevant documents were found in the knowledge base."
	}

	var b strings.Builder
	for i, node := range nodes {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[Source %d] score=%.3f\n%s", i+1, node.Score, node.Content)
	}
	return b.String()
}
