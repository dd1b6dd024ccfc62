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
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/deskmate-ai/deskmate/session"
)

// Counter measures the token cost of a text.
type Counter interface {
	Count(text string) int
}

// TokenCounter counts tokens with the tokenizer of a given model,
// falling back to cl100k_base for models tiktoken does not know.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	encodingMu    sync.Mutex
)

// NewTokenCounter creates a counter for model. Encodings are cached
// process-wide; initialization is expensive.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{encoding: enc}, nil
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to load tokenizer encoding: %w", err)
		}
	}
	encodingCache[model] = enc
	return &TokenCounter{encoding: enc}, nil
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// TrimHistory drops the oldest turns until the remainder fits budget
// tokens, preserving chronological order. A nil counter or non-positive
// budget disables trimming.
func TrimHistory(turns []session.Turn, counter Counter, budget int) []session.Turn {
	if counter == nil || budget <= 0 {
		return turns
	}

	total := 0
	// Walk backwards so the most recent turns win the budget.
	for i := len(turns) - 1; i >= 0; i-- {
		total += counter.Count(turns[i].Content)
		if total > budget {
			return turns[i+1:]
		}
	}
	return turns
}
