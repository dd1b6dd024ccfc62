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

// Package model defines the chat model contract and the canonical tool-call
// shape shared by the orchestrator and the providers.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnavailable marks a model endpoint that could not be reached or served
// no deployment. It is fatal to the conversation turn.
var ErrUnavailable = errors.New("model endpoint unavailable")

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry of the conversation passed to the model.
type Message struct {
	Role    Role
	Content string

	// ToolCalls is set on assistant messages that requested tool execution.
	ToolCalls []ToolCall

	// ToolCallID and ToolName are set on tool-result messages.
	ToolCallID string
	ToolName   string
}

// ToolDefinition describes one registered tool to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is the model's reply for one generation step.
type Response struct {
	Content    string
	ToolCalls  []ToolCall
	TokensUsed int
}

// LLM generates chat completions with optional tool calling.
type LLM interface {
	// Generate invokes the model with the full message sequence and the tool
	// catalogue. Returned tool calls are already normalized.
	Generate(ctx context.Context, messages []Message, tools []ToolDefinition) (*Response, error)

	// ModelName returns the configured model identifier.
	ModelName() string

	Close() error
}

// ToolCall is the canonical form of a model-emitted tool invocation request.
// Arguments always holds the textual form; parse on demand via
// ParseArguments. ID and Name are never empty-typed nulls, only "".
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ParseArguments decodes the argument text into a key-value mapping.
// Empty or blank text parses as an empty mapping. A syntactically valid
// value that is not a JSON object is rejected.
func (c ToolCall) ParseArguments() (map[string]any, error) {
	text := c.Arguments
	if isBlank(text) {
		return map[string]any{}, nil
	}

	var parsed any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}

	m, ok := parsed.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("tool arguments are not a mapping: %s", text)
	}
	return m, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return false
		}
	}
	return true
}
