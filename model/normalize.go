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
	"encoding/json"
	"fmt"
)

// Providers emit tool calls in at least three wire shapes:
//
//	{"id": "...", "function": {"name": "...", "arguments": ...}}
//	{"id": "...", "name": "...", "arguments": ...}
//	{"tool": "...", "args": ...}
//
// NormalizeToolCall projects any of them onto the canonical ToolCall at the
// ingress boundary; downstream code never sees a provider shape.
func NormalizeToolCall(raw map[string]any) ToolCall {
	var name string
	var args any

	if fn, ok := raw["function"].(map[string]any); ok {
		name = stringValue(fn["name"])
		args = fn["arguments"]
	}
	if name == "" {
		name = stringValue(raw["name"])
	}
	if name == "" {
		name = stringValue(raw["tool"])
	}

	if args == nil {
		if v, ok := raw["arguments"]; ok {
			args = v
		} else if v, ok := raw["args"]; ok {
			args = v
		}
	}

	id := stringValue(raw["id"])
	if id == "" {
		id = stringValue(raw["tool_call_id"])
	}

	return ToolCall{
		ID:        id,
		Name:      name,
		Arguments: renderArguments(args),
	}
}

// NormalizeToolCalls normalizes a batch, preserving order.
func NormalizeToolCalls(raws []map[string]any) []ToolCall {
	if len(raws) == 0 {
		return nil
	}
	calls := make([]ToolCall, 0, len(raws))
	for _, raw := range raws {
		calls = append(calls, NormalizeToolCall(raw))
	}
	return calls
}

// renderArguments produces the textual argument form. Textual input is kept
// verbatim so parse-on-demand sees exactly what the provider sent; structured
// input is serialized with stable key order.
func renderArguments(args any) string {
	switch v := args.(type) {
	case nil:
		return "{}"
	case string:
		if v == "" {
			return "{}"
		}
		return v
	case []byte:
		if len(v) == 0 {
			return "{}"
		}
		return string(v)
	default:
		// encoding/json sorts map keys, keeping the output deterministic.
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func stringValue(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", s)
	}
}
