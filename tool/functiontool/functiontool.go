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

// Package functiontool builds tools from typed Go functions. The
// parameter schema is generated from struct tags:
//
//	type WeatherArgs struct {
//	    City  string `json:"city" jsonschema:"required,description=City name"`
//	    Units string `json:"units,omitempty" jsonschema:"description=Temperature units,default=celsius,enum=celsius|fahrenheit"`
//	}
//
//	weatherTool, err := functiontool.New(
//	    functiontool.Config{Name: "get_weather", Description: "Get current weather for a city"},
//	    func(ctx context.Context, args WeatherArgs) (any, error) {
//	        ...
//	    },
//	)
package functiontool

import (
	"context"
	"fmt"

	"github.com/deskmate-ai/deskmate/tool"
)

// Config defines the configuration for a function tool.
type Config struct {
	// Name is the unique identifier for this tool (required).
	Name string

	// Description explains what the tool does (required).
	Description string
}

// New creates a tool.Tool from a typed function. Args must be a struct
// with json and jsonschema tags defining the parameters.
func New[Args any](cfg Config, fn func(context.Context, Args) (any, error)) (tool.Tool, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if cfg.Description == "" {
		return nil, fmt.Errorf("tool description is required")
	}

	schema, err := generateSchema[Args]()
	if err != nil {
		return nil, fmt.Errorf("failed to generate schema for %s: %w", cfg.Name, err)
	}

	return &functionTool[Args]{
		config: cfg,
		fn:     fn,
		schema: schema,
	}, nil
}

// functionTool implements tool.Tool by wrapping a typed function.
type functionTool[Args any] struct {
	config Config
	fn     func(context.Context, Args) (any, error)
	schema map[string]any
}

func (t *functionTool[Args]) Name() string {
	return t.config.Name
}

func (t *functionTool[Args]) Description() string {
	return t.config.Description
}

func (t *functionTool[Args]) Schema() map[string]any {
	return t.schema
}

// Call decodes the argument map into the typed struct and invokes the
// function.
func (t *functionTool[Args]) Call(ctx context.Context, args map[string]any) (any, error) {
	var typedArgs Args
	if err := decodeArgs(args, &typedArgs); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", t.config.Name, err)
	}
	return t.fn(ctx, typedArgs)
}

var _ tool.Tool = (*functionTool[struct{}])(nil)
