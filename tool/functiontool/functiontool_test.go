package functiontool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoArgs struct {
	Text  string `json:"text" jsonschema:"required,description=Text to echo"`
	Times int    `json:"times,omitempty" jsonschema:"description=Repeat count,default=1"`
}

func TestNew_RequiresNameAndDescription(t *testing.T) {
	fn := func(ctx context.Context, args echoArgs) (any, error) { return nil, nil }

	_, err := New(Config{Description: "d"}, fn)
	require.Error(t, err)

	_, err = New(Config{Name: "n"}, fn)
	require.Error(t, err)
}

func TestFunctionTool_SchemaFromTags(t *testing.T) {
	ft, err := New(Config{Name: "echo", Description: "Echo text"},
		func(ctx context.Context, args echoArgs) (any, error) { return args.Text, nil })
	require.NoError(t, err)

	schema := ft.Schema()
	assert.Equal(t, "object", schema["type"])

	props, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, props, "text")
	assert.Contains(t, props, "times")

	required, ok := schema["required"].([]any)
	require.True(t, ok)
	assert.Contains(t, required, "text")
}

func TestFunctionTool_CallDecodesArguments(t *testing.T) {
	ft, err := New(Config{Name: "echo", Description: "Echo text"},
		func(ctx context.Context, args echoArgs) (any, error) {
			out := ""
			for i := 0; i < args.Times; i++ {
				out += args.Text
			}
			return out, nil
		})
	require.NoError(t, err)

	// JSON-decoded arguments carry numbers as float64.
	result, err := ft.Call(context.Background(), map[string]any{
		"text":  "hi",
		"times": float64(2),
	})
	require.NoError(t, err)
	assert.Equal(t, "hihi", result)
}

func TestFunctionTool_CallRejectsBadArguments(t *testing.T) {
	type strictArgs struct {
		Count int `json:"count"`
	}
	ft, err := New(Config{Name: "strict", Description: "d"},
		func(ctx context.Context, args strictArgs) (any, error) { return args.Count, nil })
	require.NoError(t, err)

	_, err = ft.Call(context.Background(), map[string]any{"count": map[string]any{"nested": true}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid arguments for strict")
}
