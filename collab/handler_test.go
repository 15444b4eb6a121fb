package collab

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumHandler() *FuncHandler {
	return NewFuncHandler(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, params map[string]any) (any, error) {
			return params["a"].(float64) + params["b"].(float64), nil
		},
	)
}

func TestFuncHandler(t *testing.T) {
	h := sumHandler()
	assert.Equal(t, "calculate_sum", h.Name())
	assert.Equal(t, "Calculate the sum of two numbers", h.Description())
	assert.Equal(t, "object", h.Parameters()["type"])

	result, err := h.Handle(context.Background(), map[string]any{"a": float64(2), "b": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, float64(5), result)
}

func TestFuncHandlerNilSchemaAcceptsAnything(t *testing.T) {
	h := NewFuncHandler("echo", "Echo the payload", nil,
		func(_ context.Context, params map[string]any) (any, error) {
			return params, nil
		},
	)

	result, err := runHandler(context.Background(), h, map[string]any{"anything": true})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"anything": true}, result)
}

func TestFuncHandlerFromStruct(t *testing.T) {
	type summarizeParams struct {
		Text     string `json:"text" description:"Text to summarize"`
		MaxWords int    `json:"maxWords,omitempty"`
	}

	h := NewFuncHandlerFromStruct("summarize", "Summarize a piece of text", summarizeParams{},
		func(_ context.Context, params map[string]any) (any, error) {
			return "short version", nil
		},
	)

	schema := h.Parameters()
	properties, ok := schema["properties"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, properties, "text")
	assert.Contains(t, properties, "maxWords")

	text, ok := properties["text"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "string", text["type"])
	assert.Equal(t, "Text to summarize", text["description"])

	required, ok := schema["required"].([]string)
	require.True(t, ok)
	assert.Equal(t, []string{"text"}, required)
}

func TestRunHandlerValidation(t *testing.T) {
	h := sumHandler()

	_, err := runHandler(context.Background(), h, map[string]any{"a": float64(2)})
	require.Error(t, err)

	var handlerErr *HandlerError
	require.True(t, errors.As(err, &handlerErr))
	assert.Equal(t, "VALIDATION_ERROR", handlerErr.Code)
	assert.Equal(t, "calculate_sum", handlerErr.Handler)
	assert.Contains(t, handlerErr.Error(), "VALIDATION_ERROR")
}

func TestRunHandlerWrapsExecutionError(t *testing.T) {
	h := NewFuncHandler("flaky", "Always fails", nil,
		func(context.Context, map[string]any) (any, error) {
			return nil, fmt.Errorf("upstream unavailable")
		},
	)

	_, err := runHandler(context.Background(), h, map[string]any{})
	require.Error(t, err)

	var handlerErr *HandlerError
	require.True(t, errors.As(err, &handlerErr))
	assert.Equal(t, "EXECUTION_ERROR", handlerErr.Code)
	assert.Equal(t, "upstream unavailable", handlerErr.Message)
}

func TestRunHandlerPassesHandlerErrorThrough(t *testing.T) {
	custom := NewHandlerError("custom", "rate limited", "RATE_LIMITED")
	h := NewFuncHandler("custom", "Returns a categorized error", nil,
		func(context.Context, map[string]any) (any, error) {
			return nil, custom
		},
	)

	_, err := runHandler(context.Background(), h, map[string]any{})
	var handlerErr *HandlerError
	require.True(t, errors.As(err, &handlerErr))
	assert.Same(t, custom, handlerErr)
	assert.Equal(t, "RATE_LIMITED", handlerErr.Code)
}

func TestRunHandlerSuccess(t *testing.T) {
	h := sumHandler()

	result, err := runHandler(context.Background(), h, map[string]any{"a": float64(4), "b": float64(6)})
	require.NoError(t, err)
	assert.Equal(t, float64(10), result)
}
