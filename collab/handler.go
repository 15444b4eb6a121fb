package collab

import (
	"context"
	"errors"
	"fmt"

	"github.com/hupe1980/localmesh/internal/util"
)

// TaskHandler executes one task type on behalf of a registered agent. The
// client SDK routes task-assigned events to the handler whose Name matches
// the task type, validates the task payload against the handler's parameter
// schema, and reports progress back to the server automatically.
//
// Implementations must be safe for concurrent use; a busy agent can run
// several assignments at once.
type TaskHandler interface {
	// Name returns the task type this handler executes.
	Name() string

	// Description returns a short human-readable summary of the handler.
	Description() string

	// Parameters returns a JSON-schema-shaped map describing the accepted
	// task payload. Only the subset checked by the validator is needed
	// (type, properties, required).
	Parameters() map[string]any

	// Handle executes the task with an already-validated payload and
	// returns the result delivered via the completion report.
	Handle(ctx context.Context, params map[string]any) (any, error)
}

// HandlerError carries a categorized task handler failure.
type HandlerError struct {
	Handler string `json:"handler"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

func (e *HandlerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("handler error [%s] in %s: %s", e.Code, e.Handler, e.Message)
	}
	return fmt.Sprintf("handler error in %s: %s", e.Handler, e.Message)
}

// NewHandlerError creates a HandlerError with the given categorization code.
func NewHandlerError(handler, message, code string) *HandlerError {
	return &HandlerError{Handler: handler, Message: message, Code: code}
}

// FuncHandler adapts a plain Go function into a TaskHandler.
//
// Example:
//
//	sum := collab.NewFuncHandler(
//	  "calculate_sum",
//	  "Calculate the sum of two numbers",
//	  map[string]any{
//	    "type": "object",
//	    "properties": map[string]any{
//	      "a": map[string]any{"type": "number"},
//	      "b": map[string]any{"type": "number"},
//	    },
//	    "required": []string{"a", "b"},
//	  },
//	  func(ctx context.Context, params map[string]any) (any, error) {
//	    return params["a"].(float64) + params["b"].(float64), nil
//	  },
//	)
type FuncHandler struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, params map[string]any) (any, error)
}

// NewFuncHandler constructs a FuncHandler from an explicit parameter schema.
// A nil schema accepts any payload.
func NewFuncHandler(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, params map[string]any) (any, error),
) *FuncHandler {
	if parameters == nil {
		parameters = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return &FuncHandler{
		name:        name,
		description: description,
		parameters:  parameters,
		fn:          fn,
	}
}

// NewFuncHandlerFromStruct derives the parameter schema from a struct via
// reflection, equivalent to util.CreateSchema(structType).
//
// Example:
//
//	type SummarizeParams struct {
//	  Text     string `json:"text" description:"Text to summarize"`
//	  MaxWords int    `json:"maxWords,omitempty"`
//	}
//
//	h := collab.NewFuncHandlerFromStruct(
//	  "summarize",
//	  "Summarize a piece of text",
//	  SummarizeParams{},
//	  summarizeFn,
//	)
func NewFuncHandlerFromStruct(
	name, description string,
	structType any,
	fn func(ctx context.Context, params map[string]any) (any, error),
) *FuncHandler {
	return NewFuncHandler(name, description, util.CreateSchema(structType), fn)
}

// Name returns the task type this handler executes.
func (h *FuncHandler) Name() string { return h.name }

// Description returns the handler summary.
func (h *FuncHandler) Description() string { return h.description }

// Parameters returns the declared payload schema.
func (h *FuncHandler) Parameters() map[string]any { return h.parameters }

// Handle invokes the wrapped function.
func (h *FuncHandler) Handle(ctx context.Context, params map[string]any) (any, error) {
	return h.fn(ctx, params)
}

// runHandler validates params against the handler schema and executes it,
// normalizing failures to *HandlerError. Validation failures carry code
// VALIDATION_ERROR, execution failures EXECUTION_ERROR; a *HandlerError
// returned by the handler itself passes through unchanged.
func runHandler(ctx context.Context, h TaskHandler, params map[string]any) (any, error) {
	if err := util.ValidateParameters(params, h.Parameters()); err != nil {
		return nil, &HandlerError{
			Handler: h.Name(),
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    "VALIDATION_ERROR",
			Details: err,
		}
	}

	result, err := h.Handle(ctx, params)
	if err != nil {
		var handlerErr *HandlerError
		if errors.As(err, &handlerErr) {
			return nil, handlerErr
		}
		return nil, &HandlerError{
			Handler: h.Name(),
			Message: err.Error(),
			Code:    "EXECUTION_ERROR",
		}
	}

	return result, nil
}
