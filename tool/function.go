package tool

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/hupe1980/agenthub/internal/util"
	"github.com/hupe1980/agenthub/logging"
)

// Func is the implementation signature wrapped by FunctionTool.
type Func func(tc *CallContext, args map[string]any) (any, error)

// FunctionTool exposes a plain Go function as a Tool.
//
// Before invoking the function it fills in parameter defaults and validates
// the arguments against the schema derived from its metadata. Failures are
// normalized to *ToolError:
//
//	*ToolError returned by fn  -> forwarded unchanged
//	schema / argument mismatch -> Code VALIDATION_ERROR
//	any other error            -> Code EXECUTION_ERROR
//
// A FunctionTool has no mutable state after construction and is safe for
// concurrent use.
type FunctionTool struct {
	meta   Metadata
	schema map[string]any
	fn     Func
}

// NewFunctionTool constructs a FunctionTool from metadata and an implementation.
//
// Example:
//
//	sum := NewFunctionTool(Metadata{
//	  Name:        "sum",
//	  Description: "Add two numbers",
//	  Parameters: []Parameter{
//	    {Name: "a", Type: "number", Required: true},
//	    {Name: "b", Type: "number", Required: true},
//	  },
//	}, func(tc *CallContext, args map[string]any) (any, error) {
//	  return args["a"].(float64) + args["b"].(float64), nil
//	})
func NewFunctionTool(meta Metadata, fn Func) *FunctionTool {
	meta = meta.withDefaults()
	return &FunctionTool{
		meta:   meta,
		schema: meta.Schema(),
		fn:     fn,
	}
}

// NewFunctionToolFromStruct derives the parameter list from a struct using
// the same reflection rules as util.CreateSchema. Parameters are ordered by name.
func NewFunctionToolFromStruct(meta Metadata, structType any, fn Func) *FunctionTool {
	schema := util.CreateSchema(structType)

	required := map[string]bool{}
	if req, ok := schema["required"].([]string); ok {
		for _, r := range req {
			required[r] = true
		}
	}

	props, _ := schema["properties"].(map[string]any)
	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	meta.Parameters = make([]Parameter, 0, len(names))
	for _, name := range names {
		prop, _ := props[name].(map[string]any)
		typ, _ := prop["type"].(string)
		desc, _ := prop["description"].(string)
		meta.Parameters = append(meta.Parameters, Parameter{
			Name:        name,
			Type:        typ,
			Description: desc,
			Required:    required[name],
		})
	}
	return NewFunctionTool(meta, fn)
}

// Metadata returns the tool metadata with defaults applied.
func (t *FunctionTool) Metadata() Metadata { return t.meta }

// Call applies defaults, validates args and invokes the wrapped function.
func (t *FunctionTool) Call(tc *CallContext, args map[string]any) (any, error) {
	logger := logging.With(tc.Logger(), "fc_id", tc.FunctionCallID())
	start := time.Now()

	args = t.applyDefaults(args)

	if err := util.ValidateParameters(args, t.schema); err != nil {
		logger.Warn("tool.call.validation_failed", logging.KeyError, err.Error())
		return nil, &ToolError{
			Tool:    t.meta.Name,
			Message: fmt.Sprintf("parameter validation failed: %v", err),
			Code:    CodeValidation,
			Details: err,
		}
	}

	result, err := t.fn(tc, args)
	if err != nil {
		var toolErr *ToolError
		if errors.As(err, &toolErr) {
			logging.LogToolCall(logger, t.meta.Name, time.Since(start), toolErr)
			return nil, toolErr
		}

		logging.LogToolCall(logger, t.meta.Name, time.Since(start), err)
		return nil, &ToolError{
			Tool:    t.meta.Name,
			Message: err.Error(),
			Code:    CodeExecution,
		}
	}

	logging.LogToolCall(logger, t.meta.Name, time.Since(start), nil)
	return result, nil
}

func (t *FunctionTool) applyDefaults(args map[string]any) map[string]any {
	out := make(map[string]any, len(args)+len(t.meta.Parameters))
	for k, v := range args {
		out[k] = v
	}
	for _, p := range t.meta.Parameters {
		if _, ok := out[p.Name]; !ok && p.Default != nil {
			out[p.Name] = p.Default
		}
	}
	return out
}
