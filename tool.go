package aikit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// Tool defines an agent capability with one or more tool functions.
type Tool interface {
	Definitions() []ToolDefinition
	Execute(ctx context.Context, name string, args json.RawMessage) (ToolResult, error)
}

// ToolResult is the outcome of a tool execution. A non-empty Error marks a
// declared failure: the run continues and the model sees the error text.
type ToolResult struct {
	Content string `json:"content"`
	Error   string `json:"error,omitempty"`
}

// FuncTool adapts a single function into a Tool.
type FuncTool struct {
	def ToolDefinition
	fn  func(ctx context.Context, args json.RawMessage) (ToolResult, error)
}

// NewFuncTool creates a single-function tool. schema is a JSON Schema for the
// arguments; pass nil to accept anything.
func NewFuncTool(name, description string, schema json.RawMessage, fn func(ctx context.Context, args json.RawMessage) (ToolResult, error)) *FuncTool {
	return &FuncTool{
		def: ToolDefinition{Name: name, Description: description, Parameters: schema},
		fn:  fn,
	}
}

func (t *FuncTool) Definitions() []ToolDefinition { return []ToolDefinition{t.def} }

func (t *FuncTool) Execute(ctx context.Context, _ string, args json.RawMessage) (ToolResult, error) {
	return t.fn(ctx, args)
}

// ToolRegistry holds registered tools and dispatches execution by name.
// It is the engine's Tool Executor: a declared failure (including invalid
// arguments and unknown names) comes back as an error-flagged ToolResult,
// while an unexpected failure comes back as an *ErrToolFailure so the caller
// can abort the run.
type ToolRegistry struct {
	tools []Tool
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{}
}

// Add registers a tool.
func (r *ToolRegistry) Add(t Tool) {
	r.tools = append(r.tools, t)
}

// AllDefinitions returns tool definitions from all registered tools.
func (r *ToolRegistry) AllDefinitions() []ToolDefinition {
	var defs []ToolDefinition
	for _, t := range r.tools {
		defs = append(defs, t.Definitions()...)
	}
	return defs
}

// Has reports whether a tool with the given name is registered.
func (r *ToolRegistry) Has(name string) bool {
	_, _, ok := r.lookup(name)
	return ok
}

func (r *ToolRegistry) lookup(name string) (Tool, ToolDefinition, bool) {
	for _, t := range r.tools {
		for _, d := range t.Definitions() {
			if d.Name == name {
				return t, d, true
			}
		}
	}
	return nil, ToolDefinition{}, false
}

// Execute dispatches a tool call by name against validated arguments.
// A panicking tool is converted into an *ErrToolFailure rather than crashing
// the process.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (res ToolResult, err error) {
	t, def, ok := r.lookup(name)
	if !ok {
		return ToolResult{Error: fmt.Sprintf("%v: %s", ErrUnknownTool, name)}, nil
	}

	if verr := validateArgs(def, args); verr != nil {
		return ToolResult{Error: "invalid arguments: " + verr.Error()}, nil
	}

	defer func() {
		if p := recover(); p != nil {
			res = ToolResult{}
			err = &ErrToolFailure{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	res, err = t.Execute(ctx, name, args)
	if err != nil {
		return ToolResult{}, &ErrToolFailure{Tool: name, Err: err}
	}
	return res, nil
}

// validateArgs checks args against the definition's JSON Schema. A definition
// without a schema accepts anything.
func validateArgs(def ToolDefinition, args json.RawMessage) error {
	if len(def.Parameters) == 0 {
		return nil
	}
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	result, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(def.Parameters),
		gojsonschema.NewBytesLoader(args),
	)
	if err != nil {
		return err
	}
	if !result.Valid() {
		errs := result.Errors()
		if len(errs) > 0 {
			return fmt.Errorf("%s", errs[0].String())
		}
		return fmt.Errorf("arguments do not match schema")
	}
	return nil
}
