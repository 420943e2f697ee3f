// Package tools provides the tool registry the tool-runner agent invokes by name.
package tools

import (
	"context"
	"fmt"
)

// Param describes one positional argument of a tool.
type Param struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"optional,omitempty"`
}

// Tool is the interface all tools implement. Arguments are positional, in
// the order published by Parameters.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Param
	Execute(ctx context.Context, args []any) (any, error)
}

// ToSchema returns a JSON-friendly description of a tool.
func ToSchema(t Tool) map[string]any {
	params := t.Parameters()
	if params == nil {
		params = []Param{}
	}
	return map[string]any{
		"name":        t.Name(),
		"description": t.Description(),
		"parameters":  params,
	}
}

// Func adapts a plain function to the Tool interface.
type Func struct {
	ToolName string
	Desc     string
	Params   []Param
	Fn       func(ctx context.Context, args []any) (any, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }
func (f *Func) Parameters() []Param { return f.Params }

func (f *Func) Execute(ctx context.Context, args []any) (any, error) {
	if f.Fn == nil {
		return nil, fmt.Errorf("tool %s has no implementation", f.ToolName)
	}
	if err := checkArgs(f, args); err != nil {
		return nil, err
	}
	return f.Fn(ctx, args)
}

// checkArgs verifies that args carries every required parameter.
func checkArgs(t Tool, args []any) error {
	required := 0
	for _, p := range t.Parameters() {
		if !p.Optional {
			required++
		}
	}
	if len(args) < required {
		return fmt.Errorf("%s expects %d argument(s), got %d", t.Name(), required, len(args))
	}
	return nil
}

// stringArg returns args[i] as a string. Missing optional arguments yield "".
func stringArg(args []any, i int, name string) (string, error) {
	if i >= len(args) || args[i] == nil {
		return "", nil
	}
	s, ok := args[i].(string)
	if !ok {
		return "", fmt.Errorf("argument %s must be a string, got %T", name, args[i])
	}
	return s, nil
}
