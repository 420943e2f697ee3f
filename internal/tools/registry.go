package tools

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrToolNotFound is returned by Invoke for names nobody registered.
var ErrToolNotFound = errors.New("tool not found")

// ExecutionError wraps a failure raised by a tool itself.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Registry resolves tool names to tools and invokes them.
type Registry interface {
	Lookup(name string) (Tool, bool)
	Invoke(ctx context.Context, name string, args []any) (any, error)
	Names() []string
}

// MapRegistry holds all registered tools, keyed by name.
type MapRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *MapRegistry {
	r := &MapRegistry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds a tool, replacing any tool with the same name.
func (r *MapRegistry) Register(tool Tool) {
	if tool == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Lookup returns the tool registered under name.
func (r *MapRegistry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names, sorted.
func (r *MapRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// All returns all registered tools in name order.
func (r *MapRegistry) All() []Tool {
	names := r.Names()
	result := make([]Tool, 0, len(names))
	for _, name := range names {
		if t, ok := r.Lookup(name); ok {
			result = append(result, t)
		}
	}
	return result
}

// Schemas returns descriptions of all registered tools.
func (r *MapRegistry) Schemas() []map[string]any {
	tools := r.All()
	schemas := make([]map[string]any, len(tools))
	for i, t := range tools {
		schemas[i] = ToSchema(t)
	}
	return schemas
}

// Invoke runs the named tool. Unknown names wrap ErrToolNotFound; failures
// raised by the tool, panics included, come back as *ExecutionError.
func (r *MapRegistry) Invoke(ctx context.Context, name string, args []any) (result any, err error) {
	tool, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: tool '%s' not found in registry", ErrToolNotFound, name)
	}
	defer func() {
		if p := recover(); p != nil {
			result, err = nil, &ExecutionError{Tool: name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()
	result, err = tool.Execute(ctx, args)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}
	return result, nil
}
