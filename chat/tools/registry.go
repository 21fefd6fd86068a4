// Package tools provides the registry of tools offered to the model during a
// send, pairing each JSON-schema definition with an executor. The tool set is
// fixed per session; the orchestration loop consults the registry to dispatch
// the model's tool calls and converts unknown names into error results.
package tools

import (
	"context"
	"sync"

	"github.com/parley-chat/parley/llm/types"
)

// Executor runs a tool with parsed arguments and returns its output.
type Executor func(ctx context.Context, args map[string]any) (string, error)

// RegisteredTool pairs a definition with its executor.
type RegisteredTool struct {
	Definition types.ToolDefinition
	Execute    Executor
}

// Registry maps tool names to registered tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	order []string
	tools map[string]*RegisteredTool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*RegisteredTool)}
}

// Register adds a tool. A tool with the same name is silently replaced.
func (r *Registry) Register(tool *RegisteredTool) {
	if tool == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.Definition.Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

// Get returns the registered tool with the given name, or nil.
func (r *Registry) Get(name string) *RegisteredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions in registration order, suitable
// for inclusion in a chat request.
func (r *Registry) Definitions() []types.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition)
	}
	return defs
}

// Names returns all registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
