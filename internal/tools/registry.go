// Package tools provides the tool contract and a thread-safe registry
// for the tools the assistant can invoke during a chat turn. Tools are
// registered by name and looked up at runtime when the model requests a
// call; every execution goes through the invocation gateway, never
// directly to a tool.
package tools

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// Tool is the interface all assistant tools must implement. Execute
// receives the model-supplied arguments already validated against
// InputSchema.
type Tool interface {
	Name() string
	Description() string
	InputSchema() json.RawMessage
	Execute(ctx context.Context, params json.RawMessage) (json.RawMessage, error)
}

// Registry manages registered tools. Thread-safe for concurrent access.
type Registry struct {
	tools map[string]Tool
	mu    sync.RWMutex
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, exists := r.tools[name]
	return tool, exists
}

// List returns all registered tools sorted by name, so the tool
// definitions sent to the model are stable across requests.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}
