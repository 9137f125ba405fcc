// Package tools defines the tool registry the agent dispatches model
// tool calls through.
package tools

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/nugget/blockwright/internal/apperr"
	"github.com/nugget/blockwright/internal/llm"
)

// Handler executes a tool with decoded arguments.
type Handler func(ctx context.Context, args map[string]any) (Outcome, error)

// Tool is a callable capability exposed to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any

	// Catalog groups tools for listing ("content", "editor", "site", "agent").
	Catalog string

	Handler Handler
}

// Definition returns the provider-facing description of t.
func (t *Tool) Definition() llm.ToolDefinition {
	schema := t.InputSchema
	if schema == nil {
		schema = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.ToolDefinition{Name: t.Name, Description: t.Description, InputSchema: schema}
}

// Registry holds available tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// RegisterAll adds every tool in catalog.
func (r *Registry) RegisterAll(catalog []*Tool) {
	for _, t := range catalog {
		r.Register(t)
	}
}

// Get retrieves a tool by name, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Names returns every registered tool name, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.tools))
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// Definitions returns the catalog sent to the model, sorted by name so
// the request is stable across calls.
func (r *Registry) Definitions() []llm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]llm.ToolDefinition, 0, len(r.tools))
	for _, name := range slices.Sorted(maps.Keys(r.tools)) {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// FilteredCopy returns a new registry holding only the named tools.
// Names that are not registered are skipped. The copy shares Tool
// values with r but not the map, so registering into it does not
// affect r.
func (r *Registry) FilteredCopy(names []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			out.tools[n] = t
		}
	}
	return out
}

// FilteredCopyExcluding returns a new registry holding every tool
// except the named ones.
func (r *Registry) FilteredCopyExcluding(exclude []string) *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := NewRegistry()
	for n, t := range r.tools {
		if !slices.Contains(exclude, n) {
			out.tools[n] = t
		}
	}
	return out
}

// Execute runs a tool by name. Unknown tools yield [*ErrToolUnavailable];
// arguments missing a field listed as required by the input schema
// yield a validation error. Handler errors are returned unchanged.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any) (Outcome, error) {
	t := r.Get(name)
	if t == nil {
		return nil, &apperr.Error{Kind: apperr.KindNotFound, Err: &ErrToolUnavailable{ToolName: name}}
	}
	if args == nil {
		args = map[string]any{}
	}
	if missing := missingRequired(t.InputSchema, args); len(missing) > 0 {
		return nil, apperr.Validation("%s: missing required argument(s): %v", name, missing)
	}
	return t.Handler(ctx, args)
}

func missingRequired(schema map[string]any, args map[string]any) []string {
	var required []string
	switch v := schema["required"].(type) {
	case []string:
		required = v
	case []any:
		for _, x := range v {
			if s, ok := x.(string); ok {
				required = append(required, s)
			}
		}
	}
	var missing []string
	for _, k := range required {
		if val, ok := args[k]; !ok || val == nil {
			missing = append(missing, k)
		}
	}
	return missing
}
