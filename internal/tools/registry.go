// Package tools implements spec.md §4.4's catalog of built-in tools and a
// Registry satisfying internal/toolloop's Tool/Registry interfaces. Tools
// close over whatever shared context they need (memory manager, scheduler
// handle, identity manager, safety checker) supplied at construction — no
// tool reaches for a global.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/skynetai/skynet/internal/providers"
)

// Tool is the capability every built-in implements. Its method set matches
// internal/toolloop.Tool exactly, so any Tool value satisfies that
// interface without this package importing toolloop.
type Tool interface {
	Name() string
	Description() string
	InputSchema() []byte
	Execute(ctx context.Context, input []byte) (content string, isError bool)
}

// Registry holds every registered tool and validates input against each
// tool's declared JSON Schema before Execute runs. Grounded on
// pkg/pluginsdk/validation.go's compile-once/cache-by-schema-text pattern.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool

	schemaMu    sync.Mutex
	schemaCache map[string]*jsonschema.Schema
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:       make(map[string]Tool),
		schemaCache: make(map[string]*jsonschema.Schema),
	}
}

// Register adds a tool, keyed by its Name(). A later call with the same
// name replaces the earlier registration.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns a wrapper that validates input against the tool's schema
// before delegating to Execute. It returns this package's Tool type, so
// Registry reaches internal/toolloop.Registry through the runtime's adapter.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return &validatingTool{registry: r, tool: t}, true
}

// Defs renders every registered tool's definition for the provider's function-calling surface.
func (r *Registry) Defs() []providers.ToolDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDef, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, providers.ToolDef{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: json.RawMessage(t.InputSchema()),
		})
	}
	return defs
}

// validatingTool wraps a registered Tool, rejecting input that fails its
// declared schema before Execute ever sees it.
type validatingTool struct {
	registry *Registry
	tool     Tool
}

func (v *validatingTool) Name() string        { return v.tool.Name() }
func (v *validatingTool) Description() string { return v.tool.Description() }
func (v *validatingTool) InputSchema() []byte  { return v.tool.InputSchema() }

func (v *validatingTool) Execute(ctx context.Context, input []byte) (string, bool) {
	if err := v.registry.validate(v.tool, input); err != nil {
		return fmt.Sprintf("invalid input: %v", err), true
	}
	return v.tool.Execute(ctx, input)
}

func (r *Registry) validate(t Tool, input []byte) error {
	schema, err := r.compile(t.Name(), t.InputSchema())
	if err != nil {
		return err
	}
	var decoded any
	if len(input) == 0 {
		decoded = map[string]any{}
	} else if err := json.Unmarshal(input, &decoded); err != nil {
		return fmt.Errorf("decode input: %w", err)
	}
	return schema.Validate(decoded)
}

func (r *Registry) compile(name string, raw []byte) (*jsonschema.Schema, error) {
	key := name + ":" + string(raw)
	r.schemaMu.Lock()
	defer r.schemaMu.Unlock()
	if cached, ok := r.schemaCache[key]; ok {
		return cached, nil
	}
	compiled, err := jsonschema.CompileString(name+".schema.json", string(raw))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", name, err)
	}
	r.schemaCache[key] = compiled
	return compiled, nil
}
