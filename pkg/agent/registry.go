package agent

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

// Registry keeps tools by name. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	validate ValidateFunc
}

// NewRegistry returns an empty registry validating with a schema cache.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}, validate: NewCachedValidator()}
}

// Register registers a Tool by its descriptor name. Schemas are compiled once
// here so a broken descriptor fails at startup.
func (r *Registry) Register(t Tool) error {
	if t == nil {
		return fmt.Errorf("tool is nil")
	}
	d := t.Describe()
	if d.Name == "" {
		return fmt.Errorf("tool name is empty")
	}
	if err := CompileJSONSchema(d.InputSchema); err != nil {
		return fmt.Errorf("tool %q input schema: %w", d.Name, err)
	}
	if err := CompileJSONSchema(d.OutputSchema); err != nil {
		return fmt.Errorf("tool %q output schema: %w", d.Name, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("tool %q already registered", d.Name)
	}
	r.tools[d.Name] = t
	return nil
}

// Resolve returns a Tool by name.
func (r *Registry) Resolve(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists registered tool names in ascending order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Permitted lists the tools whose every permission is in allowed, by name.
func (r *Registry) Permitted(allowed map[string]bool) []Tool {
	var out []Tool
	for _, n := range r.Names() {
		t, _ := r.Resolve(n)
		ok := true
		for _, p := range t.Describe().Permissions {
			if !allowed[p.Name] {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, t)
		}
	}
	return out
}

// Invoke resolves name and runs it through SafeInvoke.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any, allowed map[string]bool) (map[string]any, error) {
	t, ok := r.Resolve(name)
	if !ok {
		return nil, errmodel.Validation("not_found", "tool not found", map[string]any{"tool": name})
	}
	return SafeInvoke(ctx, t, args, allowed, r.validate)
}

// SafeInvoke validates input against the tool's schema, invokes it, and validates output.
// Permission checks are passed in by the caller via allowed set; missing permissions cause a policy error.
func SafeInvoke(ctx context.Context, t Tool, args map[string]any, allowed map[string]bool, validate ValidateFunc) (map[string]any, error) {
	if t == nil {
		return nil, errmodel.Validation("bad_tool", "tool is nil", nil)
	}
	if validate == nil {
		validate = JSONSchemaValidator
	}
	if args == nil {
		args = map[string]any{}
	}
	d := t.Describe()
	// permissions
	for _, p := range d.Permissions {
		if !allowed[p.Name] {
			return nil, errmodel.Policy("forbidden", "permission denied for tool", map[string]any{"permission": p.Name, "tool": d.Name})
		}
	}
	if err := validate(d.InputSchema, args); err != nil {
		return nil, errmodel.Validation("invalid_input", "tool input validation failed", map[string]any{"tool": d.Name, "error": err.Error()})
	}
	out, err := t.Invoke(ctx, args)
	if err != nil {
		return nil, err
	}
	if err := validate(d.OutputSchema, out); err != nil {
		return nil, errmodel.Validation("invalid_output", "tool output validation failed", map[string]any{"tool": d.Name, "error": err.Error()})
	}
	return out, nil
}
