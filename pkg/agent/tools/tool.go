// Package tools implements the devici-mcp tool set on top of the Devici API
// facade and the OTM document store.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/agent"
	"github.com/wilhg/devici-mcp/pkg/devici"
	"github.com/wilhg/devici-mcp/pkg/errmodel"
	"github.com/wilhg/devici-mcp/pkg/otm"
	"github.com/wilhg/devici-mcp/pkg/store"
)

// Deps are the services tools call. A nil API or Store skips the tools that
// need it.
type Deps struct {
	API    *devici.Client
	Store  store.DocumentStore
	Schema *otm.SchemaValidator
	Logger *zap.Logger
}

// funcTool adapts a descriptor and a function to agent.Tool.
type funcTool struct {
	desc agent.ToolDescriptor
	fn   func(ctx context.Context, args map[string]any) (map[string]any, error)
}

func (t funcTool) Describe() agent.ToolDescriptor { return t.desc }

func (t funcTool) Invoke(ctx context.Context, args map[string]any) (map[string]any, error) {
	return t.fn(ctx, args)
}

func perms(names ...string) []agent.ToolPermission {
	out := make([]agent.ToolPermission, len(names))
	for i, n := range names {
		out[i] = agent.ToolPermission{Name: n}
	}
	return out
}

// Register adds every tool d can serve to reg.
func Register(reg *agent.Registry, d Deps) error {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	var all []agent.Tool
	if d.API != nil {
		all = append(all, platformTools(d)...)
	}
	all = append(all, documentTools(d)...)
	all = append(all, overviewTool(reg))
	for _, t := range all {
		if err := reg.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// object returns v as a generic JSON object.
func object(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errmodel.System("encode_failure", "cannot encode tool result", nil, err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, errmodel.System("encode_failure", "cannot encode tool result", nil, err)
	}
	return out, nil
}

func argString(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return strings.TrimSpace(s)
}

func argInt(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func argBool(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

// argDocument reads an OTM document given inline as an object or as JSON or
// YAML text.
func argDocument(args map[string]any, key string) (any, error) {
	switch v := args[key].(type) {
	case map[string]any:
		return v, nil
	case string:
		tree, err := otm.ParseTree([]byte(v))
		if err != nil {
			return nil, errmodel.Validation("invalid_document", "document is neither JSON nor YAML", map[string]any{"error": err.Error()})
		}
		return tree, nil
	case nil:
		return nil, errmodel.Validation("missing_argument", key+" is required", nil)
	default:
		return nil, errmodel.Validation("invalid_document", fmt.Sprintf("%s must be an object or a string, got %T", key, v), nil)
	}
}

// storeError maps store failures into compact errors.
func storeError(err error, name string) error {
	if errors.Is(err, store.ErrNotFound) {
		return errmodel.Validation("not_found", "no saved document with that name or version", map[string]any{"name": name})
	}
	if errors.Is(err, store.ErrInvalid) {
		return errmodel.Validation("invalid_argument", err.Error(), map[string]any{"name": name})
	}
	var ce *errmodel.Error
	if errors.As(err, &ce) {
		return ce
	}
	return errmodel.System("store_failure", "document store failed", map[string]any{"name": name}, err)
}
