// Package agent defines schema-described tools and a permission-checked registry.
package agent

import (
	"context"
)

// Permissions granted to tools.
const (
	PermPlatformRead  = "platform:read"
	PermPlatformWrite = "platform:write"
	PermStoreWrite    = "store:write"
)

// ToolPermission describes a capability a tool requires.
// Example: platform:read, platform:write, store:write
type ToolPermission struct {
	// Name is a stable identifier of the permission.
	Name string `json:"name"`
	// Description explains what the permission allows.
	Description string `json:"description,omitempty"`
}

// ToolDescriptor declares the static interface of a tool.
// InputSchema and OutputSchema are JSON Schemas (draft 2020-12) in UTF-8 bytes.
type ToolDescriptor struct {
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	InputSchema  []byte           `json:"input_schema"`
	OutputSchema []byte           `json:"output_schema"`
	Permissions  []ToolPermission `json:"permissions,omitempty"`
}

// Tool defines a callable unit with schema-validated inputs/outputs and a permission model.
type Tool interface {
	// Describe returns the public descriptor (schemas, permissions).
	Describe() ToolDescriptor
	// Invoke executes the tool with validated args. The args MUST conform to InputSchema.
	// The returned map MUST conform to OutputSchema.
	Invoke(ctx context.Context, args map[string]any) (map[string]any, error)
}

// Allowed builds a permission set, leaving out any names in deny.
func Allowed(grant []string, deny ...string) map[string]bool {
	out := make(map[string]bool, len(grant))
	for _, g := range grant {
		out[g] = true
	}
	for _, d := range deny {
		delete(out, d)
	}
	return out
}
