package tools

import (
	"context"

	"github.com/wilhg/devici-mcp/pkg/agent"
	"github.com/wilhg/devici-mcp/pkg/devici"
)

func userTools(d Deps) []agent.Tool {
	return []agent.Tool{
		funcTool{
			desc: agent.ToolDescriptor{
				Name:        "search_users",
				Description: "Search Devici users where field (e.g. email, firstName) matches text.",
				InputSchema: []byte(`{"type":"object","properties":{"field":{"type":"string","minLength":1},"text":{"type":"string","minLength":1}},` +
					`"required":["field","text"],"additionalProperties":false}`),
				OutputSchema: []byte(itemOutput),
				Permissions:  perms(agent.PermPlatformRead),
			},
			fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				item, err := d.API.SearchUsers(ctx, argString(args, "field"), argString(args, "text"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"item": item}, nil
			},
		},
		funcTool{
			desc: agent.ToolDescriptor{
				Name:        "invite_user",
				Description: "Invite a new user to Devici by email with the given role.",
				InputSchema: []byte(`{"type":"object","properties":{"email":{"type":"string","minLength":3},` +
					`"first_name":{"type":"string"},"last_name":{"type":"string"},"role":{"type":"string","minLength":1}},` +
					`"required":["email","first_name","last_name","role"],"additionalProperties":false}`),
				OutputSchema: []byte(itemOutput),
				Permissions:  perms(agent.PermPlatformWrite),
			},
			fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				item, err := d.API.InviteUser(ctx, devici.Invitation{
					Email:     argString(args, "email"),
					FirstName: argString(args, "first_name"),
					LastName:  argString(args, "last_name"),
					Role:      argString(args, "role"),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"item": item}, nil
			},
		},
	}
}
