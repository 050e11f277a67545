package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wilhg/devici-mcp/pkg/agent"
	"github.com/wilhg/devici-mcp/pkg/devici"
	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

const (
	pageProps = `"limit":{"type":"integer","minimum":1,"maximum":100},` +
		`"cursor":{"type":"string"},` +
		`"all":{"type":"boolean","description":"follow every page up to max_items"},` +
		`"max_items":{"type":"integer","minimum":1,"maximum":5000}`
	pageOutput = `{"type":"object","properties":{"items":{"type":"array"},"next_cursor":{"type":"string"},"truncated":{"type":"boolean"}},"required":["items"]}`
	itemOutput = `{"type":"object","properties":{"item":{}},"required":["item"]}`
)

func platformTools(d Deps) []agent.Tool {
	var out []agent.Tool
	for _, r := range devici.Resources {
		out = append(out, listTool(d, r), getTool(d, r))
		if r.Creatable {
			out = append(out, createTool(d, r), updateTool(d, r))
		}
	}
	for _, s := range devici.SubListings {
		out = append(out, subListTool(d, s))
	}
	out = append(out, userTools(d)...)
	return append(out, reportTools(d)...)
}

func listOptions(args map[string]any) devici.ListOptions {
	return devici.ListOptions{
		Limit:    argInt(args, "limit"),
		Cursor:   argString(args, "cursor"),
		MaxItems: argInt(args, "max_items"),
	}
}

func listTool(d Deps, r devici.Resource) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "list_" + r.Name,
			Description:  fmt.Sprintf("List Devici %s. Returns one page unless all is set; pass next_cursor back as cursor to continue.", r.Title),
			InputSchema:  []byte(`{"type":"object","properties":{` + pageProps + `},"additionalProperties":false}`),
			OutputSchema: []byte(pageOutput),
			Permissions:  perms(agent.PermPlatformRead),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			var (
				page devici.Page
				err  error
			)
			if argBool(args, "all") {
				page, err = d.API.ListAll(ctx, r, listOptions(args))
			} else {
				page, err = d.API.List(ctx, r, listOptions(args))
			}
			if err != nil {
				return nil, err
			}
			return object(page)
		},
	}
}

func subListTool(d Deps, s devici.SubListing) agent.Tool {
	in := fmt.Sprintf(`{"type":"object","properties":{%q:{"type":"string","minLength":1},%s},"required":[%q],"additionalProperties":false}`,
		s.Param, pageProps, s.Param)
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "list_" + s.Name,
			Description:  "List Devici " + s.Description + ".",
			InputSchema:  []byte(in),
			OutputSchema: []byte(pageOutput),
			Permissions:  perms(agent.PermPlatformRead),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			page, err := d.API.ListChildren(ctx, s, argString(args, s.Param), listOptions(args), argBool(args, "all"))
			if err != nil {
				return nil, err
			}
			return object(page)
		},
	}
}

func getTool(d Deps, r devici.Resource) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "get_" + r.Singular,
			Description:  fmt.Sprintf("Get one Devici %s by id.", r.Singular),
			InputSchema:  []byte(`{"type":"object","properties":{"id":{"type":"string","minLength":1}},"required":["id"],"additionalProperties":false}`),
			OutputSchema: []byte(itemOutput),
			Permissions:  perms(agent.PermPlatformRead),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			item, err := d.API.Get(ctx, r, argString(args, "id"))
			if err != nil {
				return nil, err
			}
			return map[string]any{"item": item}, nil
		},
	}
}

func dataSchema(r devici.Resource) string {
	if r.Wrapped {
		return `{"type":["object","array"],"description":"one object or a list; sent as {\"payload\": [...]}"}`
	}
	return `{"type":"object"}`
}

func rawData(args map[string]any) (json.RawMessage, error) {
	v, ok := args["data"]
	if !ok {
		return nil, errmodel.Validation("missing_argument", "data is required", nil)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errmodel.Validation("invalid_body", "data cannot be encoded", nil)
	}
	return b, nil
}

func createTool(d Deps, r devici.Resource) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "create_" + r.Singular,
			Description:  fmt.Sprintf("Create a Devici %s from the fields in data.", r.Singular),
			InputSchema:  []byte(`{"type":"object","properties":{"data":` + dataSchema(r) + `},"required":["data"],"additionalProperties":false}`),
			OutputSchema: []byte(itemOutput),
			Permissions:  perms(agent.PermPlatformWrite),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			body, err := rawData(args)
			if err != nil {
				return nil, err
			}
			item, err := d.API.Create(ctx, r, body)
			if err != nil {
				return nil, err
			}
			return map[string]any{"item": item}, nil
		},
	}
}

func updateTool(d Deps, r devici.Resource) agent.Tool {
	required := `["id","data"]`
	if r.Wrapped {
		required = `["data"]`
	}
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:        "update_" + r.Singular,
			Description: fmt.Sprintf("Update a Devici %s with the fields in data.", r.Singular),
			InputSchema: []byte(`{"type":"object","properties":{"id":{"type":"string","minLength":1},"data":` + dataSchema(r) +
				`},"required":` + required + `,"additionalProperties":false}`),
			OutputSchema: []byte(itemOutput),
			Permissions:  perms(agent.PermPlatformWrite),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			body, err := rawData(args)
			if err != nil {
				return nil, err
			}
			item, err := d.API.Update(ctx, r, argString(args, "id"), body)
			if err != nil {
				return nil, err
			}
			return map[string]any{"item": item}, nil
		},
	}
}
