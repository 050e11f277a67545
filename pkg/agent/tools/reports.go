package tools

import (
	"context"

	"github.com/wilhg/devici-mcp/pkg/agent"
	"github.com/wilhg/devici-mcp/pkg/devici"
)

const dateRangeProps = `"start":{"type":"string","description":"start date, e.g. 2024-01-01"},` +
	`"end":{"type":"string","description":"end date"}`

func reportTools(d Deps) []agent.Tool {
	return []agent.Tool{
		funcTool{
			desc: agent.ToolDescriptor{
				Name:         "get_dashboard_types",
				Description:  "List the Devici dashboard chart types accepted by get_dashboard_data.",
				InputSchema:  []byte(`{"type":"object","properties":{},"additionalProperties":false}`),
				OutputSchema: []byte(itemOutput),
				Permissions:  perms(agent.PermPlatformRead),
			},
			fn: func(ctx context.Context, _ map[string]any) (map[string]any, error) {
				item, err := d.API.DashboardTypes(ctx)
				if err != nil {
					return nil, err
				}
				return map[string]any{"item": item}, nil
			},
		},
		funcTool{
			desc: agent.ToolDescriptor{
				Name:        "get_dashboard_data",
				Description: "Get the data behind one Devici dashboard chart.",
				InputSchema: []byte(`{"type":"object","properties":{"chart_type":{"type":"string","minLength":1},` +
					`"limit":{"type":"integer","minimum":1,"maximum":100},"page":{"type":"integer","minimum":0},` +
					`"project_id":{"type":"string"},` + dateRangeProps + `},"required":["chart_type"],"additionalProperties":false}`),
				OutputSchema: []byte(itemOutput),
				Permissions:  perms(agent.PermPlatformRead),
			},
			fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				item, err := d.API.DashboardData(ctx, devici.DashboardQuery{
					ChartType: argString(args, "chart_type"),
					Limit:     argInt(args, "limit"),
					Page:      argInt(args, "page"),
					Start:     argString(args, "start"),
					End:       argString(args, "end"),
					ProjectID: argString(args, "project_id"),
				})
				if err != nil {
					return nil, err
				}
				return map[string]any{"item": item}, nil
			},
		},
		funcTool{
			desc: agent.ToolDescriptor{
				Name:         "get_threat_models_report",
				Description:  "Get the Devici threat models report, optionally for a date range.",
				InputSchema:  []byte(`{"type":"object","properties":{` + dateRangeProps + `},"additionalProperties":false}`),
				OutputSchema: []byte(itemOutput),
				Permissions:  perms(agent.PermPlatformRead),
			},
			fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
				item, err := d.API.ThreatModelsReport(ctx, argString(args, "start"), argString(args, "end"))
				if err != nil {
					return nil, err
				}
				return map[string]any{"item": item}, nil
			},
		},
	}
}
