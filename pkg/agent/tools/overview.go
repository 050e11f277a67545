package tools

import (
	"context"
	"strings"

	"github.com/wilhg/devici-mcp/pkg/agent"
)

const overviewText = `Devici MCP server.

Platform tools read and write Devici objects: users, collections, threat models,
components, threats, mitigations and teams. Listings return one page; pass
next_cursor back as cursor, or set all to follow every page.

Typical flow:
  1. list_collections to find a collection id.
  2. list_threat_models_by_collection, then get_threat_model.
  3. export_threat_model_otm to download a model as Open Threat Model (OTM).

search_users finds users by a field; invite_user sends an invitation.

get_dashboard_types, get_dashboard_data and get_threat_models_report read
dashboard charts and reports.

OTM tools:
  validate_otm    check a document and list every issue with its path
  save_otm        validate and store a version under a name
  load_otm        read a stored version (latest by default)
  list_saved_otm  list stored names or the versions of one name
  diff_otm        line diff between two stored versions
  import_otm      validate and import a document into a collection
  export_and_save_otm  export a threat model and save it when valid

Invalid documents are never saved or imported. Exports are returned even when
they have issues.`

func overviewTool(reg *agent.Registry) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "devici_overview",
			Description:  "Explain what this server does and list the available tools.",
			InputSchema:  []byte(`{"type":"object","properties":{},"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"overview":{"type":"string"},"tools":{"type":"array","items":{"type":"string"}}},"required":["overview","tools"]}`),
		},
		fn: func(context.Context, map[string]any) (map[string]any, error) {
			names := reg.Names()
			tools := make([]any, len(names))
			for i, n := range names {
				tools[i] = n
			}
			return map[string]any{"overview": strings.TrimSpace(overviewText), "tools": tools}, nil
		},
	}
}
