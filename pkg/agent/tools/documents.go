package tools

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/agent"
	"github.com/wilhg/devici-mcp/pkg/errmodel"
	"github.com/wilhg/devici-mcp/pkg/otm"
	"github.com/wilhg/devici-mcp/pkg/store"
)

const documentProp = `"document":{"type":["object","string"],"description":"OTM document as an object, or JSON or YAML text"}`

func documentTools(d Deps) []agent.Tool {
	out := []agent.Tool{validateTool(d)}
	if d.Store != nil {
		out = append(out, saveTool(d), loadTool(d), listSavedTool(d), diffTool(d))
	}
	if d.API != nil {
		out = append(out, exportTool(d), importTool(d))
	}
	if d.API != nil && d.Store != nil {
		out = append(out, exportAndSaveTool(d))
	}
	return out
}

func (d Deps) check(tree any) []otm.Issue {
	issues := otm.ValidateWith(tree, d.Schema)
	if issues == nil {
		issues = []otm.Issue{}
	}
	return issues
}

func validateTool(d Deps) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "validate_otm",
			Description:  "Validate an Open Threat Model document and report every issue with its JSON pointer path.",
			InputSchema:  []byte(`{"type":"object","properties":{` + documentProp + `},"required":["document"],"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"valid":{"type":"boolean"},"issues":{"type":"array"}},"required":["valid","issues"]}`),
		},
		fn: func(_ context.Context, args map[string]any) (map[string]any, error) {
			tree, err := argDocument(args, "document")
			if err != nil {
				return nil, err
			}
			issues := d.check(tree)
			return object(map[string]any{"valid": len(issues) == 0, "issues": issues})
		},
	}
}

// save validates tree and stores it; invalid documents are refused.
func (d Deps) save(ctx context.Context, name string, tree any) (store.Record, error) {
	if issues := d.check(tree); len(issues) > 0 {
		return store.Record{}, otm.InvalidError(issues)
	}
	b, err := json.Marshal(tree)
	if err != nil {
		return store.Record{}, errmodel.Validation("invalid_document", "document cannot be encoded", nil)
	}
	rec, err := d.Store.Save(ctx, name, b)
	if err != nil {
		return store.Record{}, storeError(err, name)
	}
	d.Logger.Info("otm document saved",
		zap.String("name", rec.Name),
		zap.Int("version", rec.Version),
		zap.String("checksum", rec.Checksum),
	)
	return rec, nil
}

func recordSummary(rec store.Record) map[string]any {
	return map[string]any{
		"id":         rec.ID,
		"name":       rec.Name,
		"version":    rec.Version,
		"checksum":   rec.Checksum,
		"created_at": rec.CreatedAt,
	}
}

func saveTool(d Deps) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "save_otm",
			Description:  "Validate an OTM document and save it as the next version of name. Saving unchanged content keeps the current version.",
			InputSchema:  []byte(`{"type":"object","properties":{"name":{"type":"string","minLength":1,"maxLength":200},` + documentProp + `},"required":["name","document"],"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"name":{"type":"string"},"version":{"type":"integer"}},"required":["name","version","checksum"]}`),
			Permissions:  perms(agent.PermStoreWrite),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			tree, err := argDocument(args, "document")
			if err != nil {
				return nil, err
			}
			rec, err := d.save(ctx, argString(args, "name"), tree)
			if err != nil {
				return nil, err
			}
			return object(recordSummary(rec))
		},
	}
}

func loadTool(d Deps) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "load_otm",
			Description:  "Load a saved OTM document. Omit version for the latest.",
			InputSchema:  []byte(`{"type":"object","properties":{"name":{"type":"string","minLength":1},"version":{"type":"integer","minimum":1}},"required":["name"],"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"document":{"type":"object"}},"required":["name","version","document"]}`),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			name := argString(args, "name")
			rec, err := d.Store.Get(ctx, name, argInt(args, "version"))
			if err != nil {
				return nil, storeError(err, name)
			}
			out := recordSummary(rec)
			out["document"] = rec.Data
			return object(out)
		},
	}
}

func listSavedTool(d Deps) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "list_saved_otm",
			Description:  "List saved OTM document names, or the versions of one name.",
			InputSchema:  []byte(`{"type":"object","properties":{"name":{"type":"string"}},"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"names":{"type":"array","items":{"type":"string"}},"versions":{"type":"array"}}}`),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			if name := argString(args, "name"); name != "" {
				versions, err := d.Store.Versions(ctx, name)
				if err != nil {
					return nil, storeError(err, name)
				}
				return object(map[string]any{"name": name, "versions": versions})
			}
			names, err := d.Store.Names(ctx)
			if err != nil {
				return nil, storeError(err, "")
			}
			return object(map[string]any{"names": names})
		},
	}
}

func diffTool(d Deps) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "diff_otm",
			Description:  "Show a line diff between two saved versions of an OTM document. to defaults to the latest version.",
			InputSchema:  []byte(`{"type":"object","properties":{"name":{"type":"string","minLength":1},"from":{"type":"integer","minimum":1},"to":{"type":"integer","minimum":1}},"required":["name","from"],"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"changed":{"type":"boolean"},"diff":{"type":"string"}},"required":["changed","diff"]}`),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			name := argString(args, "name")
			diff, err := store.Diff(ctx, d.Store, name, argInt(args, "from"), argInt(args, "to"))
			if err != nil {
				return nil, storeError(err, name)
			}
			return map[string]any{"changed": diff != "", "diff": diff}, nil
		},
	}
}

const exportOutput = `{"type":"object","properties":{"valid":{"type":"boolean"},"issues":{"type":"array"}},"required":["threat_model_id","document","valid","issues"]}`

// export downloads a threat model and validates it with the same checks the
// save and import gates apply.
func (d Deps) export(ctx context.Context, threatModelID string) (map[string]any, error) {
	exp, err := d.API.ExportOTM(ctx, threatModelID)
	if err != nil {
		return nil, err
	}
	if d.Schema != nil {
		tree, err := otm.ParseTree(exp.Document)
		if err != nil {
			return nil, errmodel.API(errmodel.KindTransport, "export is not a JSON document", 0, nil, err)
		}
		exp.Issues = d.check(tree)
		exp.Valid = len(exp.Issues) == 0
	}
	return object(exp)
}

func exportTool(d Deps) agent.Tool {
	return funcTool{
		desc: agent.ToolDescriptor{
			Name:         "export_threat_model_otm",
			Description:  "Export a Devici threat model as OTM. Validation issues are reported but do not block the export.",
			InputSchema:  []byte(`{"type":"object","properties":{"threat_model_id":{"type":"string","minLength":1}},"required":["threat_model_id"],"additionalProperties":false}`),
			OutputSchema: []byte(exportOutput),
			Permissions:  perms(agent.PermPlatformRead),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			return d.export(ctx, argString(args, "threat_model_id"))
		},
	}
}

func exportAndSaveTool(d Deps) agent.Tool {
	props := `"threat_model_id":{"type":"string","minLength":1},"save_as":{"type":"string","minLength":1,"maxLength":200}`
	return funcTool{
		desc: agent.ToolDescriptor{
			Name: "export_and_save_otm",
			Description: "Export a Devici threat model as OTM and, if it is valid, save it to the document store as the next version of save_as. " +
				"An invalid export is returned with its issues and not saved.",
			InputSchema:  []byte(`{"type":"object","properties":{` + props + `},"required":["threat_model_id","save_as"],"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"valid":{"type":"boolean"},"saved":{"type":"boolean"}},"required":["threat_model_id","document","valid","issues","saved"]}`),
			Permissions:  perms(agent.PermPlatformRead, agent.PermStoreWrite),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			out, err := d.export(ctx, argString(args, "threat_model_id"))
			if err != nil {
				return nil, err
			}
			if out["valid"] != true {
				out["saved"] = false
				return out, nil
			}
			rec, err := d.save(ctx, argString(args, "save_as"), out["document"])
			if err != nil {
				return nil, err
			}
			out["saved"] = true
			out["saved_version"] = rec.Version
			return out, nil
		},
	}
}

func importTool(d Deps) agent.Tool {
	props := `"collection_id":{"type":"string","minLength":1},` + documentProp +
		`,"name":{"type":"string","description":"saved document to import instead of document"},"version":{"type":"integer","minimum":1}`
	return funcTool{
		desc: agent.ToolDescriptor{
			Name: "import_otm",
			Description: "Import an OTM document into a Devici collection. The document is validated first and refused if invalid. " +
				"Pass document inline, or name (and optionally version) of a saved document.",
			InputSchema:  []byte(`{"type":"object","properties":{` + props + `},"required":["collection_id"],"additionalProperties":false}`),
			OutputSchema: []byte(`{"type":"object","properties":{"mode":{"type":"string"},"errors":{"type":"array","items":{"type":"string"}}},"required":["mode","errors"]}`),
			Permissions:  perms(agent.PermPlatformWrite),
		},
		fn: func(ctx context.Context, args map[string]any) (map[string]any, error) {
			tree, err := d.importSource(ctx, args)
			if err != nil {
				return nil, err
			}
			if issues := d.check(tree); len(issues) > 0 {
				return nil, otm.InvalidError(issues)
			}
			sum, err := d.API.ImportOTM(ctx, argString(args, "collection_id"), tree)
			if err != nil {
				return nil, err
			}
			d.Logger.Info("otm document imported",
				zap.String("mode", sum.Mode),
				zap.String("threat_model_id", sum.ThreatModelID),
				zap.Int("errors", len(sum.Errors)),
			)
			return object(sum)
		},
	}
}

func (d Deps) importSource(ctx context.Context, args map[string]any) (any, error) {
	name := argString(args, "name")
	_, inline := args["document"]
	switch {
	case inline && name != "":
		return nil, errmodel.Validation("invalid_argument", "pass document or name, not both", nil)
	case inline:
		return argDocument(args, "document")
	case name == "":
		return nil, errmodel.Validation("missing_argument", "document or name is required", nil)
	case d.Store == nil:
		return nil, errmodel.Validation("invalid_argument", "no document store is configured", nil)
	}
	rec, err := d.Store.Get(ctx, name, argInt(args, "version"))
	if err != nil {
		return nil, storeError(err, name)
	}
	tree, err := otm.ParseTree(rec.Data)
	if err != nil {
		return nil, errmodel.System("store_failure", "saved document is unreadable", map[string]any{"name": name}, err)
	}
	return tree, nil
}
