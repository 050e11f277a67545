package devici

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
	"github.com/wilhg/devici-mcp/pkg/otm"
	"github.com/wilhg/devici-mcp/pkg/platform"
)

// Import modes reported in ImportSummary.Mode.
const (
	ModeBulk       = "bulk"
	ModeStructured = "structured"
)

// Export is a threat model as OTM together with any validation findings.
// Export is advisory: an invalid document is still returned.
type Export struct {
	ThreatModelID string          `json:"threat_model_id"`
	Document      json.RawMessage `json:"document"`
	Valid         bool            `json:"valid"`
	Issues        []otm.Issue     `json:"issues"`
}

// ImportSummary reports what an import created.
type ImportSummary struct {
	Mode               string   `json:"mode"`
	ThreatModelID      string   `json:"threat_model_id,omitempty"`
	ComponentsCreated  int      `json:"components_created"`
	ThreatsCreated     int      `json:"threats_created"`
	MitigationsCreated int      `json:"mitigations_created"`
	Errors             []string `json:"errors"`
}

// ExportOTM downloads a threat model as OTM and validates it.
func (c *Client) ExportOTM(ctx context.Context, threatModelID string) (*Export, error) {
	if threatModelID == "" {
		return nil, errmodel.Validation("missing_argument", "threat_model_id is required", nil)
	}
	raw, err := c.call(ctx, platform.Request{
		Method: http.MethodGet,
		Path:   "/threat-models/" + url.PathEscape(threatModelID) + "/export/otm",
	})
	if err != nil {
		return nil, err
	}
	tree, err := otm.ParseTree(raw)
	if err != nil {
		return nil, errmodel.API(errmodel.KindTransport, "export is not a JSON document", 0, nil, err)
	}
	issues := otm.ValidateTree(tree)
	if issues == nil {
		issues = []otm.Issue{}
	}
	return &Export{ThreatModelID: threatModelID, Document: raw, Valid: len(issues) == 0, Issues: issues}, nil
}

// ImportOTM validates tree and imports it into a collection. Invalid documents
// are refused before any platform call. If the platform rejects the bulk OTM
// endpoint, the model is recreated object by object.
func (c *Client) ImportOTM(ctx context.Context, collectionID string, tree any) (*ImportSummary, error) {
	if collectionID == "" {
		return nil, errmodel.Validation("missing_argument", "collection_id is required", nil)
	}
	if issues := otm.ValidateTree(tree); len(issues) > 0 {
		return nil, otm.InvalidError(issues)
	}
	doc, err := otm.FromTree(tree)
	if err != nil {
		return nil, errmodel.Validation("invalid_otm", err.Error(), nil)
	}

	raw, err := c.call(ctx, platform.Request{
		Method: http.MethodPost,
		Path:   "/threat-models/otm/" + url.PathEscape(collectionID),
		Body:   tree,
	})
	if err == nil {
		return bulkSummary(raw, doc), nil
	}
	if !errmodel.Is(err, errmodel.CategoryAPI, errmodel.KindRejected) {
		return nil, err
	}
	c.logger.Info("bulk otm import rejected, importing object by object",
		zap.String("collection_id", collectionID),
		zap.Error(err),
	)
	sum, serr := c.importStructured(ctx, collectionID, doc)
	if serr != nil {
		return nil, serr
	}
	sum.Errors = append([]string{"bulk import rejected: " + errmodel.From(err).Message}, sum.Errors...)
	return sum, nil
}

func bulkSummary(raw json.RawMessage, doc *otm.Document) *ImportSummary {
	sum := &ImportSummary{
		Mode:               ModeBulk,
		ComponentsCreated:  len(doc.Components),
		ThreatsCreated:     len(doc.Threats),
		MitigationsCreated: len(doc.AllMitigations()),
		Errors:             []string{},
	}
	var reply map[string]any
	if json.Unmarshal(raw, &reply) != nil {
		return sum
	}
	sum.ThreatModelID = idFrom(reply, "threatModelId", "id")
	if n, ok := reply["componentsCreated"].(float64); ok {
		sum.ComponentsCreated = int(n)
	}
	if n, ok := reply["threatsCreated"].(float64); ok {
		sum.ThreatsCreated = int(n)
	}
	if n, ok := reply["mitigationsCreated"].(float64); ok {
		sum.MitigationsCreated = int(n)
	}
	if errs, ok := reply["errors"].([]any); ok {
		for _, e := range errs {
			sum.Errors = append(sum.Errors, fmt.Sprint(e))
		}
	}
	return sum
}

func (c *Client) importStructured(ctx context.Context, collectionID string, doc *otm.Document) (*ImportSummary, error) {
	sum := &ImportSummary{Mode: ModeStructured, Errors: []string{}}

	title := doc.Project.Name
	if title == "" {
		title = "Imported Threat Model"
	}
	description := doc.Project.Description
	if description == "" {
		description = "Threat model imported from OTM"
	}
	tm, err := c.create(ctx, "/threat-models", map[string]any{
		"title":        title,
		"description":  description,
		"collectionId": collectionID,
	})
	if err != nil {
		return nil, err
	}
	sum.ThreatModelID = idFrom(tm, "id")
	if sum.ThreatModelID == "" {
		return nil, errmodel.API(errmodel.KindTransport, "threat model created without an id", 0, nil, nil)
	}

	canvasID := firstCanvas(tm)
	if canvasID == "" {
		if details, err := c.call(ctx, platform.Request{Method: http.MethodGet, Path: "/threat-models/" + url.PathEscape(sum.ThreatModelID)}); err == nil {
			var m map[string]any
			if json.Unmarshal(details, &m) == nil {
				canvasID = firstCanvas(m)
			}
		}
	}
	if canvasID == "" {
		sum.Errors = append(sum.Errors, "threat model has no canvas; components are not placed on a diagram")
	}

	components := map[string]string{}
	for _, comp := range doc.Components {
		body := map[string]any{
			"title":       comp.Name,
			"description": comp.Description,
			"type":        orDefault(comp.Type, "generic"),
		}
		if canvasID != "" {
			body["canvasId"] = canvasID
		}
		if len(comp.Tags) > 0 {
			body["tags"] = strings.Join(comp.Tags, ", ")
		}
		created, err := c.create(ctx, "/components", body)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("component %q: %s", comp.ID, errmodel.From(err).Message))
			continue
		}
		if id := idFrom(created, "component", "id"); id != "" {
			components[comp.ID] = id
			sum.ComponentsCreated++
		}
	}

	for _, t := range doc.Threats {
		body := map[string]any{
			"title":       t.Name,
			"description": t.Description,
			"priority":    strings.ToLower(orDefault(t.Severity, "medium")),
			"status":      "open",
		}
		if cid := components[threatComponent(doc, t)]; cid != "" {
			body["componentId"] = cid
		}
		created, err := c.create(ctx, "/threats", body)
		if err != nil {
			sum.Errors = append(sum.Errors, fmt.Sprintf("threat %q: %s", t.ID, errmodel.From(err).Message))
			continue
		}
		threatID := idFrom(created, "threat", "id")
		if threatID == "" {
			sum.Errors = append(sum.Errors, fmt.Sprintf("threat %q: created without an id", t.ID))
			continue
		}
		sum.ThreatsCreated++
		for _, m := range threatMitigations(doc, t) {
			_, err := c.create(ctx, "/mitigations", map[string]any{
				"title":       m.Name,
				"description": m.Description,
				"threatId":    threatID,
			})
			if err != nil {
				sum.Errors = append(sum.Errors, fmt.Sprintf("mitigation %q: %s", m.ID, errmodel.From(err).Message))
				continue
			}
			sum.MitigationsCreated++
		}
	}
	return sum, nil
}

func (c *Client) create(ctx context.Context, path string, body map[string]any) (map[string]any, error) {
	raw, err := c.call(ctx, platform.Request{Method: http.MethodPost, Path: path, Body: body})
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}, nil
	}
	return out, nil
}

// threatComponent picks the component a threat belongs to: its own component
// field, then its first component target, then the first component that
// instantiates it.
func threatComponent(doc *otm.Document, t otm.Threat) string {
	if t.Component != "" {
		return t.Component
	}
	for _, target := range t.Targets {
		for _, comp := range doc.Components {
			if comp.ID == target {
				return target
			}
		}
	}
	for _, comp := range doc.Components {
		for _, inst := range comp.Threats {
			if inst.Threat == t.ID {
				return comp.ID
			}
		}
	}
	return ""
}

// threatMitigations returns the threat's own mitigations followed by the
// top-level mitigations components link to it, each once.
func threatMitigations(doc *otm.Document, t otm.Threat) []otm.Mitigation {
	out := append([]otm.Mitigation(nil), t.Mitigations...)
	seen := map[string]bool{}
	for _, m := range out {
		seen[m.ID] = true
	}
	for _, comp := range doc.Components {
		for _, inst := range comp.Threats {
			if inst.Threat != t.ID {
				continue
			}
			for _, mi := range inst.Mitigations {
				if seen[mi.Mitigation] {
					continue
				}
				for _, m := range doc.Mitigations {
					if m.ID == mi.Mitigation {
						seen[m.ID] = true
						out = append(out, m)
						break
					}
				}
			}
		}
	}
	return out
}

func firstCanvas(m map[string]any) string {
	list, ok := m["canvases"].([]any)
	if !ok || len(list) == 0 {
		return ""
	}
	switch v := list[0].(type) {
	case map[string]any:
		return idFrom(v, "id")
	default:
		return scalarID(v)
	}
}

func idFrom(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if id := scalarID(m[k]); id != "" {
			return id
		}
	}
	return ""
}

func scalarID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
