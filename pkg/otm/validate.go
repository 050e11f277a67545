package otm

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

// Rules reported in Issue.Rule.
const (
	RuleRequired    = "required"
	RuleType        = "type"
	RuleEnum        = "enum"
	RuleRange       = "range"
	RuleUnique      = "unique"
	RuleReference   = "reference"
	RuleAssetsShape = "assets-shape"
	RuleVersion     = "version"
	RuleSchema      = "schema"
)

// Node types that own ids.
const (
	NodeRepresentation = "representation"
	NodeAsset          = "asset"
	NodeTrustZone      = "trustZone"
	NodeComponent      = "component"
	NodeDataflow       = "dataflow"
	NodeThreat         = "threat"
	NodeMitigation     = "mitigation"
)

// Issue is one validation finding. Path is a JSON pointer into the document.
type Issue struct {
	Path    string `json:"path"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	p := i.Path
	if p == "" {
		p = "/"
	}
	return fmt.Sprintf("%s [%s] %s", p, i.Rule, i.Message)
}

// Validate checks a typed document. An empty result means the document is valid.
func Validate(doc *Document) []Issue {
	if doc == nil {
		return []Issue{{Rule: RuleRequired, Message: "document is missing"}}
	}
	tree, err := Tree(doc)
	if err != nil {
		return []Issue{{Rule: RuleType, Message: err.Error()}}
	}
	return ValidateTree(tree)
}

// maxReportedIssues bounds the causes attached by InvalidError.
const maxReportedIssues = 50

// InvalidError reports a document that failed validation as a compact
// validation error carrying one cause per issue.
func InvalidError(issues []Issue) *errmodel.Error {
	ce := errmodel.Validation("invalid_otm",
		fmt.Sprintf("document has %d validation issue(s)", len(issues)),
		map[string]any{"issues": len(issues)})
	for i, is := range issues {
		if i == maxReportedIssues {
			break
		}
		ce.Causes = append(ce.Causes, *errmodel.Validation(is.Rule, is.Message, map[string]any{"path": is.Path}))
	}
	return ce
}

// ValidateJSON parses and checks raw JSON or YAML. The error reports
// undecodable input only; validation findings are returned as issues.
func ValidateJSON(data []byte) ([]Issue, error) {
	tree, err := ParseTree(data)
	if err != nil {
		return nil, err
	}
	return ValidateTree(tree), nil
}

// ValidateTree walks a decoded document once, recording every violation, then
// resolves all references against the ids it collected.
func ValidateTree(tree any) []Issue {
	w := &walker{ids: map[string]map[string]string{}}
	root, ok := tree.(map[string]any)
	if !ok {
		w.add("", RuleType, "document must be an object, got %s", typeName(tree))
		return w.issues
	}

	if v, ok := w.str(root, "", "otmVersion", true); ok && !slices.Contains(SupportedVersions, v) {
		w.add("/otmVersion", RuleVersion, "unsupported otmVersion %q, want one of %s", v, strings.Join(SupportedVersions, ", "))
	}
	if p, ok := w.obj(root, "", "project", true); ok {
		w.project("/project", p)
	}
	w.each(root, "", "representations", w.representation)
	w.each(root, "", "assets", w.asset)
	w.each(root, "", "trustZones", w.trustZone)
	w.each(root, "", "components", w.component)
	w.each(root, "", "dataflows", w.dataflow)
	w.each(root, "", "threats", w.threat)
	w.each(root, "", "mitigations", w.mitigation)

	w.resolve()
	return w.issues
}

type pendingRef struct {
	path  string
	id    string
	types []string
}

type walker struct {
	issues []Issue
	ids    map[string]map[string]string // node type -> id -> path of declaration
	refs   []pendingRef
}

func (w *walker) add(path, rule, format string, args ...any) {
	w.issues = append(w.issues, Issue{Path: path, Rule: rule, Message: fmt.Sprintf(format, args...)})
}

func join(path, key string) string { return path + "/" + key }

func index(path string, i int) string { return path + "/" + strconv.Itoa(i) }

func (w *walker) project(path string, p map[string]any) {
	w.str(p, path, "id", true)
	w.str(p, path, "name", true)
	w.str(p, path, "description", false)
	w.str(p, path, "owner", false)
	w.str(p, path, "ownerContact", false)
	w.strList(p, path, "tags", nil)
	w.obj(p, path, "attributes", false)
}

func (w *walker) representation(path string, n map[string]any) {
	w.declare(NodeRepresentation, n, path)
	w.str(n, path, "name", true)
	if t, ok := w.str(n, path, "type", true); ok {
		w.enum(join(path, "type"), t, RepresentationTypes)
	}
	w.str(n, path, "description", false)
}

func (w *walker) asset(path string, n map[string]any) {
	w.declare(NodeAsset, n, path)
	w.str(n, path, "name", true)
	w.str(n, path, "description", false)
	if r, ok := w.obj(n, path, "risk", false); ok {
		rp := join(path, "risk")
		w.score(r, rp, "confidentiality", false)
		w.score(r, rp, "integrity", false)
		w.score(r, rp, "availability", false)
	}
}

func (w *walker) trustZone(path string, n map[string]any) {
	w.declare(NodeTrustZone, n, path)
	w.str(n, path, "name", true)
	w.str(n, path, "description", false)
	if r, ok := w.obj(n, path, "risk", false); ok {
		w.score(r, join(path, "risk"), "trustRating", true)
	}
	w.parent(n, path, NodeTrustZone)
}

func (w *walker) component(path string, n map[string]any) {
	w.declare(NodeComponent, n, path)
	w.str(n, path, "name", true)
	w.str(n, path, "type", false)
	w.str(n, path, "description", false)
	w.parent(n, path, NodeTrustZone, NodeComponent)
	w.strList(n, path, "tags", nil)
	w.each(n, path, "threats", func(tp string, ti map[string]any) {
		w.refField(ti, tp, "threat", true, NodeThreat)
		w.str(ti, tp, "state", false)
		w.each(ti, tp, "mitigations", func(mp string, mi map[string]any) {
			w.refField(mi, mp, "mitigation", true, NodeMitigation)
			w.str(mi, mp, "state", false)
		})
	})
	w.assets(n, path)
}

func (w *walker) dataflow(path string, n map[string]any) {
	w.declare(NodeDataflow, n, path)
	w.str(n, path, "name", true)
	w.str(n, path, "description", false)
	w.refField(n, path, "source", true, NodeComponent)
	w.refField(n, path, "destination", true, NodeComponent)
	if v, ok := n["bidirectional"]; ok {
		if _, isBool := v.(bool); !isBool {
			w.add(join(path, "bidirectional"), RuleType, "bidirectional must be a boolean, got %s", typeName(v))
		}
	}
	w.strList(n, path, "tags", nil)
}

func (w *walker) threat(path string, n map[string]any) {
	w.declare(NodeThreat, n, path)
	w.str(n, path, "name", true)
	w.str(n, path, "description", false)
	if cats, ok := w.strList(n, path, "categories", nil); ok {
		for i, c := range cats {
			w.enum(index(join(path, "categories"), i), c, StrideCategories)
		}
	}
	if s, ok := w.str(n, path, "severity", false); ok {
		w.enum(join(path, "severity"), s, Severities)
	}
	w.refField(n, path, "component", false, NodeComponent)
	w.strList(n, path, "targets", []string{NodeComponent, NodeDataflow})
	if r, ok := w.obj(n, path, "risk", false); ok {
		rp := join(path, "risk")
		w.score(r, rp, "likelihood", true)
		w.score(r, rp, "impact", true)
		w.str(r, rp, "comment", false)
	}
	w.assets(n, path)
	w.each(n, path, "mitigations", w.mitigation)
}

func (w *walker) mitigation(path string, n map[string]any) {
	w.declare(NodeMitigation, n, path)
	w.str(n, path, "name", true)
	w.str(n, path, "description", false)
	w.score(n, path, "riskReduction", false)
}

// each visits every element of the optional list at key, reporting elements
// that are not objects.
func (w *walker) each(n map[string]any, path, key string, visit func(string, map[string]any)) {
	v, ok := n[key]
	if !ok || v == nil {
		return
	}
	lp := join(path, key)
	list, ok := v.([]any)
	if !ok {
		w.add(lp, RuleType, "%s must be a list, got %s", key, typeName(v))
		return
	}
	for i, e := range list {
		ep := index(lp, i)
		m, ok := e.(map[string]any)
		if !ok {
			w.add(ep, RuleType, "%s entry must be an object, got %s", key, typeName(e))
			continue
		}
		visit(ep, m)
	}
}

func (w *walker) declare(nodeType string, n map[string]any, path string) {
	id, ok := w.str(n, path, "id", true)
	if !ok || id == "" {
		return
	}
	seen := w.ids[nodeType]
	if seen == nil {
		seen = map[string]string{}
		w.ids[nodeType] = seen
	}
	if first, dup := seen[id]; dup {
		w.add(join(path, "id"), RuleUnique, "duplicate %s id %q, first declared at %s", nodeType, id, first)
		return
	}
	seen[id] = path
}

// str reads a string field. ok is false when the field is absent or of the
// wrong type; both cases are reported when required.
func (w *walker) str(n map[string]any, path, key string, required bool) (string, bool) {
	v, present := n[key]
	if !present || v == nil {
		if required {
			w.add(join(path, key), RuleRequired, "%s is required", key)
		}
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		w.add(join(path, key), RuleType, "%s must be a string, got %s", key, typeName(v))
		return "", false
	}
	if required && strings.TrimSpace(s) == "" {
		w.add(join(path, key), RuleRequired, "%s must not be empty", key)
		return "", false
	}
	return s, true
}

func (w *walker) obj(n map[string]any, path, key string, required bool) (map[string]any, bool) {
	v, present := n[key]
	if !present || v == nil {
		if required {
			w.add(join(path, key), RuleRequired, "%s is required", key)
		}
		return nil, false
	}
	m, ok := v.(map[string]any)
	if !ok {
		w.add(join(path, key), RuleType, "%s must be an object, got %s", key, typeName(v))
		return nil, false
	}
	return m, true
}

// strList reads an optional list of strings. When refTypes is non-empty every
// element is recorded as a reference to one of those node types.
func (w *walker) strList(n map[string]any, path, key string, refTypes []string) ([]string, bool) {
	v, present := n[key]
	if !present || v == nil {
		return nil, false
	}
	lp := join(path, key)
	list, ok := v.([]any)
	if !ok {
		w.add(lp, RuleType, "%s must be a list of strings, got %s", key, typeName(v))
		return nil, false
	}
	out := make([]string, 0, len(list))
	valid := true
	for i, e := range list {
		s, ok := e.(string)
		if !ok {
			w.add(index(lp, i), RuleType, "%s entries must be strings, got %s", key, typeName(e))
			valid = false
			continue
		}
		if len(refTypes) > 0 {
			w.refs = append(w.refs, pendingRef{path: index(lp, i), id: s, types: refTypes})
		}
		out = append(out, s)
	}
	return out, valid
}

func (w *walker) refField(n map[string]any, path, key string, required bool, types ...string) {
	if id, ok := w.str(n, path, key, required); ok {
		w.refs = append(w.refs, pendingRef{path: join(path, key), id: id, types: types})
	}
}

// parent checks an optional parent object naming exactly one of the allowed node types.
func (w *walker) parent(n map[string]any, path string, allowed ...string) {
	p, ok := w.obj(n, path, "parent", false)
	if !ok {
		return
	}
	pp := join(path, "parent")
	var set []string
	for _, t := range []string{NodeTrustZone, NodeComponent} {
		if _, has := p[t]; has {
			set = append(set, t)
		}
	}
	if len(set) != 1 {
		w.add(pp, RuleType, "parent must name exactly one of %s", strings.Join(allowed, ", "))
		return
	}
	if !slices.Contains(allowed, set[0]) {
		w.add(join(pp, set[0]), RuleType, "parent may not be a %s here, want one of %s", set[0], strings.Join(allowed, ", "))
		return
	}
	w.refField(p, pp, set[0], true, set[0])
}

// assets accepts null or {processed, stored}; any other shape is one issue.
func (w *walker) assets(n map[string]any, path string) {
	v, present := n["assets"]
	if !present || v == nil {
		return
	}
	ap := join(path, "assets")
	m, ok := v.(map[string]any)
	if !ok {
		w.add(ap, RuleAssetsShape, "assets must be null or an object with processed and stored lists, got %s", typeName(v))
		return
	}
	w.strList(m, ap, "processed", []string{NodeAsset})
	w.strList(m, ap, "stored", []string{NodeAsset})
}

// score checks a numeric field in 0..100.
func (w *walker) score(n map[string]any, path, key string, required bool) {
	v, present := n[key]
	fp := join(path, key)
	if !present || v == nil {
		if required {
			w.add(fp, RuleRequired, "%s is required", key)
		}
		return
	}
	f, ok := number(v)
	if !ok {
		w.add(fp, RuleType, "%s must be a number, got %s", key, typeName(v))
		return
	}
	if f < 0 || f > 100 {
		w.add(fp, RuleRange, "%s must be within 0..100, got %v", key, f)
	}
}

func (w *walker) enum(path, v string, allowed []string) {
	if !slices.Contains(allowed, v) {
		w.add(path, RuleEnum, "%q is not one of %s", v, strings.Join(allowed, ", "))
	}
}

func (w *walker) resolve() {
	for _, r := range w.refs {
		found := false
		for _, t := range r.types {
			if _, ok := w.ids[t][r.id]; ok {
				found = true
				break
			}
		}
		if !found {
			w.add(r.path, RuleReference, "unknown %s id %q", strings.Join(r.types, " or "), r.id)
		}
	}
}

func number(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case float64, float32, int, int64, json.Number:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	return fmt.Sprintf("%T", v)
}
