package otm

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func loadFixture(t *testing.T) map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join("testdata", "web-app.otm.json"))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := ParseTree(data)
	if err != nil {
		t.Fatal(err)
	}
	return tree.(map[string]any)
}

func listAt(doc map[string]any, key string, i int) map[string]any {
	return doc[key].([]any)[i].(map[string]any)
}

func requireSingleIssue(t *testing.T, issues []Issue, path, rule string) {
	t.Helper()
	if len(issues) != 1 {
		t.Fatalf("want exactly one issue, got %d: %v", len(issues), issues)
	}
	if issues[0].Path != path || issues[0].Rule != rule {
		t.Fatalf("issue=%v want path=%s rule=%s", issues[0], path, rule)
	}
}

func TestValidate_FixtureIsClean(t *testing.T) {
	if issues := ValidateTree(loadFixture(t)); len(issues) != 0 {
		t.Fatalf("fixture should be valid, got %v", issues)
	}
}

func TestValidate_UnknownComponentReference(t *testing.T) {
	doc := loadFixture(t)
	listAt(doc, "threats", 1)["component"] = "mainframe"
	issues := ValidateTree(doc)
	requireSingleIssue(t, issues, "/threats/1/component", RuleReference)
	if !strings.Contains(issues[0].Message, `"mainframe"`) {
		t.Fatalf("message should name the id: %s", issues[0].Message)
	}
}

func TestValidate_AssetsListIsOneIssue(t *testing.T) {
	doc := loadFixture(t)
	listAt(doc, "threats", 0)["assets"] = []any{}
	requireSingleIssue(t, ValidateTree(doc), "/threats/0/assets", RuleAssetsShape)
}

func TestValidate_ForwardReferencesAreLegal(t *testing.T) {
	raw := `{
	  "otmVersion": "0.2.0",
	  "project": {"id": "p", "name": "P"},
	  "threats": [{"id": "t1", "name": "T", "component": "late", "mitigations": [{"id": "m1", "name": "M"}]}],
	  "components": [{"id": "late", "name": "Declared after use", "threats": [{"threat": "t1", "mitigations": [{"mitigation": "m1"}]}]}]
	}`
	issues, err := ValidateJSON([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("forward references should resolve, got %v", issues)
	}
}

func TestValidate_CollectsEveryIssue(t *testing.T) {
	raw := `{
	  "otmVersion": "9.9.9",
	  "project": {"name": 7},
	  "components": [
	    {"id": "a", "name": "A", "parent": {"trustZone": "nowhere"}},
	    {"id": "a", "name": "A again"},
	    "not-an-object"
	  ],
	  "dataflows": [{"id": "f", "name": "F", "source": "a", "destination": "b", "bidirectional": "yes"}],
	  "threats": [{
	    "id": "t", "name": "T",
	    "categories": ["Tampering", "Boredom"],
	    "severity": "apocalyptic",
	    "risk": {"likelihood": 150, "impact": "high"},
	    "targets": ["a", "f", "ghost"]
	  }]
	}`
	issues, err := ValidateJSON([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{
		"/otmVersion":                    RuleVersion,
		"/project/id":                    RuleRequired,
		"/project/name":                  RuleType,
		"/components/0/parent/trustZone": RuleReference,
		"/components/1/id":               RuleUnique,
		"/components/2":                  RuleType,
		"/dataflows/0/destination":       RuleReference,
		"/dataflows/0/bidirectional":     RuleType,
		"/threats/0/categories/1":        RuleEnum,
		"/threats/0/severity":            RuleEnum,
		"/threats/0/risk/likelihood":     RuleRange,
		"/threats/0/risk/impact":         RuleType,
		"/threats/0/targets/2":           RuleReference,
	}
	got := map[string]string{}
	for _, is := range issues {
		got[is.Path] = is.Rule
	}
	if len(issues) != len(want) {
		t.Fatalf("issues=%d want %d:\n%v", len(issues), len(want), issues)
	}
	for p, r := range want {
		if got[p] != r {
			t.Fatalf("path %s: rule=%q want %q (all: %v)", p, got[p], r, issues)
		}
	}
}

func TestValidate_NonObjectDocument(t *testing.T) {
	issues, err := ValidateJSON([]byte(`[1,2]`))
	if err != nil {
		t.Fatal(err)
	}
	requireSingleIssue(t, issues, "", RuleType)
}

func TestValidate_ParentNeedsExactlyOne(t *testing.T) {
	doc := loadFixture(t)
	listAt(doc, "components", 0)["parent"] = map[string]any{"trustZone": "internet", "component": "api"}
	requireSingleIssue(t, ValidateTree(doc), "/components/0/parent", RuleType)

	doc = loadFixture(t)
	listAt(doc, "trustZones", 2)["parent"] = map[string]any{"component": "api"}
	requireSingleIssue(t, ValidateTree(doc), "/trustZones/2/parent/component", RuleType)
}

func TestValidate_InlineAndTopLevelMitigationsShareIDs(t *testing.T) {
	doc := loadFixture(t)
	listAt(doc, "mitigations", 0)["id"] = "m-validation"
	requireSingleIssue(t, ValidateTree(doc), "/mitigations/0/id", RuleUnique)
}

func TestValidate_RoundTrip(t *testing.T) {
	tree := loadFixture(t)
	if issues := ValidateTree(tree); len(issues) != 0 {
		t.Fatalf("fixture invalid: %v", issues)
	}
	doc, err := FromTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	issues, err := ValidateJSON(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(issues) != 0 {
		t.Fatalf("round-tripped document invalid: %v", issues)
	}
	var again Document
	if err := json.Unmarshal(b, &again); err != nil {
		t.Fatal(err)
	}
	if len(again.Threats) != 2 || len(again.Threats[0].Mitigations) != 1 || again.Threats[0].Risk.Impact != 90 {
		t.Fatalf("fields lost in round trip: %+v", again.Threats)
	}
	if again.Components[1].Assets == nil || len(again.Components[1].Assets.Processed) != 2 {
		t.Fatalf("component assets lost: %+v", again.Components[1])
	}
}

func TestRoundTrip_PartialAssetRisk(t *testing.T) {
	tree, err := ParseTree([]byte(`{"otmVersion":"0.2.0","project":{"id":"p","name":"P"},` +
		`"assets":[{"id":"a","name":"A","risk":{"confidentiality":50}}]}`))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := FromTree(tree)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(doc)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(b), "integrity") || strings.Contains(string(b), "availability") {
		t.Fatalf("absent scores written back: %s", b)
	}
	r := doc.Assets[0].Risk
	if r == nil || r.Confidentiality == nil || *r.Confidentiality != 50 || r.Integrity != nil {
		t.Fatalf("risk=%+v", r)
	}
	issues, err := ValidateJSON(b)
	if err != nil || len(issues) != 0 {
		t.Fatalf("issues=%v err=%v", issues, err)
	}
}

func TestValidate_TypedDocument(t *testing.T) {
	doc := &Document{
		OTMVersion: "0.2.0",
		Project:    Project{ID: "p", Name: "P"},
		Components: []Component{{ID: "c", Name: "C"}},
		Threats: []Threat{{
			ID: "t", Name: "T", Component: "c",
			Categories: []string{"Repudiation"},
			Risk:       &ThreatRisk{Likelihood: 100, Impact: 0},
		}},
	}
	if issues := Validate(doc); len(issues) != 0 {
		t.Fatalf("unexpected issues: %v", issues)
	}
	doc.Threats[0].Risk.Impact = -1
	requireSingleIssue(t, Validate(doc), "/threats/0/risk/impact", RuleRange)
	if got := len(doc.AllMitigations()); got != 0 {
		t.Fatalf("mitigations=%d", got)
	}
}

func TestParseTree_YAML(t *testing.T) {
	data, err := os.ReadFile(filepath.Join("testdata", "minimal.otm.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	tree, err := ParseTree(data)
	if err != nil {
		t.Fatal(err)
	}
	if issues := ValidateTree(tree); len(issues) != 0 {
		t.Fatalf("yaml fixture invalid: %v", issues)
	}
	risk := listAt(tree.(map[string]any), "threats", 0)["risk"].(map[string]any)
	if _, ok := risk["likelihood"].(float64); !ok {
		t.Fatalf("yaml ints should be normalized to float64, got %T", risk["likelihood"])
	}
}

func TestWriteFile_RefusesInvalid(t *testing.T) {
	dir := t.TempDir()
	bad := &Document{OTMVersion: "0.2.0"}
	issues, err := WriteFile(filepath.Join(dir, "bad.otm"), bad)
	if err == nil || len(issues) == 0 {
		t.Fatalf("expected refusal, issues=%v err=%v", issues, err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "bad.otm")); !os.IsNotExist(statErr) {
		t.Fatal("invalid document was written")
	}

	good := &Document{OTMVersion: "0.2.0", Project: Project{ID: "p", Name: "P"}}
	path := filepath.Join(dir, "good.otm")
	if _, err := WriteFile(path, good); err != nil {
		t.Fatal(err)
	}
	_, issues, err = ReadFile(path)
	if err != nil || len(issues) != 0 {
		t.Fatalf("reread: issues=%v err=%v", issues, err)
	}
}

func TestInvalidError(t *testing.T) {
	issues, err := ValidateJSON([]byte(`{"otmVersion": "0.2.0", "project": {"id": "p"}}`))
	if err != nil {
		t.Fatal(err)
	}
	ce := InvalidError(issues)
	if ce.Category != "validation" || ce.Code != "invalid_otm" {
		t.Fatalf("err=%+v", ce)
	}
	if len(ce.Causes) != 1 || ce.Causes[0].Context["path"] != "/project/name" {
		t.Fatalf("causes=%+v", ce.Causes)
	}
}
