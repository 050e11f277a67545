// Package otm models Open Threat Model documents and validates them.
//
// A Document is the typed form used to build and serialize threat models.
// Validation runs on the generic decoded tree so that shapes the typed form
// cannot represent (for example a list where an object is expected) are still
// reported.
package otm

// Supported otmVersion values.
var SupportedVersions = []string{"0.1.0", "0.2.0"}

// STRIDE categories accepted in threats[].categories.
var StrideCategories = []string{
	"Spoofing",
	"Tampering",
	"Repudiation",
	"Information Disclosure",
	"Denial of Service",
	"Elevation of Privilege",
}

// Severities accepted in threats[].severity.
var Severities = []string{"low", "medium", "high", "critical"}

// RepresentationTypes accepted in representations[].type.
var RepresentationTypes = []string{"diagram", "code", "threat-model"}

// Document is an OTM threat model.
type Document struct {
	OTMVersion      string           `json:"otmVersion"`
	Project         Project          `json:"project"`
	Representations []Representation `json:"representations,omitempty"`
	Assets          []Asset          `json:"assets,omitempty"`
	TrustZones      []TrustZone      `json:"trustZones,omitempty"`
	Components      []Component      `json:"components,omitempty"`
	Dataflows       []Dataflow       `json:"dataflows,omitempty"`
	Threats         []Threat         `json:"threats,omitempty"`
	Mitigations     []Mitigation     `json:"mitigations,omitempty"`
}

type Project struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Description  string         `json:"description,omitempty"`
	Owner        string         `json:"owner,omitempty"`
	OwnerContact string         `json:"ownerContact,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
}

type Representation struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description,omitempty"`
}

type Asset struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Risk        *AssetRisk `json:"risk,omitempty"`
}

type AssetRisk struct {
	Confidentiality *float64 `json:"confidentiality,omitempty"`
	Integrity       *float64 `json:"integrity,omitempty"`
	Availability    *float64 `json:"availability,omitempty"`
}

type TrustZone struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Risk        *TrustZoneRisk `json:"risk,omitempty"`
	Parent      *Parent        `json:"parent,omitempty"`
}

type TrustZoneRisk struct {
	TrustRating float64 `json:"trustRating"`
}

// Parent points at exactly one enclosing trust zone or component.
type Parent struct {
	TrustZone string `json:"trustZone,omitempty"`
	Component string `json:"component,omitempty"`
}

type Component struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        string           `json:"type,omitempty"`
	Description string           `json:"description,omitempty"`
	Parent      *Parent          `json:"parent,omitempty"`
	Tags        []string         `json:"tags,omitempty"`
	Threats     []ThreatInstance `json:"threats,omitempty"`
	Assets      *AssetUsage      `json:"assets,omitempty"`
}

// ThreatInstance attaches a declared threat to a component.
type ThreatInstance struct {
	Threat      string               `json:"threat"`
	State       string               `json:"state,omitempty"`
	Mitigations []MitigationInstance `json:"mitigations,omitempty"`
}

type MitigationInstance struct {
	Mitigation string `json:"mitigation"`
	State      string `json:"state,omitempty"`
}

// AssetUsage lists the asset ids a node processes and stores.
type AssetUsage struct {
	Processed []string `json:"processed,omitempty"`
	Stored    []string `json:"stored,omitempty"`
}

type Dataflow struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	Source        string   `json:"source"`
	Destination   string   `json:"destination"`
	Bidirectional bool     `json:"bidirectional,omitempty"`
	Tags          []string `json:"tags,omitempty"`
}

type Threat struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Categories  []string     `json:"categories,omitempty"`
	Severity    string       `json:"severity,omitempty"`
	Component   string       `json:"component,omitempty"`
	Targets     []string     `json:"targets,omitempty"`
	Risk        *ThreatRisk  `json:"risk,omitempty"`
	Assets      *AssetUsage  `json:"assets,omitempty"`
	Mitigations []Mitigation `json:"mitigations,omitempty"`
}

// ThreatRisk scores are in 0..100.
type ThreatRisk struct {
	Likelihood float64 `json:"likelihood"`
	Impact     float64 `json:"impact"`
	Comment    string  `json:"comment,omitempty"`
}

type Mitigation struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Description   string   `json:"description,omitempty"`
	RiskReduction *float64 `json:"riskReduction,omitempty"`
}

// AllMitigations returns top-level mitigations followed by those owned by threats.
func (d *Document) AllMitigations() []Mitigation {
	out := append([]Mitigation(nil), d.Mitigations...)
	for _, t := range d.Threats {
		out = append(out, t.Mitigations...)
	}
	return out
}
