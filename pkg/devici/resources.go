// Package devici exposes the Devici REST resources and OTM import/export on
// top of the platform request executor.
package devici

import (
	"fmt"
	"net/url"
	"slices"
)

// Resource is one top-level collection of the Devici API.
type Resource struct {
	// Name is the plural tool suffix, e.g. "threat_models".
	Name string
	// Singular is used for get_/create_ tool names.
	Singular string
	Path     string
	Title    string
	// Creatable resources accept POST on Path.
	Creatable bool
	// Wrapped resources take create and update bodies as {"payload": [...]}.
	Wrapped bool
}

// SubListing lists the children of one parent object.
type SubListing struct {
	Name        string
	Description string
	// Format is a path with a single %s for the escaped parent id.
	Format string
	// Param names the parent id argument.
	Param string
}

// Resources lists the catalog in a stable order.
var Resources = []Resource{
	{Name: "users", Singular: "user", Path: "/users", Title: "users"},
	{Name: "collections", Singular: "collection", Path: "/collections", Title: "collections", Creatable: true},
	{Name: "threat_models", Singular: "threat_model", Path: "/threat-models", Title: "threat models", Creatable: true},
	{Name: "components", Singular: "component", Path: "/components", Title: "components", Creatable: true},
	{Name: "threats", Singular: "threat", Path: "/threats", Title: "threats", Creatable: true},
	{Name: "mitigations", Singular: "mitigation", Path: "/mitigations", Title: "mitigations", Creatable: true},
	{Name: "teams", Singular: "team", Path: "/teams", Title: "teams", Creatable: true, Wrapped: true},
}

var SubListings = []SubListing{
	{Name: "threat_models_by_collection", Description: "threat models in a collection", Format: "/threat-models/collection/%s", Param: "collection_id"},
	{Name: "components_by_canvas", Description: "components drawn on a canvas", Format: "/components/canvas/%s", Param: "canvas_id"},
	{Name: "threats_by_component", Description: "threats attached to a component", Format: "/threats/component/%s", Param: "component_id"},
	{Name: "mitigations_by_threat", Description: "mitigations for a threat", Format: "/mitigations/threat/%s", Param: "threat_id"},
}

// Lookup finds a resource by Name or Singular.
func Lookup(name string) (Resource, bool) {
	i := slices.IndexFunc(Resources, func(r Resource) bool { return r.Name == name || r.Singular == name })
	if i < 0 {
		return Resource{}, false
	}
	return Resources[i], true
}

// LookupSubListing finds a sub-listing by Name.
func LookupSubListing(name string) (SubListing, bool) {
	i := slices.IndexFunc(SubListings, func(s SubListing) bool { return s.Name == name })
	if i < 0 {
		return SubListing{}, false
	}
	return SubListings[i], true
}

func (r Resource) item(id string) string { return r.Path + "/" + url.PathEscape(id) }

func (s SubListing) path(parentID string) string { return fmt.Sprintf(s.Format, url.PathEscape(parentID)) }
