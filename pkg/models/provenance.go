package models

import "fmt"

// Provenance records how a resource was created or last modified. It gates
// whether further mutation through the API is allowed.
type Provenance string

const (
	// ProvenanceNone reflects the provenance when no provenance is stored
	// for the requested object.
	ProvenanceNone Provenance = ""
	// ProvenanceAPI marks a resource that was last written through the
	// provisioning API.
	ProvenanceAPI Provenance = "api"
	// ProvenanceFile marks a resource that is managed by file provisioning.
	// Such resources are not expected to be mutated through the API.
	ProvenanceFile Provenance = "file"
)

// KnownProvenances are all provenances that can be stored.
var KnownProvenances = []Provenance{ProvenanceNone, ProvenanceAPI, ProvenanceFile}

// ParseProvenance returns the Provenance for the given string, or an error if
// the value is not a known provenance.
func ParseProvenance(s string) (Provenance, error) {
	p := Provenance(s)
	for _, known := range KnownProvenances {
		if p == known {
			return p, nil
		}
	}
	return ProvenanceNone, fmt.Errorf("unknown provenance %q", s)
}

// Provisionable is implemented by the closed set of resources that carry a
// provenance: routing trees, receivers, templates and mute timings. The
// resource type tag and the stable identifier key the provenance side-table.
type Provisionable interface {
	ResourceType() string
	ResourceID() string
}

// RouteResource identifies a named routing tree for provenance tracking.
type RouteResource struct {
	Name string
}

func (r RouteResource) ResourceType() string { return "routingTree" }
func (r RouteResource) ResourceID() string   { return r.Name }

// ReceiverResource identifies a managed receiver by its stable UID.
type ReceiverResource struct {
	UID string
}

func (r ReceiverResource) ResourceType() string { return "contactPoint" }
func (r ReceiverResource) ResourceID() string   { return r.UID }

// TemplateResource identifies a notification template by file name.
type TemplateResource struct {
	Name string
}

func (t TemplateResource) ResourceType() string { return "template" }
func (t TemplateResource) ResourceID() string   { return t.Name }

// MuteTimingResource identifies a mute time interval by name.
type MuteTimingResource struct {
	Name string
}

func (m MuteTimingResource) ResourceType() string { return "muteTimeInterval" }
func (m MuteTimingResource) ResourceID() string   { return m.Name }
