package definitions

import (
	"encoding/json"

	"github.com/prometheus/alertmanager/timeinterval"

	"github.com/cortexproject/amconfig/pkg/models"
)

// PostableUserConfig is the write model for an org's Alertmanager
// configuration document. It is what callers POST and what is persisted,
// serialized as JSON.
type PostableUserConfig struct {
	TemplateFiles      map[string]string         `json:"template_files,omitempty"`
	AlertmanagerConfig PostableApiAlertingConfig `json:"alertmanager_config"`
	ExtraConfigs       []ExtraConfiguration      `json:"extra_configs,omitempty"`
}

// PostableApiAlertingConfig is the alerting section of the user config.
// Inhibition rules are carried so that their presence can be rejected with a
// useful message; the managed Alertmanager does not support them.
type PostableApiAlertingConfig struct {
	Route             *Route                 `json:"route,omitempty"`
	NamedRoutes       map[string]*Route      `json:"named_routes,omitempty"`
	InhibitRules      []InhibitRule          `json:"inhibit_rules,omitempty"`
	MuteTimeIntervals []MuteTimeInterval     `json:"mute_time_intervals,omitempty"`
	Templates         []string               `json:"templates,omitempty"`
	Receivers         []*PostableApiReceiver `json:"receivers,omitempty"`
}

// InhibitRule exists only to detect inhibition rules in submitted documents.
type InhibitRule struct {
	SourceMatchers []string `json:"source_matchers,omitempty"`
	TargetMatchers []string `json:"target_matchers,omitempty"`
	Equal          []string `json:"equal,omitempty"`
}

// MuteTimeInterval is a named set of time intervals during which
// notifications are muted.
type MuteTimeInterval struct {
	Name          string                      `json:"name" yaml:"name"`
	TimeIntervals []timeinterval.TimeInterval `json:"time_intervals" yaml:"time_intervals"`
}

// PostableApiReceiver is a named notification target and its managed
// integrations.
type PostableApiReceiver struct {
	Name             string             `json:"name"`
	ManagedReceivers []*ManagedReceiver `json:"managed_receiver_configs,omitempty"`
}

// ManagedReceiver is a single notification integration. Secure settings are
// encrypted at rest and referenced by key; Settings holds the non-secret
// part verbatim.
type ManagedReceiver struct {
	UID                   string            `json:"uid,omitempty"`
	Name                  string            `json:"name"`
	Type                  string            `json:"type"`
	DisableResolveMessage bool              `json:"disableResolveMessage,omitempty"`
	Settings              json.RawMessage   `json:"settings,omitempty"`
	SecureSettings        map[string]string `json:"secureSettings,omitempty"`
}

// ExtraConfiguration is a secondary configuration merged with the main one,
// used to federate with an externally managed Alertmanager setup. At most one
// may exist at a time. AlertmanagerConfig is an upstream-format YAML document
// and is encrypted at rest.
type ExtraConfiguration struct {
	Identifier         string            `json:"identifier" yaml:"identifier"`
	MergeMatchers      []string          `json:"merge_matchers,omitempty" yaml:"merge_matchers,omitempty"`
	TemplateFiles      map[string]string `json:"template_files,omitempty" yaml:"template_files,omitempty"`
	AlertmanagerConfig string            `json:"alertmanager_config" yaml:"alertmanager_config"`
}

// GettableUserConfig is the read model for an org's configuration: secure
// values are replaced by presence flags and provenance is merged in.
type GettableUserConfig struct {
	TemplateFiles           map[string]string                `json:"template_files,omitempty"`
	TemplateFileProvenances map[string]models.Provenance     `json:"template_file_provenances,omitempty"`
	AlertmanagerConfig      GettableApiAlertingConfig        `json:"alertmanager_config"`
	ExtraConfigs            []ExtraConfiguration             `json:"extra_configs,omitempty"`
}

// GettableApiAlertingConfig mirrors PostableApiAlertingConfig for reads.
type GettableApiAlertingConfig struct {
	Route               *Route                       `json:"route,omitempty"`
	RouteProvenance     models.Provenance            `json:"route_provenance,omitempty"`
	NamedRoutes         map[string]*Route            `json:"named_routes,omitempty"`
	MuteTimeIntervals   []MuteTimeInterval           `json:"mute_time_intervals,omitempty"`
	MuteTimeProvenances map[string]models.Provenance `json:"mute_time_provenances,omitempty"`
	Templates           []string                     `json:"templates,omitempty"`
	Receivers           []*GettableApiReceiver       `json:"receivers,omitempty"`
}

// GettableApiReceiver is the read model of a receiver.
type GettableApiReceiver struct {
	Name             string                     `json:"name"`
	ManagedReceivers []*GettableManagedReceiver `json:"managed_receiver_configs,omitempty"`
}

// GettableManagedReceiver never exposes secure values. SecureFields flags
// which secure settings are populated, recomputed by a decrypt-then-discard
// probe on every read.
type GettableManagedReceiver struct {
	UID                   string            `json:"uid"`
	Name                  string            `json:"name"`
	Type                  string            `json:"type"`
	DisableResolveMessage bool              `json:"disableResolveMessage"`
	Settings              json.RawMessage   `json:"settings,omitempty"`
	SecureFields          map[string]bool   `json:"secureFields,omitempty"`
	Provenance            models.Provenance `json:"provenance,omitempty"`
}

// GettableHistoricUserConfig is one entry of the applied-configuration
// history listing.
type GettableHistoricUserConfig struct {
	ID                      int64                        `json:"id"`
	TemplateFiles           map[string]string            `json:"template_files,omitempty"`
	TemplateFileProvenances map[string]models.Provenance `json:"template_file_provenances,omitempty"`
	AlertmanagerConfig      GettableApiAlertingConfig    `json:"alertmanager_config"`
	LastApplied             int64                        `json:"last_applied,omitempty"`
}
