package models

// AlertConfiguration is one immutable revision of an org's Alertmanager
// configuration. A new write always appends a new row; the latest
// successfully applied row is the org's current configuration.
type AlertConfiguration struct {
	ID    int64
	OrgID int64

	// AlertmanagerConfiguration is the JSON serialized configuration
	// document, including receivers, routing trees, mute time intervals and
	// any extra configurations.
	AlertmanagerConfiguration string

	// ConfigurationHash is an md5 fingerprint of the serialized document,
	// used to skip no-op applies.
	ConfigurationHash string

	// ConfigurationVersion is the schema version of the document, not the
	// optimistic concurrency token of any individual resource inside it.
	ConfigurationVersion string

	CreatedAt int64

	// Default is true when the row was written by a reset to the built-in
	// default configuration.
	Default bool
}

// HistoricConfiguration is an applied configuration revision together with
// the time it took effect.
type HistoricConfiguration struct {
	AlertConfiguration
	LastApplied int64
}

// SaveConfigurationCommand is the write model for a configuration revision.
type SaveConfigurationCommand struct {
	AlertmanagerConfiguration string
	ConfigurationVersion      string
	Default                   bool
	OrgID                     int64
	LastApplied               int64
}
