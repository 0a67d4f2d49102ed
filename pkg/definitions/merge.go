package definitions

import (
	"fmt"
	"sort"

	amconfig "github.com/prometheus/alertmanager/config"
	"github.com/prometheus/alertmanager/pkg/labels"
	"gopkg.in/yaml.v3"
)

// mergedConfigDoc is the upstream-schema projection of the managed
// configuration. Marshalling it and feeding the result to the upstream
// parser runs the full structural validation (route/receiver references,
// interval sanity) without reimplementing it.
type mergedConfigDoc struct {
	Route             *Route             `yaml:"route,omitempty"`
	Receivers         []mergedReceiver   `yaml:"receivers,omitempty"`
	MuteTimeIntervals []MuteTimeInterval `yaml:"mute_time_intervals,omitempty"`
}

type mergedReceiver struct {
	Name string `yaml:"name"`
}

// GetMergedAlertmanagerConfig merges the main configuration with all named
// routes and extra configurations and validates the result with the upstream
// Alertmanager parser. Mutating operations call this before persisting
// anything: a change that would make the merged configuration invalid is
// rejected up front.
func (c *PostableUserConfig) GetMergedAlertmanagerConfig() (*amconfig.Config, error) {
	root := c.AlertmanagerConfig.Route
	if root == nil {
		return nil, fmt.Errorf("configuration has no routing tree")
	}

	// Named routes become first-class children of the root so their receiver
	// references take part in validation.
	merged := *root
	names := make([]string, 0, len(c.AlertmanagerConfig.NamedRoutes))
	for name := range c.AlertmanagerConfig.NamedRoutes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		sub := *c.AlertmanagerConfig.NamedRoutes[name]
		sub.Continue = true
		merged.Routes = append(merged.Routes, &sub)
	}

	doc := mergedConfigDoc{
		Route:             &merged,
		Receivers:         make([]mergedReceiver, 0, len(c.AlertmanagerConfig.Receivers)),
		MuteTimeIntervals: c.AlertmanagerConfig.MuteTimeIntervals,
	}
	mainReceivers := make(map[string]struct{}, len(c.AlertmanagerConfig.Receivers))
	for _, r := range c.AlertmanagerConfig.Receivers {
		doc.Receivers = append(doc.Receivers, mergedReceiver{Name: r.Name})
		mainReceivers[r.Name] = struct{}{}
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("unable to serialize merged configuration: %w", err)
	}
	cfg, err := amconfig.Load(string(raw))
	if err != nil {
		return nil, err
	}

	for _, ec := range c.ExtraConfigs {
		extra, err := ec.Validate()
		if err != nil {
			return nil, fmt.Errorf("extra configuration %q: %w", ec.Identifier, err)
		}
		for _, recv := range extra.Receivers {
			if _, clash := mainReceivers[recv.Name]; clash {
				return nil, fmt.Errorf("extra configuration %q defines receiver %q which already exists", ec.Identifier, recv.Name)
			}
		}
	}

	return cfg, nil
}

// Validate parses the extra configuration with the upstream parser and checks
// the merge matchers. It returns the parsed configuration for further
// inspection.
func (ec *ExtraConfiguration) Validate() (*amconfig.Config, error) {
	if ec.Identifier == "" {
		return nil, fmt.Errorf("identifier is required")
	}
	for _, m := range ec.MergeMatchers {
		if _, err := labels.ParseMatcher(m); err != nil {
			return nil, fmt.Errorf("invalid merge matcher %q: %w", m, err)
		}
	}
	cfg, err := amconfig.Load(ec.AlertmanagerConfig)
	if err != nil {
		return nil, fmt.Errorf("invalid alertmanager configuration: %w", err)
	}
	return cfg, nil
}
