package alertmanager

import (
	"fmt"
	"sort"

	"github.com/cortexproject/amconfig/pkg/definitions"
)

// autogenMatcherLabel marks the synthesized routing subtree. Alerts carrying
// the label are routed per receiver instead of through the user-defined tree.
const (
	autogenMatcherLabel  = "__autogenerated__"
	autogenReceiverLabel = "__receiver__"
)

// AddAutogenConfig synthesizes the per-receiver routing subtree and inserts
// it as the first top-level route, replacing any previously synthesized one.
// The result is validated with the same merged-config check the write path
// uses, so a configuration that reads cleanly also applies cleanly.
func AddAutogenConfig(cfg *definitions.PostableUserConfig) error {
	root := cfg.AlertmanagerConfig.Route
	if root == nil {
		return fmt.Errorf("configuration has no routing tree")
	}

	names := make([]string, 0, len(cfg.AlertmanagerConfig.Receivers))
	for _, recv := range cfg.AlertmanagerConfig.Receivers {
		names = append(names, recv.Name)
	}
	sort.Strings(names)

	autogen := &definitions.Route{
		Receiver: root.Receiver,
		Matchers: []string{fmt.Sprintf("%s=%q", autogenMatcherLabel, "true")},
		Routes:   make([]*definitions.Route, 0, len(names)),
	}
	for _, name := range names {
		autogen.Routes = append(autogen.Routes, &definitions.Route{
			Receiver: name,
			Matchers: []string{fmt.Sprintf("%s=%q", autogenReceiverLabel, name)},
		})
	}

	kept := make([]*definitions.Route, 0, len(root.Routes)+1)
	kept = append(kept, autogen)
	for _, child := range root.Routes {
		if isAutogenRoute(child) {
			continue
		}
		kept = append(kept, child)
	}
	root.Routes = kept

	if _, err := cfg.GetMergedAlertmanagerConfig(); err != nil {
		return fmt.Errorf("autogenerated configuration is invalid: %w", err)
	}
	return nil
}

func isAutogenRoute(r *definitions.Route) bool {
	marker := fmt.Sprintf("%s=%q", autogenMatcherLabel, "true")
	for _, m := range r.Matchers {
		if m == marker {
			return true
		}
	}
	return false
}
