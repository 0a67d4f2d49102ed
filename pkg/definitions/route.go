package definitions

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"github.com/prometheus/alertmanager/pkg/labels"
	"github.com/prometheus/common/model"

	"github.com/cortexproject/amconfig/pkg/models"
)

// UserDefinedRouteName is the well-known name of the default routing tree.
// Deleting it resets the tree to the built-in default instead of removing it.
const UserDefinedRouteName = "user-defined"

// Route is a node of a notification routing tree. The yaml tags follow the
// upstream Alertmanager route schema so a Route can be marshalled straight
// into a document the upstream parser validates.
type Route struct {
	Receiver          string          `json:"receiver,omitempty" yaml:"receiver,omitempty"`
	GroupBy           []string        `json:"group_by,omitempty" yaml:"group_by,omitempty"`
	Matchers          []string        `json:"matchers,omitempty" yaml:"matchers,omitempty"`
	MuteTimeIntervals []string        `json:"mute_time_intervals,omitempty" yaml:"mute_time_intervals,omitempty"`
	Continue          bool            `json:"continue,omitempty" yaml:"continue,omitempty"`
	GroupWait         *model.Duration `json:"group_wait,omitempty" yaml:"group_wait,omitempty"`
	GroupInterval     *model.Duration `json:"group_interval,omitempty" yaml:"group_interval,omitempty"`
	RepeatInterval    *model.Duration `json:"repeat_interval,omitempty" yaml:"repeat_interval,omitempty"`
	Routes            []*Route        `json:"routes,omitempty" yaml:"routes,omitempty"`
}

// Validate checks the shape of the subtree: matchers must parse and group_by
// entries must not repeat or mix the "..." wildcard with labels.
func (r *Route) Validate() error {
	for _, m := range r.Matchers {
		if _, err := labels.ParseMatcher(m); err != nil {
			return fmt.Errorf("invalid matcher %q: %w", m, err)
		}
	}

	seen := make(map[string]struct{}, len(r.GroupBy))
	for _, l := range r.GroupBy {
		if l == "..." && len(r.GroupBy) > 1 {
			return fmt.Errorf("cannot have wildcard group_by (`...`) and other labels at the same time")
		}
		if _, ok := seen[l]; ok {
			return fmt.Errorf("duplicated label %q in group_by", l)
		}
		seen[l] = struct{}{}
	}

	for _, child := range r.Routes {
		if err := child.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Fingerprint returns the optimistic concurrency token for the subtree. Two
// structurally equal subtrees always produce the same token.
func (r *Route) Fingerprint() string {
	sum := fnv.New64a()
	enc := json.NewEncoder(sum)
	// Encoding a Route cannot fail, all fields are JSON-serializable.
	_ = enc.Encode(r)
	return fmt.Sprintf("%016x", sum.Sum64())
}

// ManagedRoute is a named routing subtree with its own concurrency token and
// provenance, addressable independently of the rest of the configuration.
type ManagedRoute struct {
	Name       string            `json:"name"`
	Route      Route             `json:"route"`
	Version    string            `json:"version"`
	Provenance models.Provenance `json:"provenance,omitempty"`
}

func (mr *ManagedRoute) ResourceType() string { return models.RouteResource{}.ResourceType() }
func (mr *ManagedRoute) ResourceID() string   { return mr.Name }

// ManagedRoutes sorts by name, with the user-defined tree first.
type ManagedRoutes []*ManagedRoute

func (m ManagedRoutes) Sort() {
	sort.Slice(m, func(i, j int) bool {
		if m[i].Name == UserDefinedRouteName {
			return true
		}
		if m[j].Name == UserDefinedRouteName {
			return false
		}
		return m[i].Name < m[j].Name
	})
}
