package definitions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteValidate(t *testing.T) {
	for _, tc := range []struct {
		name  string
		route Route
		err   string
	}{
		{
			name:  "empty route is valid",
			route: Route{},
		},
		{
			name:  "valid matchers",
			route: Route{Matchers: []string{`severity="critical"`, `team=~"infra|platform"`}},
		},
		{
			name:  "invalid matcher",
			route: Route{Matchers: []string{`=broken`}},
			err:   "invalid matcher",
		},
		{
			name:  "duplicated group_by label",
			route: Route{GroupBy: []string{"alertname", "alertname"}},
			err:   "duplicated label",
		},
		{
			name:  "wildcard group_by mixed with labels",
			route: Route{GroupBy: []string{"...", "alertname"}},
			err:   "wildcard group_by",
		},
		{
			name: "invalid child",
			route: Route{Routes: []*Route{
				{Matchers: []string{`=broken`}},
			}},
			err: "invalid matcher",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.route.Validate()
			if tc.err == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.err)
		})
	}
}

func TestRouteFingerprint(t *testing.T) {
	a := Route{Receiver: "email", Matchers: []string{`severity="critical"`}}
	b := Route{Receiver: "email", Matchers: []string{`severity="critical"`}}
	c := Route{Receiver: "slack", Matchers: []string{`severity="critical"`}}

	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	// Stable across calls.
	assert.Equal(t, a.Fingerprint(), a.Fingerprint())
}

func TestManagedRoutesSort(t *testing.T) {
	routes := ManagedRoutes{
		{Name: "zebra"},
		{Name: "apple"},
		{Name: UserDefinedRouteName},
		{Name: "mango"},
	}
	routes.Sort()

	names := make([]string, 0, len(routes))
	for _, r := range routes {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{UserDefinedRouteName, "apple", "mango", "zebra"}, names)
}
