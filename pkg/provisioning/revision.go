package provisioning

import (
	"context"
	"fmt"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/crypto"
	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
)

// ConfigRevision is a load-modify-save unit over an org's latest
// configuration. Extra configurations are held decrypted while the revision
// is in memory and re-encrypted on save.
type ConfigRevision struct {
	Config  *definitions.PostableUserConfig
	Version string
}

// GetManagedRoute returns the named routing tree, or nil when it does not
// exist. The user-defined tree is the main routing tree of the
// configuration.
func (rev *ConfigRevision) GetManagedRoute(name string) *definitions.ManagedRoute {
	if name == definitions.UserDefinedRouteName {
		if rev.Config.AlertmanagerConfig.Route == nil {
			return nil
		}
		route := *rev.Config.AlertmanagerConfig.Route
		return &definitions.ManagedRoute{
			Name:    definitions.UserDefinedRouteName,
			Route:   route,
			Version: route.Fingerprint(),
		}
	}
	route, ok := rev.Config.AlertmanagerConfig.NamedRoutes[name]
	if !ok {
		return nil
	}
	cp := *route
	return &definitions.ManagedRoute{Name: name, Route: cp, Version: cp.Fingerprint()}
}

// GetManagedRoutes returns all routing trees, unsorted and without
// provenance.
func (rev *ConfigRevision) GetManagedRoutes() definitions.ManagedRoutes {
	routes := definitions.ManagedRoutes{}
	if mr := rev.GetManagedRoute(definitions.UserDefinedRouteName); mr != nil {
		routes = append(routes, mr)
	}
	for name := range rev.Config.AlertmanagerConfig.NamedRoutes {
		routes = append(routes, rev.GetManagedRoute(name))
	}
	return routes
}

// CreateManagedRoute adds a new named routing tree.
func (rev *ConfigRevision) CreateManagedRoute(name string, route definitions.Route) (*definitions.ManagedRoute, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrRouteInvalidFormat)
	}
	if name == definitions.UserDefinedRouteName {
		return nil, fmt.Errorf("%w: %q", ErrRouteExists, name)
	}
	if _, ok := rev.Config.AlertmanagerConfig.NamedRoutes[name]; ok {
		return nil, fmt.Errorf("%w: %q", ErrRouteExists, name)
	}
	if rev.Config.AlertmanagerConfig.NamedRoutes == nil {
		rev.Config.AlertmanagerConfig.NamedRoutes = map[string]*definitions.Route{}
	}
	rev.Config.AlertmanagerConfig.NamedRoutes[name] = &route
	return rev.GetManagedRoute(name), nil
}

// UpdateManagedRoute replaces an existing routing tree. Replacing the
// user-defined tree swaps the main routing tree of the configuration.
func (rev *ConfigRevision) UpdateManagedRoute(name string, route definitions.Route) (*definitions.ManagedRoute, error) {
	if name == definitions.UserDefinedRouteName {
		rev.Config.AlertmanagerConfig.Route = &route
		return rev.GetManagedRoute(name), nil
	}
	if _, ok := rev.Config.AlertmanagerConfig.NamedRoutes[name]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrRouteNotFound, name)
	}
	rev.Config.AlertmanagerConfig.NamedRoutes[name] = &route
	return rev.GetManagedRoute(name), nil
}

// DeleteManagedRoute removes a named routing tree outright. Resetting the
// user-defined tree is the caller's concern.
func (rev *ConfigRevision) DeleteManagedRoute(name string) {
	delete(rev.Config.AlertmanagerConfig.NamedRoutes, name)
}

// RevisionStore loads and saves ConfigRevisions on top of the configuration
// store, handling the at-rest encryption of extra configurations.
type RevisionStore struct {
	store  configstore.Store
	crypto crypto.Crypto
}

func NewRevisionStore(store configstore.Store, crypto crypto.Crypto) *RevisionStore {
	return &RevisionStore{store: store, crypto: crypto}
}

// Get loads the latest configuration of the org as a revision.
func (s *RevisionStore) Get(ctx context.Context, orgID int64) (*ConfigRevision, error) {
	lookup, err := s.store.GetLatest(ctx, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest configuration: %w", err)
	}
	if !lookup.Found() {
		return nil, ErrNoAlertmanagerConfiguration
	}
	cfg, err := definitions.Load([]byte(lookup.Config.AlertmanagerConfiguration))
	if err != nil {
		return nil, err
	}
	if err := s.crypto.DecryptExtraConfigs(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to decrypt extra configurations: %w", err)
	}
	return &ConfigRevision{Config: cfg, Version: lookup.Config.ConfigurationVersion}, nil
}

// Save persists the revision as a new configuration row.
func (s *RevisionStore) Save(ctx context.Context, rev *ConfigRevision, orgID int64) error {
	if err := s.crypto.EncryptExtraConfigs(ctx, rev.Config); err != nil {
		return fmt.Errorf("failed to encrypt extra configurations: %w", err)
	}
	serialized, err := rev.Config.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}
	return s.store.Save(ctx, &models.SaveConfigurationCommand{
		AlertmanagerConfiguration: string(serialized),
		ConfigurationVersion:      rev.Version,
		OrgID:                     orgID,
	})
}
