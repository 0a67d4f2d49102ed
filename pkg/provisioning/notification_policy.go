package provisioning

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
)

// NotificationPolicyService manages named routing trees inside an org's
// configuration: optimistic concurrency, provenance transitions and
// validation of the merged configuration all happen here, before anything is
// persisted.
type NotificationPolicyService struct {
	configStore     *RevisionStore
	provenanceStore ProvisioningStore
	xact            TransactionManager
	logger          log.Logger
	validator       ProvenanceStatusTransitionValidator
	defaultConfig   string
}

func NewNotificationPolicyService(
	configStore *RevisionStore,
	provenanceStore ProvisioningStore,
	xact TransactionManager,
	defaultConfig string,
	logger log.Logger,
) *NotificationPolicyService {
	return &NotificationPolicyService{
		configStore:     configStore,
		provenanceStore: provenanceStore,
		xact:            xact,
		logger:          logger,
		validator:       ValidateProvenanceRelaxed,
		defaultConfig:   defaultConfig,
	}
}

// GetManagedRoute returns one named routing tree annotated with its
// provenance. An empty name addresses the user-defined tree.
func (nps *NotificationPolicyService) GetManagedRoute(ctx context.Context, orgID int64, name string) (definitions.ManagedRoute, error) {
	if name == "" {
		name = definitions.UserDefinedRouteName
	}

	rev, err := nps.configStore.Get(ctx, orgID)
	if err != nil {
		return definitions.ManagedRoute{}, err
	}

	route := rev.GetManagedRoute(name)
	if route == nil {
		return definitions.ManagedRoute{}, fmt.Errorf("%w: %q", ErrRouteNotFound, name)
	}

	provenance, err := nps.provenanceStore.GetProvenance(ctx, route, orgID)
	if err != nil {
		return definitions.ManagedRoute{}, err
	}
	route.Provenance = provenance

	return *route, nil
}

// GetManagedRoutes returns all routing trees of the org, user-defined tree
// first, each annotated with provenance (none when untracked).
func (nps *NotificationPolicyService) GetManagedRoutes(ctx context.Context, orgID int64) (definitions.ManagedRoutes, error) {
	rev, err := nps.configStore.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	provenances, err := nps.provenanceStore.GetProvenances(ctx, orgID, models.RouteResource{}.ResourceType())
	if err != nil {
		return nil, err
	}

	routes := rev.GetManagedRoutes()
	for _, mr := range routes {
		provenance, ok := provenances[mr.ResourceID()]
		if !ok {
			provenance = models.ProvenanceNone
		}
		mr.Provenance = provenance
	}
	routes.Sort()
	return routes, nil
}

// CreateManagedRoute validates and inserts a new named routing tree,
// persisting the configuration and the provenance record in one transaction.
func (nps *NotificationPolicyService) CreateManagedRoute(ctx context.Context, orgID int64, name string, subtree definitions.Route, p models.Provenance) (*definitions.ManagedRoute, error) {
	if err := subtree.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteInvalidFormat, err)
	}

	rev, err := nps.configStore.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	created, err := rev.CreateManagedRoute(name, subtree)
	if err != nil {
		return nil, err
	}

	if _, err := rev.Config.GetMergedAlertmanagerConfig(); err != nil {
		return nil, fmt.Errorf("new routing tree is not compatible with extra configuration: %w", err)
	}

	err = nps.xact.InTransaction(ctx, func(ctx context.Context) error {
		if err := nps.configStore.Save(ctx, rev, orgID); err != nil {
			return err
		}
		return nps.provenanceStore.SetProvenance(ctx, created, orgID, p)
	})
	if err != nil {
		return nil, err
	}
	created.Provenance = p
	return created, nil
}

// UpdateManagedRoute replaces a routing tree, enforcing the optimistic
// concurrency token and the provenance transition rules.
func (nps *NotificationPolicyService) UpdateManagedRoute(ctx context.Context, orgID int64, name string, subtree definitions.Route, p models.Provenance, version string) (*definitions.ManagedRoute, error) {
	if name == "" {
		name = definitions.UserDefinedRouteName
	}

	if err := subtree.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRouteInvalidFormat, err)
	}

	rev, err := nps.configStore.Get(ctx, orgID)
	if err != nil {
		return nil, err
	}

	existing := rev.GetManagedRoute(name)
	if existing == nil {
		return nil, fmt.Errorf("%w: %q", ErrRouteNotFound, name)
	}

	if err := nps.checkOptimisticConcurrency(existing, p, version, "update"); err != nil {
		return nil, err
	}

	// A tree owned by file provisioning must not be silently overwritten
	// through the API.
	storedProvenance, err := nps.provenanceStore.GetProvenance(ctx, existing, orgID)
	if err != nil {
		return nil, err
	}
	if err := nps.validator(storedProvenance, p); err != nil {
		return nil, err
	}

	updated, err := rev.UpdateManagedRoute(name, subtree)
	if err != nil {
		return nil, err
	}

	if _, err := rev.Config.GetMergedAlertmanagerConfig(); err != nil {
		return nil, fmt.Errorf("new routing tree is not compatible with extra configuration: %w", err)
	}

	err = nps.xact.InTransaction(ctx, func(ctx context.Context) error {
		if err := nps.configStore.Save(ctx, rev, orgID); err != nil {
			return err
		}
		return nps.provenanceStore.SetProvenance(ctx, updated, orgID, p)
	})
	if err != nil {
		return nil, err
	}
	updated.Provenance = p
	return updated, nil
}

// DeleteManagedRoute removes a named routing tree. The user-defined tree is
// reset to the built-in default instead of being removed. The provenance
// record is deleted in the same transaction as the configuration write.
func (nps *NotificationPolicyService) DeleteManagedRoute(ctx context.Context, orgID int64, name string, p models.Provenance, version string) error {
	if name == "" {
		name = definitions.UserDefinedRouteName
	}

	rev, err := nps.configStore.Get(ctx, orgID)
	if err != nil {
		return err
	}

	existing := rev.GetManagedRoute(name)
	if existing == nil {
		return fmt.Errorf("%w: %q", ErrRouteNotFound, name)
	}

	if err := nps.checkOptimisticConcurrency(existing, p, version, "delete"); err != nil {
		return err
	}

	storedProvenance, err := nps.provenanceStore.GetProvenance(ctx, existing, orgID)
	if err != nil {
		return err
	}
	if err := nps.validator(storedProvenance, p); err != nil {
		return err
	}

	if name == definitions.UserDefinedRouteName {
		defaultCfg, err := definitions.Load([]byte(nps.defaultConfig))
		if err != nil {
			level.Error(nps.logger).Log("msg", "failed to parse default alertmanager config", "err", err)
			return fmt.Errorf("failed to parse default alertmanager config: %w", err)
		}
		if _, err := rev.UpdateManagedRoute(definitions.UserDefinedRouteName, *defaultCfg.AlertmanagerConfig.Route); err != nil {
			return err
		}
	} else {
		rev.DeleteManagedRoute(name)
	}

	if _, err := rev.Config.GetMergedAlertmanagerConfig(); err != nil {
		return fmt.Errorf("new routing tree is not compatible with extra configuration: %w", err)
	}

	return nps.xact.InTransaction(ctx, func(ctx context.Context) error {
		if err := nps.configStore.Save(ctx, rev, orgID); err != nil {
			return err
		}
		return nps.provenanceStore.DeleteProvenance(ctx, existing, orgID)
	})
}

// checkOptimisticConcurrency fails with a conflict when a supplied version
// token does not match the stored one. An absent token opts out of the check:
// last writer wins. File provisioning is expected to run without tokens, so
// only other sources get the debug note.
func (nps *NotificationPolicyService) checkOptimisticConcurrency(current *definitions.ManagedRoute, provenance models.Provenance, desiredVersion string, action string) error {
	if desiredVersion == "" {
		if provenance != models.ProvenanceFile {
			level.Debug(nps.logger).Log("msg", "ignoring optimistic concurrency check because version was not provided", "operation", action, "route", current.Name)
		}
		return nil
	}
	if current.Version != desiredVersion {
		return fmt.Errorf("%w: provided version %s of routing tree %q does not match current version %s",
			ErrVersionConflict, desiredVersion, current.Name, current.Version)
	}
	return nil
}
