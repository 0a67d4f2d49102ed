package alertmanager

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/crypto"
	"github.com/cortexproject/amconfig/pkg/permissions"
	"github.com/cortexproject/amconfig/pkg/provisioning"
)

// maxConcurrentSyncs bounds how many orgs are re-applied in parallel during a
// full sync.
const maxConcurrentSyncs = 10

// AlertmanagerFactory builds the live Alertmanager instance for an org.
type AlertmanagerFactory func(orgID int64) (Alertmanager, error)

// MultiOrgAlertmanager coordinates configuration changes across orgs: it
// routes every operation to the right per-org instance, persists
// configuration revisions, merges provenance into reads and drives
// permission reconciliation after each mutation.
type MultiOrgAlertmanager struct {
	registry *orgRegistry
	factory  AlertmanagerFactory

	configStore                 configstore.Store
	provStore                   provisioning.ProvisioningStore
	crypto                      crypto.Crypto
	receiverResourcePermissions permissions.ReceiverAccessControl

	logger  log.Logger
	metrics *multiOrgMetrics

	lastSyncedOrgs atomic.Int64
}

type multiOrgMetrics struct {
	reconcileFailuresTotal prometheus.Counter
	syncsTotal             prometheus.Counter
}

func newMultiOrgMetrics(reg prometheus.Registerer, registry *orgRegistry, lastSyncedOrgs *atomic.Int64) *multiOrgMetrics {
	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "amconfig",
		Name:      "alertmanager_orgs",
		Help:      "Number of orgs with a live Alertmanager instance.",
	}, func() float64 { return float64(registry.count()) })

	promauto.With(reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "amconfig",
		Name:      "alertmanager_synced_orgs",
		Help:      "Number of orgs covered by the most recent configuration sync.",
	}, func() float64 { return float64(lastSyncedOrgs.Load()) })

	return &multiOrgMetrics{
		reconcileFailuresTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "amconfig",
			Name:      "alertmanager_permission_reconcile_failures_total",
			Help:      "Number of receiver permission reconciliations that failed after a configuration change.",
		}),
		syncsTotal: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Namespace: "amconfig",
			Name:      "alertmanager_config_syncs_total",
			Help:      "Number of full configuration syncs across orgs.",
		}),
	}
}

// NewMultiOrgAlertmanager wires the orchestrator. The factory is invoked
// lazily, the first time an org is addressed.
func NewMultiOrgAlertmanager(
	factory AlertmanagerFactory,
	configStore configstore.Store,
	provStore provisioning.ProvisioningStore,
	crypto crypto.Crypto,
	perms permissions.ReceiverAccessControl,
	logger log.Logger,
	reg prometheus.Registerer,
) *MultiOrgAlertmanager {
	registry := newOrgRegistry()
	moa := &MultiOrgAlertmanager{
		registry:                    registry,
		factory:                     factory,
		configStore:                 configStore,
		provStore:                   provStore,
		crypto:                      crypto,
		receiverResourcePermissions: perms,
		logger:                      logger,
	}
	moa.metrics = newMultiOrgMetrics(reg, registry, &moa.lastSyncedOrgs)
	return moa
}

// AlertmanagerFor returns the org's live instance, creating it on first use.
// An existing instance that has not finished starting is returned together
// with ErrAlertmanagerNotReady so callers can decide whether that matters.
func (moa *MultiOrgAlertmanager) AlertmanagerFor(orgID int64) (Alertmanager, error) {
	am, err := moa.registry.getOrCreate(orgID, moa.factory)
	if err != nil {
		return nil, err
	}
	if !am.Ready() {
		return am, ErrAlertmanagerNotReady
	}
	return am, nil
}

// alertmanagerForOrg looks up an existing instance without creating one.
func (moa *MultiOrgAlertmanager) alertmanagerForOrg(orgID int64) (Alertmanager, error) {
	return moa.registry.get(orgID)
}

// DeleteOrg tears down the org's live instance. Persisted configuration is
// untouched.
func (moa *MultiOrgAlertmanager) DeleteOrg(orgID int64) {
	moa.registry.delete(orgID)
}

// SyncAllOrgs re-applies the latest persisted configuration to every known
// org's instance, bounded in parallelism. Per-org failures are logged and do
// not abort the remaining orgs.
func (moa *MultiOrgAlertmanager) SyncAllOrgs(ctx context.Context) error {
	orgs := moa.registry.orgs()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentSyncs)
	for _, orgID := range orgs {
		g.Go(func() error {
			lookup, err := moa.configStore.GetLatest(ctx, orgID)
			if err != nil {
				level.Error(moa.logger).Log("msg", "failed to load configuration during sync", "org", orgID, "err", err)
				return nil
			}
			if !lookup.Found() {
				return nil
			}
			if err := moa.ApplyConfig(ctx, orgID, lookup.Config); err != nil {
				level.Error(moa.logger).Log("msg", "failed to apply configuration during sync", "org", orgID, "err", err)
			}
			return nil
		})
	}
	err := g.Wait()
	moa.metrics.syncsTotal.Inc()
	moa.lastSyncedOrgs.Store(int64(len(orgs)))
	return err
}
