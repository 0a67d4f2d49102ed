package alertmanager

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-kit/log"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/configstore/memory"
	"github.com/cortexproject/amconfig/pkg/crypto"
	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
	"github.com/cortexproject/amconfig/pkg/permissions"
	"github.com/cortexproject/amconfig/pkg/provisioning"
)

const testOrg = int64(1)

const externalConfigYAML = `
route:
  receiver: external-webhook
receivers:
  - name: external-webhook
`

type orchestratorFixture struct {
	moa       *MultiOrgAlertmanager
	store     *memory.Store
	provStore *provisioning.InMemProvisioningStore
	perms     *permissions.InMemoryService
}

func setupOrchestrator(t *testing.T) *orchestratorFixture {
	t.Helper()
	store := memory.New()
	provStore := provisioning.NewInMemProvisioningStore()
	perms := permissions.NewInMemoryService()
	cryptoSvc := crypto.New("test")
	logger := log.NewNopLogger()

	moa := NewMultiOrgAlertmanager(
		NewEmbeddedAlertmanagerFactory(store, cryptoSvc, logger),
		store,
		provStore,
		cryptoSvc,
		perms,
		logger,
		prometheus.NewPedanticRegistry(),
	)
	return &orchestratorFixture{moa: moa, store: store, provStore: provStore, perms: perms}
}

func configWithReceivers(names ...string) definitions.PostableUserConfig {
	cfg := definitions.PostableUserConfig{
		AlertmanagerConfig: definitions.PostableApiAlertingConfig{
			Route: &definitions.Route{Receiver: names[0]},
		},
	}
	for _, name := range names {
		cfg.AlertmanagerConfig.Receivers = append(cfg.AlertmanagerConfig.Receivers, &definitions.PostableApiReceiver{
			Name: name,
			ManagedReceivers: []*definitions.ManagedReceiver{{
				Name:     name,
				Type:     "email",
				Settings: json.RawMessage(`{"addresses": "ops@example.com"}`),
			}},
		})
	}
	return cfg
}

func TestSaveAndApplyRejectsInhibitionRules(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	cfg := configWithReceivers("email")
	cfg.AlertmanagerConfig.InhibitRules = []definitions.InhibitRule{{Equal: []string{"alertname"}}}

	err := f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, cfg)
	assert.ErrorIs(t, err, ErrInhibitionRulesNotSupported)

	// Nothing was persisted.
	lookup, err := f.store.GetLatest(ctx, testOrg)
	require.NoError(t, err)
	assert.False(t, lookup.Found())
}

// latestFailingStore simulates a store whose latest-configuration lookup
// fails outright.
type latestFailingStore struct {
	configstore.Store
	err error
}

func (s latestFailingStore) GetLatest(context.Context, int64) (configstore.LatestLookup, error) {
	return configstore.LatestLookup{}, s.err
}

func TestSaveAndApplyAbortsWhenPreviousLookupFails(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	cryptoSvc := crypto.New("test")
	logger := log.NewNopLogger()
	boom := errors.New("database is down")

	moa := NewMultiOrgAlertmanager(
		NewEmbeddedAlertmanagerFactory(store, cryptoSvc, logger),
		latestFailingStore{Store: store, err: boom},
		provisioning.NewInMemProvisioningStore(),
		cryptoSvc,
		permissions.NewInMemoryService(),
		logger,
		prometheus.NewPedanticRegistry(),
	)

	err := moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("email"))
	require.ErrorIs(t, err, boom)

	// Nothing was persisted by the aborted save.
	lookup, err := store.GetLatest(ctx, testOrg)
	require.NoError(t, err)
	assert.False(t, lookup.Found())
}

func TestPermissionReconciliation(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("A", "B", "C")))
	for _, name := range []string{"A", "B", "C"} {
		assert.True(t, f.perms.HasPermissions(testOrg, permissions.NameToUID(name)), "expected default permissions for %q", name)
	}

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("B", "C", "D")))
	assert.False(t, f.perms.HasPermissions(testOrg, permissions.NameToUID("A")))
	for _, name := range []string{"B", "C", "D"} {
		assert.True(t, f.perms.HasPermissions(testOrg, permissions.NameToUID(name)), "expected default permissions for %q", name)
	}
}

func TestSaveAndApplyExtraConfiguration(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)
	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("email")))

	extra := definitions.ExtraConfiguration{
		Identifier:         "mimir-one",
		MergeMatchers:      []string{`__extra__="true"`},
		AlertmanagerConfig: externalConfigYAML,
	}
	require.NoError(t, f.moa.SaveAndApplyExtraConfiguration(ctx, testOrg, extra))

	// At rest the extra configuration is encrypted.
	lookup, err := f.store.GetLatest(ctx, testOrg)
	require.NoError(t, err)
	require.True(t, lookup.Found())
	assert.NotContains(t, lookup.Config.AlertmanagerConfiguration, "external-webhook")

	// Reads return the plaintext.
	gettable, err := f.moa.GetAlertmanagerConfiguration(ctx, testOrg, false)
	require.NoError(t, err)
	require.Len(t, gettable.ExtraConfigs, 1)
	assert.Contains(t, gettable.ExtraConfigs[0].AlertmanagerConfig, "external-webhook")

	// A second identifier conflicts, naming the existing one.
	err = f.moa.SaveAndApplyExtraConfiguration(ctx, testOrg, definitions.ExtraConfiguration{
		Identifier:         "mimir-two",
		AlertmanagerConfig: externalConfigYAML,
	})
	var conflict MultipleExtraConfigsError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "mimir-one", conflict.Identifier)

	// Replacing under the same identifier is fine, and deletion removes it.
	require.NoError(t, f.moa.SaveAndApplyExtraConfiguration(ctx, testOrg, extra))
	require.NoError(t, f.moa.DeleteExtraConfiguration(ctx, testOrg, "mimir-one"))

	gettable, err = f.moa.GetAlertmanagerConfiguration(ctx, testOrg, false)
	require.NoError(t, err)
	assert.Empty(t, gettable.ExtraConfigs)
}

func TestActivateHistoricalConfiguration(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("first")))
	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("second")))

	require.NoError(t, f.moa.ActivateHistoricalConfiguration(ctx, testOrg, 1))

	gettable, err := f.moa.GetAlertmanagerConfiguration(ctx, testOrg, false)
	require.NoError(t, err)
	require.Len(t, gettable.AlertmanagerConfig.Receivers, 1)
	assert.Equal(t, "first", gettable.AlertmanagerConfig.Receivers[0].Name)

	// Activation reconciles permissions back too.
	assert.True(t, f.perms.HasPermissions(testOrg, permissions.NameToUID("first")))
	assert.False(t, f.perms.HasPermissions(testOrg, permissions.NameToUID("second")))

	t.Run("unknown id", func(t *testing.T) {
		err := f.moa.ActivateHistoricalConfiguration(ctx, testOrg, 42)
		require.Error(t, err)
	})

	t.Run("invalid historical row is rejected, not applied", func(t *testing.T) {
		// Parses as JSON but fails merged validation.
		require.NoError(t, f.store.Save(ctx, &models.SaveConfigurationCommand{
			OrgID:                     testOrg,
			AlertmanagerConfiguration: `{"alertmanager_config": {"route": {"receiver": "ghost"}}}`,
			ConfigurationVersion:      "v1",
		}))
		rows, err := f.store.GetApplied(ctx, testOrg, 1)
		require.NoError(t, err)

		err = f.moa.ActivateHistoricalConfiguration(ctx, testOrg, rows[0].ID)
		var rejected ConfigRejectedError
		require.ErrorAs(t, err, &rejected)
	})
}

func TestGetAppliedConfigurationsSkipsBadRows(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("email")))
	require.NoError(t, f.store.Save(ctx, &models.SaveConfigurationCommand{
		OrgID:                     testOrg,
		AlertmanagerConfiguration: "not even json",
		ConfigurationVersion:      "v1",
	}))
	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("slack")))

	history, err := f.moa.GetAppliedAlertmanagerConfigurations(ctx, testOrg, 10)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "slack", history[0].AlertmanagerConfig.Receivers[0].Name)
	assert.Equal(t, "email", history[1].AlertmanagerConfig.Receivers[0].Name)
	for _, h := range history {
		assert.NotZero(t, h.LastApplied)
	}
}

func TestSecureFieldsFlaggedNotReturned(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	cfg := configWithReceivers("slack")
	cfg.AlertmanagerConfig.Receivers[0].ManagedReceivers[0].SecureSettings = map[string]string{"token": "super-secret"}
	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, cfg))

	// The stored document no longer carries the plaintext.
	lookup, err := f.store.GetLatest(ctx, testOrg)
	require.NoError(t, err)
	assert.NotContains(t, lookup.Config.AlertmanagerConfiguration, "super-secret")

	gettable, err := f.moa.GetAlertmanagerConfiguration(ctx, testOrg, false)
	require.NoError(t, err)
	mr := gettable.AlertmanagerConfig.Receivers[0].ManagedReceivers[0]
	assert.Equal(t, map[string]bool{"token": true}, mr.SecureFields)

	serialized, err := json.Marshal(gettable)
	require.NoError(t, err)
	assert.NotContains(t, string(serialized), "super-secret")
}

func TestGetAlertmanagerConfigurationWithAutogen(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("email", "slack")))

	gettable, err := f.moa.GetAlertmanagerConfiguration(ctx, testOrg, true)
	require.NoError(t, err)

	route := gettable.AlertmanagerConfig.Route
	require.NotEmpty(t, route.Routes)
	autogen := route.Routes[0]
	require.Len(t, autogen.Matchers, 1)
	assert.Contains(t, autogen.Matchers[0], autogenMatcherLabel)
	require.Len(t, autogen.Routes, 2)
	assert.Equal(t, "email", autogen.Routes[0].Receiver)
	assert.Equal(t, "slack", autogen.Routes[1].Receiver)

	// The synthesized tree is not persisted.
	plain, err := f.moa.GetAlertmanagerConfiguration(ctx, testOrg, false)
	require.NoError(t, err)
	assert.Empty(t, plain.AlertmanagerConfig.Route.Routes)
}

func TestGetAlertmanagerConfigurationNoConfig(t *testing.T) {
	f := setupOrchestrator(t)

	_, err := f.moa.GetAlertmanagerConfiguration(context.Background(), testOrg, false)
	assert.ErrorIs(t, err, provisioning.ErrNoAlertmanagerConfiguration)
}

func TestMergeProvenanceIntoReads(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("email")))

	gettable, err := f.moa.GetAlertmanagerConfiguration(ctx, testOrg, false)
	require.NoError(t, err)
	uid := gettable.AlertmanagerConfig.Receivers[0].ManagedReceivers[0].UID
	require.NotEmpty(t, uid)
	assert.Equal(t, models.ProvenanceNone, gettable.AlertmanagerConfig.Receivers[0].ManagedReceivers[0].Provenance)
	assert.Equal(t, models.ProvenanceNone, gettable.AlertmanagerConfig.RouteProvenance)

	require.NoError(t, f.provStore.SetProvenance(ctx, models.RouteResource{Name: definitions.UserDefinedRouteName}, testOrg, models.ProvenanceFile))
	require.NoError(t, f.provStore.SetProvenance(ctx, models.ReceiverResource{UID: uid}, testOrg, models.ProvenanceAPI))
	require.NoError(t, f.provStore.SetProvenance(ctx, models.TemplateResource{Name: "greeting"}, testOrg, models.ProvenanceFile))
	require.NoError(t, f.provStore.SetProvenance(ctx, models.MuteTimingResource{Name: "weekends"}, testOrg, models.ProvenanceAPI))

	gettable, err = f.moa.GetAlertmanagerConfiguration(ctx, testOrg, false)
	require.NoError(t, err)
	assert.Equal(t, models.ProvenanceFile, gettable.AlertmanagerConfig.RouteProvenance)
	assert.Equal(t, models.ProvenanceAPI, gettable.AlertmanagerConfig.Receivers[0].ManagedReceivers[0].Provenance)
	assert.Equal(t, models.ProvenanceFile, gettable.TemplateFileProvenances["greeting"])
	assert.Equal(t, models.ProvenanceAPI, gettable.AlertmanagerConfig.MuteTimeProvenances["weekends"])
}

func TestSaveAndApplyDefaultConfig(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("custom")))
	require.True(t, f.perms.HasPermissions(testOrg, permissions.NameToUID("custom")))

	require.NoError(t, f.moa.SaveAndApplyDefaultConfig(ctx, testOrg))

	lookup, err := f.store.GetLatest(ctx, testOrg)
	require.NoError(t, err)
	require.True(t, lookup.Found())
	assert.True(t, lookup.Config.Default)

	assert.False(t, f.perms.HasPermissions(testOrg, permissions.NameToUID("custom")))
	assert.True(t, f.perms.HasPermissions(testOrg, permissions.NameToUID("default-email")))
}

func TestRenamedReceiverKeepsHistoryReadable(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers(fmt.Sprintf("receiver-%d", i))))
	}

	history, err := f.moa.GetAppliedAlertmanagerConfigurations(ctx, testOrg, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "receiver-2", history[0].AlertmanagerConfig.Receivers[0].Name)
}

func TestSyncAllOrgsTracksSyncedCount(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("email")))
	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, 2, configWithReceivers("slack")))

	require.NoError(t, f.moa.SyncAllOrgs(ctx))
	assert.Equal(t, int64(2), f.moa.lastSyncedOrgs.Load())
}

func TestAlertmanagerLifecycle(t *testing.T) {
	ctx := context.Background()
	f := setupOrchestrator(t)

	// A fresh instance exists but has nothing applied yet.
	am, err := f.moa.AlertmanagerFor(testOrg)
	require.ErrorIs(t, err, ErrAlertmanagerNotReady)
	require.NotNil(t, am)

	require.NoError(t, f.moa.SaveAndApplyAlertmanagerConfiguration(ctx, testOrg, configWithReceivers("email")))

	am, err = f.moa.AlertmanagerFor(testOrg)
	require.NoError(t, err)
	assert.True(t, am.Ready())

	f.moa.DeleteOrg(testOrg)
	_, err = f.moa.alertmanagerForOrg(testOrg)
	assert.True(t, errors.Is(err, ErrNoAlertmanagerForOrg))
}
