package provisioning_test

import (
	"context"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cortexproject/amconfig/pkg/configstore/memory"
	"github.com/cortexproject/amconfig/pkg/crypto"
	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
	"github.com/cortexproject/amconfig/pkg/provisioning"
)

const testOrg = int64(1)

func setupPolicyService(t *testing.T) (*provisioning.NotificationPolicyService, *memory.Store, *provisioning.InMemProvisioningStore) {
	t.Helper()
	mem := memory.New()
	provStore := provisioning.NewInMemProvisioningStore()
	svc := provisioning.NewNotificationPolicyService(
		provisioning.NewRevisionStore(mem, crypto.New("test")),
		provStore,
		mem,
		definitions.DefaultConfigurationJSON,
		log.NewNopLogger(),
	)

	require.NoError(t, mem.Save(context.Background(), &models.SaveConfigurationCommand{
		OrgID:                     testOrg,
		AlertmanagerConfiguration: definitions.DefaultConfigurationJSON,
		ConfigurationVersion:      "v1",
		Default:                   true,
	}))
	return svc, mem, provStore
}

func TestGetManagedRoute(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := setupPolicyService(t)

	t.Run("empty name addresses the user-defined tree", func(t *testing.T) {
		route, err := svc.GetManagedRoute(ctx, testOrg, "")
		require.NoError(t, err)
		assert.Equal(t, definitions.UserDefinedRouteName, route.Name)
		assert.Equal(t, "default-email", route.Route.Receiver)
		assert.NotEmpty(t, route.Version)
	})

	t.Run("unknown name", func(t *testing.T) {
		_, err := svc.GetManagedRoute(ctx, testOrg, "missing")
		assert.ErrorIs(t, err, provisioning.ErrRouteNotFound)
	})

	t.Run("org without configuration", func(t *testing.T) {
		_, err := svc.GetManagedRoute(ctx, 999, "")
		assert.ErrorIs(t, err, provisioning.ErrNoAlertmanagerConfiguration)
	})
}

func TestCreateManagedRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("creates and records provenance transactionally", func(t *testing.T) {
		svc, _, provStore := setupPolicyService(t)

		created, err := svc.CreateManagedRoute(ctx, testOrg, "on-call", definitions.Route{Receiver: "default-email"}, models.ProvenanceAPI)
		require.NoError(t, err)
		assert.Equal(t, "on-call", created.Name)
		assert.NotEmpty(t, created.Version)
		assert.Equal(t, models.ProvenanceAPI, created.Provenance)

		stored, err := provStore.GetProvenance(ctx, created, testOrg)
		require.NoError(t, err)
		assert.Equal(t, models.ProvenanceAPI, stored)

		routes, err := svc.GetManagedRoutes(ctx, testOrg)
		require.NoError(t, err)
		require.Len(t, routes, 2)
		assert.Equal(t, definitions.UserDefinedRouteName, routes[0].Name)
		assert.Equal(t, "on-call", routes[1].Name)
	})

	t.Run("name collisions", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		_, err := svc.CreateManagedRoute(ctx, testOrg, "on-call", definitions.Route{Receiver: "default-email"}, models.ProvenanceNone)
		require.NoError(t, err)

		_, err = svc.CreateManagedRoute(ctx, testOrg, "on-call", definitions.Route{Receiver: "default-email"}, models.ProvenanceNone)
		assert.ErrorIs(t, err, provisioning.ErrRouteExists)

		_, err = svc.CreateManagedRoute(ctx, testOrg, definitions.UserDefinedRouteName, definitions.Route{Receiver: "default-email"}, models.ProvenanceNone)
		assert.ErrorIs(t, err, provisioning.ErrRouteExists)

		_, err = svc.CreateManagedRoute(ctx, testOrg, "", definitions.Route{Receiver: "default-email"}, models.ProvenanceNone)
		assert.ErrorIs(t, err, provisioning.ErrRouteInvalidFormat)
	})

	t.Run("invalid subtree", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		_, err := svc.CreateManagedRoute(ctx, testOrg, "on-call", definitions.Route{Matchers: []string{`=broken`}}, models.ProvenanceNone)
		assert.ErrorIs(t, err, provisioning.ErrRouteInvalidFormat)
	})

	t.Run("merged validation rejects before persisting", func(t *testing.T) {
		svc, mem, _ := setupPolicyService(t)

		before, err := mem.GetApplied(ctx, testOrg, 0)
		require.NoError(t, err)

		_, err = svc.CreateManagedRoute(ctx, testOrg, "on-call", definitions.Route{Receiver: "does-not-exist"}, models.ProvenanceNone)
		require.Error(t, err)

		after, err := mem.GetApplied(ctx, testOrg, 0)
		require.NoError(t, err)
		assert.Len(t, after, len(before))

		_, err = svc.GetManagedRoute(ctx, testOrg, "on-call")
		assert.ErrorIs(t, err, provisioning.ErrRouteNotFound)
	})
}

func TestUpdateManagedRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("version conflict leaves the tree untouched", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		current, err := svc.GetManagedRoute(ctx, testOrg, "")
		require.NoError(t, err)

		_, err = svc.UpdateManagedRoute(ctx, testOrg, "", definitions.Route{Receiver: "default-email", GroupBy: []string{"cluster"}}, models.ProvenanceNone, "stale-version")
		assert.ErrorIs(t, err, provisioning.ErrVersionConflict)

		unchanged, err := svc.GetManagedRoute(ctx, testOrg, "")
		require.NoError(t, err)
		assert.Equal(t, current.Version, unchanged.Version)
	})

	t.Run("matching version wins", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		current, err := svc.GetManagedRoute(ctx, testOrg, "")
		require.NoError(t, err)

		updated, err := svc.UpdateManagedRoute(ctx, testOrg, "", definitions.Route{Receiver: "default-email", GroupBy: []string{"cluster"}}, models.ProvenanceNone, current.Version)
		require.NoError(t, err)
		assert.NotEqual(t, current.Version, updated.Version)
		assert.Equal(t, []string{"cluster"}, updated.Route.GroupBy)
	})

	t.Run("absent version means last writer wins", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		updated, err := svc.UpdateManagedRoute(ctx, testOrg, "", definitions.Route{Receiver: "default-email", GroupBy: []string{"cluster"}}, models.ProvenanceNone, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"cluster"}, updated.Route.GroupBy)
	})

	t.Run("file-provisioned trees are protected from API writes", func(t *testing.T) {
		svc, _, provStore := setupPolicyService(t)

		require.NoError(t, provStore.SetProvenance(ctx, &definitions.ManagedRoute{Name: definitions.UserDefinedRouteName}, testOrg, models.ProvenanceFile))

		_, err := svc.UpdateManagedRoute(ctx, testOrg, "", definitions.Route{Receiver: "default-email"}, models.ProvenanceAPI, "")
		assert.ErrorIs(t, err, provisioning.ErrProvenanceChangeNotAllowed)

		// File provisioning itself may still write.
		_, err = svc.UpdateManagedRoute(ctx, testOrg, "", definitions.Route{Receiver: "default-email"}, models.ProvenanceFile, "")
		assert.NoError(t, err)
	})

	t.Run("unknown route", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		_, err := svc.UpdateManagedRoute(ctx, testOrg, "missing", definitions.Route{Receiver: "default-email"}, models.ProvenanceNone, "")
		assert.ErrorIs(t, err, provisioning.ErrRouteNotFound)
	})
}

func TestDeleteManagedRoute(t *testing.T) {
	ctx := context.Background()

	t.Run("named tree is removed with its provenance", func(t *testing.T) {
		svc, _, provStore := setupPolicyService(t)

		created, err := svc.CreateManagedRoute(ctx, testOrg, "on-call", definitions.Route{Receiver: "default-email"}, models.ProvenanceAPI)
		require.NoError(t, err)

		require.NoError(t, svc.DeleteManagedRoute(ctx, testOrg, "on-call", models.ProvenanceAPI, created.Version))

		_, err = svc.GetManagedRoute(ctx, testOrg, "on-call")
		assert.ErrorIs(t, err, provisioning.ErrRouteNotFound)

		stored, err := provStore.GetProvenance(ctx, created, testOrg)
		require.NoError(t, err)
		assert.Equal(t, models.ProvenanceNone, stored)
	})

	t.Run("user-defined tree resets to the default instead", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		current, err := svc.GetManagedRoute(ctx, testOrg, "")
		require.NoError(t, err)
		_, err = svc.UpdateManagedRoute(ctx, testOrg, "", definitions.Route{Receiver: "default-email", GroupBy: []string{"cluster"}}, models.ProvenanceNone, current.Version)
		require.NoError(t, err)

		require.NoError(t, svc.DeleteManagedRoute(ctx, testOrg, "", models.ProvenanceNone, ""))

		reset, err := svc.GetManagedRoute(ctx, testOrg, "")
		require.NoError(t, err)
		defaultCfg, err := definitions.Load([]byte(definitions.DefaultConfigurationJSON))
		require.NoError(t, err)
		assert.Equal(t, defaultCfg.AlertmanagerConfig.Route.Fingerprint(), reset.Version)
	})

	t.Run("version conflict", func(t *testing.T) {
		svc, _, _ := setupPolicyService(t)

		_, err := svc.CreateManagedRoute(ctx, testOrg, "on-call", definitions.Route{Receiver: "default-email"}, models.ProvenanceNone)
		require.NoError(t, err)

		err = svc.DeleteManagedRoute(ctx, testOrg, "on-call", models.ProvenanceNone, "stale-version")
		assert.ErrorIs(t, err, provisioning.ErrVersionConflict)

		_, err = svc.GetManagedRoute(ctx, testOrg, "on-call")
		assert.NoError(t, err)
	})
}
