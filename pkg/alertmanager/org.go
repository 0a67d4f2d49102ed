package alertmanager

import (
	"context"
	"crypto/md5"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/cortexproject/amconfig/pkg/configstore"
	"github.com/cortexproject/amconfig/pkg/crypto"
	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
)

// configurationVersion is the schema version written with every revision.
const configurationVersion = "v1"

// embeddedAlertmanager is the built-in Alertmanager instance. It validates
// and persists configuration and tracks what is currently applied; the
// dispatch engine behind it lives elsewhere.
type embeddedAlertmanager struct {
	orgID  int64
	store  configstore.Store
	crypto crypto.Crypto
	logger log.Logger

	ready atomic.Bool

	mtx         sync.Mutex
	appliedHash string
}

// NewEmbeddedAlertmanagerFactory returns a factory producing embedded
// instances backed by the given store.
func NewEmbeddedAlertmanagerFactory(store configstore.Store, crypto crypto.Crypto, logger log.Logger) AlertmanagerFactory {
	return func(orgID int64) (Alertmanager, error) {
		return &embeddedAlertmanager{
			orgID:  orgID,
			store:  store,
			crypto: crypto,
			logger: log.With(logger, "org", orgID),
		}, nil
	}
}

func (am *embeddedAlertmanager) Ready() bool {
	return am.ready.Load()
}

// validateForApply runs the merged-config validation plus the autogenerated
// routing synthesis on a throwaway copy, so a configuration that persists
// here is guaranteed to also read back cleanly with autogen enabled.
func (am *embeddedAlertmanager) validateForApply(cfg *definitions.PostableUserConfig) error {
	if _, err := cfg.GetMergedAlertmanagerConfig(); err != nil {
		return err
	}

	raw, err := cfg.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}
	scratch, err := definitions.Load(raw)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	return AddAutogenConfig(scratch)
}

func (am *embeddedAlertmanager) SaveAndApplyConfig(ctx context.Context, cfg *definitions.PostableUserConfig) error {
	if err := am.validateForApply(cfg); err != nil {
		return err
	}

	// Validation ran on plaintext; the stored form carries extra configs
	// encrypted.
	if err := am.crypto.EncryptExtraConfigs(ctx, cfg); err != nil {
		return fmt.Errorf("failed to encrypt extra configurations: %w", err)
	}

	raw, err := cfg.Serialize()
	if err != nil {
		return fmt.Errorf("failed to serialize configuration: %w", err)
	}

	now := time.Now().Unix()
	if err := am.store.Save(ctx, &models.SaveConfigurationCommand{
		AlertmanagerConfiguration: string(raw),
		ConfigurationVersion:      configurationVersion,
		OrgID:                     am.orgID,
		LastApplied:               now,
	}); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	am.markApplied(fmt.Sprintf("%x", md5.Sum(raw)))
	return nil
}

func (am *embeddedAlertmanager) SaveAndApplyDefaultConfig(ctx context.Context) error {
	cfg, err := definitions.Load([]byte(definitions.DefaultConfigurationJSON))
	if err != nil {
		return fmt.Errorf("failed to parse default configuration: %w", err)
	}
	if err := am.validateForApply(cfg); err != nil {
		return err
	}

	if err := am.store.Save(ctx, &models.SaveConfigurationCommand{
		AlertmanagerConfiguration: definitions.DefaultConfigurationJSON,
		ConfigurationVersion:      configurationVersion,
		Default:                   true,
		OrgID:                     am.orgID,
		LastApplied:               time.Now().Unix(),
	}); err != nil {
		return fmt.Errorf("failed to save default configuration: %w", err)
	}

	am.markApplied(fmt.Sprintf("%x", md5.Sum([]byte(definitions.DefaultConfigurationJSON))))
	return nil
}

func (am *embeddedAlertmanager) ApplyConfig(_ context.Context, dbConfig *models.AlertConfiguration) error {
	if _, err := definitions.Load([]byte(dbConfig.AlertmanagerConfiguration)); err != nil {
		return fmt.Errorf("failed to parse stored configuration: %w", err)
	}

	am.mtx.Lock()
	unchanged := am.appliedHash == dbConfig.ConfigurationHash && am.appliedHash != ""
	am.mtx.Unlock()
	if unchanged {
		level.Debug(am.logger).Log("msg", "configuration unchanged, skipping apply")
		am.ready.Store(true)
		return nil
	}

	am.markApplied(dbConfig.ConfigurationHash)
	return nil
}

func (am *embeddedAlertmanager) markApplied(hash string) {
	am.mtx.Lock()
	am.appliedHash = hash
	am.mtx.Unlock()
	am.ready.Store(true)
}
