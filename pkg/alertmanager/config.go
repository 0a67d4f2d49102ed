package alertmanager

import (
	"context"
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/pkg/errors"

	"github.com/cortexproject/amconfig/pkg/definitions"
	"github.com/cortexproject/amconfig/pkg/models"
	"github.com/cortexproject/amconfig/pkg/provisioning"
)

// SaveAndApplyDefaultConfig resets the org's Alertmanager to the built-in
// default configuration. The default config commit is the primary contract:
// permission reconciliation runs afterwards and its failure only gets
// logged.
func (moa *MultiOrgAlertmanager) SaveAndApplyDefaultConfig(ctx context.Context, orgID int64) error {
	orgAM, err := moa.AlertmanagerFor(orgID)
	if err != nil && !errors.Is(err, ErrAlertmanagerNotReady) {
		return err
	}

	previous, previousErr := moa.configStore.GetLatest(ctx, orgID)

	if err := orgAM.SaveAndApplyDefaultConfig(ctx); err != nil {
		return err
	}

	// Remove permissions for receivers that are no longer defined and add
	// defaults for new ones.
	if previousErr != nil {
		moa.reportReconcileFailure(orgID, errors.Wrap(previousErr, "failed to load previous configuration"))
		return nil
	}
	defaulted, err := moa.configStore.GetLatest(ctx, orgID)
	if err != nil {
		moa.reportReconcileFailure(orgID, errors.Wrap(err, "failed to load defaulted configuration"))
		return nil
	}
	if !defaulted.Found() {
		moa.reportReconcileFailure(orgID, errors.New("defaulted configuration missing after save"))
		return nil
	}
	newReceiverNames, err := definitions.ExtractReceiverNames(defaulted.Config.AlertmanagerConfiguration)
	if err != nil {
		moa.reportReconcileFailure(orgID, err)
		return nil
	}
	moa.reconcileReceiverPermissions(ctx, orgID, previous, newReceiverNames)

	return nil
}

// ApplyConfig applies an already-persisted configuration to the org's live
// instance. Used to force regeneration of autogenerated routing without
// touching storage.
func (moa *MultiOrgAlertmanager) ApplyConfig(ctx context.Context, orgID int64, dbConfig *models.AlertConfiguration) error {
	am, err := moa.AlertmanagerFor(orgID)
	if err != nil {
		// It's okay if the alertmanager isn't ready yet, we're changing its config anyway.
		if !errors.Is(err, ErrAlertmanagerNotReady) {
			return err
		}
	}

	if err := am.ApplyConfig(ctx, dbConfig); err != nil {
		return fmt.Errorf("failed to apply configuration: %w", err)
	}
	return nil
}

// GetAlertmanagerConfiguration returns the latest configuration for the org
// as a read model: secure values are replaced by presence flags and
// provenance is merged in. With withAutogen the autogenerated routing is
// synthesized and validated the same way the write path does, so read and
// write never diverge.
func (moa *MultiOrgAlertmanager) GetAlertmanagerConfiguration(ctx context.Context, orgID int64, withAutogen bool) (definitions.GettableUserConfig, error) {
	lookup, err := moa.configStore.GetLatest(ctx, orgID)
	if err != nil {
		return definitions.GettableUserConfig{}, fmt.Errorf("failed to get latest configuration: %w", err)
	}
	if !lookup.Found() {
		return definitions.GettableUserConfig{}, provisioning.ErrNoAlertmanagerConfiguration
	}

	return moa.gettableUserConfig(ctx, orgID, lookup.Config.AlertmanagerConfiguration, withAutogen)
}

// GetAppliedAlertmanagerConfigurations returns up to limit most recent
// applied configuration snapshots. Entries that fail to parse are skipped
// with a warning: partial history is better than none.
func (moa *MultiOrgAlertmanager) GetAppliedAlertmanagerConfigurations(ctx context.Context, orgID int64, limit int) ([]*definitions.GettableHistoricUserConfig, error) {
	configs, err := moa.configStore.GetApplied(ctx, orgID, limit)
	if err != nil {
		return []*definitions.GettableHistoricUserConfig{}, fmt.Errorf("failed to get applied configurations: %w", err)
	}

	historic := make([]*definitions.GettableHistoricUserConfig, 0, len(configs))
	for _, config := range configs {
		gettable, err := moa.gettableUserConfig(ctx, orgID, config.AlertmanagerConfiguration, false)
		if err != nil {
			level.Warn(moa.logger).Log("msg", "invalid configuration found in history, skipping", "id", config.ID, "org", orgID, "err", err)
			continue
		}
		historic = append(historic, &definitions.GettableHistoricUserConfig{
			ID:                      config.ID,
			TemplateFiles:           gettable.TemplateFiles,
			TemplateFileProvenances: gettable.TemplateFileProvenances,
			AlertmanagerConfig:      gettable.AlertmanagerConfig,
			LastApplied:             config.LastApplied,
		})
	}

	return historic, nil
}

// ActivateHistoricalConfiguration makes a previously applied revision the
// org's current configuration and reconciles permissions against the
// configuration that was active immediately before.
func (moa *MultiOrgAlertmanager) ActivateHistoricalConfiguration(ctx context.Context, orgID int64, id int64) error {
	config, err := moa.configStore.GetHistorical(ctx, orgID, id)
	if err != nil {
		return fmt.Errorf("failed to get historical alertmanager configuration: %w", err)
	}

	cfg, err := definitions.Load([]byte(config.AlertmanagerConfiguration))
	if err != nil {
		return fmt.Errorf("failed to unmarshal historical alertmanager configuration: %w", err)
	}
	if err := moa.crypto.DecryptExtraConfigs(ctx, cfg); err != nil {
		return fmt.Errorf("failed to decrypt extra configurations: %w", err)
	}

	am, err := moa.AlertmanagerFor(orgID)
	if err != nil {
		// It's okay if the alertmanager isn't ready yet, we're changing its config anyway.
		if !errors.Is(err, ErrAlertmanagerNotReady) {
			return err
		}
	}

	previous, previousErr := moa.configStore.GetLatest(ctx, orgID)

	if err := am.SaveAndApplyConfig(ctx, cfg); err != nil {
		level.Error(moa.logger).Log("msg", "unable to save and apply historical alertmanager configuration", "org", orgID, "id", id, "err", err)
		return ConfigRejectedError{err}
	}
	level.Info(moa.logger).Log("msg", "applied historical alertmanager configuration", "org", orgID, "id", id)

	if previousErr != nil {
		moa.reportReconcileFailure(orgID, errors.Wrap(previousErr, "failed to load previous configuration"))
		return nil
	}
	newReceiverNames, err := definitions.ExtractReceiverNames(config.AlertmanagerConfiguration)
	if err != nil {
		moa.reportReconcileFailure(orgID, err)
		return nil
	}
	moa.reconcileReceiverPermissions(ctx, orgID, previous, newReceiverNames)

	return nil
}

// SaveAndApplyAlertmanagerConfiguration is the primary write path.
func (moa *MultiOrgAlertmanager) SaveAndApplyAlertmanagerConfiguration(ctx context.Context, orgID int64, config definitions.PostableUserConfig) error {
	// The write model is shared with external Alertmanagers where inhibition
	// rules are supported, so the check lives here rather than in Load.
	if len(config.AlertmanagerConfig.InhibitRules) > 0 {
		return ErrInhibitionRulesNotSupported
	}

	// The last known working configuration, for the permission diff later.
	// A store failure here aborts the save; an org that simply has no
	// configuration yet is fine.
	previous, err := moa.configStore.GetLatest(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to get latest configuration: %w", err)
	}

	if err := moa.crypto.ProcessSecureSettings(ctx, orgID, config.AlertmanagerConfig.Receivers); err != nil {
		return fmt.Errorf("failed to post process Alertmanager configuration: %w", err)
	}

	if err := assignReceiverUIDs(config.AlertmanagerConfig.Receivers); err != nil {
		return fmt.Errorf("failed to assign missing uids: %w", err)
	}

	am, err := moa.AlertmanagerFor(orgID)
	if err != nil {
		// It's okay if the alertmanager isn't ready yet, we're changing its config anyway.
		if !errors.Is(err, ErrAlertmanagerNotReady) {
			return err
		}
	}

	if err := am.SaveAndApplyConfig(ctx, &config); err != nil {
		level.Error(moa.logger).Log("msg", "unable to save and apply alertmanager configuration", "org", orgID, "err", err)
		receiverDoesNotExist := ReceiverDoesNotExistError{}
		if errors.As(err, &receiverDoesNotExist) {
			return ReceiverInUseError{Receiver: receiverDoesNotExist.Reference, Err: err}
		}
		timeIntervalDoesNotExist := TimeIntervalDoesNotExistError{}
		if errors.As(err, &timeIntervalDoesNotExist) {
			return TimeIntervalInUseError{Interval: timeIntervalDoesNotExist.Reference, Err: err}
		}
		return ConfigRejectedError{err}
	}

	moa.reconcileReceiverPermissions(ctx, orgID, previous, config.ReceiverNames())

	return nil
}

// modifyAndApplyExtraConfiguration loads the current configuration, applies
// modifyFn to the extra configurations, and re-applies the result.
func (moa *MultiOrgAlertmanager) modifyAndApplyExtraConfiguration(
	ctx context.Context,
	orgID int64,
	modifyFn func([]definitions.ExtraConfiguration) ([]definitions.ExtraConfiguration, error),
) error {
	lookup, err := moa.configStore.GetLatest(ctx, orgID)
	if err != nil {
		return fmt.Errorf("failed to get current configuration: %w", err)
	}
	if !lookup.Found() {
		return provisioning.ErrNoAlertmanagerConfiguration
	}

	cfg, err := definitions.Load([]byte(lookup.Config.AlertmanagerConfiguration))
	if err != nil {
		return fmt.Errorf("failed to unmarshal current alertmanager configuration: %w", err)
	}
	if err := moa.crypto.DecryptExtraConfigs(ctx, cfg); err != nil {
		return fmt.Errorf("failed to decrypt extra configurations: %w", err)
	}

	cfg.ExtraConfigs, err = modifyFn(cfg.ExtraConfigs)
	if err != nil {
		return err
	}

	am, err := moa.AlertmanagerFor(orgID)
	if err != nil {
		// It's okay if the alertmanager isn't ready yet, we're changing its config anyway.
		if !errors.Is(err, ErrAlertmanagerNotReady) {
			return err
		}
	}

	if err := am.SaveAndApplyConfig(ctx, cfg); err != nil {
		level.Error(moa.logger).Log("msg", "unable to save and apply alertmanager configuration with extra config", "org", orgID, "err", err)
		return ConfigRejectedError{err}
	}
	return nil
}

// SaveAndApplyExtraConfiguration adds or replaces the extra configuration
// while preserving the main config. Only one extra configuration may exist
// at a time: a second distinct identifier is a conflict.
func (moa *MultiOrgAlertmanager) SaveAndApplyExtraConfiguration(ctx context.Context, orgID int64, extraConfig definitions.ExtraConfiguration) error {
	if _, err := extraConfig.Validate(); err != nil {
		return fmt.Errorf("invalid extra configuration: %w", err)
	}

	modifyFn := func(configs []definitions.ExtraConfiguration) ([]definitions.ExtraConfiguration, error) {
		for _, c := range configs {
			if c.Identifier != extraConfig.Identifier {
				return nil, MultipleExtraConfigsError{Identifier: c.Identifier}
			}
		}
		return []definitions.ExtraConfiguration{extraConfig}, nil
	}

	if err := moa.modifyAndApplyExtraConfiguration(ctx, orgID, modifyFn); err != nil {
		return err
	}

	level.Info(moa.logger).Log("msg", "applied alertmanager configuration with extra config", "org", orgID, "identifier", extraConfig.Identifier)
	return nil
}

// DeleteExtraConfiguration removes the extra configuration by identifier.
func (moa *MultiOrgAlertmanager) DeleteExtraConfiguration(ctx context.Context, orgID int64, identifier string) error {
	modifyFn := func(configs []definitions.ExtraConfiguration) ([]definitions.ExtraConfiguration, error) {
		filtered := make([]definitions.ExtraConfiguration, 0, len(configs))
		for _, ec := range configs {
			if ec.Identifier != identifier {
				filtered = append(filtered, ec)
			}
		}
		return filtered, nil
	}
	return moa.modifyAndApplyExtraConfiguration(ctx, orgID, modifyFn)
}

// gettableUserConfig converts a raw stored document into the read model.
func (moa *MultiOrgAlertmanager) gettableUserConfig(ctx context.Context, orgID int64, rawConfig string, withAutogen bool) (definitions.GettableUserConfig, error) {
	cfg, err := definitions.Load([]byte(rawConfig))
	if err != nil {
		return definitions.GettableUserConfig{}, fmt.Errorf("failed to unmarshal alertmanager configuration: %w", err)
	}

	if err := moa.crypto.DecryptExtraConfigs(ctx, cfg); err != nil {
		return definitions.GettableUserConfig{}, fmt.Errorf("failed to decrypt extra configurations: %w", err)
	}

	// Secure settings incorrectly stored in cleartext are encrypted before
	// the probe below so a field that became secure after an integration
	// update is still flagged, never echoed.
	if err := moa.crypto.ProcessSecureSettings(ctx, orgID, cfg.AlertmanagerConfig.Receivers); err != nil {
		return definitions.GettableUserConfig{}, fmt.Errorf("failed to encrypt receivers: %w", err)
	}

	if withAutogen {
		if err := AddAutogenConfig(cfg); err != nil {
			return definitions.GettableUserConfig{}, err
		}
	}

	result := definitions.GettableUserConfig{
		TemplateFiles: cfg.TemplateFiles,
		AlertmanagerConfig: definitions.GettableApiAlertingConfig{
			Route:             cfg.AlertmanagerConfig.Route,
			NamedRoutes:       cfg.AlertmanagerConfig.NamedRoutes,
			MuteTimeIntervals: cfg.AlertmanagerConfig.MuteTimeIntervals,
			Templates:         cfg.AlertmanagerConfig.Templates,
		},
		ExtraConfigs: cfg.ExtraConfigs,
	}

	for _, recv := range cfg.AlertmanagerConfig.Receivers {
		gettable := &definitions.GettableApiReceiver{
			Name:             recv.Name,
			ManagedReceivers: make([]*definitions.GettableManagedReceiver, 0, len(recv.ManagedReceivers)),
		}
		for _, mr := range recv.ManagedReceivers {
			secureFields := make(map[string]bool, len(mr.SecureSettings))
			for key := range mr.SecureSettings {
				decrypted, err := moa.crypto.DecryptedValue(ctx, mr, key)
				if err != nil {
					return definitions.GettableUserConfig{}, fmt.Errorf("failed to decrypt stored secure setting: %w", err)
				}
				if decrypted == "" {
					continue
				}
				secureFields[key] = true
			}
			gettable.ManagedReceivers = append(gettable.ManagedReceivers, &definitions.GettableManagedReceiver{
				UID:                   mr.UID,
				Name:                  mr.Name,
				Type:                  mr.Type,
				DisableResolveMessage: mr.DisableResolveMessage,
				Settings:              mr.Settings,
				SecureFields:          secureFields,
			})
		}
		result.AlertmanagerConfig.Receivers = append(result.AlertmanagerConfig.Receivers, gettable)
	}

	return moa.mergeProvenance(ctx, result, orgID)
}

// mergeProvenance annotates the read model with the current provenance of
// the route, receivers, templates and mute timings.
func (moa *MultiOrgAlertmanager) mergeProvenance(ctx context.Context, config definitions.GettableUserConfig, orgID int64) (definitions.GettableUserConfig, error) {
	routeProvenance, err := moa.provStore.GetProvenance(ctx, models.RouteResource{Name: definitions.UserDefinedRouteName}, orgID)
	if err != nil {
		return definitions.GettableUserConfig{}, err
	}
	config.AlertmanagerConfig.RouteProvenance = routeProvenance

	receiverProvs, err := moa.provStore.GetProvenances(ctx, orgID, models.ReceiverResource{}.ResourceType())
	if err != nil {
		return definitions.GettableUserConfig{}, err
	}
	for _, receiver := range config.AlertmanagerConfig.Receivers {
		for _, mr := range receiver.ManagedReceivers {
			if provenance, ok := receiverProvs[mr.UID]; ok {
				mr.Provenance = provenance
			}
		}
	}

	templateProvs, err := moa.provStore.GetProvenances(ctx, orgID, models.TemplateResource{}.ResourceType())
	if err != nil {
		return definitions.GettableUserConfig{}, err
	}
	config.TemplateFileProvenances = make(map[string]models.Provenance, len(templateProvs))
	for key, provenance := range templateProvs {
		config.TemplateFileProvenances[key] = provenance
	}

	muteTimingProvs, err := moa.provStore.GetProvenances(ctx, orgID, models.MuteTimingResource{}.ResourceType())
	if err != nil {
		return definitions.GettableUserConfig{}, err
	}
	config.AlertmanagerConfig.MuteTimeProvenances = make(map[string]models.Provenance, len(muteTimingProvs))
	for key, provenance := range muteTimingProvs {
		config.AlertmanagerConfig.MuteTimeProvenances[key] = provenance
	}

	return config, nil
}
