package definitions

import (
	"encoding/json"
	"fmt"
)

// DefaultConfigurationJSON is the built-in configuration an org starts from
// and is reset to. It routes everything to a single email receiver.
const DefaultConfigurationJSON = `{
	"alertmanager_config": {
		"route": {
			"receiver": "default-email",
			"group_by": ["alertname"]
		},
		"receivers": [{
			"name": "default-email",
			"managed_receiver_configs": [{
				"uid": "",
				"name": "default-email",
				"type": "email",
				"settings": {
					"addresses": "<example@email.com>"
				}
			}]
		}]
	}
}`

// Load deserializes a configuration document. Documents are stored and
// exchanged as JSON.
func Load(raw []byte) (*PostableUserConfig, error) {
	cfg := &PostableUserConfig{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("unable to parse Alertmanager configuration: %w", err)
	}
	return cfg, nil
}

// Serialize renders the document for storage.
func (c *PostableUserConfig) Serialize() ([]byte, error) {
	return json.Marshal(c)
}

// ExtractReceiverNames pulls only alertmanager_config.receivers[].name out of
// a raw document. Unmarshalling ignores everything else, so it succeeds on
// documents whose unrelated sections are structurally invalid. Permission
// diffing relies on this when reading historical configurations that may
// pre-date schema changes.
func ExtractReceiverNames(rawConfig string) (map[string]struct{}, error) {
	type receiverUserConfig struct {
		AlertmanagerConfig struct {
			Receivers []struct {
				Name string `json:"name"`
			} `json:"receivers,omitempty"`
		} `json:"alertmanager_config"`
	}

	cfg := &receiverUserConfig{}
	if err := json.Unmarshal([]byte(rawConfig), cfg); err != nil {
		return nil, fmt.Errorf("unable to parse Alertmanager configuration: %w", err)
	}

	names := make(map[string]struct{}, len(cfg.AlertmanagerConfig.Receivers))
	for _, r := range cfg.AlertmanagerConfig.Receivers {
		names[r.Name] = struct{}{}
	}
	return names, nil
}

// ReceiverNames collects the receiver names of a parsed document.
func (c *PostableUserConfig) ReceiverNames() map[string]struct{} {
	names := make(map[string]struct{}, len(c.AlertmanagerConfig.Receivers))
	for _, r := range c.AlertmanagerConfig.Receivers {
		names[r.Name] = struct{}{}
	}
	return names
}

// GetManagedReceiver finds an integration by UID across all receivers.
func (c *PostableUserConfig) GetManagedReceiver(uid string) *ManagedReceiver {
	for _, r := range c.AlertmanagerConfig.Receivers {
		for _, mr := range r.ManagedReceivers {
			if mr.UID == uid {
				return mr
			}
		}
	}
	return nil
}
