package state

import (
	"gopkg.in/yaml.v3"

	"github.com/flare576/ei/internal/eitypes"
)

// SettingsGet returns a copy of the human's settings.
func (m *Manager) SettingsGet() eitypes.HumanSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Human.Settings
}

// SettingsSet applies a partial update: any field left at its zero value in
// patch leaves the corresponding stored field untouched, following the
// teacher's "patch struct, merge non-zero fields" convention used across
// the persona/settings update paths.
func (m *Manager) SettingsSet(patch eitypes.HumanSettings) eitypes.HumanSettings {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := &m.state.Human.Settings
	if patch.DisplayName != "" {
		cur.DisplayName = patch.DisplayName
	}
	if patch.ProviderAccounts != nil {
		cur.ProviderAccounts = patch.ProviderAccounts
	}
	if patch.SyncUsername != "" {
		cur.SyncUsername = patch.SyncUsername
	}
	if patch.CeremonyLocalTime != "" {
		cur.CeremonyLocalTime = patch.CeremonyLocalTime
	}
	if patch.CeremonyTimezone != "" {
		cur.CeremonyTimezone = patch.CeremonyTimezone
	}
	if patch.DefaultModel != "" {
		cur.DefaultModel = patch.DefaultModel
	}
	if patch.OperationModelConcept != "" {
		cur.OperationModelConcept = patch.OperationModelConcept
	}
	if patch.OperationModelResponse != "" {
		cur.OperationModelResponse = patch.OperationModelResponse
	}
	if patch.OperationModelGeneration != "" {
		cur.OperationModelGeneration = patch.OperationModelGeneration
	}
	return *cur
}

// SettingsExportYAML renders the human's settings as YAML, backing the
// `/settings` command surface (spec §6; payload shape supplemented in
// SPEC_FULL.md since the distilled spec names the command without one).
func (m *Manager) SettingsExportYAML() (string, error) {
	settings := m.SettingsGet()
	out, err := yaml.Marshal(settings)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
