package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// mockServiceConfig implements ServiceConfig for testing ApplyServiceConfigs
type mockServiceConfig struct {
	defaultsApplied   bool
	envOverridesApply bool
	validated         bool
	validateErr       error
}

func (m *mockServiceConfig) ApplyDefaults() {
	m.defaultsApplied = true
}

func (m *mockServiceConfig) ApplyEnvOverrides() {
	m.envOverridesApply = true
}

func (m *mockServiceConfig) Validate() error {
	m.validated = true
	return m.validateErr
}

func TestApplyServiceConfigs_AllMethodsCalled(t *testing.T) {
	cfg1 := &mockServiceConfig{}
	cfg2 := &mockServiceConfig{}

	err := ApplyServiceConfigs(cfg1, cfg2)

	assert.NoError(t, err)
	assert.True(t, cfg1.defaultsApplied)
	assert.True(t, cfg1.envOverridesApply)
	assert.True(t, cfg1.validated)
	assert.True(t, cfg2.defaultsApplied)
	assert.True(t, cfg2.envOverridesApply)
	assert.True(t, cfg2.validated)
}

func TestApplyServiceConfigs_ValidationError(t *testing.T) {
	cfg1 := &mockServiceConfig{}
	cfg2 := &mockServiceConfig{validateErr: assert.AnError}
	cfg3 := &mockServiceConfig{}

	err := ApplyServiceConfigs(cfg1, cfg2, cfg3)

	assert.Error(t, err)
	assert.Equal(t, assert.AnError, err)

	// Configs after the failing one are not touched.
	assert.False(t, cfg3.defaultsApplied)
}

func TestApplyServiceConfigs_EmptyList(t *testing.T) {
	assert.NoError(t, ApplyServiceConfigs())
}
