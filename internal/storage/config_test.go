package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigApplyDefaults(t *testing.T) {
	var cfg Config
	cfg.ApplyDefaults()

	assert.Equal(t, DefaultConfig(), cfg)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout())
	assert.Equal(t, 30*time.Second, cfg.QueryTimeout())
}

func TestConfigApplyDefaults_KeepsExplicitValues(t *testing.T) {
	cfg := Config{URI: "mongodb://db:27017", Database: "flows", ConnectTimeoutSeconds: 3}
	cfg.ApplyDefaults()

	assert.Equal(t, "mongodb://db:27017", cfg.URI)
	assert.Equal(t, "flows", cfg.Database)
	assert.Equal(t, 3, cfg.ConnectTimeoutSeconds)
	assert.Equal(t, 30, cfg.QueryTimeoutSeconds)
}

func TestConfigApplyEnvOverrides(t *testing.T) {
	t.Setenv("TRELLIS_MONGO_URI", "mongodb://override:27017")
	t.Setenv("TRELLIS_MONGO_DATABASE", "override_db")

	cfg := DefaultConfig()
	cfg.ApplyEnvOverrides()

	assert.Equal(t, "mongodb://override:27017", cfg.URI)
	assert.Equal(t, "override_db", cfg.Database)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.URI = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Database = ""
	assert.Error(t, cfg.Validate())
}
