package config

import (
	"fmt"
	"os"

	"trellis/internal/pubsub"
)

// NatsConfig holds the NATS connection and stream storage settings.
type NatsConfig struct {
	URL         string `yaml:"url"`
	StorageType string `yaml:"storage_type"` // file or memory
}

// DefaultNatsConfig returns the default NATS configuration.
func DefaultNatsConfig() NatsConfig {
	return NatsConfig{
		URL:         "nats://localhost:4222",
		StorageType: "file",
	}
}

// StorageTypeValue returns the pubsub.StorageType from the config string.
func (c NatsConfig) StorageTypeValue() pubsub.StorageType {
	if c.StorageType == "memory" {
		return pubsub.MemoryStorage
	}
	return pubsub.FileStorage
}

// ApplyDefaults fills zero values with sensible defaults
func (c *NatsConfig) ApplyDefaults() {
	defaults := DefaultNatsConfig()
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.StorageType == "" {
		c.StorageType = defaults.StorageType
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *NatsConfig) ApplyEnvOverrides() {
	if v := os.Getenv("TRELLIS_NATS_URL"); v != "" {
		c.URL = v
	}
}

// Validate returns an error if the configuration is invalid
func (c *NatsConfig) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("nats: url is required")
	}
	if c.StorageType != "file" && c.StorageType != "memory" {
		return fmt.Errorf("nats: storage_type must be 'file' or 'memory'")
	}
	return nil
}
