package storage

import (
	"fmt"
	"os"
	"time"
)

// Config holds the Mongo connection settings.
type Config struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`

	ConnectTimeoutSeconds int `yaml:"connect_timeout_seconds"`
	QueryTimeoutSeconds   int `yaml:"query_timeout_seconds"`
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		URI:                   "mongodb://localhost:27017",
		Database:              "trellis",
		ConnectTimeoutSeconds: 10,
		QueryTimeoutSeconds:   30,
	}
}

// ApplyDefaults fills zero values with sensible defaults
func (c *Config) ApplyDefaults() {
	if c.URI == "" {
		c.URI = "mongodb://localhost:27017"
	}
	if c.Database == "" {
		c.Database = "trellis"
	}
	if c.ConnectTimeoutSeconds <= 0 {
		c.ConnectTimeoutSeconds = 10
	}
	if c.QueryTimeoutSeconds <= 0 {
		c.QueryTimeoutSeconds = 30
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TRELLIS_MONGO_URI"); v != "" {
		c.URI = v
	}
	if v := os.Getenv("TRELLIS_MONGO_DATABASE"); v != "" {
		c.Database = v
	}
}

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	if c.URI == "" {
		return fmt.Errorf("storage: uri is required")
	}
	if c.Database == "" {
		return fmt.Errorf("storage: database is required")
	}
	return nil
}

// ConnectTimeout returns the connect timeout as a duration.
func (c Config) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutSeconds) * time.Second
}

// QueryTimeout returns the per-query timeout as a duration.
func (c Config) QueryTimeout() time.Duration {
	return time.Duration(c.QueryTimeoutSeconds) * time.Second
}
