// Package auth issues and validates the service tokens attached to
// outbound workflow calls.
package auth

import (
	"fmt"
	"os"
	"time"
)

// Config holds the token service configuration.
type Config struct {
	// PrivateKeyFile is the PEM file holding the RSA signing key. A new
	// key is generated there on first start.
	PrivateKeyFile string `yaml:"private_key_file"`

	// TokenTTLMinutes is the lifetime of issued tokens in minutes.
	TokenTTLMinutes int `yaml:"token_ttl_minutes"`
}

// DefaultConfig returns the default auth configuration.
func DefaultConfig() Config {
	return Config{
		PrivateKeyFile:  "keys/workflow.pem",
		TokenTTLMinutes: 15,
	}
}

// ApplyDefaults fills zero values with sensible defaults
func (c *Config) ApplyDefaults() {
	if c.PrivateKeyFile == "" {
		c.PrivateKeyFile = "keys/workflow.pem"
	}
	if c.TokenTTLMinutes <= 0 {
		c.TokenTTLMinutes = 15
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TRELLIS_PRIVATE_KEY_FILE"); v != "" {
		c.PrivateKeyFile = v
	}
}

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	if c.PrivateKeyFile == "" {
		return fmt.Errorf("auth: private_key_file is required")
	}
	return nil
}

// TokenTTL returns the token lifetime as a duration.
func (c Config) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLMinutes) * time.Minute
}
