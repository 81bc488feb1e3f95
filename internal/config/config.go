package config

import (
	"log"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"trellis/internal/auth"
	"trellis/internal/storage"
	workflow "trellis/internal/workflow/config"
)

// Config holds the application configuration
type Config struct {
	Logging LoggingConfig `yaml:"logging"`

	// Components
	Storage storage.Config `yaml:"storage"`
	Nats    NatsConfig     `yaml:"nats"`
	Auth    auth.Config    `yaml:"auth"`

	// Services
	Workflow workflow.Config `yaml:"workflow"`
}

// Load loads configuration from files and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyEnvOverrides -> Validate
func Load(dir string) (*Config, error) {
	// 1. Start with default values (so YAML can override them, including bool fields)
	cfg := &Config{
		Logging:  DefaultLoggingConfig(),
		Storage:  storage.DefaultConfig(),
		Nats:     DefaultNatsConfig(),
		Auth:     auth.DefaultConfig(),
		Workflow: workflow.DefaultConfig(),
	}

	// 2. Load config.yml (overrides defaults)
	loadFile(filepath.Join(dir, "config.yml"), cfg)

	// 3. Load config.local.yml (overrides config.yml)
	loadFile(filepath.Join(dir, "config.local.yml"), cfg)

	// 4. Apply configuration lifecycle: ApplyDefaults fills gaps, ApplyEnvOverrides, Validate
	if err := ApplyServiceConfigs(
		&cfg.Logging,
		&cfg.Storage,
		&cfg.Nats,
		&cfg.Auth,
		&cfg.Workflow,
	); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(filename string, cfg *Config) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return // File doesn't exist, skip
		}
		log.Printf("Warning: Error reading %s: %v", filename, err)
		return
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("Warning: Error parsing %s: %v", filename, err)
	}
}
