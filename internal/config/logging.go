package config

import (
	"fmt"
	"os"
)

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level    string         `yaml:"level"`  // debug, info, warn, error
	Format   string         `yaml:"format"` // text, json
	Dir      string         `yaml:"dir"`    // log directory path
	Rotation RotationConfig `yaml:"rotation"`
	Console  ConsoleConfig  `yaml:"console"`
	File     FileConfig     `yaml:"file"`
}

// RotationConfig holds log rotation settings
type RotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // MB
	MaxBackups int  `yaml:"max_backups"` // number of files
	MaxAge     int  `yaml:"max_age"`     // days
	Compress   bool `yaml:"compress"`    // gzip old files
}

// ConsoleConfig holds console output configuration
type ConsoleConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // optional override
	Format  string `yaml:"format"` // text or json
}

// FileConfig holds file output configuration
type FileConfig struct {
	Enabled bool   `yaml:"enabled"`
	Level   string `yaml:"level"`  // optional override
	Format  string `yaml:"format"` // text or json
}

// DefaultLoggingConfig returns default logging configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "text",
		Dir:    "logs",
		Rotation: RotationConfig{
			MaxSize:    100,
			MaxBackups: 10,
			MaxAge:     30,
			Compress:   true,
		},
		Console: ConsoleConfig{
			Enabled: true,
			Level:   "info",
			Format:  "text",
		},
		File: FileConfig{
			Enabled: true,
			Level:   "info",
			Format:  "json",
		},
	}
}

// ApplyDefaults fills in missing values with defaults
func (c *LoggingConfig) ApplyDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
	if c.Dir == "" {
		c.Dir = "logs"
	}

	if c.Rotation.MaxSize == 0 {
		c.Rotation.MaxSize = 100
	}
	if c.Rotation.MaxBackups == 0 {
		c.Rotation.MaxBackups = 10
	}
	if c.Rotation.MaxAge == 0 {
		c.Rotation.MaxAge = 30
	}
	// Compress stays at its zero value: an explicit false in YAML is
	// indistinguishable from an unset field here.

	// A completely empty console section means "enabled with defaults".
	if c.Console.Level == "" && c.Console.Format == "" && !c.Console.Enabled {
		c.Console.Enabled = true
	}
	if c.Console.Level == "" {
		c.Console.Level = c.Level
	}
	if c.Console.Format == "" {
		c.Console.Format = c.Format
	}

	if c.File.Level == "" && c.File.Format == "" && !c.File.Enabled {
		c.File.Enabled = true
	}
	if c.File.Level == "" {
		c.File.Level = c.Level
	}
	if c.File.Format == "" {
		c.File.Format = "json"
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *LoggingConfig) ApplyEnvOverrides() {
	if v := os.Getenv("TRELLIS_LOG_LEVEL"); v != "" {
		c.Level = v
		c.Console.Level = v
		c.File.Level = v
	}
	if v := os.Getenv("TRELLIS_LOG_DIR"); v != "" {
		c.Dir = v
	}
}

var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"text": true, "json": true}
)

// Validate returns an error if the configuration is invalid
func (c *LoggingConfig) Validate() error {
	if !validLogLevels[c.Level] {
		return fmt.Errorf("invalid log level: %q", c.Level)
	}
	if !validLogFormats[c.Format] {
		return fmt.Errorf("invalid log format: %q", c.Format)
	}
	if c.Console.Enabled {
		if !validLogLevels[c.Console.Level] {
			return fmt.Errorf("invalid console log level: %q", c.Console.Level)
		}
		if !validLogFormats[c.Console.Format] {
			return fmt.Errorf("invalid console log format: %q", c.Console.Format)
		}
	}
	if c.File.Enabled {
		if !validLogLevels[c.File.Level] {
			return fmt.Errorf("invalid file log level: %q", c.File.Level)
		}
		if !validLogFormats[c.File.Format] {
			return fmt.Errorf("invalid file log format: %q", c.File.Format)
		}
	}
	return nil
}
