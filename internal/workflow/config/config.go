// Package config holds the workflow service configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config controls the workflow service: event ingestion, batch fan-out,
// the two pollers, and the outbound handler knobs.
type Config struct {
	// StreamName is the JetStream stream carrying record change events.
	StreamName string `yaml:"stream_name"`

	// ConsumerName is the durable consumer the service reads with.
	ConsumerName string `yaml:"consumer_name"`

	// FilterSubject narrows consumption to a subject pattern. Empty means
	// the whole stream.
	FilterSubject string `yaml:"filter_subject"`

	// WorkerCount is the number of consumer workers. Events shard across
	// workers by tenant+record so per-record order is preserved.
	WorkerCount int `yaml:"worker_count"`

	// ChannelBufSize is the per-worker channel buffer.
	ChannelBufSize int `yaml:"channel_buf_size"`

	DrainTimeoutSeconds    int `yaml:"drain_timeout_seconds"`
	ShutdownTimeoutSeconds int `yaml:"shutdown_timeout_seconds"`

	// BatchConcurrency bounds EvaluateBatch fan-out. 1 evaluates in-line.
	BatchConcurrency int `yaml:"batch_concurrency"`

	SchedulerPollSeconds int `yaml:"scheduler_poll_seconds"`
	PendingPollSeconds   int `yaml:"pending_poll_seconds"`

	// PublishStream is the JetStream stream PUBLISH_EVENT actions write to.
	PublishStream string `yaml:"publish_stream"`

	// PublishPrefix is prepended to PUBLISH_EVENT subjects.
	PublishPrefix string `yaml:"publish_prefix"`

	// CalloutTimeoutSeconds bounds a single HTTP_CALLOUT request.
	CalloutTimeoutSeconds int `yaml:"callout_timeout_seconds"`
}

// DefaultConfig returns the default workflow configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:             "TRELLIS_EVENTS",
		ConsumerName:           "workflow-engine",
		WorkerCount:            16,
		ChannelBufSize:         100,
		DrainTimeoutSeconds:    10,
		ShutdownTimeoutSeconds: 30,
		BatchConcurrency:       4,
		SchedulerPollSeconds:   60,
		PendingPollSeconds:     60,
		PublishStream:          "TRELLIS_WORKFLOW",
		PublishPrefix:          "workflow",
		CalloutTimeoutSeconds:  30,
	}
}

// ApplyDefaults fills zero values with sensible defaults
func (c *Config) ApplyDefaults() {
	def := DefaultConfig()
	if c.StreamName == "" {
		c.StreamName = def.StreamName
	}
	if c.ConsumerName == "" {
		c.ConsumerName = def.ConsumerName
	}
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.ChannelBufSize <= 0 {
		c.ChannelBufSize = def.ChannelBufSize
	}
	if c.DrainTimeoutSeconds <= 0 {
		c.DrainTimeoutSeconds = def.DrainTimeoutSeconds
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		c.ShutdownTimeoutSeconds = def.ShutdownTimeoutSeconds
	}
	if c.BatchConcurrency <= 0 {
		c.BatchConcurrency = def.BatchConcurrency
	}
	if c.SchedulerPollSeconds <= 0 {
		c.SchedulerPollSeconds = def.SchedulerPollSeconds
	}
	if c.PendingPollSeconds <= 0 {
		c.PendingPollSeconds = def.PendingPollSeconds
	}
	if c.PublishStream == "" {
		c.PublishStream = def.PublishStream
	}
	if c.PublishPrefix == "" {
		c.PublishPrefix = def.PublishPrefix
	}
	if c.CalloutTimeoutSeconds <= 0 {
		c.CalloutTimeoutSeconds = def.CalloutTimeoutSeconds
	}
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("TRELLIS_WORKFLOW_STREAM"); v != "" {
		c.StreamName = v
	}
	if v := os.Getenv("TRELLIS_WORKFLOW_CONSUMER"); v != "" {
		c.ConsumerName = v
	}
	if v := os.Getenv("TRELLIS_WORKFLOW_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WorkerCount = n
		}
	}
}

// Validate returns an error if the configuration is invalid
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("workflow: stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("workflow: consumer_name is required")
	}
	if c.PublishStream == "" {
		return fmt.Errorf("workflow: publish_stream is required")
	}
	return nil
}

// DrainTimeout returns the consumer drain timeout as a duration.
func (c Config) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the consumer shutdown timeout as a duration.
func (c Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}

// SchedulerPollInterval returns the scheduled-rule poll interval.
func (c Config) SchedulerPollInterval() time.Duration {
	return time.Duration(c.SchedulerPollSeconds) * time.Second
}

// PendingPollInterval returns the pending-action poll interval.
func (c Config) PendingPollInterval() time.Duration {
	return time.Duration(c.PendingPollSeconds) * time.Second
}

// CalloutTimeout returns the HTTP callout timeout.
func (c Config) CalloutTimeout() time.Duration {
	return time.Duration(c.CalloutTimeoutSeconds) * time.Second
}
