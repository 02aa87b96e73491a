// Package config holds the executor configuration surface.
package config

import (
	"fmt"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config controls the execution runtime. Zero values are filled in by
// FillDefaults, so a partially-specified TOML file is valid.
type Config struct {
	// Partitions is the default partition count for exchange boundaries
	Partitions int `toml:"partitions"`
	// TaskSlots bounds the number of concurrently executing tasks
	TaskSlots int `toml:"task-slots"`
	// MaxTaskRetries bounds per-task retries before a query fails
	MaxTaskRetries int `toml:"max-task-retries"`
	// BroadcastCeilingBytes fails a query whose broadcast side exceeds it
	BroadcastCeilingBytes int64 `toml:"broadcast-ceiling-bytes"`
	// BloomFPP is the default target false-positive rate for runtime filters
	BloomFPP float64 `toml:"bloom-fpp"`
	// BloomSeed fixes the hash seed so rebuilt filters are deterministic
	BloomSeed uint64 `toml:"bloom-seed"`
	// Codec selects the exchange buffer codec: lz4, snappy or none
	Codec string `toml:"codec"`
	// MaxRowsPerBatch caps the row count of operator output batches
	MaxRowsPerBatch int `toml:"max-rows-per-batch"`
	// LogLevel is the zap level for runtime logging
	LogLevel string `toml:"log-level"`
}

// DefaultConfig returns a Config with every field defaulted
func DefaultConfig() *Config {
	c := &Config{}
	c.FillDefaults()
	return c
}

// FillDefaults replaces zero values with defaults
func (c *Config) FillDefaults() {
	if c.Partitions == 0 {
		c.Partitions = 4
	}
	if c.TaskSlots == 0 {
		c.TaskSlots = runtime.NumCPU()
	}
	if c.MaxTaskRetries == 0 {
		c.MaxTaskRetries = 3
	}
	if c.BroadcastCeilingBytes == 0 {
		c.BroadcastCeilingBytes = 256 * 1024 * 1024
	}
	if c.BloomFPP == 0 {
		c.BloomFPP = 0.01
	}
	if c.BloomSeed == 0 {
		c.BloomSeed = 0x517cc1b727220a95
	}
	if c.Codec == "" {
		c.Codec = "lz4"
	}
	if c.MaxRowsPerBatch == 0 {
		c.MaxRowsPerBatch = 4096
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate returns an error describing the first invalid field
func (c *Config) Validate() error {
	if c.Partitions < 1 {
		return fmt.Errorf("partitions must be positive, got %d", c.Partitions)
	}
	if c.TaskSlots < 1 {
		return fmt.Errorf("task-slots must be positive, got %d", c.TaskSlots)
	}
	if c.MaxTaskRetries < 0 {
		return fmt.Errorf("max-task-retries cannot be negative, got %d", c.MaxTaskRetries)
	}
	if c.BloomFPP <= 0 || c.BloomFPP >= 1 {
		return fmt.Errorf("bloom-fpp must be in (0, 1), got %g", c.BloomFPP)
	}
	switch c.Codec {
	case "lz4", "snappy", "none":
	default:
		return fmt.Errorf("codec must be one of lz4, snappy, none; got %q", c.Codec)
	}
	if c.MaxRowsPerBatch < 1 {
		return fmt.Errorf("max-rows-per-batch must be positive, got %d", c.MaxRowsPerBatch)
	}
	return nil
}

// LoadConfig reads a TOML configuration file, filling defaults for
// unspecified fields
func LoadConfig(path string) (*Config, error) {
	c := &Config{}
	if _, err := toml.DecodeFile(path, c); err != nil {
		return nil, err
	}
	c.FillDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
