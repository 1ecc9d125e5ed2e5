// Package config loads engine settings from YAML. Loaded values are handed
// to constructors as plain parameters; nothing here is global state.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/commercekit/channelsync/breaker"
	"github.com/commercekit/channelsync/channelsync"
	"github.com/commercekit/channelsync/logging"
)

// Duration wraps time.Duration so YAML values like "30s" parse directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// BreakerConfig configures the circuit breaker section.
type BreakerConfig struct {
	FailureThreshold int      `yaml:"failure_threshold"`
	RecoveryTimeout  Duration `yaml:"recovery_timeout"`
}

// BulkConfig configures bulk synchronization pacing.
type BulkConfig struct {
	BatchSize  int      `yaml:"batch_size"`
	BatchPause Duration `yaml:"batch_pause"`
}

// EngineConfig is the root configuration document.
type EngineConfig struct {
	Logging logging.Config `yaml:"logging"`
	Breaker BreakerConfig  `yaml:"breaker"`
	Bulk    BulkConfig     `yaml:"bulk"`
}

func (c *EngineConfig) setDefaults() {
	if c.Logging.Level == "" {
		c.Logging = logging.DefaultConfig
	}
	def := breaker.DefaultConfig()
	if c.Breaker.FailureThreshold <= 0 {
		c.Breaker.FailureThreshold = def.FailureThreshold
	}
	if c.Breaker.RecoveryTimeout <= 0 {
		c.Breaker.RecoveryTimeout = Duration(def.RecoveryTimeout)
	}
	if c.Bulk.BatchSize <= 0 {
		c.Bulk.BatchSize = 100
	}
	if c.Bulk.BatchPause <= 0 {
		c.Bulk.BatchPause = Duration(100 * time.Millisecond)
	}
}

// Load reads and validates an EngineConfig from a YAML file, filling unset
// fields with defaults.
func Load(path string) (*EngineConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	var cfg EngineConfig
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config file %s: %w", path, err)
	}
	cfg.setDefaults()
	return &cfg, nil
}

// Default returns an EngineConfig with every field at its default.
func Default() *EngineConfig {
	cfg := &EngineConfig{}
	cfg.setDefaults()
	return cfg
}

// BreakerSettings converts the breaker section to the breaker package's
// config type.
func (c *EngineConfig) BreakerSettings() breaker.Config {
	return breaker.Config{
		FailureThreshold: c.Breaker.FailureThreshold,
		RecoveryTimeout:  time.Duration(c.Breaker.RecoveryTimeout),
	}
}

// ServiceOptions translates the loaded configuration into service options.
func (c *EngineConfig) ServiceOptions() []channelsync.Option {
	return []channelsync.Option{
		channelsync.WithBreaker(breaker.New(c.BreakerSettings())),
		channelsync.WithLogger(logging.NewLogger(c.Logging).Logger),
		channelsync.WithBatchSize(c.Bulk.BatchSize),
		channelsync.WithBatchPause(time.Duration(c.Bulk.BatchPause)),
	}
}
