package config

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Structs

// Config holds all information parsed from the supplied
// simulation config file.
type Config struct {
	Replicas       int           `yaml:"replicas"`
	Operations     int           `yaml:"operations"`
	MaxValue       int           `yaml:"max_value"`
	RemoveRatio    float64       `yaml:"remove_ratio"`
	Seed           int64         `yaml:"seed"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	Timeout        time.Duration `yaml:"timeout"`
	LogLevel       string        `yaml:"log_level"`
	MetricsAddr    string        `yaml:"metrics_addr"`
}

// Functions

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Replicas:       3,
		Operations:     100,
		MaxValue:       20,
		RemoveRatio:    0.3,
		Seed:           1,
		GossipInterval: 50 * time.Millisecond,
		Timeout:        10 * time.Second,
		LogLevel:       "info",
	}
}

// LoadConfig reads the YAML file at path on top of the defaults
// and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %q", path)
	}
	return Parse(data)
}

// Parse decodes YAML on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that every field is usable.
func (c *Config) Validate() error {
	switch {
	case c.Replicas < 1:
		return errors.Errorf("replicas must be at least 1, got %d", c.Replicas)
	case c.Operations < 0:
		return errors.Errorf("operations must not be negative, got %d", c.Operations)
	case c.MaxValue < 1:
		return errors.Errorf("max_value must be at least 1, got %d", c.MaxValue)
	case c.RemoveRatio < 0 || c.RemoveRatio > 1:
		return errors.Errorf("remove_ratio must be within [0, 1], got %v", c.RemoveRatio)
	case c.GossipInterval <= 0:
		return errors.Errorf("gossip_interval must be positive, got %s", c.GossipInterval)
	case c.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %s", c.Timeout)
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.Errorf("unknown log_level %q", c.LogLevel)
	}
	return nil
}
