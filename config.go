package quotagate

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultFlushInterval = 5 * time.Second
	DefaultBatchSize     = 100
	DefaultQueueCapacity = 1000
)

// Config is the construction-time configuration for a Manager.
type Config struct {
	// NodeID identifies this process in logs. Defaults to a random UUID.
	NodeID string `yaml:"node_id"`

	// StorePath is where a file-backed store keeps its data. The Manager
	// itself takes an opened Store handle; this field is for callers that
	// wire a store from config.
	StorePath string `yaml:"store_path"`

	// FlushInterval is the longest the background worker waits for the
	// next queued delta before flushing a non-empty batch.
	FlushInterval Duration `yaml:"flush_interval"`

	// BatchSize is the number of queued deltas that forces a flush.
	BatchSize int `yaml:"batch_size"`

	// QueueCapacity bounds the delta queue; producers block when it is full.
	QueueCapacity int `yaml:"queue_capacity"`
}

// Duration is a time.Duration that unmarshals from Go duration strings
// ("200ms", "5s") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("quotagate: config: invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("quotagate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("quotagate: parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// applyDefaults fills zero-valued fields with the package defaults.
func (c *Config) applyDefaults() {
	if c.NodeID == "" {
		c.NodeID = uuid.New().String()
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = Duration(DefaultFlushInterval)
	}
	if c.BatchSize == 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = DefaultQueueCapacity
	}
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	if c.FlushInterval <= 0 {
		return fmt.Errorf("quotagate: config: flush_interval must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("quotagate: config: batch_size must be positive")
	}
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("quotagate: config: queue_capacity must be positive")
	}
	return nil
}
