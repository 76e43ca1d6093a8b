package adapter

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration parses YAML values like "500us" or "2ms" into a
// time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config holds the adapter's provisioning parameters.
type Config struct {
	// NumQueues is the number of hardware submission queues.
	NumQueues uint16 `yaml:"num_queues"`

	// QueueBudget is the per-queue outstanding command budget. Together
	// with NumQueues it bounds the host tag space.
	QueueBudget uint16 `yaml:"queue_budget"`

	// MaxDevices caps the number of target devices tracked in the
	// registry. Zero means unlimited.
	MaxDevices int `yaml:"max_devices"`

	// QueueWarnDepth logs a warning when the pending event queue grows
	// past this length. Zero disables the warning.
	QueueWarnDepth int `yaml:"queue_warn_depth"`

	// QDReductionFloor is the minimum queue depth a throttle-group
	// reduction may produce.
	QDReductionFloor uint16 `yaml:"qd_reduction_floor"`

	// QuiescePollInterval is the delay between polls of the per-queue
	// in-use counters on the unrecoverable-controller flush path.
	QuiescePollInterval Duration `yaml:"quiesce_poll_interval"`

	// TracePath, when set, enables the CBOR diagnostic trace file.
	TracePath string `yaml:"trace_path"`
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() Config {
	return Config{
		NumQueues:           8,
		QueueBudget:         256,
		MaxDevices:          1024,
		QueueWarnDepth:      512,
		QDReductionFloor:    8,
		QuiescePollInterval: Duration(500 * time.Microsecond),
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.NumQueues == 0 {
		return fmt.Errorf("%w: num_queues must be at least 1", ErrInvalidConfig)
	}
	if c.QueueBudget == 0 {
		return fmt.Errorf("%w: queue_budget must be at least 1", ErrInvalidConfig)
	}
	// Tag 0 is the invalid sentinel, so the budget must leave room for
	// position+1 to fit in a uint16.
	if c.QueueBudget == 0xFFFF {
		return fmt.Errorf("%w: queue_budget exceeds the tag space", ErrInvalidConfig)
	}
	if c.MaxDevices < 0 {
		return fmt.Errorf("%w: max_devices must not be negative", ErrInvalidConfig)
	}
	if c.QDReductionFloor == 0 {
		return fmt.Errorf("%w: qd_reduction_floor must be at least 1", ErrInvalidConfig)
	}
	if c.QuiescePollInterval <= 0 {
		return fmt.Errorf("%w: quiesce_poll_interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// LoadConfig reads and validates a YAML configuration file. Fields not
// present in the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
