// Package config loads the dmxd YAML configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Devices         []DeviceConfig `yaml:"devices"`
	BLE             BLEConfig      `yaml:"ble"`
	API             APIConfig      `yaml:"api"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	EventBus        EventBusConfig `yaml:"eventbus"`
	Script          string         `yaml:"script"`           // optional Lua scene script
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig names one LEDDMX controller and its hardware address.
type DeviceConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
}

// BLEConfig contains transport and device-timing settings shared by all
// devices.
type BLEConfig struct {
	ScanTimeout     Duration `yaml:"scan_timeout"`     // Max time to resolve an address by scanning
	ConnectAttempts int      `yaml:"connect_attempts"` // Bounded connect retries per write
	WriteRate       float64  `yaml:"write_rate"`       // Frame writes per second, 0 = unlimited
	SettleDelay     Duration `yaml:"settle_delay"`     // Wait after forcing the opposite mode off
	ResetDelay      Duration `yaml:"reset_delay"`      // Wait inside the mic-mode power cycle
	FrameGap        Duration `yaml:"frame_gap"`        // Wait between redundant sends
	RedundantSends  int      `yaml:"redundant_sends"`  // Mic frame repeats
	Optimistic      *bool    `yaml:"optimistic_updates"`
}

// IsOptimistic reports whether local state is kept on write failure.
// Defaults to true: the device is treated as eventually consistent.
func (c *BLEConfig) IsOptimistic() bool {
	if c.Optimistic == nil {
		return true
	}
	return *c.Optimistic
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// IsEnabled reports whether the API server should run. Defaults to true.
func (c *APIConfig) IsEnabled() bool {
	if c.Enabled == nil {
		return true
	}
	return *c.Enabled
}

// Addr returns the listen address.
func (c *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the log level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 2)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 64)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 2
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 64
	}
	return c.QueueSize
}

// GetShutdownTimeout returns the shutdown timeout with default
func (c *Config) GetShutdownTimeout() time.Duration {
	if c.ShutdownTimeout == 0 {
		return 5 * time.Second
	}
	return c.ShutdownTimeout.Duration()
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Devices) == 0 {
		return nil, fmt.Errorf("no devices configured")
	}

	// Set defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./dmxd.sqlite"
	}

	// BLE defaults - timings observed to work with LEDDMX firmware
	if cfg.BLE.ScanTimeout == 0 {
		cfg.BLE.ScanTimeout = Duration(10 * time.Second)
	}
	if cfg.BLE.ConnectAttempts == 0 {
		cfg.BLE.ConnectAttempts = 3
	}
	if cfg.BLE.WriteRate == 0 {
		cfg.BLE.WriteRate = 20.0
	}
	if cfg.BLE.SettleDelay == 0 {
		cfg.BLE.SettleDelay = Duration(200 * time.Millisecond)
	}
	if cfg.BLE.ResetDelay == 0 {
		cfg.BLE.ResetDelay = Duration(100 * time.Millisecond)
	}
	if cfg.BLE.FrameGap == 0 {
		cfg.BLE.FrameGap = Duration(50 * time.Millisecond)
	}
	if cfg.BLE.RedundantSends == 0 {
		cfg.BLE.RedundantSends = 2
	}

	// API defaults
	if cfg.API.Port == 0 {
		cfg.API.Port = 8035
	}
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}

	return &cfg, nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
