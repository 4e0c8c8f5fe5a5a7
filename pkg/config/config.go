// Package config loads the station configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	"github.com/256dpi/wxstation/pkg/ota"
	"github.com/256dpi/wxstation/pkg/sensor"
	"github.com/256dpi/wxstation/pkg/utils"
)

// The chunk size limits.
const (
	MinChunkSize = 256
	MaxChunkSize = 64 * 1024
)

// Update configures the update agent.
type Update struct {
	URL         string        `yaml:"url"`
	Discover    bool          `yaml:"discover"`
	Pattern     string        `yaml:"pattern"`
	ChunkSize   int           `yaml:"chunk_size"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	MaxSize     string        `yaml:"max_size"`
	Every       int           `yaml:"every"`
}

// Enabled returns whether updates are configured.
func (u Update) Enabled() bool {
	return u.URL != "" || u.Discover
}

// MaxBytes returns the parsed maximum image size.
func (u Update) MaxBytes() (uint32, error) {
	return parseSize(u.MaxSize)
}

// Flash configures the firmware storage.
type Flash struct {
	Dir           string `yaml:"dir"`
	PartitionSize string `yaml:"partition_size"`
}

// PartitionBytes returns the parsed partition size.
func (f Flash) PartitionBytes() (uint32, error) {
	return parseSize(f.PartitionSize)
}

// Watchdog configures the task watchdog.
type Watchdog struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Sleep configures the duty cycle.
type Sleep struct {
	Interval time.Duration `yaml:"interval"`
	Active   time.Duration `yaml:"active"`
}

// Sensors configures the I2C sensors and the pulse inputs.
type Sensors struct {
	Enabled  bool          `yaml:"enabled"`
	Bus      string        `yaml:"bus"`
	Climate  uint16        `yaml:"climate"`
	Battery  uint16        `yaml:"battery"`
	Wind     uint16        `yaml:"wind"`
	RainPin  string        `yaml:"rain_pin"`
	SpeedPin string        `yaml:"speed_pin"`
	Debounce time.Duration `yaml:"debounce"`
}

// Config is the station configuration.
type Config struct {
	Name      string   `yaml:"name"`
	Broker    string   `yaml:"broker"`
	BaseTopic string   `yaml:"base_topic"`
	LogLevel  string   `yaml:"log_level"`
	Update    Update   `yaml:"update"`
	Flash     Flash    `yaml:"flash"`
	Watchdog  Watchdog `yaml:"watchdog"`
	Sleep     Sleep    `yaml:"sleep"`
	Sensors   Sensors  `yaml:"sensors"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Name:     "wxstation",
		Broker:   "mqtt://localhost:1883",
		LogLevel: "info",
		Update: Update{
			Pattern:     "*",
			ChunkSize:   ota.DefaultChunkSize,
			Timeout:     ota.DefaultTimeout,
			MaxAttempts: 1,
			MaxSize:     "1536K",
			Every:       1,
		},
		Flash: Flash{
			Dir:           "flash",
			PartitionSize: "1536K",
		},
		Watchdog: Watchdog{
			Timeout: 30 * time.Second,
		},
		Sleep: Sleep{
			Interval: 10 * time.Minute,
			Active:   time.Minute,
		},
		Sensors: Sensors{
			Climate:  sensor.DefaultClimateAddress,
			Battery:  sensor.DefaultBatteryAddress,
			Wind:     sensor.DefaultWindAddress,
			Debounce: sensor.DefaultDebounce,
		},
	}
}

// Load reads the configuration file at the specified path. Missing values are
// set to their defaults and relative paths are resolved against the directory
// of the file.
func Load(path string) (*Config, error) {
	// check file
	ok, err := utils.Exists(path)
	if err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("config file %q not found", path)
	}

	// read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// parse data
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	// resolve flash directory
	cfg.Flash.Dir, err = utils.Resolve(cfg.Flash.Dir, filepath.Dir(path))
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes and validates a configuration.
func Parse(data []byte) (*Config, error) {
	// decode over defaults
	cfg := Default()
	err := yaml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, err
	}

	// clamp chunk size
	cfg.Update.ChunkSize = lo.Clamp(cfg.Update.ChunkSize, MinChunkSize, MaxChunkSize)

	// validate
	err = cfg.Validate()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	// check general
	if c.Name == "" {
		return errors.New("missing name")
	} else if c.Broker == "" {
		return errors.New("missing broker")
	}
	_, err := utils.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}

	// check update
	if c.Update.Timeout <= 0 {
		return errors.New("update timeout must be positive")
	} else if c.Update.MaxAttempts < 1 {
		return errors.New("update max attempts must be at least one")
	} else if c.Update.Every < 0 {
		return errors.New("update every must not be negative")
	}
	_, err = c.Update.MaxBytes()
	if err != nil {
		return fmt.Errorf("update max size: %w", err)
	}

	// check flash
	if c.Flash.Dir == "" {
		return errors.New("missing flash directory")
	}
	_, err = c.Flash.PartitionBytes()
	if err != nil {
		return fmt.Errorf("flash partition size: %w", err)
	}

	// check durations
	if c.Watchdog.Timeout <= 0 {
		return errors.New("watchdog timeout must be positive")
	} else if c.Sleep.Interval <= 0 {
		return errors.New("sleep interval must be positive")
	} else if c.Sleep.Active < 0 {
		return errors.New("sleep active must not be negative")
	} else if c.Sensors.Debounce < 0 {
		return errors.New("sensors debounce must not be negative")
	}

	return nil
}

// Base returns the configured base topic. If none is configured the base
// derived from the broker URL is used and finally the station name.
func (c *Config) Base(broker string) string {
	if c.BaseTopic != "" {
		return c.BaseTopic
	} else if broker != "" {
		return broker
	}
	return c.Name
}

func parseSize(s string) (uint32, error) {
	// allow unbounded
	if s == "" || s == "0" {
		return 0, nil
	}

	// parse size
	n, err := bytefmt.ToBytes(s)
	if err != nil {
		return 0, err
	} else if n > 1<<32-1 {
		return 0, fmt.Errorf("size %q too large", s)
	}

	return uint32(n), nil
}
