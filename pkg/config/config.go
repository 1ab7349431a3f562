package config

import (
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the rigmuxd configuration
type Config struct {
	Rig struct {
		// Address of the rigctld-compatible endpoint that owns the
		// serial link to the transceiver.
		Address   string `yaml:"address" envconfig:"RIG_ADDRESS"`
		TimeoutMs int    `yaml:"timeout_ms" envconfig:"RIG_TIMEOUT_MS"`
		UseMock   bool   `yaml:"use_mock" envconfig:"RIG_USE_MOCK"`
	} `yaml:"rig"`

	Display struct {
		// Address of the SDR display's rigctl server (frequency/mode
		// push target and tune source).
		Address   string `yaml:"address" envconfig:"DISPLAY_ADDRESS"`
		TimeoutMs int    `yaml:"timeout_ms" envconfig:"DISPLAY_TIMEOUT_MS"`
	} `yaml:"display"`

	Sync struct {
		Enabled        bool `yaml:"enabled" envconfig:"SYNC_ENABLED"`
		IntervalMs     int  `yaml:"interval_ms" envconfig:"SYNC_INTERVAL_MS"`
		DeadbandHz     int  `yaml:"deadband_hz" envconfig:"SYNC_DEADBAND_HZ"`
		SettleWindowMs int  `yaml:"settle_window_ms" envconfig:"SYNC_SETTLE_WINDOW_MS"`
	} `yaml:"sync"`

	PTT struct {
		TimeoutSec int `yaml:"timeout_sec" envconfig:"PTT_TIMEOUT_SEC"`
	} `yaml:"ptt"`

	Bridge struct {
		Port           int    `yaml:"port" envconfig:"BRIDGE_PORT"`
		BindAddress    string `yaml:"bind_address" envconfig:"BRIDGE_BIND_ADDRESS"`
		IdleTimeoutSec int    `yaml:"idle_timeout_sec" envconfig:"BRIDGE_IDLE_TIMEOUT_SEC"`
	} `yaml:"bridge"`

	Web struct {
		Port        int    `yaml:"port" envconfig:"WEB_PORT"`
		BindAddress string `yaml:"bind_address" envconfig:"WEB_BIND_ADDRESS"`
	} `yaml:"web"`

	Storage struct {
		DatabasePath string `yaml:"database_path" envconfig:"STORAGE_DATABASE_PATH"`
		MaxEvents    int    `yaml:"max_events" envconfig:"STORAGE_MAX_EVENTS"`
	} `yaml:"storage"`

	Logging struct {
		Level      string `yaml:"level" envconfig:"LOG_LEVEL"`
		File       string `yaml:"file" envconfig:"LOG_FILE"`
		Console    bool   `yaml:"console" envconfig:"LOG_CONSOLE"`
		Structured bool   `yaml:"structured" envconfig:"LOG_STRUCTURED"`
		MaxSize    int    `yaml:"max_size"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`
}

// LoadConfig loads configuration from a YAML file. Environment variables
// prefixed with RIGMUXD_ override file values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := envconfig.Process("rigmuxd", &config); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return &config, nil
}

// applyDefaults fills in zero-valued fields. The bridge defaults to the
// standard rigctld port so digital-mode applications work unconfigured;
// the rig and display endpoints therefore default to non-standard ports.
func (c *Config) applyDefaults() {
	if c.Rig.Address == "" {
		c.Rig.Address = "127.0.0.1:4534"
	}
	if c.Rig.TimeoutMs == 0 {
		c.Rig.TimeoutMs = 1000
	}
	if c.Display.Address == "" {
		c.Display.Address = "127.0.0.1:4533"
	}
	if c.Display.TimeoutMs == 0 {
		c.Display.TimeoutMs = 1000
	}
	if c.Sync.IntervalMs == 0 {
		c.Sync.IntervalMs = 500
	}
	if c.Sync.DeadbandHz == 0 {
		c.Sync.DeadbandHz = 100
	}
	if c.Sync.SettleWindowMs == 0 {
		c.Sync.SettleWindowMs = 3000
	}
	if c.PTT.TimeoutSec == 0 {
		c.PTT.TimeoutSec = 180
	}
	if c.Bridge.Port == 0 {
		c.Bridge.Port = 4532
	}
	if c.Bridge.BindAddress == "" {
		c.Bridge.BindAddress = "0.0.0.0"
	}
	if c.Bridge.IdleTimeoutSec == 0 {
		c.Bridge.IdleTimeoutSec = 300
	}
	if c.Web.Port == 0 {
		c.Web.Port = 8080
	}
	if c.Web.BindAddress == "" {
		c.Web.BindAddress = "0.0.0.0"
	}
	if c.Storage.DatabasePath == "" {
		c.Storage.DatabasePath = "./rigmuxd.db"
	}
	if c.Storage.MaxEvents == 0 {
		c.Storage.MaxEvents = 10000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.MaxSize == 0 {
		c.Logging.MaxSize = 10
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 3
	}
	if c.Logging.MaxAge == 0 {
		c.Logging.MaxAge = 28
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !c.Rig.UseMock && c.Rig.Address == "" {
		return fmt.Errorf("rig address is required")
	}
	if c.Sync.Enabled && c.Display.Address == "" {
		return fmt.Errorf("display address is required when sync is enabled")
	}
	if c.Sync.IntervalMs < 0 {
		return fmt.Errorf("sync interval must be positive")
	}
	if c.Sync.DeadbandHz < 0 {
		return fmt.Errorf("sync deadband must be positive")
	}
	if c.PTT.TimeoutSec <= 0 {
		return fmt.Errorf("ptt timeout must be positive")
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("invalid bridge port: %d", c.Bridge.Port)
	}
	if c.Bridge.Port == c.Web.Port {
		return fmt.Errorf("bridge and web ports must differ")
	}
	return nil
}
