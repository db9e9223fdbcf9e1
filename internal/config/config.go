package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Sensor sources supported by the device simulator
const (
	SensorTypeDHT11     = "DHT11"
	SensorTypeSynthetic = "synthetic"
)

// Config holds all configuration for the device simulator
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Server  ServerConfig  `yaml:"server"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig contains device-specific settings
type DeviceConfig struct {
	ID           string        `yaml:"id"`
	Location     string        `yaml:"location"`
	Type         string        `yaml:"type"`     // DHT11 or synthetic
	GPIOPin      int           `yaml:"gpio_pin"` // DHT11 only
	ReadInterval time.Duration `yaml:"read_interval"`
}

// ServerConfig contains connection settings for the hub
type ServerConfig struct {
	URL                  string        `yaml:"url"`
	Binary               bool          `yaml:"binary"` // send CBOR frames instead of JSON
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
	ReconnectInterval    time.Duration `yaml:"reconnect_interval"`
	MaxReconnectInterval time.Duration `yaml:"max_reconnect_interval"`
	PingInterval         time.Duration `yaml:"ping_interval"`
	PongTimeout          time.Duration `yaml:"pong_timeout"`
	Discover             bool          `yaml:"discover"` // resolve the hub over mDNS when URL is empty
	Service              string        `yaml:"service"`
	DiscoverTimeout      time.Duration `yaml:"discover_timeout"`
}

// BufferConfig contains settings for the offline telemetry buffer
type BufferConfig struct {
	Size       int  `yaml:"size"`
	DropOldest bool `yaml:"drop_oldest"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Format     string `yaml:"format"`      // json or text
	FilePath   string `yaml:"file_path"`   // empty = stdout only
	MaxSizeMB  int    `yaml:"max_size_mb"` // rotate after this size
	MaxBackups int    `yaml:"max_backups"`
}

// LoadConfig loads device simulator configuration from a YAML file
func LoadConfig(path string) (*Config, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	config.OverrideFromEnv()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (c *Config) ApplyDefaults() {
	if c.Device.Type == "" {
		c.Device.Type = SensorTypeSynthetic
	}
	if c.Device.ReadInterval == 0 {
		c.Device.ReadInterval = 30 * time.Second
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = 10 * time.Second
	}
	if c.Server.ReconnectInterval == 0 {
		c.Server.ReconnectInterval = 1 * time.Second
	}
	if c.Server.MaxReconnectInterval == 0 {
		c.Server.MaxReconnectInterval = 5 * time.Minute
	}
	if c.Server.PingInterval == 0 {
		c.Server.PingInterval = 20 * time.Second
	}
	if c.Server.PongTimeout == 0 {
		c.Server.PongTimeout = 10 * time.Second
	}
	if c.Server.Service == "" {
		c.Server.Service = "_devicehub._tcp"
	}
	if c.Server.DiscoverTimeout == 0 {
		c.Server.DiscoverTimeout = 5 * time.Second
	}
	if c.Buffer.Size == 0 {
		c.Buffer.Size = 1000
		c.Buffer.DropOldest = true
	}
	c.Logging.applyDefaults()
}

// OverrideFromEnv overrides config values from environment variables
func (c *Config) OverrideFromEnv() {
	if v := os.Getenv("DEVICE_ID"); v != "" {
		c.Device.ID = v
	}
	if v := os.Getenv("DEVICE_LOCATION"); v != "" {
		c.Device.Location = v
	}
	if v := os.Getenv("SERVER_URL"); v != "" {
		c.Server.URL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Device.ID) == "" {
		return fmt.Errorf("device ID is required")
	}
	switch c.Device.Type {
	case SensorTypeDHT11:
		if c.Device.GPIOPin <= 0 {
			return fmt.Errorf("GPIO pin must be greater than 0 for %s", SensorTypeDHT11)
		}
	case SensorTypeSynthetic:
	default:
		return fmt.Errorf("unknown device type %q", c.Device.Type)
	}
	switch {
	case c.Server.URL == "" && !c.Server.Discover:
		return fmt.Errorf("server URL is required unless discovery is enabled")
	case c.Server.URL != "" && !strings.HasPrefix(c.Server.URL, "ws://") && !strings.HasPrefix(c.Server.URL, "wss://"):
		return fmt.Errorf("server URL must start with ws:// or wss://")
	}
	if c.Device.ReadInterval < 1*time.Second {
		return fmt.Errorf("read interval must be at least 1 second")
	}
	if c.Server.ReconnectInterval > c.Server.MaxReconnectInterval {
		return fmt.Errorf("reconnect interval must not exceed max reconnect interval")
	}
	if c.Buffer.Size < 10 || c.Buffer.Size > 100000 {
		return fmt.Errorf("buffer size must be between 10 and 100000")
	}
	return c.Logging.validate()
}

// String returns a readable representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Device: %+v, Server: [URL=%s, Binary=%t, Discover=%t], Buffer: %+v, Logging: %+v}",
		c.Device,
		maskURLCredentials(c.Server.URL),
		c.Server.Binary,
		c.Server.Discover,
		c.Buffer,
		c.Logging,
	)
}

func (l *LoggingConfig) applyDefaults() {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "json"
	}
	if l.MaxSizeMB == 0 {
		l.MaxSizeMB = 100
	}
	if l.MaxBackups == 0 {
		l.MaxBackups = 10
	}
}

func (l *LoggingConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "", "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", l.Level)
	}
	if l.Format != "" && l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be json or text")
	}
	return nil
}
