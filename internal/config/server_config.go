package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds the hub server configuration
type AppConfig struct {
	Server    ServerSettings    `yaml:"server"`
	Hub       HubSettings       `yaml:"hub"`
	Database  DatabaseSettings  `yaml:"database"`
	NATS      NATSSettings      `yaml:"nats"`
	Discovery DiscoverySettings `yaml:"discovery"`
	Logging   LoggingConfig     `yaml:"logging"`
}

// ServerSettings contains HTTP and WebSocket server configuration
type ServerSettings struct {
	Port            int           `yaml:"port"`
	Host            string        `yaml:"host"`
	WSPath          string        `yaml:"ws_path"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// HubSettings tunes the registry, the telemetry store and the liveness monitor
type HubSettings struct {
	HistorySize     int           `yaml:"history_size"`
	ClientBacklog   *int          `yaml:"client_backlog"` // nil means default; 0 disables replay
	HistoryLimit    int           `yaml:"history_limit"`
	LivenessTimeout time.Duration `yaml:"liveness_timeout"`
	SweepInterval   time.Duration `yaml:"sweep_interval"`
}

// defaultClientBacklog is used when client_backlog is not set
const defaultClientBacklog = 10

// Backlog returns the configured client backlog, or the default when unset
func (h HubSettings) Backlog() int {
	if h.ClientBacklog == nil {
		return defaultClientBacklog
	}
	return *h.ClientBacklog
}

func (h HubSettings) String() string {
	return fmt.Sprintf("{HistorySize:%d ClientBacklog:%d HistoryLimit:%d LivenessTimeout:%s SweepInterval:%s}",
		h.HistorySize, h.Backlog(), h.HistoryLimit, h.LivenessTimeout, h.SweepInterval)
}

// DatabaseSettings configures the SQLite telemetry archive
type DatabaseSettings struct {
	Enabled       bool          `yaml:"enabled"`
	Path          string        `yaml:"path"`
	BatchSize     int           `yaml:"batch_size"`
	FlushPeriod   time.Duration `yaml:"flush_period"`
	ChannelSize   int           `yaml:"channel_size"`
	RetentionDays int           `yaml:"retention_days"`
	CleanupPeriod time.Duration `yaml:"cleanup_period"`
}

// NATSSettings configures the event mirror and control ingress
type NATSSettings struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
	Name          string `yaml:"name"`
}

// DiscoverySettings configures mDNS advertisement on the LAN
type DiscoverySettings struct {
	Enabled  bool   `yaml:"enabled"`
	Instance string `yaml:"instance"`
	Service  string `yaml:"service"`
	Domain   string `yaml:"domain"`
}

// LoadAppConfig loads hub configuration from a YAML file
func LoadAppConfig(path string) (*AppConfig, error) {
	yamlData, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config AppConfig
	if err := yaml.Unmarshal(yamlData, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	if err := config.OverrideFromEnv(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// ApplyDefaults sets default values for any unset fields
func (ac *AppConfig) ApplyDefaults() {
	if ac.Server.Port == 0 {
		ac.Server.Port = 8080
	}
	if ac.Server.Host == "" {
		ac.Server.Host = "0.0.0.0"
	}
	if ac.Server.WSPath == "" {
		ac.Server.WSPath = "/ws"
	}
	if ac.Server.ReadTimeout == 0 {
		ac.Server.ReadTimeout = 60 * time.Second
	}
	if ac.Server.WriteTimeout == 0 {
		ac.Server.WriteTimeout = 10 * time.Second
	}
	if ac.Server.ShutdownTimeout == 0 {
		ac.Server.ShutdownTimeout = 10 * time.Second
	}

	if ac.Hub.HistorySize == 0 {
		ac.Hub.HistorySize = 100
	}
	if ac.Hub.ClientBacklog == nil {
		backlog := defaultClientBacklog
		ac.Hub.ClientBacklog = &backlog
	}
	if ac.Hub.HistoryLimit == 0 {
		ac.Hub.HistoryLimit = 50
	}
	if ac.Hub.LivenessTimeout == 0 {
		ac.Hub.LivenessTimeout = 60 * time.Second
	}
	if ac.Hub.SweepInterval == 0 {
		ac.Hub.SweepInterval = 30 * time.Second
	}

	if ac.Database.Path == "" {
		ac.Database.Path = "./data/device-hub.db"
	}
	if ac.Database.BatchSize == 0 {
		ac.Database.BatchSize = 100
	}
	if ac.Database.FlushPeriod == 0 {
		ac.Database.FlushPeriod = 5 * time.Second
	}
	if ac.Database.ChannelSize == 0 {
		ac.Database.ChannelSize = 1000
	}
	if ac.Database.RetentionDays == 0 {
		ac.Database.RetentionDays = 30
	}
	if ac.Database.CleanupPeriod == 0 {
		ac.Database.CleanupPeriod = time.Hour
	}

	if ac.NATS.URL == "" {
		ac.NATS.URL = "nats://127.0.0.1:4222"
	}
	if ac.NATS.SubjectPrefix == "" {
		ac.NATS.SubjectPrefix = "devicehub"
	}
	if ac.NATS.Name == "" {
		ac.NATS.Name = "device-hub"
	}

	if ac.Discovery.Instance == "" {
		ac.Discovery.Instance = "device-hub"
	}
	if ac.Discovery.Service == "" {
		ac.Discovery.Service = "_devicehub._tcp"
	}
	if ac.Discovery.Domain == "" {
		ac.Discovery.Domain = "local."
	}

	ac.Logging.applyDefaults()
}

// OverrideFromEnv overrides config values from environment variables.
// Setting NATS_URL or DATABASE_PATH also enables that component.
func (ac *AppConfig) OverrideFromEnv() error {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SERVER_PORT %q: %w", v, err)
		}
		ac.Server.Port = port
	}
	if v := os.Getenv("SERVER_HOST"); v != "" {
		ac.Server.Host = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		ac.Logging.Level = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		ac.NATS.URL = v
		ac.NATS.Enabled = true
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		ac.Database.Path = v
		ac.Database.Enabled = true
	}
	return nil
}

// Validate checks if the hub configuration is valid
func (ac *AppConfig) Validate() error {
	if ac.Server.Port < 1 || ac.Server.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if !strings.HasPrefix(ac.Server.WSPath, "/") {
		return fmt.Errorf("ws_path must start with /")
	}
	if ac.Hub.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1")
	}
	if backlog := ac.Hub.Backlog(); backlog < 0 || backlog > ac.Hub.HistorySize {
		return fmt.Errorf("client_backlog must be between 0 and history_size")
	}
	if ac.Hub.LivenessTimeout < time.Second {
		return fmt.Errorf("liveness_timeout must be at least 1s")
	}
	if ac.Hub.SweepInterval < 100*time.Millisecond {
		return fmt.Errorf("sweep_interval must be at least 100ms")
	}
	if ac.Database.Enabled && ac.Database.RetentionDays < 1 {
		return fmt.Errorf("retention_days must be at least 1")
	}
	if ac.NATS.Enabled && !strings.HasPrefix(ac.NATS.URL, "nats://") && !strings.HasPrefix(ac.NATS.URL, "tls://") {
		return fmt.Errorf("nats url must start with nats:// or tls://")
	}
	return ac.Logging.validate()
}

// String returns a safe string representation (hides NATS credentials)
func (ac *AppConfig) String() string {
	return fmt.Sprintf("AppConfig{Server: %+v, Hub: %+v, Database: %+v, NATS: [Enabled=%t, URL=%s, Prefix=%s], Discovery: %+v, Logging: %+v}",
		ac.Server,
		ac.Hub,
		ac.Database,
		ac.NATS.Enabled,
		maskURLCredentials(ac.NATS.URL),
		ac.NATS.SubjectPrefix,
		ac.Discovery,
		ac.Logging,
	)
}

// maskURLCredentials hides the user:password part of a URL
func maskURLCredentials(raw string) string {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return raw
	}
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return raw
	}
	return scheme + "://****@" + rest[at+1:]
}
