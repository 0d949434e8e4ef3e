package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete medkiosk configuration.
type Config struct {
	Service     ServiceConfig     `yaml:"service"`
	Reconnect   ReconnectConfig   `yaml:"reconnect"`
	Sources     []SourceConfig    `yaml:"sources"`
	Stations    StationsConfig    `yaml:"stations"`
	Environment map[string]string `yaml:"environment,omitempty"`
	Journal     JournalConfig     `yaml:"journal"`
	API         APIConfig         `yaml:"api,omitempty"`
	Include     []string          `yaml:"include,omitempty"`

	// SourceFiles holds the parsed YAML node of every loaded file, keyed by
	// absolute path.
	SourceFiles map[string]*yaml.Node `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`
	LogLevel     string        `yaml:"log_level"`
	LogFormat    string        `yaml:"log_format"`
	LockPath     string        `yaml:"lock_path"`
}

// ReconnectConfig bounds the reconnect backoff. Sources may override it.
type ReconnectConfig struct {
	MinDelay         time.Duration `yaml:"min_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	FailureThreshold int           `yaml:"failure_threshold"`
}

// Source types.
const (
	SourceSerial = "serial"
	SourceMQTT   = "mqtt"
	SourceNATS   = "nats"
)

// SourceConfig describes one live reading source. Which fields apply depends
// on Type.
type SourceConfig struct {
	ID   string `yaml:"id"`
	Type string `yaml:"type"`

	// serial
	Device      string        `yaml:"device,omitempty"`
	Baud        int           `yaml:"baud,omitempty"`
	ReadTimeout time.Duration `yaml:"read_timeout,omitempty"`
	Formats     []string      `yaml:"formats,omitempty"`

	// mqtt
	Broker    string        `yaml:"broker,omitempty"`
	Port      int           `yaml:"port,omitempty"`
	Topic     string        `yaml:"topic,omitempty"`
	QoS       int           `yaml:"qos,omitempty"`
	ClientID  string        `yaml:"client_id,omitempty"`
	Username  string        `yaml:"username,omitempty"`
	Password  string        `yaml:"password,omitempty"`
	KeepAlive time.Duration `yaml:"keepalive,omitempty"`

	// nats
	URL     string `yaml:"url,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Token   string `yaml:"token,omitempty"`

	// fusion feeds (mqtt, nats)
	HeartRateSeed *int64 `yaml:"heart_rate_seed,omitempty"`

	Reconnect *ReconnectConfig `yaml:"reconnect,omitempty"`
}

// StationsConfig is the dispatch table and how to run it.
type StationsConfig struct {
	BaseDir     string          `yaml:"base_dir"`
	Interpreter string          `yaml:"interpreter"`
	Table       []StationConfig `yaml:"table"`
}

// StationConfig is one launchable measurement module.
type StationConfig struct {
	Title  string `yaml:"title"`
	Path   string `yaml:"path"`
	Kind   string `yaml:"kind"`
	Digest string `yaml:"digest,omitempty"`
}

// JournalConfig defines the reading journal.
type JournalConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// APIConfig defines HTTP API server settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// APIKey, when set, is required as a bearer token on every route except
	// health and metrics.
	APIKey string `yaml:"api_key"`
}

// EffectiveReconnect returns the source override merged over the global
// settings.
func (c *Config) EffectiveReconnect(src SourceConfig) ReconnectConfig {
	rc := c.Reconnect
	if src.Reconnect == nil {
		return rc
	}
	if src.Reconnect.MinDelay > 0 {
		rc.MinDelay = src.Reconnect.MinDelay
	}
	if src.Reconnect.MaxDelay > 0 {
		rc.MaxDelay = src.Reconnect.MaxDelay
	}
	if src.Reconnect.FailureThreshold > 0 {
		rc.FailureThreshold = src.Reconnect.FailureThreshold
	}
	return rc
}

// Defaults returns a config with default values.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "medkiosk",
			PollInterval: 100 * time.Millisecond,
			LogLevel:     "info",
			LogFormat:    "json",
			LockPath:     "./data/medkiosk.lock",
		},
		Reconnect: ReconnectConfig{
			MinDelay:         1 * time.Second,
			MaxDelay:         120 * time.Second,
			FailureThreshold: 1,
		},
		Stations: StationsConfig{
			Interpreter: "python3",
		},
		Environment: map[string]string{
			"DISPLAY": ":0",
		},
		Journal: JournalConfig{
			Enabled:   true,
			Path:      "./data/journal.db",
			Retention: 30 * 24 * time.Hour,
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8080",
		},
	}
}
