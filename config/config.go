package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Feed transports.
const (
	TransportWebSocket = "websocket"
	TransportMQTT      = "mqtt"
)

// Defaults applied when a field is absent.
const (
	DefaultTransport        = TransportWebSocket
	DefaultFeedURL          = "wss://www.seismicportal.eu/standing_order/websocket"
	DefaultMQTTTopic        = "seismic/events"
	DefaultMQTTClientID     = "seismicdash"
	DefaultBufferCapacity   = 200
	DefaultBaseDelaySeconds = 2
	DefaultMaxDelaySeconds  = 60
	DefaultSessionBackend   = "pebble"
	DefaultSessionPath      = "data/session"
	DefaultLogDir           = "data/logs"
	DefaultLogRetentionDays = 7
	DefaultUIFPS            = 4
	DefaultAdminBindAddress = "127.0.0.1"

	maxBufferCapacity = 100000
	maxUIFPS          = 30
)

// Config represents the complete dashboard configuration.
type Config struct {
	Feed    FeedConfig    `yaml:"feed"`
	Buffer  BufferConfig  `yaml:"buffer"`
	Session SessionConfig `yaml:"session"`
	Logging LoggingConfig `yaml:"logging"`
	UI      UIConfig      `yaml:"ui"`
	Admin   AdminConfig   `yaml:"admin"`

	// LoadedFrom is the directory the configuration was read from; empty
	// when built-in defaults were used.
	LoadedFrom string `yaml:"-"`
}

// FeedConfig selects and configures the push transport.
type FeedConfig struct {
	Transport string          `yaml:"transport"`
	URL       string          `yaml:"url"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
}

// MQTTConfig contains MQTT bridge settings.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	Topic    string `yaml:"topic"`
	ClientID string `yaml:"client_id"`
	QoS      int    `yaml:"qos"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// ReconnectConfig bounds reconnect attempts after the feed drops.
type ReconnectConfig struct {
	Enabled          *bool `yaml:"enabled"`
	BaseDelaySeconds int   `yaml:"base_delay_seconds"`
	MaxDelaySeconds  int   `yaml:"max_delay_seconds"`
	MaxAttempts      int   `yaml:"max_attempts"`
}

// BufferConfig sizes the recent-event window.
type BufferConfig struct {
	Capacity int `yaml:"capacity"`
}

// SessionConfig selects where the login flag is persisted.
type SessionConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
	Users   []User `yaml:"users"`
}

// User is one allowlisted login.
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains log file settings.
type LoggingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Dir           string `yaml:"dir"`
	RetentionDays int    `yaml:"retention_days"`
}

// UIConfig controls the terminal dashboard.
type UIConfig struct {
	Enabled *bool `yaml:"enabled"`
	FPS     int   `yaml:"fps"`
}

// AdminConfig contains admin interface settings. HTTPPort 0 disables it.
type AdminConfig struct {
	HTTPPort    int    `yaml:"http_port"`
	BindAddress string `yaml:"bind_address"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads every *.yaml/*.yml file in dir in lexical order, merges them
// key by key (later files win), applies defaults and validates the result.
// A single-file path is rejected. A missing directory returns an error that
// satisfies os.IsNotExist so callers can fall back to Default.
func Load(dir string) (*Config, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("config path %s is not a directory", dir)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	if len(names) == 0 {
		return nil, fmt.Errorf("no yaml files in %s", dir)
	}

	merged := map[string]any{}
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		var doc map[string]any
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
		mergeMaps(merged, doc)
	}
	raw, err := yaml.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to merge config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.LoadedFrom = dir
	return &cfg, nil
}

func mergeMaps(dst, src map[string]any) {
	for k, v := range src {
		if sv, ok := v.(map[string]any); ok {
			if dv, ok := dst[k].(map[string]any); ok {
				mergeMaps(dv, sv)
				continue
			}
		}
		dst[k] = v
	}
}

func (c *Config) applyDefaults() {
	c.Feed.Transport = strings.ToLower(strings.TrimSpace(c.Feed.Transport))
	if c.Feed.Transport == "" {
		c.Feed.Transport = DefaultTransport
	}
	if strings.TrimSpace(c.Feed.URL) == "" {
		c.Feed.URL = DefaultFeedURL
	}
	if c.Feed.MQTT.Topic == "" {
		c.Feed.MQTT.Topic = DefaultMQTTTopic
	}
	if c.Feed.MQTT.ClientID == "" {
		c.Feed.MQTT.ClientID = DefaultMQTTClientID
	}
	if c.Feed.Reconnect.Enabled == nil {
		on := true
		c.Feed.Reconnect.Enabled = &on
	}
	if c.Feed.Reconnect.BaseDelaySeconds == 0 {
		c.Feed.Reconnect.BaseDelaySeconds = DefaultBaseDelaySeconds
	}
	if c.Feed.Reconnect.MaxDelaySeconds == 0 {
		c.Feed.Reconnect.MaxDelaySeconds = DefaultMaxDelaySeconds
	}
	if c.Buffer.Capacity == 0 {
		c.Buffer.Capacity = DefaultBufferCapacity
	}
	c.Session.Backend = strings.ToLower(strings.TrimSpace(c.Session.Backend))
	if c.Session.Backend == "" {
		c.Session.Backend = DefaultSessionBackend
	}
	if c.Session.Path == "" {
		c.Session.Path = DefaultSessionPath
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = DefaultLogDir
	}
	if c.Logging.RetentionDays == 0 {
		c.Logging.RetentionDays = DefaultLogRetentionDays
	}
	if c.UI.Enabled == nil {
		on := true
		c.UI.Enabled = &on
	}
	if c.UI.FPS == 0 {
		c.UI.FPS = DefaultUIFPS
	}
	if c.Admin.BindAddress == "" {
		c.Admin.BindAddress = DefaultAdminBindAddress
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Feed.Transport {
	case TransportWebSocket:
		u, err := url.Parse(c.Feed.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("feed.url %q must be a ws:// or wss:// URL", c.Feed.URL)
		}
	case TransportMQTT:
		if strings.TrimSpace(c.Feed.MQTT.Broker) == "" {
			return errors.New("feed.mqtt.broker is required when feed.transport is mqtt")
		}
		if c.Feed.MQTT.QoS < 0 || c.Feed.MQTT.QoS > 2 {
			return fmt.Errorf("feed.mqtt.qos must be 0, 1 or 2 (got %d)", c.Feed.MQTT.QoS)
		}
	default:
		return fmt.Errorf("feed.transport %q must be websocket or mqtt", c.Feed.Transport)
	}
	r := c.Feed.Reconnect
	if r.BaseDelaySeconds < 0 || r.MaxDelaySeconds < 0 || r.MaxAttempts < 0 {
		return errors.New("feed.reconnect delays and max_attempts must not be negative")
	}
	if r.MaxDelaySeconds < r.BaseDelaySeconds {
		return fmt.Errorf("feed.reconnect.max_delay_seconds (%d) is below base_delay_seconds (%d)", r.MaxDelaySeconds, r.BaseDelaySeconds)
	}
	if c.Buffer.Capacity < 1 || c.Buffer.Capacity > maxBufferCapacity {
		return fmt.Errorf("buffer.capacity must be between 1 and %d (got %d)", maxBufferCapacity, c.Buffer.Capacity)
	}
	switch c.Session.Backend {
	case "memory", "pebble", "sqlite":
	default:
		return fmt.Errorf("session.backend %q must be memory, pebble or sqlite", c.Session.Backend)
	}
	for i, u := range c.Session.Users {
		if strings.TrimSpace(u.Username) == "" || u.Password == "" {
			return fmt.Errorf("session.users[%d] needs a username and password", i)
		}
	}
	if c.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days must not be negative (got %d)", c.Logging.RetentionDays)
	}
	if c.UI.FPS < 1 || c.UI.FPS > maxUIFPS {
		return fmt.Errorf("ui.fps must be between 1 and %d (got %d)", maxUIFPS, c.UI.FPS)
	}
	if c.Admin.HTTPPort < 0 || c.Admin.HTTPPort > 65535 {
		return fmt.Errorf("admin.http_port out of range: %d", c.Admin.HTTPPort)
	}
	return nil
}

// ReconnectEnabled reports the effective reconnect switch.
func (c *Config) ReconnectEnabled() bool {
	return c.Feed.Reconnect.Enabled == nil || *c.Feed.Reconnect.Enabled
}

// BaseDelay is the first reconnect delay.
func (c *Config) BaseDelay() time.Duration {
	return time.Duration(c.Feed.Reconnect.BaseDelaySeconds) * time.Second
}

// MaxDelay caps the reconnect delay.
func (c *Config) MaxDelay() time.Duration {
	return time.Duration(c.Feed.Reconnect.MaxDelaySeconds) * time.Second
}

// UIEnabled reports the effective UI switch.
func (c *Config) UIEnabled() bool {
	return c.UI.Enabled == nil || *c.UI.Enabled
}

// Print displays the configuration
func (c *Config) Print() {
	switch c.Feed.Transport {
	case TransportMQTT:
		fmt.Printf("Feed: mqtt %s (topic: %s, qos %d)\n", c.Feed.MQTT.Broker, c.Feed.MQTT.Topic, c.Feed.MQTT.QoS)
	default:
		fmt.Printf("Feed: websocket %s\n", c.Feed.URL)
	}
	if c.ReconnectEnabled() {
		attempts := "unlimited"
		if c.Feed.Reconnect.MaxAttempts > 0 {
			attempts = fmt.Sprintf("%d", c.Feed.Reconnect.MaxAttempts)
		}
		fmt.Printf("Reconnect: %s..%s backoff (attempts: %s)\n", c.BaseDelay(), c.MaxDelay(), attempts)
	} else {
		fmt.Printf("Reconnect: disabled\n")
	}
	fmt.Printf("Window: %d events\n", c.Buffer.Capacity)
	fmt.Printf("Session: %s at %s\n", c.Session.Backend, c.Session.Path)
	if c.Admin.HTTPPort > 0 {
		fmt.Printf("Admin: %s:%d\n", c.Admin.BindAddress, c.Admin.HTTPPort)
	}
}
