package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Ariston bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Bridge    BridgeConfig    `yaml:"bridge"`
	Ariston   AristonConfig   `yaml:"ariston"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// BridgeConfig identifies this bridge instance.
type BridgeConfig struct {
	// ID names the bridge in MQTT topics and telemetry tags.
	ID string `yaml:"id"`

	// HealthInterval is the health publish interval in seconds.
	HealthInterval int `yaml:"health_interval"`
}

// AristonConfig contains the remote service account and engine settings.
type AristonConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Gateway selects a plant when the account has several. Empty picks
	// the first one listed.
	Gateway string `yaml:"gateway"`

	// Parameters is the monitored parameter set. Empty uses the defaults.
	Parameters []string `yaml:"parameters"`

	// Zones is the number of configured heating zones (1-6).
	Zones int `yaml:"zones"`

	// PeriodGet is the poll period in seconds (minimum 30).
	PeriodGet int `yaml:"period_get"`

	// SetRetryDelay is the pause between write attempts in seconds.
	SetRetryDelay int `yaml:"set_retry_delay"`

	// MaxSetRetries is the number of write attempts per set.
	MaxSetRetries int `yaml:"max_set_retries"`

	// RequestTimeout bounds every remote call, in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// BaseURL overrides the vendor service address.
	BaseURL string `yaml:"base_url"`
}

// String implements fmt.Stringer with the password redacted.
func (a AristonConfig) String() string {
	password := ""
	if a.Password != "" {
		password = "[REDACTED]"
	}
	return fmt.Sprintf("{username:%s password:%s gateway:%s zones:%d period_get:%d base_url:%s}",
		a.Username, password, a.Gateway, a.Zones, a.PeriodGet, a.BaseURL)
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// HistoryRetentionDays bounds how long set history is kept. 0 keeps
	// everything.
	HistoryRetentionDays int `yaml:"history_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings. With an empty secret the write
// endpoints accept unauthenticated requests.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// minJWTSecretLength is the shortest accepted HS256 secret.
const minJWTSecretLength = 32

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ARISTON_BRIDGE_SECTION_KEY
// For example: ARISTON_BRIDGE_USERNAME, ARISTON_BRIDGE_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Bridge: BridgeConfig{
			ID:             "ariston",
			HealthInterval: 30,
		},
		Ariston: AristonConfig{
			Zones:          1,
			PeriodGet:      30,
			SetRetryDelay:  5,
			MaxSetRetries:  5,
			RequestTimeout: 25,
		},
		Database: DatabaseConfig{
			Path:                 "./data/ariston.db",
			WALMode:              true,
			BusyTimeout:          5,
			HistoryRetentionDays: 90,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "ariston-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 180,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Org:           "ariston",
			Bucket:        "ariston",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Ariston account
	if v := os.Getenv("ARISTON_BRIDGE_USERNAME"); v != "" {
		cfg.Ariston.Username = v
	}
	if v := os.Getenv("ARISTON_BRIDGE_PASSWORD"); v != "" {
		cfg.Ariston.Password = v
	}
	if v := os.Getenv("ARISTON_BRIDGE_GATEWAY"); v != "" {
		cfg.Ariston.Gateway = v
	}
	if v := os.Getenv("ARISTON_BRIDGE_ZONES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ariston.Zones = n
		}
	}

	// Database
	if v := os.Getenv("ARISTON_BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ARISTON_BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ARISTON_BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ARISTON_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ARISTON_BRIDGE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ARISTON_BRIDGE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security
	if v := os.Getenv("ARISTON_BRIDGE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if c.Bridge.ID == "" {
		errs = append(errs, "bridge.id is required")
	}
	if strings.ContainsAny(c.Bridge.ID, "/+#") {
		errs = append(errs, "bridge.id must not contain MQTT topic characters (/ + #)")
	}

	// Ariston validation
	if c.Ariston.Username == "" {
		errs = append(errs, "ariston.username is required (set ARISTON_BRIDGE_USERNAME environment variable)")
	}
	if c.Ariston.Password == "" {
		errs = append(errs, "ariston.password is required (set ARISTON_BRIDGE_PASSWORD environment variable)")
	}
	if c.Ariston.Zones < 1 || c.Ariston.Zones > 6 {
		errs = append(errs, "ariston.zones must be between 1 and 6")
	}
	if c.Ariston.PeriodGet < 30 {
		errs = append(errs, "ariston.period_get must be at least 30 seconds")
	}
	if c.Ariston.SetRetryDelay < 1 {
		errs = append(errs, "ariston.set_retry_delay must be at least 1 second")
	}
	if c.Ariston.MaxSetRetries < 1 {
		errs = append(errs, "ariston.max_set_retries must be at least 1")
	}
	if c.Ariston.RequestTimeout < 1 {
		errs = append(errs, "ariston.request_timeout must be at least 1 second")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.Database.HistoryRetentionDays < 0 {
		errs = append(errs, "database.history_retention_days must not be negative")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Security.JWT.Secret != "" && len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPeriod returns the poll period as a Duration.
func (c *Config) GetPeriod() time.Duration {
	return time.Duration(c.Ariston.PeriodGet) * time.Second
}

// GetSetRetryDelay returns the delay between write attempts as a Duration.
func (c *Config) GetSetRetryDelay() time.Duration {
	return time.Duration(c.Ariston.SetRetryDelay) * time.Second
}

// GetRequestTimeout returns the remote request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Ariston.RequestTimeout) * time.Second
}

// GetHealthInterval returns the health publish interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Bridge.HealthInterval) * time.Second
}

// GetHistoryRetention returns the set history retention as a Duration.
// Zero means unlimited.
func (c *Config) GetHistoryRetention() time.Duration {
	return time.Duration(c.Database.HistoryRetentionDays) * 24 * time.Hour
}

// GetAccessTokenTTL returns the lifetime of minted access tokens.
func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}

// Durations of the API timeouts, which are configured in seconds.
func (t APITimeoutConfig) ReadDuration() time.Duration  { return time.Duration(t.Read) * time.Second }
func (t APITimeoutConfig) WriteDuration() time.Duration { return time.Duration(t.Write) * time.Second }
func (t APITimeoutConfig) IdleDuration() time.Duration  { return time.Duration(t.Idle) * time.Second }
