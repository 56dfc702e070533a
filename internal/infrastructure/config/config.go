package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for GridPulse Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Poll      PollConfig      `yaml:"poll"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Store     StoreConfig     `yaml:"store"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Auth      AuthConfig      `yaml:"auth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DatabaseConfig contains SQLite database settings for the device registry.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	ManualAck bool                `yaml:"manual_ack"`
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
// The password is expected to arrive already decrypted (env override or
// external secret management); this core never decrypts credentials itself.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// PollConfig contains settings for REST-polled devices.
type PollConfig struct {
	// Timeout is the per-request HTTP timeout in seconds.
	Timeout int `yaml:"timeout"`

	// RetryCount is how many times a failed poll request is retried.
	RetryCount int `yaml:"retry_count"`

	// Targets lists the devices to poll.
	Targets []PollTargetConfig `yaml:"targets"`
}

// PollTargetConfig describes one REST-polled device endpoint.
type PollTargetConfig struct {
	// DeviceID is the registry identifier readings are attributed to.
	DeviceID string `yaml:"device_id"`

	// URL is the endpoint returning the device's current metrics as JSON.
	URL string `yaml:"url"`

	// Interval is the polling period in seconds.
	Interval int `yaml:"interval"`
}

// IngestConfig contains ingestion pipeline settings.
type IngestConfig struct {
	// QueueCapacity is the size of the shared bounded ingestion queue.
	// A full queue signals backpressure to the adapters.
	QueueCapacity int `yaml:"queue_capacity"`

	// Workers is the number of pipeline workers consuming the queue.
	Workers int `yaml:"workers"`

	// SkewTolerance is the maximum out-of-order delay (seconds) before an
	// event is rejected as stale.
	SkewTolerance int `yaml:"skew_tolerance"`

	// RetryAttempts is the number of store write attempts before an event
	// is diverted to the overflow buffer.
	RetryAttempts int `yaml:"retry_attempts"`

	// OverflowCapacity is the size of the bounded overflow buffer holding
	// readings whose store writes exhausted their retries.
	OverflowCapacity int `yaml:"overflow_capacity"`

	// SubscriberBuffer is the per-subscriber fan-out channel size.
	SubscriberBuffer int `yaml:"subscriber_buffer"`

	// DrainTimeout is how long shutdown waits (seconds) for in-flight
	// events to drain before force-closing.
	DrainTimeout int `yaml:"drain_timeout"`
}

// StoreConfig contains aggregation store settings.
type StoreConfig struct {
	// RetentionHorizon is how long readings are kept (seconds). Readings
	// older than the horizon are eligible for compaction; the newest
	// reading per series is always retained.
	RetentionHorizon int `yaml:"retention_horizon"`

	// CompactionInterval is how often (seconds) the compaction loop runs.
	CompactionInterval int `yaml:"compaction_interval"`
}

// InfluxDBConfig contains settings for the optional long-term archive.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings (seconds).
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains settings for the live readings stream.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// AuthConfig contains API authentication settings.
type AuthConfig struct {
	// Enabled toggles JWT authentication on protected routes.
	Enabled bool `yaml:"enabled"`

	// JWTSecret signs access tokens. Required when auth is enabled.
	JWTSecret string `yaml:"jwt_secret"`

	// AccessTokenTTL is the access token lifetime in minutes.
	AccessTokenTTL int `yaml:"access_token_ttl"`

	// Bootstrap creates an initial admin user on first run if no users exist.
	Bootstrap BootstrapUserConfig `yaml:"bootstrap"`
}

// BootstrapUserConfig describes the first-run admin account.
type BootstrapUserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// LoggingConfig contains structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRIDPULSE_SECTION_KEY
// For example: GRIDPULSE_DATABASE_PATH, GRIDPULSE_MQTT_PASSWORD
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
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
		Database: DatabaseConfig{
			Path:        "./data/gridpulse.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "gridpulse-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Poll: PollConfig{
			Timeout:    10,
			RetryCount: 2,
		},
		Ingest: IngestConfig{
			QueueCapacity:    1024,
			Workers:          4,
			SkewTolerance:    300,
			RetryAttempts:    3,
			OverflowCapacity: 256,
			SubscriberBuffer: 16,
			DrainTimeout:     5,
		},
		Store: StoreConfig{
			RetentionHorizon:   86400,
			CompactionInterval: 300,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Auth: AuthConfig{
			Enabled:        true,
			AccessTokenTTL: 15,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRIDPULSE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GRIDPULSE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRIDPULSE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRIDPULSE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRIDPULSE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRIDPULSE_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GRIDPULSE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Auth - JWT secret (always override in production)
	if v := os.Getenv("GRIDPULSE_AUTH_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Poll validation
	for i, t := range c.Poll.Targets {
		if t.DeviceID == "" {
			errs = append(errs, fmt.Sprintf("poll.targets[%d].device_id is required", i))
		}
		if t.URL == "" {
			errs = append(errs, fmt.Sprintf("poll.targets[%d].url is required", i))
		}
		if t.Interval <= 0 {
			errs = append(errs, fmt.Sprintf("poll.targets[%d].interval must be positive", i))
		}
	}

	// Ingest validation
	if c.Ingest.QueueCapacity <= 0 {
		errs = append(errs, "ingest.queue_capacity must be positive")
	}
	if c.Ingest.Workers <= 0 {
		errs = append(errs, "ingest.workers must be positive")
	}
	if c.Ingest.SkewTolerance < 0 {
		errs = append(errs, "ingest.skew_tolerance must not be negative")
	}

	// Store validation
	if c.Store.RetentionHorizon <= 0 {
		errs = append(errs, "store.retention_horizon must be positive")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Auth validation - the secret signs bearer tokens for the query API.
	const minJWTSecretLength = 32
	if c.Auth.Enabled {
		if c.Auth.JWTSecret == "" {
			errs = append(errs, "auth.jwt_secret is required (set GRIDPULSE_AUTH_JWT_SECRET environment variable)")
		} else if len(c.Auth.JWTSecret) < minJWTSecretLength {
			errs = append(errs, "auth.jwt_secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SkewToleranceDuration returns the ingest skew tolerance as a Duration.
func (c *IngestConfig) SkewToleranceDuration() time.Duration {
	return time.Duration(c.SkewTolerance) * time.Second
}

// DrainTimeoutDuration returns the shutdown drain timeout as a Duration.
func (c *IngestConfig) DrainTimeoutDuration() time.Duration {
	return time.Duration(c.DrainTimeout) * time.Second
}

// RetentionHorizonDuration returns the retention horizon as a Duration.
func (c *StoreConfig) RetentionHorizonDuration() time.Duration {
	return time.Duration(c.RetentionHorizon) * time.Second
}

// CompactionIntervalDuration returns the compaction interval as a Duration.
func (c *StoreConfig) CompactionIntervalDuration() time.Duration {
	return time.Duration(c.CompactionInterval) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
