package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Gray Logic Connect.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	CoreLink  CoreLinkConfig  `yaml:"corelink"`
	Solar     SolarConfig     `yaml:"solar"`
	AVR       AVRConfig       `yaml:"avr"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings for the connection journal.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains connection settings for the local Gray Logic bus.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains local bus broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains local bus authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains local bus reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// CoreLinkConfig contains settings for the secure link to the
// home-automation controller.
type CoreLinkConfig struct {
	// ClientID is the base client identity. Each session slot derives its
	// wire-level id from it ("<client_id>-public", "<client_id>-profile").
	ClientID string `yaml:"client_id"`

	// PersistenceDir is the base path for per-slot transport session state.
	PersistenceDir string `yaml:"persistence_dir"`

	// Controller is the broker-side peer reached by the public slot.
	Controller ControllerConfig `yaml:"controller"`

	// Profile holds touch-profile credentials for the profile slot.
	Profile ProfileConfig `yaml:"profile"`
}

// ControllerConfig contains the controller endpoint for the public slot.
type ControllerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// AutoStart starts the public slot during daemon startup. When false,
	// the slot waits for a link command on the local bus.
	AutoStart bool `yaml:"auto_start"`
}

// ProfileConfig contains profile slot credentials.
type ProfileConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// AutoStart starts the profile slot after the public slot connects.
	AutoStart bool `yaml:"auto_start"`
}

// SolarConfig contains the solar inverter poller settings.
type SolarConfig struct {
	Enabled bool `yaml:"enabled"`

	// URL is the inverter's realtime power-flow endpoint.
	URL string `yaml:"url"`

	// PollInterval is the seconds between polls.
	PollInterval int `yaml:"poll_interval"`
}

// AVRConfig contains the AV receiver serial passthrough settings.
type AVRConfig struct {
	Enabled bool `yaml:"enabled"`

	// Port is the serial device path (e.g. /dev/ttyUSB0).
	Port string `yaml:"port"`

	// Baud is the serial line speed. Default: 9600.
	Baud int `yaml:"baud"`
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

// APIConfig contains HTTP status API settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings for the status API.
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
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains event-stream WebSocket settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and validates configuration from a YAML file.
//
// Values start from defaults, are overlaid by the file, then by environment
// variables of the form GLCONNECT_SECTION_KEY (e.g. GLCONNECT_DATABASE_PATH,
// GLCONNECT_CORELINK_HOST).
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "site-001",
			Name:     "Gray Logic",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/glconnect.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "glconnect",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		CoreLink: CoreLinkConfig{
			ClientID:       "glconnect-gateway",
			PersistenceDir: "./data/corelink",
			Controller: ControllerConfig{
				Port: 8884,
			},
		},
		Solar: SolarConfig{
			PollInterval: 30,
		},
		AVR: AVRConfig{
			Baud: 9600,
		},
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GLCONNECT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("GLCONNECT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Local bus
	if v := os.Getenv("GLCONNECT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GLCONNECT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GLCONNECT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Controller link
	if v := os.Getenv("GLCONNECT_CORELINK_HOST"); v != "" {
		cfg.CoreLink.Controller.Host = v
	}
	if v := os.Getenv("GLCONNECT_CORELINK_PROFILE_USERNAME"); v != "" {
		cfg.CoreLink.Profile.Username = v
	}
	if v := os.Getenv("GLCONNECT_CORELINK_PROFILE_PASSWORD"); v != "" {
		cfg.CoreLink.Profile.Password = v
	}

	// Solar
	if v := os.Getenv("GLCONNECT_SOLAR_URL"); v != "" {
		cfg.Solar.URL = v
	}

	// API
	if v := os.Getenv("GLCONNECT_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("GLCONNECT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Site validation
	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// Local bus validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// Controller link validation
	if c.CoreLink.ClientID == "" {
		errs = append(errs, "corelink.client_id is required")
	}
	if c.CoreLink.PersistenceDir == "" {
		errs = append(errs, "corelink.persistence_dir is required")
	}
	if c.CoreLink.Controller.Host != "" &&
		(c.CoreLink.Controller.Port < 1 || c.CoreLink.Controller.Port > 65535) {
		errs = append(errs, "corelink.controller.port must be between 1 and 65535")
	}
	if c.CoreLink.Profile.AutoStart && c.CoreLink.Profile.Username == "" {
		errs = append(errs, "corelink.profile.username is required when profile auto_start is enabled")
	}

	// Solar validation
	if c.Solar.Enabled {
		if c.Solar.URL == "" {
			errs = append(errs, "solar.url is required when solar is enabled")
		}
		if c.Solar.PollInterval < 1 {
			errs = append(errs, "solar.poll_interval must be at least 1 second")
		}
	}

	// AVR validation
	if c.AVR.Enabled && c.AVR.Port == "" {
		errs = append(errs, "avr.port is required when avr is enabled")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
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

// Interval returns the solar poll interval as a Duration.
func (s SolarConfig) Interval() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}
