package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Lockstead Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Household   HouseholdConfig   `yaml:"household"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	Remote      RemoteConfig      `yaml:"remote"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
	Enforcement EnforcementConfig `yaml:"enforcement"`
	Security    SecurityConfig    `yaml:"security"`
}

// HouseholdConfig identifies the household this instance belongs to and the
// local identity used when locks are shared with other members.
type HouseholdConfig struct {
	ID             string `yaml:"id"`
	Name           string `yaml:"name"`
	MemberName     string `yaml:"member_name"`
	AccountID      string `yaml:"account_id"`
	ShareByDefault bool   `yaml:"share_by_default"`
}

// DatabaseConfig contains SQLite database settings.
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
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

// RemoteConfig contains settings for the remote synchronization store used to
// replicate locks, members, and activity across household devices.
type RemoteConfig struct {
	Enabled      bool   `yaml:"enabled"`
	URL          string `yaml:"url"`
	Token        string `yaml:"token"`
	SyncInterval int    `yaml:"sync_interval"` // seconds between full syncs
	Timeout      int    `yaml:"timeout"`       // seconds per remote request
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

// EnforcementConfig contains reconciliation loop and rule leak mitigation
// settings. The ceilings and poll interval are deliberately configuration
// rather than hard constants.
type EnforcementConfig struct {
	// PollInterval is how often the enforcement loop re-reads device state
	// while at least one lock is active (seconds).
	PollInterval int `yaml:"poll_interval"`

	// StateFreshness is how long a retained device state report is trusted
	// before the device is considered unreadable (seconds).
	StateFreshness int `yaml:"state_freshness"`

	// TotalRuleCeiling is the maximum number of installed automation rules
	// (ours or not) tolerated before a purge is forced.
	TotalRuleCeiling int `yaml:"total_rule_ceiling"`

	// FeatureRuleCeiling is the maximum number of lockstead-owned rules
	// tolerated before a purge is forced.
	FeatureRuleCeiling int `yaml:"feature_rule_ceiling"`

	// PurgePause is how long to wait after a forced purge before installing
	// the next rule (seconds). Gives the platform time to tear objects down.
	PurgePause int `yaml:"purge_pause"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: LOCKSTEAD_SECTION_KEY
// For example: LOCKSTEAD_DATABASE_PATH, LOCKSTEAD_MQTT_HOST
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
		Household: HouseholdConfig{
			ID:         "home-001",
			Name:       "Home",
			MemberName: "Owner",
		},
		Database: DatabaseConfig{
			Path:        "./data/lockstead.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "lockstead-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		Remote: RemoteConfig{
			Enabled:      false,
			SyncInterval: 60,
			Timeout:      10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Enforcement: EnforcementConfig{
			PollInterval:       5,
			StateFreshness:     30,
			TotalRuleCeiling:   50,
			FeatureRuleCeiling: 20,
			PurgePause:         2,
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: LOCKSTEAD_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("LOCKSTEAD_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("LOCKSTEAD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("LOCKSTEAD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("LOCKSTEAD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("LOCKSTEAD_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// Remote sync store
	if v := os.Getenv("LOCKSTEAD_REMOTE_URL"); v != "" {
		cfg.Remote.URL = v
	}
	if v := os.Getenv("LOCKSTEAD_REMOTE_TOKEN"); v != "" {
		cfg.Remote.Token = v
	}

	// InfluxDB
	if v := os.Getenv("LOCKSTEAD_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("LOCKSTEAD_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Household.ID == "" {
		errs = append(errs, "household.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.Remote.Enabled && c.Remote.URL == "" {
		errs = append(errs, "remote.url is required when remote.enabled is true")
	}

	if c.Enforcement.PollInterval < 1 {
		errs = append(errs, "enforcement.poll_interval must be at least 1 second")
	}
	if c.Enforcement.TotalRuleCeiling < 1 {
		errs = append(errs, "enforcement.total_rule_ceiling must be at least 1")
	}
	if c.Enforcement.FeatureRuleCeiling < 1 {
		errs = append(errs, "enforcement.feature_rule_ceiling must be at least 1")
	}

	// The API controls physical devices, so a missing or weak JWT secret
	// would let an attacker forge tokens and drive them.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set LOCKSTEAD_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
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

// GetPollInterval returns the enforcement poll interval as a Duration.
func (c *Config) GetPollInterval() time.Duration {
	return time.Duration(c.Enforcement.PollInterval) * time.Second
}

// GetStateFreshness returns the device state freshness window as a Duration.
func (c *Config) GetStateFreshness() time.Duration {
	return time.Duration(c.Enforcement.StateFreshness) * time.Second
}

// GetPurgePause returns the post-purge pause as a Duration.
func (c *Config) GetPurgePause() time.Duration {
	return time.Duration(c.Enforcement.PurgePause) * time.Second
}

// GetSyncInterval returns the remote sync interval as a Duration.
func (c *Config) GetSyncInterval() time.Duration {
	return time.Duration(c.Remote.SyncInterval) * time.Second
}

// GetRemoteTimeout returns the per-request remote store timeout as a Duration.
func (c *Config) GetRemoteTimeout() time.Duration {
	return time.Duration(c.Remote.Timeout) * time.Second
}
