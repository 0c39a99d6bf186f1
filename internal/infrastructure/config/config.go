package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Gateway transport modes.
const (
	// TransportMQTT pushes commands over the shared broker connection.
	TransportMQTT = "mqtt"

	// TransportPoll writes commands to the relay path store and polls for responses.
	TransportPoll = "poll"
)

// Timeout policies for desintegrate and rename.
const (
	// TimeoutPolicyReject fails the operation and leaves the silo record untouched.
	TimeoutPolicyReject = "reject"

	// TimeoutPolicyLocalOnly applies the change locally even though the
	// gateway never confirmed it.
	TimeoutPolicyLocalOnly = "local_only"
)

// Config is the root configuration structure for the silo watch backend.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
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

// MQTTReconnectConfig bounds the reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// GatewayConfig describes how commands reach the BLE gateway.
type GatewayConfig struct {
	// Transport is "mqtt" (push) or "poll" (relay path store).
	Transport     string                `yaml:"transport"`
	Topics        GatewayTopicsConfig   `yaml:"topics"`
	Poll          GatewayPollConfig     `yaml:"poll"`
	Deadlines     GatewayDeadlineConfig `yaml:"deadlines"`
	TimeoutPolicy string                `yaml:"timeout_policy"`
}

// GatewayTopicsConfig names the MQTT topics of the push transport.
type GatewayTopicsConfig struct {
	Command   string `yaml:"command"`
	Responses string `yaml:"responses"`
}

// GatewayPollConfig configures the pull transport.
type GatewayPollConfig struct {
	// Interval between response reads, in milliseconds.
	Interval     int    `yaml:"interval"`
	CommandRoot  string `yaml:"command_root"`
	ResponseRoot string `yaml:"response_root"`
}

// GatewayDeadlineConfig holds per-action response deadlines, in seconds.
type GatewayDeadlineConfig struct {
	Ping         int `yaml:"ping"`
	Scan         int `yaml:"scan"`
	Provision    int `yaml:"provision"`
	Desintegrate int `yaml:"desintegrate"`
	Rename       int `yaml:"rename"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
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
//
// Write must exceed the longest gateway deadline, otherwise the server
// drops the connection before a provision outcome is known.
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

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: SILOWATCH_SECTION_KEY
// For example: SILOWATCH_DATABASE_PATH, SILOWATCH_GATEWAY_TRANSPORT
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
// Gateway deadlines match what the gateway firmware was built against.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/silowatch.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "silowatch-backend",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		Gateway: GatewayConfig{
			Transport: TransportMQTT,
			Topics: GatewayTopicsConfig{
				Command:   "gateway/comando",
				Responses: "gateway/resposta/#",
			},
			Poll: GatewayPollConfig{
				Interval:     500,
				CommandRoot:  "gateway/commands",
				ResponseRoot: "gateway/responses",
			},
			Deadlines: GatewayDeadlineConfig{
				Ping:         5,
				Scan:         15,
				Provision:    30,
				Desintegrate: 20,
				Rename:       20,
			},
			TimeoutPolicy: TimeoutPolicyReject,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 45,
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
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 60,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("SILOWATCH_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SILOWATCH_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SILOWATCH_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SILOWATCH_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SILOWATCH_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Gateway
	if v := os.Getenv("SILOWATCH_GATEWAY_TRANSPORT"); v != "" {
		cfg.Gateway.Transport = strings.ToLower(v)
	}
	if v := os.Getenv("SILOWATCH_GATEWAY_TIMEOUT_POLICY"); v != "" {
		cfg.Gateway.TimeoutPolicy = strings.ToLower(v)
	}

	// API
	if v := os.Getenv("SILOWATCH_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("SILOWATCH_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret (always override in production)
	if v := os.Getenv("SILOWATCH_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	errs = append(errs, c.Gateway.validate()...)

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Timeouts.Write > 0 && c.API.Timeouts.Write <= c.Gateway.Deadlines.Provision {
		errs = append(errs, "api.timeouts.write must exceed gateway.deadlines.provision")
	}

	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set SILOWATCH_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (g GatewayConfig) validate() []string {
	var errs []string

	switch g.Transport {
	case TransportMQTT:
		if g.Topics.Command == "" {
			errs = append(errs, "gateway.topics.command is required for the mqtt transport")
		}
		if g.Topics.Responses == "" {
			errs = append(errs, "gateway.topics.responses is required for the mqtt transport")
		}
	case TransportPoll:
		if g.Poll.Interval <= 0 {
			errs = append(errs, "gateway.poll.interval must be positive")
		}
		if g.Poll.CommandRoot == "" || g.Poll.ResponseRoot == "" {
			errs = append(errs, "gateway.poll.command_root and response_root are required")
		}
	default:
		errs = append(errs, fmt.Sprintf("gateway.transport must be %q or %q", TransportMQTT, TransportPoll))
	}

	d := g.Deadlines
	if d.Ping <= 0 || d.Scan <= 0 || d.Provision <= 0 || d.Desintegrate <= 0 || d.Rename <= 0 {
		errs = append(errs, "gateway.deadlines must all be positive")
	}

	switch g.TimeoutPolicy {
	case TimeoutPolicyReject, TimeoutPolicyLocalOnly:
	default:
		errs = append(errs, fmt.Sprintf("gateway.timeout_policy must be %q or %q", TimeoutPolicyReject, TimeoutPolicyLocalOnly))
	}

	return errs
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

// PollInterval returns the pull transport polling interval.
func (g GatewayConfig) PollInterval() time.Duration {
	return time.Duration(g.Poll.Interval) * time.Millisecond
}

// Seconds converts a deadline in seconds to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
