package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server          ServerConfig          `yaml:"server" envconfig:"SERVER"`
	Storage         StorageConfig         `yaml:"storage" envconfig:"STORAGE"`
	Logging         LoggingConfig         `yaml:"logging" envconfig:"LOGGING"`
	JWT             JWTConfig             `yaml:"jwt" envconfig:"JWT"`
	CORS            CORSConfig            `yaml:"cors" envconfig:"CORS"`
	Gateway         GatewayConfig         `yaml:"gateway" envconfig:"GATEWAY"`
	RateLimit       RateLimitConfig       `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
	TokenRevocation TokenRevocationConfig `yaml:"token_revocation" envconfig:"TOKEN_REVOCATION"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host       string `yaml:"host" envconfig:"HOST"`
	Port       int    `yaml:"port" envconfig:"PORT"`
	AdminPort  int    `yaml:"admin_port" envconfig:"ADMIN_PORT"`   // Internal admin API port (0 to disable)
	AdminToken string `yaml:"admin_token" envconfig:"ADMIN_TOKEN"` // Bearer token for admin API (auto-generated if empty)
}

// StorageConfig contains message store configuration
type StorageConfig struct {
	Type    string        `yaml:"type" envconfig:"TYPE"` // memory, sqlite, mongodb, redis
	SQLite  SQLiteConfig  `yaml:"sqlite" envconfig:"SQLITE"`
	MongoDB MongoDBConfig `yaml:"mongodb" envconfig:"MONGODB"`
	Redis   RedisConfig   `yaml:"redis" envconfig:"REDIS"`
}

// SQLiteConfig contains SQLite-specific configuration
type SQLiteConfig struct {
	Path string `yaml:"path" envconfig:"DB_PATH"`
}

// MongoDBConfig contains MongoDB-specific configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri" envconfig:"URI"`
	Database string `yaml:"database" envconfig:"DATABASE"`
	Timeout  int    `yaml:"timeout" envconfig:"TIMEOUT"` // seconds
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Address   string `yaml:"address" envconfig:"ADDRESS"`
	Password  string `yaml:"password" envconfig:"PASSWORD"`
	DB        int    `yaml:"db" envconfig:"DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"KEY_PREFIX"`
	// MaxMessagesPerRoom trims each room's history (0 keeps everything)
	MaxMessagesPerRoom int64 `yaml:"max_messages_per_room" envconfig:"MAX_MESSAGES_PER_ROOM"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" envconfig:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" envconfig:"FORMAT"` // json, text
}

// JWTConfig contains JWT configuration
type JWTConfig struct {
	Secret      string `yaml:"secret" envconfig:"SECRET"`
	ExpiryHours int    `yaml:"expiry_hours" envconfig:"EXPIRY_HOURS"`
	Issuer      string `yaml:"issuer" envconfig:"ISSUER"`
}

// CORSConfig contains CORS settings for the public router
type CORSConfig struct {
	AllowedOrigins   []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`
	AllowedMethods   []string `yaml:"allowed_methods" envconfig:"ALLOWED_METHODS"`
	AllowedHeaders   []string `yaml:"allowed_headers" envconfig:"ALLOWED_HEADERS"`
	ExposedHeaders   []string `yaml:"exposed_headers" envconfig:"EXPOSED_HEADERS"`
	AllowCredentials bool     `yaml:"allow_credentials" envconfig:"ALLOW_CREDENTIALS"`
	MaxAge           int      `yaml:"max_age" envconfig:"MAX_AGE"` // seconds
}

// GatewayConfig contains the WebSocket chat gateway settings
type GatewayConfig struct {
	// SendQueueSize bounds each connection's outbound queue. A member whose
	// queue is full when a message is broadcast gets evicted.
	SendQueueSize int `yaml:"send_queue_size" envconfig:"SEND_QUEUE_SIZE"`
	// MaxMessageBytes is the read limit for a single inbound frame.
	MaxMessageBytes int64 `yaml:"max_message_bytes" envconfig:"MAX_MESSAGE_BYTES"`
	// MaxContentLength is the maximum message content length in characters.
	MaxContentLength int `yaml:"max_content_length" envconfig:"MAX_CONTENT_LENGTH"`

	PongWaitSeconds     int `yaml:"pong_wait_seconds" envconfig:"PONG_WAIT_SECONDS"`
	PingIntervalSeconds int `yaml:"ping_interval_seconds" envconfig:"PING_INTERVAL_SECONDS"`
	WriteTimeoutSeconds int `yaml:"write_timeout_seconds" envconfig:"WRITE_TIMEOUT_SECONDS"`
	// IdleTimeoutSeconds closes connections that sent no chat frame for this long (0 disables).
	IdleTimeoutSeconds    int `yaml:"idle_timeout_seconds" envconfig:"IDLE_TIMEOUT_SECONDS"`
	PersistTimeoutSeconds int `yaml:"persist_timeout_seconds" envconfig:"PERSIST_TIMEOUT_SECONDS"`
	ShutdownGraceSeconds  int `yaml:"shutdown_grace_seconds" envconfig:"SHUTDOWN_GRACE_SECONDS"`

	// EchoToSender delivers a sender's own messages back to it. When false the
	// sender receives an ack carrying the assigned sequence instead.
	EchoToSender bool `yaml:"echo_to_sender" envconfig:"ECHO_TO_SENDER"`
	// HistoryOnJoin replays up to this many stored messages to a new member (0 disables).
	HistoryOnJoin int `yaml:"history_on_join" envconfig:"HISTORY_ON_JOIN"`

	// AllowedChatTypes restricts the chat_type path segment (empty allows any).
	AllowedChatTypes []string `yaml:"allowed_chat_types" envconfig:"ALLOWED_CHAT_TYPES"`
	// AllowedOrigins is checked against the Origin header on upgrade ("*" allows any).
	AllowedOrigins []string `yaml:"allowed_origins" envconfig:"ALLOWED_ORIGINS"`

	MessagesPerSecond float64 `yaml:"messages_per_second" envconfig:"MESSAGES_PER_SECOND"`
	MessageBurst      int     `yaml:"message_burst" envconfig:"MESSAGE_BURST"`
}

// RateLimitConfig configures the per-client limiter on WebSocket handshakes
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" envconfig:"ENABLED"`
	RequestsPerMinute int  `yaml:"requests_per_minute" envconfig:"REQUESTS_PER_MINUTE"`
	BurstSize         int  `yaml:"burst_size" envconfig:"BURST_SIZE"`
}

// SetDefaults fills zero values
func (c *RateLimitConfig) SetDefaults() {
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.BurstSize <= 0 {
		c.BurstSize = 10
	}
}

// TokenRevocationConfig configures the in-process revoked token list
type TokenRevocationConfig struct {
	Enabled                bool `yaml:"enabled" envconfig:"ENABLED"`
	CleanupIntervalSeconds int  `yaml:"cleanup_interval_seconds" envconfig:"CLEANUP_INTERVAL_SECONDS"`
}

// SetDefaults fills zero values
func (c *TokenRevocationConfig) SetDefaults() {
	if c.CleanupIntervalSeconds <= 0 {
		c.CleanupIntervalSeconds = 300
	}
}

// Load loads configuration from file and environment variables
func Load(configFile string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Load from YAML file if provided (overrides defaults)
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			// File doesn't exist, that's ok - we'll use defaults and env vars
		} else {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("CHAT", cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration. It does not pass Validate on
// its own because the JWT secret has no default.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible default values
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "0.0.0.0",
			Port:      33254,
			AdminPort: 33255,
		},
		Storage: StorageConfig{
			Type: "memory",
			SQLite: SQLiteConfig{
				Path: "chat.db",
			},
			MongoDB: MongoDBConfig{
				URI:      "mongodb://localhost:27017",
				Database: "chat",
				Timeout:  10,
			},
			Redis: RedisConfig{
				Address:   "localhost:6379",
				KeyPrefix: "chat:",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		JWT: JWTConfig{
			ExpiryHours: 24,
		},
		CORS: CORSConfig{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           12 * 60 * 60,
		},
		Gateway: GatewayConfig{
			SendQueueSize:         256,
			MaxMessageBytes:       64 * 1024,
			MaxContentLength:      4000,
			PongWaitSeconds:       60,
			PingIntervalSeconds:   54,
			WriteTimeoutSeconds:   10,
			PersistTimeoutSeconds: 5,
			ShutdownGraceSeconds:  10,
			AllowedOrigins:        []string{"*"},
			MessagesPerSecond:     10,
			MessageBurst:          20,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerMinute: 60,
			BurstSize:         10,
		},
		TokenRevocation: TokenRevocationConfig{
			Enabled:                true,
			CleanupIntervalSeconds: 300,
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.Server.AdminPort < 0 || c.Server.AdminPort > 65535 {
		return fmt.Errorf("invalid admin port: %d", c.Server.AdminPort)
	}

	if c.Server.AdminPort != 0 && c.Server.AdminPort == c.Server.Port {
		return fmt.Errorf("admin port must differ from server port")
	}

	switch c.Storage.Type {
	case "memory", "sqlite", "mongodb", "redis":
	default:
		return fmt.Errorf("invalid storage type: %s (must be memory, sqlite, mongodb, or redis)", c.Storage.Type)
	}

	if c.Storage.Type == "mongodb" && c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("mongodb uri is required when using mongodb storage")
	}

	if c.Storage.Type == "redis" && c.Storage.Redis.Address == "" {
		return fmt.Errorf("redis address is required when using redis storage")
	}

	if c.Storage.Type == "sqlite" && c.Storage.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required when using sqlite storage")
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("jwt secret is required")
	}

	if len(c.CORS.AllowedOrigins) == 0 {
		return fmt.Errorf("cors allowed_origins must not be empty (use \"*\" to allow all)")
	}

	return c.Gateway.Validate()
}

// Validate validates the gateway settings
func (g *GatewayConfig) Validate() error {
	if g.SendQueueSize < 1 {
		return fmt.Errorf("gateway send_queue_size must be positive")
	}
	if g.MaxMessageBytes < 1 {
		return fmt.Errorf("gateway max_message_bytes must be positive")
	}
	if g.PongWaitSeconds < 1 || g.PingIntervalSeconds < 1 {
		return fmt.Errorf("gateway ping interval and pong wait must be positive")
	}
	if g.PingIntervalSeconds >= g.PongWaitSeconds {
		return fmt.Errorf("gateway ping_interval_seconds (%d) must be less than pong_wait_seconds (%d)",
			g.PingIntervalSeconds, g.PongWaitSeconds)
	}
	if g.WriteTimeoutSeconds < 1 || g.PersistTimeoutSeconds < 1 {
		return fmt.Errorf("gateway write and persist timeouts must be positive")
	}
	if g.IdleTimeoutSeconds < 0 || g.HistoryOnJoin < 0 {
		return fmt.Errorf("gateway idle_timeout_seconds and history_on_join must not be negative")
	}
	// joined and history frames are queued together on join
	if g.HistoryOnJoin > 0 && g.SendQueueSize < 2 {
		return fmt.Errorf("gateway send_queue_size must be at least 2 when history_on_join is set")
	}
	return nil
}

// PongWait returns how long a silent peer is tolerated before the read fails
func (g *GatewayConfig) PongWait() time.Duration {
	return time.Duration(g.PongWaitSeconds) * time.Second
}

// PingInterval returns the keepalive ping period
func (g *GatewayConfig) PingInterval() time.Duration {
	return time.Duration(g.PingIntervalSeconds) * time.Second
}

// WriteTimeout returns the deadline applied to each frame write
func (g *GatewayConfig) WriteTimeout() time.Duration {
	return time.Duration(g.WriteTimeoutSeconds) * time.Second
}

// IdleTimeout returns the application-level idle timeout (0 when disabled)
func (g *GatewayConfig) IdleTimeout() time.Duration {
	return time.Duration(g.IdleTimeoutSeconds) * time.Second
}

// PersistTimeout returns the bound on a single message store write
func (g *GatewayConfig) PersistTimeout() time.Duration {
	return time.Duration(g.PersistTimeoutSeconds) * time.Second
}

// ShutdownGrace returns how long live connections get to flush on shutdown
func (g *GatewayConfig) ShutdownGrace() time.Duration {
	return time.Duration(g.ShutdownGraceSeconds) * time.Second
}

// Address returns the server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AdminAddress returns the admin server address
func (c *ServerConfig) AdminAddress() string {
	return fmt.Sprintf("%s:%d", c.Host, c.AdminPort)
}
