package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/lugondev/go-chat-relay-web3/internal/listener"
)

// envVarPattern matches ${VAR_NAME}. Bare $NAME is left alone since keyword
// types are keyed by cashtags.
var envVarPattern = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// embedDomainPattern accepts bare host names such as x.com or vxtwitter.com
var embedDomainPattern = regexp.MustCompile(`^[a-zA-Z0-9-]+(\.[a-zA-Z0-9-]+)+$`)

var (
	ErrNoGateway       = errors.New("gateway url is required")
	ErrNoRedisHost     = errors.New("redis host is required")
	ErrInvalidEmbed    = errors.New("allowed embed must be a bare domain")
	ErrDuplicateName   = errors.New("duplicate listener name")
	ErrDedupeBackend   = errors.New("dedupe backend must be memory or redis")
	ErrRedisRequired   = errors.New("redis must be enabled")
	ErrNoAdminSecret   = errors.New("admin jwt secret is required")
	ErrInvalidCapacity = errors.New("dedupe capacity must be positive")
)

// Dedupe backends
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Messages  MessagesConfig  `yaml:"messages"`
	Listeners []listener.Rule `yaml:"listeners"`
	Sink      SinkConfig      `yaml:"sink"`
	Redis     RedisConfig     `yaml:"redis"`
	Dedupe    DedupeConfig    `yaml:"dedupe"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Admin     AdminConfig     `yaml:"admin"`
	Logger    LoggerConfig    `yaml:"logger"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// AppConfig holds application-level configuration
type AppConfig struct {
	Name            string        `yaml:"name"`
	Environment     string        `yaml:"environment"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// GatewayConfig holds the chat gateway websocket connection configuration
type GatewayConfig struct {
	URL               string        `yaml:"url"`
	Token             string        `yaml:"token"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	MaxRetries        int           `yaml:"max_retries"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	PongTimeout       time.Duration `yaml:"pong_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	RequestTimeout    time.Duration `yaml:"request_timeout"`
}

// MessagesConfig holds global message handling options
type MessagesConfig struct {
	Blacklist     []string `yaml:"blacklist"`
	AllowedEmbeds []string `yaml:"allowed_embeds"`
	QueueSize     int      `yaml:"queue_size"`
}

// SinkConfig lists where scan events are published
type SinkConfig struct {
	PublishTimeout time.Duration  `yaml:"publish_timeout"`
	History        HistoryConfig  `yaml:"history"`
	NATS           NATSConfig     `yaml:"nats"`
	RedisBroadcast bool           `yaml:"redis_broadcast"`
	Telegram       TelegramConfig `yaml:"telegram"`
}

// HistoryConfig is the HTTP history service sink
type HistoryConfig struct {
	Enabled    bool          `yaml:"enabled"`
	URL        string        `yaml:"url"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// NATSConfig is the NATS sink
type NATSConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// TelegramConfig holds Telegram bot configuration for trade alerts
type TelegramConfig struct {
	BotToken   string        `yaml:"bot_token"`
	ChatID     string        `yaml:"chat_id"`
	RateLimit  int           `yaml:"rate_limit"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`

	TopicCacheTTL     time.Duration `yaml:"topic_cache_ttl"` // renamed topics keep their old title until expiry
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DedupeConfig controls the recent scan and trade suppression sets
type DedupeConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Backend       string `yaml:"backend"`
	ScanCapacity  int    `yaml:"scan_capacity"`
	TradeCapacity int    `yaml:"trade_capacity"`
}

// WebhookConfig holds webhook delivery configuration
type WebhookConfig struct {
	Timeout       time.Duration `yaml:"timeout"`
	RetryCount    int           `yaml:"retry_count"`
	Backoff       time.Duration `yaml:"backoff"`
	MaxRetryAfter time.Duration `yaml:"max_retry_after"`
	// RateLimit is the number of executions allowed per webhook per RateWindow; 0 disables it
	RateLimit  int           `yaml:"rate_limit"`
	RateWindow time.Duration `yaml:"rate_window"`
}

// AdminConfig holds the admin HTTP server configuration
type AdminConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // json or text
	Output     string `yaml:"output"` // stdout, stderr, or a file path opened for appending
	TimeFormat string `yaml:"time_format"`
}

// MetricsConfig holds Prometheus configuration
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

// Load loads configuration from file and environment variables
// Load order (later overrides earlier):
// 1. Default values
// 2. .env file (if exists) - loaded into process environment
// 3. YAML config file with ${VAR} expansion
// 4. Environment variable overrides (explicit mappings)
func Load(configPath string) (*Config, error) {
	cfg := defaultConfig()

	loadDotEnv(configPath)

	if configPath != "" {
		if err := loadFromFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	loadFromEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// loadDotEnv loads .env files from the working directory and next to the
// config file. Existing environment variables are never overridden.
func loadDotEnv(configPath string) {
	envPaths := []string{".env", ".env.local"}

	if configPath != "" {
		configDir := filepath.Dir(configPath)
		envPaths = append(envPaths,
			filepath.Join(configDir, ".env"),
			filepath.Join(configDir, "..", ".env"),
		)
	}

	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err == nil {
			_ = godotenv.Load(envPath)
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:            "go-chat-relay-web3",
			Environment:     "development",
			ShutdownTimeout: 10 * time.Second,
		},
		Gateway: GatewayConfig{
			URL:               "ws://localhost:8090/ws",
			ReconnectInterval: 5 * time.Second,
			MaxRetries:        10,
			PingInterval:      30 * time.Second,
			PongTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			ReadTimeout:       60 * time.Second,
			RequestTimeout:    10 * time.Second,
		},
		Messages: MessagesConfig{
			AllowedEmbeds: []string{"twitter.com", "x.com", "fxtwitter.com", "vxtwitter.com"},
			QueueSize:     100,
		},
		Sink: SinkConfig{
			PublishTimeout: 15 * time.Second,
			History: HistoryConfig{
				Enabled:    true,
				URL:        "https://istory.ai",
				Timeout:    10 * time.Second,
				RetryCount: 3,
			},
			NATS: NATSConfig{
				URL:           "nats://localhost:4222",
				SubjectPrefix: "scans",
			},
			Telegram: TelegramConfig{
				RateLimit:  30,
				Timeout:    30 * time.Second,
				RetryCount: 3,
			},
		},
		Redis: RedisConfig{
			Host:              "localhost",
			Port:              6379,
			PoolSize:          10,
			MinIdleConns:      3,
			DialTimeout:       5 * time.Second,
			ReadTimeout:       3 * time.Second,
			WriteTimeout:      3 * time.Second,
			KeyPrefix:         "relay",
			TopicCacheTTL:     5 * time.Minute,
			HeartbeatInterval: 30 * time.Second,
		},
		Dedupe: DedupeConfig{
			Backend:       BackendMemory,
			ScanCapacity:  1000,
			TradeCapacity: 1000,
		},
		Webhook: WebhookConfig{
			Timeout:       30 * time.Second,
			RetryCount:    3,
			Backoff:       time.Second,
			MaxRetryAfter: time.Minute,
			RateWindow:    time.Minute,
		},
		Admin: AdminConfig{
			Port: 8080,
		},
		Logger: LoggerConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			TimeFormat: time.RFC3339,
		},
		Metrics: MetricsConfig{
			Namespace: "relay",
		},
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	expanded := expandEnvVars(string(data))

	return yaml.Unmarshal([]byte(expanded), cfg)
}

// expandEnvVars replaces ${VAR} with environment variable values.
// Unset variables expand to the empty string.
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// loadFromEnv overrides configuration with environment variables
func loadFromEnv(cfg *Config) {
	// App
	if v := os.Getenv("APP_NAME"); v != "" {
		cfg.App.Name = v
	}
	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Environment = v
	}

	// Gateway
	if v := os.Getenv("GATEWAY_URL"); v != "" {
		cfg.Gateway.URL = v
	}
	if v := os.Getenv("GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Token = v
	}
	if v := os.Getenv("GATEWAY_RECONNECT_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gateway.ReconnectInterval = d
		}
	}
	if v := os.Getenv("GATEWAY_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.MaxRetries = n
		}
	}

	// Messages
	if v := os.Getenv("MESSAGES_BLACKLIST"); v != "" {
		cfg.Messages.Blacklist = splitList(v)
	}
	if v := os.Getenv("MESSAGES_ALLOWED_EMBEDS"); v != "" {
		cfg.Messages.AllowedEmbeds = splitList(v)
	}

	// Sinks
	if v := os.Getenv("SINK_URL"); v != "" {
		cfg.Sink.History.URL = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.Sink.NATS.URL = v
		cfg.Sink.NATS.Enabled = true
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Sink.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Sink.Telegram.ChatID = v
	}
	if v := os.Getenv("TELEGRAM_RATE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Sink.Telegram.RateLimit = n
		}
	}

	// Redis
	if v := os.Getenv("REDIS_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Redis.Enabled = b
		}
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		cfg.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.Port = n
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = n
		}
	}
	if v := os.Getenv("REDIS_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Redis.PoolSize = n
		}
	}
	if v := os.Getenv("REDIS_KEY_PREFIX"); v != "" {
		cfg.Redis.KeyPrefix = v
	}

	// Admin
	if v := os.Getenv("ADMIN_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Admin.Port = n
		}
	}
	if v := os.Getenv("ADMIN_JWT_SECRET"); v != "" {
		cfg.Admin.JWTSecret = v
	}

	// Logger
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
}

// splitList parses a comma-separated environment value, dropping blanks
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Gateway.URL == "" {
		return ErrNoGateway
	}

	for i, domain := range c.Messages.AllowedEmbeds {
		if !embedDomainPattern.MatchString(domain) {
			return fmt.Errorf("messages.allowed_embeds[%d] %q: %w", i, domain, ErrInvalidEmbed)
		}
	}

	names := make(map[string]bool, len(c.Listeners))
	for i := range c.Listeners {
		rule := &c.Listeners[i]
		if err := rule.Validate(); err != nil {
			return fmt.Errorf("listeners[%d] %s: %w", i, rule.Label(), err)
		}
		if rule.Name == "" {
			continue
		}
		if names[rule.Name] {
			return fmt.Errorf("listeners[%d]: %w: %s", i, ErrDuplicateName, rule.Name)
		}
		names[rule.Name] = true
	}

	if c.Redis.Enabled && c.Redis.Host == "" {
		return ErrNoRedisHost
	}

	if c.Dedupe.Enabled {
		switch c.Dedupe.Backend {
		case BackendMemory:
		case BackendRedis:
			if !c.Redis.Enabled {
				return fmt.Errorf("dedupe backend redis: %w", ErrRedisRequired)
			}
		default:
			return fmt.Errorf("%w: %q", ErrDedupeBackend, c.Dedupe.Backend)
		}
		if c.Dedupe.ScanCapacity <= 0 || c.Dedupe.TradeCapacity <= 0 {
			return ErrInvalidCapacity
		}
	}

	if c.Sink.RedisBroadcast && !c.Redis.Enabled {
		return fmt.Errorf("sink.redis_broadcast: %w", ErrRedisRequired)
	}

	if c.Admin.Enabled && c.Admin.JWTSecret == "" {
		return ErrNoAdminSecret
	}

	// Sinks are optional; a relay without any still delivers webhooks
	return nil
}

// IsTelegramEnabled returns true if Telegram trade alerts are configured
func (c *Config) IsTelegramEnabled() bool {
	return c.Sink.Telegram.BotToken != "" && c.Sink.Telegram.ChatID != ""
}

// IsWebhookRateLimited returns true if per-webhook rate limiting is configured
func (c *Config) IsWebhookRateLimited() bool {
	return c.Webhook.RateLimit > 0 && c.Webhook.RateWindow > 0
}
