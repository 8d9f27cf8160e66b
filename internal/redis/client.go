package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lugondev/go-chat-relay-web3/internal/logger"
)

const defaultKeyPrefix = "relay"

// Config holds Redis connection configuration
type Config struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// KeyPrefix namespaces every key this process writes
	KeyPrefix string
}

// Client wraps the Redis client with key namespacing
type Client struct {
	rdb    *redis.Client
	prefix string
	addr   string
	log    logger.Logger
}

// buildRedisAddr constructs Redis address from host and port.
// If host already contains a port (e.g., "host:port"), use it as-is.
func buildRedisAddr(host string, port int) string {
	if strings.Contains(host, ":") {
		return host
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(cfg Config, log logger.Logger) (*Client, error) {
	addr := buildRedisAddr(cfg.Host, cfg.Port)
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	client := &Client{
		rdb:    rdb,
		prefix: prefix,
		addr:   addr,
		log:    log.With(logger.F("component", "redis")),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	client.log.Info("redis connected successfully",
		logger.F("addr", addr),
		logger.F("db", cfg.DB),
		logger.F("prefix", prefix),
	)

	return client, nil
}

// Key joins parts under the client's prefix
func (c *Client) Key(parts ...string) string {
	return c.prefix + ":" + strings.Join(parts, ":")
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	c.log.Info("closing redis connection")
	return c.rdb.Close()
}

// Ping checks if Redis is available
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Health returns the health status of Redis
func (c *Client) Health(ctx context.Context) map[string]interface{} {
	health := map[string]interface{}{
		"status": "up",
		"addr":   c.addr,
	}

	start := time.Now()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		health["status"] = "down"
		health["error"] = err.Error()
		return health
	}

	health["latency_ms"] = time.Since(start).Milliseconds()
	return health
}
