// Package config loads the gateway configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	env "github.com/Netflix/go-env"
	"github.com/joho/godotenv"

	"github.com/whisper/dm-gateway/internal/gateway"
	"github.com/whisper/dm-gateway/internal/messaging"
	"github.com/whisper/dm-gateway/internal/ratelimit"
	"github.com/whisper/dm-gateway/internal/ws"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverBadger   = "badger"
)

// Config is the complete gateway configuration.
type Config struct {
	ListenAddr        string        `env:"LISTEN_ADDR,default=:8080"`
	WorkerPoolSize    int           `env:"WORKER_POOL_SIZE,default=256"`
	MaxConnections    int           `env:"MAX_CONNECTIONS,default=100000"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT,default=10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT,default=10s"`
	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	HeartbeatTimeout  time.Duration `env:"HEARTBEAT_TIMEOUT,default=10s"`
	OutboundQueueSize int           `env:"OUTBOUND_QUEUE_SIZE,default=256"`
	RequestTimeout    time.Duration `env:"REQUEST_TIMEOUT,default=5s"`

	StoreDriver string `env:"STORE_DRIVER,default=postgres"`
	DatabaseURL string `env:"DATABASE_URL"`
	BadgerPath  string `env:"BADGER_PATH,default=./data/badger"`

	RedisAddr string `env:"REDIS_ADDR"`
	NATSURL   string `env:"NATS_URL"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER,default=whisper"`

	LogLevel   string `env:"LOG_LEVEL,default=info"`
	ServerName string `env:"SERVER_NAME"`

	// RateLimitMessages of 0 disables send rate limiting.
	RateLimitMessages int           `env:"RATE_LIMIT_MESSAGES,default=20"`
	RateLimitWindow   time.Duration `env:"RATE_LIMIT_WINDOW,default=10s"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=15s"`
}

// Load reads the configuration from the environment. When envFile is set,
// its variables are loaded first without overriding ones already set.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if cfg.ServerName == "" {
		cfg.ServerName, _ = os.Hostname()
	}
	return cfg, cfg.Validate()
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is required")
	}
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres store")
		}
	case DriverBadger:
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.RateLimitMessages < 0 {
		return errors.New("config: RATE_LIMIT_MESSAGES must not be negative")
	}
	return nil
}

// Server returns the WebSocket server settings.
func (c Config) Server() ws.ServerConfig {
	sc := ws.DefaultServerConfig()
	sc.ListenAddr = c.ListenAddr
	sc.WorkerPoolSize = c.WorkerPoolSize
	sc.MaxConnections = c.MaxConnections
	sc.ReadTimeout = c.ReadTimeout
	sc.WriteTimeout = c.WriteTimeout
	sc.OutboundQueueSize = c.OutboundQueueSize
	sc.Heartbeat = ws.HeartbeatConfig{
		Interval: c.HeartbeatInterval,
		Timeout:  c.HeartbeatTimeout,
	}
	return sc
}

// Gateway returns the request handling settings.
func (c Config) Gateway() gateway.Config {
	gc := gateway.DefaultConfig()
	gc.MessageRule = ratelimit.Rule{
		Key:    ratelimit.RuleMessage.Key,
		Limit:  c.RateLimitMessages,
		Window: c.RateLimitWindow,
	}
	gc.RequestTimeout = c.RequestTimeout
	return gc
}

// NATS returns the event bus settings. It reports false when events are
// disabled.
func (c Config) NATS() (messaging.NATSConfig, bool) {
	nc := messaging.DefaultNATSConfig()
	if c.NATSURL == "" {
		return nc, false
	}
	nc.URL = c.NATSURL
	nc.Name = "dm-gateway-" + c.ServerName
	return nc, true
}
