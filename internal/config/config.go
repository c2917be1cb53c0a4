// Package config holds the server settings. Every setting is a command-line
// flag whose default comes from a PALAVER_* environment variable.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"github.com/palaver-chat/palaver/internal/db"
)

// Config is the complete server configuration.
type Config struct {
	HTTPAddr string
	LogLevel string

	DBDriver string
	DBDSN    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	PresenceKey   string
	QueueKey      string

	JWTIssuer         string
	JWTPublicKeyPath  string
	JWTPrivateKeyPath string
	AuthCookie        string

	SendBufferSize  int
	FrameTimeout    time.Duration
	PollTimeout     time.Duration
	ShutdownTimeout time.Duration
	SampleInterval  time.Duration
}

// BindFlags registers every setting on fs, defaulting from the environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.HTTPAddr, "http-addr", envOrDefault("PALAVER_HTTP_ADDR", ":8080"), "HTTP and websocket listen address")
	fs.StringVar(&c.LogLevel, "log-level", envOrDefault("PALAVER_LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	fs.StringVar(&c.DBDriver, "db-driver", envOrDefault("PALAVER_DB_DRIVER", db.DriverSQLite), "Database driver (sqlite or postgres)")
	fs.StringVar(&c.DBDSN, "db-dsn", envOrDefault("PALAVER_DB_DSN", "./palaver.db"), "Database DSN or file path for SQLite")

	fs.StringVar(&c.RedisAddr, "redis-addr", envOrDefault("PALAVER_REDIS_ADDR", "localhost:6379"), "Redis address for presence and the signal queue")
	fs.StringVar(&c.RedisPassword, "redis-password", envOrDefault("PALAVER_REDIS_PASSWORD", ""), "Redis password")
	fs.IntVar(&c.RedisDB, "redis-db", envIntOrDefault("PALAVER_REDIS_DB", 0), "Redis database number")
	fs.StringVar(&c.PresenceKey, "presence-key", envOrDefault("PALAVER_PRESENCE_KEY", "palaver:online_users"), "Redis key of the presence set")
	fs.StringVar(&c.QueueKey, "queue-key", envOrDefault("PALAVER_QUEUE_KEY", "palaver:signal_queue"), "Redis key of the signal queue")

	fs.StringVar(&c.JWTIssuer, "jwt-issuer", envOrDefault("PALAVER_JWT_ISSUER", "palaver"), "Expected JWT issuer")
	fs.StringVar(&c.JWTPublicKeyPath, "jwt-public-key", envOrDefault("PALAVER_JWT_PUBLIC_KEY", ""), "PEM file of the RSA public key verifying access tokens")
	fs.StringVar(&c.JWTPrivateKeyPath, "jwt-private-key", envOrDefault("PALAVER_JWT_PRIVATE_KEY", ""), "PEM file of the RSA private key (only needed to mint tokens)")
	fs.StringVar(&c.AuthCookie, "auth-cookie", envOrDefault("PALAVER_AUTH_COOKIE", "access_token"), "Cookie carrying the access token")

	fs.IntVar(&c.SendBufferSize, "send-buffer", envIntOrDefault("PALAVER_SEND_BUFFER", 64), "Outbound frames buffered per connection before it is dropped")
	fs.DurationVar(&c.FrameTimeout, "frame-timeout", envDurationOrDefault("PALAVER_FRAME_TIMEOUT", 10*time.Second), "Upper bound for handling one inbound frame")
	fs.DurationVar(&c.PollTimeout, "poll-timeout", envDurationOrDefault("PALAVER_POLL_TIMEOUT", time.Second), "Blocking pop timeout of the signal queue drain loop")
	fs.DurationVar(&c.ShutdownTimeout, "shutdown-timeout", envDurationOrDefault("PALAVER_SHUTDOWN_TIMEOUT", 10*time.Second), "Graceful shutdown deadline")
	fs.DurationVar(&c.SampleInterval, "sample-interval", envDurationOrDefault("PALAVER_SAMPLE_INTERVAL", 15*time.Second), "Interval of the queue depth and presence gauges")
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case db.DriverSQLite, db.DriverPostgres:
	default:
		return fmt.Errorf("config: unsupported db driver %q", c.DBDriver)
	}
	if c.DBDSN == "" {
		return errors.New("config: db dsn is required")
	}
	if c.RedisAddr == "" {
		return errors.New("config: redis addr is required")
	}
	if c.PresenceKey == "" || c.QueueKey == "" {
		return errors.New("config: presence and queue keys are required")
	}
	if c.PresenceKey == c.QueueKey {
		return errors.New("config: presence and queue keys must differ")
	}
	if c.JWTPrivateKeyPath != "" && c.JWTPublicKeyPath == "" {
		return errors.New("config: jwt private key requires the matching public key")
	}
	if c.SendBufferSize <= 0 {
		return fmt.Errorf("config: send buffer must be positive, got %d", c.SendBufferSize)
	}
	for name, d := range map[string]time.Duration{
		"frame timeout":    c.FrameTimeout,
		"poll timeout":     c.PollTimeout,
		"shutdown timeout": c.ShutdownTimeout,
		"sample interval":  c.SampleInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	return nil
}

// GeneratedKeys reports whether the server runs with a throwaway key pair.
// Tokens issued by any other party cannot be verified in that mode.
func (c *Config) GeneratedKeys() bool {
	return c.JWTPublicKeyPath == ""
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
