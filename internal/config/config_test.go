package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func parse(t *testing.T, args ...string) *Config {
	t.Helper()
	cfg := &Config{}
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	cfg.BindFlags(fs)
	require.NoError(t, fs.Parse(args))
	return cfg
}

func TestBindFlags_Defaults(t *testing.T) {
	cfg := parse(t)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "palaver:online_users", cfg.PresenceKey)
	assert.Equal(t, "palaver:signal_queue", cfg.QueueKey)
	assert.Equal(t, "access_token", cfg.AuthCookie)
	assert.Equal(t, 64, cfg.SendBufferSize)
	assert.Equal(t, time.Second, cfg.PollTimeout)
	assert.True(t, cfg.GeneratedKeys())
	assert.NoError(t, cfg.Validate())
}

func TestBindFlags_EnvAndFlags(t *testing.T) {
	t.Setenv("PALAVER_REDIS_ADDR", "redis:6380")
	t.Setenv("PALAVER_REDIS_DB", "3")
	t.Setenv("PALAVER_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("PALAVER_SEND_BUFFER", "not-a-number")

	cfg := parse(t, "--redis-db", "5", "--jwt-public-key", "/keys/pub.pem")

	assert.Equal(t, "redis:6380", cfg.RedisAddr)
	assert.Equal(t, 5, cfg.RedisDB, "flag wins over env")
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, 64, cfg.SendBufferSize, "unparsable env falls back to default")
	assert.False(t, cfg.GeneratedKeys())
}

func TestValidate(t *testing.T) {
	cases := map[string][]string{
		"driver":       {"--db-driver", "mysql"},
		"dsn":          {"--db-dsn", ""},
		"redis":        {"--redis-addr", ""},
		"same keys":    {"--queue-key", "palaver:online_users"},
		"private only": {"--jwt-private-key", "/keys/priv.pem"},
		"buffer":       {"--send-buffer", "0"},
		"timeout":      {"--frame-timeout", "0s"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, parse(t, args...).Validate())
		})
	}
}
