package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// unset clears key for the duration of the test.
func unset(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STORE_DRIVER", "badger")
	t.Setenv("BADGER_PATH", "/tmp/dm")
	t.Setenv("HEARTBEAT_INTERVAL", "45s")
	t.Setenv("RATE_LIMIT_MESSAGES", "5")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("SERVER_NAME", "gw-1")
	t.Setenv("NATS_URL", "nats://bus:4222")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "s3cret", cfg.JWTSecret)
	require.Equal(t, DriverBadger, cfg.StoreDriver)
	require.Equal(t, "/tmp/dm", cfg.BadgerPath)

	sc := cfg.Server()
	require.Equal(t, 45*time.Second, sc.Heartbeat.Interval)

	gc := cfg.Gateway()
	require.Equal(t, 5, gc.MessageRule.Limit)
	require.Equal(t, time.Minute, gc.MessageRule.Window)
	require.NotEmpty(t, gc.MessageRule.Key)

	nc, ok := cfg.NATS()
	require.True(t, ok)
	require.Equal(t, "nats://bus:4222", nc.URL)
	require.Equal(t, "dm-gateway-gw-1", nc.Name)
}

func TestLoadEnvFile(t *testing.T) {
	for _, key := range []string{"JWT_SECRET", "STORE_DRIVER", "DATABASE_URL", "LOG_LEVEL"} {
		unset(t, key)
	}
	t.Setenv("LOG_LEVEL", "warn")

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte(
		"JWT_SECRET=from-file\nDATABASE_URL=postgres://localhost/dm\nLOG_LEVEL=debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-file", cfg.JWTSecret)
	require.Equal(t, DriverPostgres, cfg.StoreDriver)
	require.Equal(t, "postgres://localhost/dm", cfg.DatabaseURL)
	require.Equal(t, "warn", cfg.LogLevel, "the environment wins over the file")

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := Config{JWTSecret: "x", StoreDriver: DriverBadger}
	require.NoError(t, valid.Validate())

	tests := map[string]Config{
		"missing secret":       {StoreDriver: DriverBadger},
		"postgres without dsn": {JWTSecret: "x", StoreDriver: DriverPostgres},
		"unknown driver":       {JWTSecret: "x", StoreDriver: "mysql"},
		"negative rate limit":  {JWTSecret: "x", StoreDriver: DriverBadger, RateLimitMessages: -1},
	}
	for name, cfg := range tests {
		t.Run(name, func(t *testing.T) {
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNATSDisabledWithoutURL(t *testing.T) {
	_, ok := Config{}.NATS()
	require.False(t, ok)
}
