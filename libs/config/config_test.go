package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("LOCK_DRIVER", "local")
	t.Setenv("RATE_LIMIT_BACKEND", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "scheduling-service", cfg.ServiceName)
	assert.Equal(t, "8085", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.BookingLockWait)
	assert.Equal(t, 10*time.Second, cfg.BookingLockTTL)
	assert.Equal(t, 62, cfg.MaxSlotRangeDays)
	assert.True(t, cfg.NotifyProviderOnRequest)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_DRIVER", "Postgres")
	t.Setenv("DATABASE_URL", "postgres://app:app@db:5432/app")
	t.Setenv("LOCK_DRIVER", "redis")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("RATE_LIMIT_BACKEND", "redis")
	t.Setenv("BOOKING_LOCK_WAIT", "500ms")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, "redis", cfg.LockDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.BookingLockWait)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins())
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Port:             "8085",
			Env:              "development",
			StoreDriver:      "memory",
			LockDriver:       "local",
			RateLimitBackend: "memory",
			BookingLockWait:  time.Second,
			BookingLockTTL:   5 * time.Second,
			ScheduleTimezone: "UTC",
			OTelSampleRatio:  1,
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Port = "70000" }},
		{"postgres without url", func(c *Config) { c.StoreDriver = "postgres" }},
		{"unknown store", func(c *Config) { c.StoreDriver = "mongo" }},
		{"redis lock without addr", func(c *Config) { c.LockDriver = "redis" }},
		{"zero lock wait", func(c *Config) { c.BookingLockWait = 0 }},
		{"ttl shorter than wait", func(c *Config) { c.BookingLockTTL = 100 * time.Millisecond }},
		{"unknown timezone", func(c *Config) { c.ScheduleTimezone = "Mars/Olympus" }},
		{"production without auth", func(c *Config) { c.Env = "production" }},
	}

	ok := base()
	require.NoError(t, ok.Validate())

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
