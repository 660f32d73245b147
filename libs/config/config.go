package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration of the scheduling service.
// Every field maps to an environment variable of the same name.
type Config struct {
	ServiceName string `mapstructure:"SERVICE_NAME"`
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`

	StoreDriver  string `mapstructure:"STORE_DRIVER"`
	DatabaseURL  string `mapstructure:"DATABASE_URL"`
	DBMaxConns   int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns   int32  `mapstructure:"DB_MIN_CONNS"`
	AutoMigrate  bool   `mapstructure:"AUTO_MIGRATE"`
	LockDriver   string `mapstructure:"LOCK_DRIVER"`
	RedisAddr    string `mapstructure:"REDIS_ADDR"`
	RedisPass    string `mapstructure:"REDIS_PASSWORD"`
	RedisDB      int    `mapstructure:"REDIS_DB"`
	KafkaBrokers string `mapstructure:"KAFKA_BROKERS"`

	BookingLockWait         time.Duration `mapstructure:"BOOKING_LOCK_WAIT"`
	BookingLockTTL          time.Duration `mapstructure:"BOOKING_LOCK_TTL"`
	ScheduleTimezone        string        `mapstructure:"SCHEDULE_TIMEZONE"`
	MaxSlotRangeDays        int           `mapstructure:"MAX_SLOT_RANGE_DAYS"`
	NotifyProviderOnRequest bool          `mapstructure:"NOTIFY_PROVIDER_ON_REQUEST"`

	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`

	JWTSecret           string `mapstructure:"JWT_SECRET"`
	TrustGatewayHeaders bool   `mapstructure:"TRUST_GATEWAY_HEADERS"`

	CORSAllowedOrigins    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS          float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst        int           `mapstructure:"RATE_LIMIT_BURST"`
	RateLimitBackend      string        `mapstructure:"RATE_LIMIT_BACKEND"`
	RequestTimeout        time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	RequestBodyLimitBytes int64         `mapstructure:"REQUEST_BODY_LIMIT_BYTES"`

	OTelEnabled     bool    `mapstructure:"OTEL_ENABLED"`
	OTelEndpoint    string  `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTelSampleRatio float64 `mapstructure:"OTEL_SAMPLING_RATIO"`
}

var defaults = map[string]any{
	"SERVICE_NAME":                "scheduling-service",
	"PORT":                        "8085",
	"ENV":                         "development",
	"LOG_LEVEL":                   "info",
	"STORE_DRIVER":                "memory",
	"DATABASE_URL":                "",
	"DB_MAX_CONNS":                10,
	"DB_MIN_CONNS":                1,
	"AUTO_MIGRATE":                false,
	"LOCK_DRIVER":                 "local",
	"REDIS_ADDR":                  "",
	"REDIS_PASSWORD":              "",
	"REDIS_DB":                    0,
	"KAFKA_BROKERS":               "",
	"BOOKING_LOCK_WAIT":           "2s",
	"BOOKING_LOCK_TTL":            "10s",
	"SCHEDULE_TIMEZONE":           "UTC",
	"MAX_SLOT_RANGE_DAYS":         62,
	"NOTIFY_PROVIDER_ON_REQUEST":  true,
	"OUTBOX_POLL_INTERVAL":        "2s",
	"OUTBOX_BATCH_SIZE":           50,
	"JWT_SECRET":                  "",
	"TRUST_GATEWAY_HEADERS":       false,
	"CORS_ALLOWED_ORIGINS":        "",
	"RATE_LIMIT_RPS":              20,
	"RATE_LIMIT_BURST":            40,
	"RATE_LIMIT_BACKEND":          "memory",
	"REQUEST_TIMEOUT":             "15s",
	"REQUEST_BODY_LIMIT_BYTES":    1 << 20,
	"OTEL_ENABLED":                false,
	"OTEL_EXPORTER_OTLP_ENDPOINT": "jaeger:4317",
	"OTEL_SAMPLING_RATIO":         1.0,
}

// Load reads configuration from the environment and an optional .env file in
// the working directory. Environment variables win over the file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) normalize() {
	c.StoreDriver = strings.ToLower(strings.TrimSpace(c.StoreDriver))
	c.LockDriver = strings.ToLower(strings.TrimSpace(c.LockDriver))
	c.RateLimitBackend = strings.ToLower(strings.TrimSpace(c.RateLimitBackend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.RedisAddr = strings.TrimSpace(c.RedisAddr)
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if _, err := Port(c.Port); err != nil {
		return err
	}
	switch c.StoreDriver {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("STORE_DRIVER must be \"memory\" or \"postgres\", got %q", c.StoreDriver)
	}
	switch c.LockDriver {
	case "local":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when LOCK_DRIVER=redis")
		}
	default:
		return fmt.Errorf("LOCK_DRIVER must be \"local\" or \"redis\", got %q", c.LockDriver)
	}
	switch c.RateLimitBackend {
	case "memory", "off":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("REDIS_ADDR is required when RATE_LIMIT_BACKEND=redis")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_BACKEND must be \"memory\", \"redis\" or \"off\", got %q", c.RateLimitBackend)
	}
	if c.BookingLockWait <= 0 {
		return errors.New("BOOKING_LOCK_WAIT must be positive")
	}
	if c.BookingLockTTL < c.BookingLockWait {
		return errors.New("BOOKING_LOCK_TTL must not be shorter than BOOKING_LOCK_WAIT")
	}
	if c.MaxSlotRangeDays < 0 {
		return errors.New("MAX_SLOT_RANGE_DAYS must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("SCHEDULE_TIMEZONE: %w", err)
	}
	if c.OTelSampleRatio < 0 || c.OTelSampleRatio > 1 {
		return errors.New("OTEL_SAMPLING_RATIO must be within [0,1]")
	}
	if !c.IsDev() && c.JWTSecret == "" && !c.TrustGatewayHeaders {
		return errors.New("JWT_SECRET or TRUST_GATEWAY_HEADERS is required outside development")
	}
	return nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development" || c.Env == "test"
}

// Location resolves SCHEDULE_TIMEZONE, the zone every wall-clock date and time
// of the schedule is interpreted in.
func (c *Config) Location() (*time.Location, error) {
	name := strings.TrimSpace(c.ScheduleTimezone)
	if name == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(name)
}

// CORSOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) CORSOrigins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSAllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Port validates a TCP port string.
func Port(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > 65535 {
		return "", fmt.Errorf("PORT must be a valid TCP port, got %q", raw)
	}
	return raw, nil
}
