package config

import (
	"os"
	"strconv"
	"time"
)

// Config captures server-level configuration so main stays lean. Values come
// from environment variables with development defaults; production overrides
// everything.
type Config struct {
	Addr          string
	JWTSigningKey string

	PostgresDSN string
	Redis       RedisConfig

	Idempotency IdempotencyConfig
	Integrity   IntegrityConfig
}

// RedisConfig configures the shared Redis client. An empty URL disables Redis
// and the service falls back to in-memory stores.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// IdempotencyConfig tunes the write guard.
type IdempotencyConfig struct {
	// TTL bounds how long a completed fingerprint replays its cached result.
	TTL time.Duration
	// WaitTimeout bounds how long a losing caller waits on an in-flight
	// duplicate before being told to retry later.
	WaitTimeout time.Duration
	// PollInterval is the re-check cadence while waiting.
	PollInterval time.Duration
}

// IntegrityConfig tunes the duplication scan and remediation cycle.
type IntegrityConfig struct {
	// ScanInterval enables scheduled scans when positive; zero means
	// on-demand only.
	ScanInterval time.Duration
	// GroupTimeout time-boxes each group's merge transaction.
	GroupTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          envString("REGISTRAR_ADDR", ":8080"),
		JWTSigningKey: envString("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     envInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Idempotency: IdempotencyConfig{
			TTL:          envDuration("IDEMPOTENCY_TTL", 24*time.Hour),
			WaitTimeout:  envDuration("IDEMPOTENCY_WAIT_TIMEOUT", 3*time.Second),
			PollInterval: envDuration("IDEMPOTENCY_POLL_INTERVAL", 50*time.Millisecond),
		},
		Integrity: IntegrityConfig{
			ScanInterval: envDuration("INTEGRITY_SCAN_INTERVAL", 0),
			GroupTimeout: envDuration("INTEGRITY_GROUP_TIMEOUT", 5*time.Second),
		},
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
