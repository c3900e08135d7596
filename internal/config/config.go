package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is loaded once at startup from the environment.
type Config struct {
	// DBSource is the Postgres DSN. Empty enables the in-memory stores,
	// which only makes sense for local development.
	DBSource string
	Port     string
	Env      string

	// RedisAddr enables the Redis-backed idempotency guard when set.
	RedisAddr     string
	RedisPassword string

	// AMQPURL enables the settlement event publisher when set.
	AMQPURL   string
	AMQPQueue string

	// JWTSecret signs/verifies bearer tokens.
	JWTSecret string

	// Currency is the single supported currency code.
	Currency string
	// MaxAmount is the sanity ceiling for a single settlement, in minor units.
	MaxAmount int64
	// IdempotencyTTL is how long cached responses are replayed.
	IdempotencyTTL time.Duration
	// EscrowExpiry is the pending window for escrow deposits.
	EscrowExpiry time.Duration
	// ResolverCandidates bounds the recipient candidate scan.
	ResolverCandidates int
}

func Load() (*Config, error) {
	cfg := &Config{
		DBSource:           os.Getenv("DB_SOURCE"),
		Port:               getenv("SERVER_PORT", "8080"),
		Env:                getenv("ENVIRONMENT", "development"),
		RedisAddr:          os.Getenv("REDIS_ADDR"),
		RedisPassword:      os.Getenv("REDIS_PASSWORD"),
		AMQPURL:            os.Getenv("AMQP_URL"),
		AMQPQueue:          getenv("AMQP_QUEUE", "settlements"),
		JWTSecret:          os.Getenv("JWT_SECRET"),
		Currency:           getenv("CURRENCY", "GHS"),
		MaxAmount:          100_000_00,
		IdempotencyTTL:     5 * time.Minute,
		EscrowExpiry:       24 * time.Hour,
		ResolverCandidates: 25,
	}

	if cfg.Env == "production" && cfg.DBSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required in production")
	}
	if cfg.Env == "production" && cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required in production")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-secret"
	}

	if v := os.Getenv("MAX_AMOUNT"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid MAX_AMOUNT %q", v)
		}
		cfg.MaxAmount = n
	}
	if v := os.Getenv("IDEMPOTENCY_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid IDEMPOTENCY_TTL %q", v)
		}
		cfg.IdempotencyTTL = d
	}
	if v := os.Getenv("ESCROW_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("invalid ESCROW_EXPIRY %q", v)
		}
		cfg.EscrowExpiry = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
