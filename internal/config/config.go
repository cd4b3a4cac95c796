// Package config loads the daemon configuration from the environment.
// Every knob has a default; an unset or empty variable means the default.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Bus driver names accepted by TRANSFERD_BUS_DRIVER.
const (
	BusMemory = "memory"
	BusRabbit = "rabbit"
	BusKafka  = "kafka"
)

type Config struct {
	Version string

	HTTPAddr string
	OpsAddr  string

	// DatabaseURL selects the Postgres store; empty falls back to the
	// in-memory store. RedisAddr works the same way for the cache.
	DatabaseURL string
	RedisAddr   string

	BusDriver      string
	RabbitURL      string
	RabbitExchange string
	KafkaBrokers   []string
	KafkaTopic     string

	AccountBaseURL      string
	AccountTokenSecret  string
	AccountTokenSubject string
	AccountTokenTTL     time.Duration

	IdempotencyTTL   time.Duration
	PortDeadline     time.Duration
	ReferenceRetries int
	StuckThreshold   time.Duration
	SweepInterval    time.Duration

	RetryMax         int
	BreakerOpenAfter int
	BreakerCooldown  time.Duration

	DevLogging bool
}

func Load() (Config, error) {
	cfg := Config{
		Version:             envOr("TRANSFERD_VERSION", "dev"),
		HTTPAddr:            envOr("TRANSFERD_HTTP_ADDR", ":8080"),
		OpsAddr:             envOr("TRANSFERD_OPS_ADDR", ":9090"),
		DatabaseURL:         envOr("TRANSFERD_DATABASE_URL", ""),
		RedisAddr:           envOr("TRANSFERD_REDIS_ADDR", ""),
		BusDriver:           envOr("TRANSFERD_BUS_DRIVER", BusMemory),
		RabbitURL:           envOr("TRANSFERD_RABBIT_URL", ""),
		RabbitExchange:      envOr("TRANSFERD_RABBIT_EXCHANGE", "transfer.events"),
		KafkaTopic:          envOr("TRANSFERD_KAFKA_TOPIC", "transfer.events"),
		AccountBaseURL:      envOr("TRANSFERD_ACCOUNT_BASE_URL", "http://localhost:9000"),
		AccountTokenSecret:  envOr("TRANSFERD_ACCOUNT_TOKEN_SECRET", ""),
		AccountTokenSubject: envOr("TRANSFERD_ACCOUNT_TOKEN_SUBJECT", "transferd"),
	}
	cfg.KafkaBrokers = splitList(envOr("TRANSFERD_KAFKA_BROKERS", ""))

	var err error
	if cfg.AccountTokenTTL, err = envDurationOr("TRANSFERD_ACCOUNT_TOKEN_TTL", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = envDurationOr("TRANSFERD_IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.PortDeadline, err = envDurationOr("TRANSFERD_PORT_DEADLINE", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReferenceRetries, err = envIntOr("TRANSFERD_REFERENCE_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.StuckThreshold, err = envDurationOr("TRANSFERD_STUCK_THRESHOLD", 10*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = envDurationOr("TRANSFERD_SWEEP_INTERVAL", time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.RetryMax, err = envIntOr("TRANSFERD_RETRY_MAX", 2); err != nil {
		return Config{}, err
	}
	if cfg.BreakerOpenAfter, err = envIntOr("TRANSFERD_BREAKER_OPEN_AFTER", 5); err != nil {
		return Config{}, err
	}
	if cfg.BreakerCooldown, err = envDurationOr("TRANSFERD_BREAKER_COOLDOWN", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.DevLogging, err = envBoolOr("TRANSFERD_DEV_LOGGING", false); err != nil {
		return Config{}, err
	}

	switch cfg.BusDriver {
	case BusMemory:
	case BusRabbit:
		if cfg.RabbitURL == "" {
			return Config{}, fmt.Errorf("TRANSFERD_BUS_DRIVER=rabbit requires TRANSFERD_RABBIT_URL")
		}
	case BusKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return Config{}, fmt.Errorf("TRANSFERD_BUS_DRIVER=kafka requires TRANSFERD_KAFKA_BROKERS")
		}
	default:
		return Config{}, fmt.Errorf("unknown TRANSFERD_BUS_DRIVER %q", cfg.BusDriver)
	}
	return cfg, nil
}

func envOr(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envDurationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func envIntOr(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envBoolOr(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
