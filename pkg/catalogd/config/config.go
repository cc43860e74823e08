// Package config loads the catalog service configuration from the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Addr string

	// DatabaseURL is the PostgreSQL DSN for the catalog store.
	DatabaseURL string

	// StripeAPIKey enables payment intents on recorded orders. When empty
	// the service records orders without opening a payment.
	StripeAPIKey string
	Currency     string

	MetricsNamespace string

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("CATALOGD_ADDR", ":8081"),
		DatabaseURL:         strings.TrimSpace(os.Getenv("CATALOGD_DATABASE_URL")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_SECRET_KEY")),
		Currency:            strings.ToLower(envOr("CATALOGD_CURRENCY", "eur")),
		MetricsNamespace:    envOr("CATALOGD_METRICS_NAMESPACE", "voicecart"),
		ReadHeaderTimeout:   envDurationOr("CATALOGD_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("CATALOGD_READ_TIMEOUT", 30*time.Second),
		ShutdownGracePeriod: envDurationOr("CATALOGD_SHUTDOWN_GRACE_PERIOD", 15*time.Second),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("CATALOGD_DATABASE_URL is required")
	}
	if len(cfg.Currency) != 3 {
		return Config{}, fmt.Errorf("CATALOGD_CURRENCY must be a three-letter code")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("CATALOGD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("CATALOGD_READ_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("CATALOGD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
