package agentd

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the demo agent backend configuration.
type Config struct {
	Addr string

	// APISecret verifies participant tokens on hello. Shared with tokend.
	APISecret string

	// CatalogURL is the catalog service used for the menu and for placing
	// confirmed orders.
	CatalogURL string

	// GeminiAPIKey switches the agent from the rule matcher to a model.
	GeminiAPIKey string
	GeminiModel  string

	HandshakeTimeout    time.Duration
	ReadHeaderTimeout   time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("AGENTD_ADDR", ":8090"),
		APISecret:           strings.TrimSpace(os.Getenv("AGENTD_API_SECRET")),
		CatalogURL:          envOr("AGENTD_CATALOG_URL", "http://127.0.0.1:8081"),
		GeminiAPIKey:        strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:         envOr("AGENTD_GEMINI_MODEL", "gemini-2.0-flash"),
		HandshakeTimeout:    envDurationOr("AGENTD_HANDSHAKE_TIMEOUT", 5*time.Second),
		ReadHeaderTimeout:   envDurationOr("AGENTD_READ_HEADER_TIMEOUT", 10*time.Second),
		ShutdownGracePeriod: envDurationOr("AGENTD_SHUTDOWN_GRACE_PERIOD", 10*time.Second),
	}
	if cfg.APISecret == "" {
		return Config{}, fmt.Errorf("AGENTD_API_SECRET is required")
	}
	if cfg.HandshakeTimeout <= 0 {
		return Config{}, fmt.Errorf("AGENTD_HANDSHAKE_TIMEOUT must be > 0")
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
