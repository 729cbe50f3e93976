package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds the service configuration, read from the environment.
type Config struct {
	// AddonURL is the base URL of the remote addon, manifest.json lives right under it.
	AddonURL string `env:"ADDON_URL" envDefault:"http://127.0.0.1:7000"`
	// AddonRequestTimeout bounds each addon request, zero leaves the transport defaults.
	AddonRequestTimeout time.Duration `env:"ADDON_REQUEST_TIMEOUT" envDefault:"0s"`

	// ServerListenAddr specifies the network address that the HTTP server will listen on.
	ServerListenAddr string `env:"SERVER_LISTEN_ADDR" envDefault:":3594"`
	// BasePath is the path prefix the web client is served under, e.g. "/MvStream".
	BasePath string `env:"BASE_PATH"`

	ServiceName        string `env:"SERVICE_NAME" envDefault:"stremio-webstream"`
	ServiceVersion     string `env:"SERVICE_VERSION" envDefault:"0.0.1"`
	ServiceEnvironment string `env:"SERVICE_ENVIRONMENT" envDefault:"lcl"`
	// OtelExporterEndpoint is the OTLP gRPC endpoint, telemetry export is disabled when empty.
	OtelExporterEndpoint string `env:"OTEL_EXPORTER_ENDPOINT"`

	// JournalPath is where analytics events are journaled, empty keeps them in memory.
	JournalPath string `env:"JOURNAL_PATH" envDefault:".journal"`
	// LokiHost makes stats come from Loki instead of the journal when set.
	LokiHost          string        `env:"LOKI_HOST"`
	StatsPollInterval time.Duration `env:"STATS_POLL_INTERVAL" envDefault:"5m"`

	SessionTTL  time.Duration `env:"SESSION_TTL" envDefault:"30m"`
	MaxSessions int           `env:"MAX_SESSIONS" envDefault:"1000"`

	ErrorMessageTTL   time.Duration `env:"ERROR_MESSAGE_TTL" envDefault:"8s"`
	SuccessMessageTTL time.Duration `env:"SUCCESS_MESSAGE_TTL" envDefault:"4s"`
}

// Load reads a .env file when present and parses the environment into a Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to godotenv.Load: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to env.ParseAs: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() error {
	u, err := url.Parse(c.AddonURL)
	if err != nil {
		return fmt.Errorf("failed to parse ADDON_URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid ADDON_URL scheme %q", u.Scheme)
	}
	c.AddonURL = strings.TrimSuffix(strings.TrimSuffix(c.AddonURL, "/manifest.json"), "/")

	if c.BasePath != "" {
		c.BasePath = "/" + strings.Trim(c.BasePath, "/")
	}

	if c.MaxSessions <= 0 {
		return errors.New("invalid MAX_SESSIONS, must be greater than 0")
	}
	if c.SessionTTL <= 0 {
		return errors.New("invalid SESSION_TTL, must be greater than 0")
	}
	if c.StatsPollInterval <= 0 {
		return errors.New("invalid STATS_POLL_INTERVAL, must be greater than 0")
	}

	return nil
}
