package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	defaultDSN          = "output/data.db"
	defaultCampaignPath = "campaign.yaml"

	envDSN          = "XYFLEET_DB"
	envCampaignPath = "XYFLEET_CAMPAIGN"
	envListenAddr   = "XYFLEET_LISTEN_ADDR"
	envLogLevel     = "XYFLEET_LOG_LEVEL"
	envLogFormat    = "XYFLEET_LOG_FORMAT"
	envConcurrency  = "XYFLEET_CONCURRENCY"
	envOTelEnabled  = "XYFLEET_OTEL_ENABLED"
	envOTelEndpoint = "XYFLEET_OTEL_ENDPOINT"
)

// Config holds process settings loaded from environment variables.
type Config struct {
	DSN          string
	CampaignPath string
	ListenAddr   string
	LogLevel     slog.Level
	LogFormat    string
	Concurrency  int
	OTelEnabled  bool
	OTelEndpoint string
}

// Load reads configuration from environment variables with sensible defaults.
// An empty ListenAddr disables the status server; Concurrency 0 means one
// worker goroutine per CPU.
func Load() Config {
	cfg := Config{
		DSN:          defaultDSN,
		CampaignPath: defaultCampaignPath,
		LogLevel:     slog.LevelInfo,
		LogFormat:    "json",
	}

	if v := os.Getenv(envDSN); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv(envCampaignPath); v != "" {
		cfg.CampaignPath = v
	}
	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envLogFormat); v != "" {
		cfg.LogFormat = strings.ToLower(v)
	}
	if v := os.Getenv(envConcurrency); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv(envOTelEnabled); v != "" {
		cfg.OTelEnabled, _ = strconv.ParseBool(v)
	}
	if v := os.Getenv(envOTelEndpoint); v != "" {
		cfg.OTelEndpoint = v
	}

	return cfg
}

// ParseLogLevel converts a level name to a slog.Level, defaulting to info.
func ParseLogLevel(s string) slog.Level {
	return parseLogLevel(s)
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured logger writing to w at the configured level.
// format "text" selects the text handler; anything else produces JSON.
func NewLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
