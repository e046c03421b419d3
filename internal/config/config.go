package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Jellyfin struct {
		URL      string        `envconfig:"JELLYFIN_URL" required:"true"`
		Username string        `envconfig:"JELLYFIN_USERNAME"`
		Password string        `envconfig:"JELLYFIN_PASSWORD"`
		APIKey   string        `envconfig:"JELLYFIN_API_KEY"`
		UserID   string        `envconfig:"JELLYFIN_USER_ID"`
		Timeout  time.Duration `envconfig:"JELLYFIN_TIMEOUT" default:"20s"`
	}

	DownloadDir       string        `envconfig:"DOWNLOAD_DIR" required:"true"`
	MaxConcurrent     int           `envconfig:"MAX_CONCURRENT" default:"2"`
	ChunkSizeMB       float64       `envconfig:"CHUNK_SIZE_MB" default:"1.0"`
	SettingsPath      string        `envconfig:"SETTINGS_PATH" default:"jellygrab.yaml"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"INFO"`
	DBPath            string        `envconfig:"DB_PATH" default:"jellygrab.db"`
	HistoryRetention  time.Duration `envconfig:"HISTORY_RETENTION" default:"720h"`
	CleanupInterval   time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	DiscordWebhookURL string        `envconfig:"DISCORD_WEBHOOK_URL"`

	Telemetry struct {
		Enabled      bool   `envconfig:"TELEMETRY_ENABLED" default:"true"`
		OTLPEndpoint string `envconfig:"OTLP_ENDPOINT"`
		ServiceName  string `envconfig:"TELEMETRY_SERVICE_NAME" default:"jellygrab"`
	}

	API struct {
		Username string `split_words:"true"`
		Password string `split_words:"true"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"0.0.0.0:8096"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"0s"`
		IdleTimeout     time.Duration `split_words:"true" default:"60s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks combinations envconfig cannot express.
func (c *Config) Validate() error {
	if c.Jellyfin.URL == "" || c.DownloadDir == "" {
		return fmt.Errorf("JELLYFIN_URL and DOWNLOAD_DIR must not be empty")
	}

	if c.Jellyfin.APIKey == "" && c.Jellyfin.Username == "" {
		return fmt.Errorf("either JELLYFIN_API_KEY or JELLYFIN_USERNAME must be set")
	}

	if c.Jellyfin.APIKey != "" && c.Jellyfin.UserID == "" {
		return fmt.Errorf("JELLYFIN_USER_ID is required with JELLYFIN_API_KEY")
	}

	if c.MaxConcurrent < 1 {
		return fmt.Errorf("MAX_CONCURRENT must be at least 1, got %d", c.MaxConcurrent)
	}

	return nil
}

// DefaultSettings returns the runtime settings implied by the environment.
func (c *Config) DefaultSettings() Settings {
	return Settings{MaxConcurrent: c.MaxConcurrent, ChunkSizeMB: c.ChunkSizeMB}.Normalize()
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
