package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	BackendURL     string        `env:"MWI_BACKEND_URL"`
	BasePath       string        `env:"MWI_BASE_PATH"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" default:"10s"`
	RedisURL       string        `env:"REDIS_URL"`

	StatusPollInterval       time.Duration `env:"STATUS_POLL_INTERVAL" default:"5s"`
	StatusPollFastInterval   time.Duration `env:"STATUS_POLL_FAST_INTERVAL" default:"1s"`
	ConnectionErrorThreshold int           `env:"CONNECTION_ERROR_THRESHOLD" default:"5"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"1000"`
	ControlRateLimit        float64 `env:"CONTROL_RATE_LIMIT" default:"10"`
	MaxStreamsPerIP         int     `env:"MAX_STREAMS_PER_IP" default:"10"`
	StreamConnectRate       float64 `env:"STREAM_CONNECT_RATE" default:"2"`
	AllowedOrigin           string  `env:"ALLOWED_ORIGIN"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	required := map[string]string{
		"MWI_BACKEND_URL": cfg.BackendURL,
	}
	for name, value := range required {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
	}

	u, err := url.Parse(cfg.BackendURL)
	if err != nil {
		return fmt.Errorf("MWI_BACKEND_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("MWI_BACKEND_URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("MWI_BACKEND_URL must include a host")
	}

	if cfg.BasePath != "" && !strings.HasPrefix(cfg.BasePath, "/") {
		return fmt.Errorf("MWI_BASE_PATH must start with /, got %q", cfg.BasePath)
	}
	// Routes are mounted under the base path, so "/" means no prefix.
	cfg.BasePath = strings.TrimRight(cfg.BasePath, "/")

	if cfg.StatusPollInterval <= 0 || cfg.StatusPollFastInterval <= 0 {
		return errors.New("STATUS_POLL_INTERVAL and STATUS_POLL_FAST_INTERVAL must be positive")
	}
	if cfg.StatusPollFastInterval > cfg.StatusPollInterval {
		return errors.New("STATUS_POLL_FAST_INTERVAL must not exceed STATUS_POLL_INTERVAL")
	}
	if cfg.ConnectionErrorThreshold < 1 {
		return errors.New("CONNECTION_ERROR_THRESHOLD must be at least 1")
	}
	if cfg.BackendTimeout <= 0 {
		return errors.New("BACKEND_TIMEOUT must be positive")
	}
	if cfg.ControlRateLimit <= 0 {
		return errors.New("CONTROL_RATE_LIMIT must be positive")
	}
	if cfg.MaxStreamsPerIP < 1 || cfg.StreamConnectRate <= 0 {
		return errors.New("MAX_STREAMS_PER_IP and STREAM_CONNECT_RATE must be positive")
	}

	if cfg.AppEnv == "production" && cfg.LogFormat != "json" {
		slog.Warn("LOG_FORMAT is not json in production", "log_format", cfg.LogFormat)
	}

	return nil
}
