package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Addr          string        `env:"REDSKORD_ADDR" envDefault:":3000"`
	DBPath        string        `env:"REDSKORD_DB_PATH" envDefault:"redskord.db"`
	MaxOnline     int           `env:"REDSKORD_MAX_ONLINE" envDefault:"20"`
	ReadTimeout   time.Duration `env:"REDSKORD_READ_TIMEOUT" envDefault:"120s"`
	WriteTimeout  time.Duration `env:"REDSKORD_WRITE_TIMEOUT" envDefault:"30s"`
	SendBuffer    int           `env:"REDSKORD_SEND_BUFFER" envDefault:"64"`
	HistoryLimit  int           `env:"REDSKORD_HISTORY_LIMIT" envDefault:"200"`
	ControlSocket string        `env:"REDSKORD_CONTROL_SOCKET" envDefault:"/tmp/redskord.sock"`
	StaticDir     string        `env:"REDSKORD_STATIC_DIR"`
	PublicIP      string        `env:"REDSKORD_PUBLIC_IP"`

	TokenSecret string        `env:"REDSKORD_TOKEN_SECRET"`
	TokenTTL    time.Duration `env:"REDSKORD_TOKEN_TTL" envDefault:"24h"`

	NATSURL     string `env:"REDSKORD_NATS_URL"`
	NATSSubject string `env:"REDSKORD_NATS_SUBJECT" envDefault:"redskord.events"`

	LogLevel  string `env:"REDSKORD_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"REDSKORD_LOG_FORMAT" envDefault:"text"`
	Metrics   bool   `env:"REDSKORD_METRICS" envDefault:"false"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxOnline <= 0 {
		return fmt.Errorf("REDSKORD_MAX_ONLINE must be positive, got %d", c.MaxOnline)
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("REDSKORD_SEND_BUFFER must be positive, got %d", c.SendBuffer)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("REDSKORD_LOG_FORMAT must be text or json, got %q", c.LogFormat)
	}
	return nil
}

// Level maps LogLevel to a slog level; unknown values mean info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
