package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != ":3000" || cfg.DBPath != "redskord.db" {
		t.Errorf("addr/db = %q, %q", cfg.Addr, cfg.DBPath)
	}
	if cfg.MaxOnline != 20 {
		t.Errorf("MaxOnline = %d, want 20", cfg.MaxOnline)
	}
	if cfg.ReadTimeout != 120*time.Second || cfg.WriteTimeout != 30*time.Second {
		t.Errorf("timeouts = %v, %v", cfg.ReadTimeout, cfg.WriteTimeout)
	}
	if cfg.TokenSecret != "" || cfg.NATSURL != "" || cfg.Metrics {
		t.Error("optional integrations should be off by default")
	}
	if cfg.Level() != slog.LevelInfo {
		t.Errorf("Level = %v", cfg.Level())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("REDSKORD_ADDR", "127.0.0.1:4000")
	t.Setenv("REDSKORD_MAX_ONLINE", "2")
	t.Setenv("REDSKORD_READ_TIMEOUT", "5s")
	t.Setenv("REDSKORD_LOG_LEVEL", "DEBUG")
	t.Setenv("REDSKORD_LOG_FORMAT", "json")
	t.Setenv("REDSKORD_METRICS", "true")
	t.Setenv("REDSKORD_PUBLIC_IP", "203.0.113.7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:4000" || cfg.MaxOnline != 2 || cfg.ReadTimeout != 5*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Level() != slog.LevelDebug || !cfg.Metrics {
		t.Errorf("level/metrics = %v, %v", cfg.Level(), cfg.Metrics)
	}
	if cfg.PublicIP != "203.0.113.7" {
		t.Errorf("PublicIP = %q", cfg.PublicIP)
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		key, value, want string
	}{
		{"REDSKORD_MAX_ONLINE", "many", "parse env:"},
		{"REDSKORD_MAX_ONLINE", "0", "REDSKORD_MAX_ONLINE"},
		{"REDSKORD_READ_TIMEOUT", "forever", "parse env:"},
		{"REDSKORD_LOG_FORMAT", "xml", "REDSKORD_LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
