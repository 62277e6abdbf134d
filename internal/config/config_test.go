package config

import (
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Host != "localhost" {
		t.Errorf("expected host 'localhost', got %q", cfg.Host)
	}
	if cfg.Port != 80 {
		t.Errorf("expected port 80, got %d", cfg.Port)
	}
	if cfg.Username != "dynauto" {
		t.Errorf("expected user 'dynauto', got %q", cfg.Username)
	}
	if cfg.UseSSL {
		t.Error("SSL must be disabled by default")
	}
	if cfg.Timeout != 30*time.Second {
		t.Errorf("expected 30s timeout, got %s", cfg.Timeout)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("DYNAUTO_HOST", "influx.example.org")
	t.Setenv("DYNAUTO_PORT", "8086")
	t.Setenv("DYNAUTO_USER", "monitor")
	t.Setenv("DYNAUTO_PASS", "s3cret")

	cfg := FromEnv()
	if cfg.Host != "influx.example.org" {
		t.Errorf("expected env host, got %q", cfg.Host)
	}
	if cfg.Port != 8086 {
		t.Errorf("expected env port 8086, got %d", cfg.Port)
	}
	if cfg.Username != "monitor" || cfg.Password != "s3cret" {
		t.Errorf("expected env credentials, got %q/%q", cfg.Username, cfg.Password)
	}
}

func TestFromEnvBadPort(t *testing.T) {
	t.Setenv("DYNAUTO_PORT", "not-a-port")

	cfg := FromEnv()
	if cfg.Port != 80 {
		t.Errorf("expected default port on parse failure, got %d", cfg.Port)
	}
}

func TestAddr(t *testing.T) {
	cfg := Config{Host: "db.local", Port: 8086}
	if got := cfg.Addr(); got != "http://db.local:8086" {
		t.Errorf("Addr() = %q", got)
	}

	cfg.UseSSL = true
	if got := cfg.Addr(); got != "https://db.local:8086" {
		t.Errorf("Addr() with ssl = %q", got)
	}
}
