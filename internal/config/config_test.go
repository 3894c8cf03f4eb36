package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Env != "dev" {
		t.Errorf("Env = %q, want dev", cfg.Env)
	}
	if cfg.AccessTokenTTLMinutes != 15 {
		t.Errorf("AccessTokenTTLMinutes = %d, want 15", cfg.AccessTokenTTLMinutes)
	}
	if cfg.EventRateWindow != time.Minute {
		t.Errorf("EventRateWindow = %v, want 1m", cfg.EventRateWindow)
	}
	if cfg.EventRateCeiling != 100 {
		t.Errorf("EventRateCeiling = %d, want 100", cfg.EventRateCeiling)
	}
	if cfg.TypingTTL != 10*time.Second {
		t.Errorf("TypingTTL = %v, want 10s", cfg.TypingTTL)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.IdleTimeout != 60*time.Second {
		t.Errorf("IdleTimeout = %v, want 60s", cfg.IdleTimeout)
	}
	if cfg.SendBufferSize != 256 {
		t.Errorf("SendBufferSize = %d, want 256", cfg.SendBufferSize)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("APP_PORT", "9090")
	t.Setenv("EVENT_RATE_CEILING", "50")
	t.Setenv("TYPING_TTL_SECONDS", "5")

	cfg := Load()
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.EventRateCeiling != 50 {
		t.Errorf("EventRateCeiling = %d, want 50", cfg.EventRateCeiling)
	}
	if cfg.TypingTTL != 5*time.Second {
		t.Errorf("TypingTTL = %v, want 5s", cfg.TypingTTL)
	}
}

func TestLoadRejectsInvalidInts(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"not a number", "abc"},
		{"zero", "0"},
		{"negative", "-5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EVENT_RATE_CEILING", tt.value)
			if got := Load().EventRateCeiling; got != 100 {
				t.Errorf("EventRateCeiling = %d, want default 100", got)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		Port:        "8080",
		DatabaseDSN: "host=localhost",
		JWTSecret:   "real-secret",
		Env:         "prod",
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"missing dsn", func(c *Config) { c.DatabaseDSN = "" }, true},
		{"default secret in prod", func(c *Config) { c.JWTSecret = "dev-secret-change-me" }, true},
		{"default secret in dev", func(c *Config) { c.JWTSecret = "dev-secret-change-me"; c.Env = "dev" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			if err := Validate(cfg); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
