package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("ACCESS_TOKEN_TTL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.Port)
	}
	if cfg.AccessTokenTTL != 8*time.Hour {
		t.Fatalf("expected default token TTL 8h, got %s", cfg.AccessTokenTTL)
	}
	// No weak fallback secret: an empty AUTH_SECRET stays empty here and is
	// handled explicitly at startup.
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("ACCESS_TOKEN_TTL", "30m")
	t.Setenv("REDIS_DB", "3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Address() != ":9999" {
		t.Fatalf("expected address :9999, got %q", cfg.Address())
	}
	if cfg.AccessTokenTTL != 30*time.Minute {
		t.Fatalf("expected token TTL 30m, got %s", cfg.AccessTokenTTL)
	}
	if cfg.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.RedisDB)
	}
}
