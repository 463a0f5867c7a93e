package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/connect_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.RequestTTL != 24*time.Hour {
		t.Errorf("expected default TTL 24h, got %s", cfg.RequestTTL)
	}
	if cfg.SweepInterval != time.Minute {
		t.Errorf("expected default sweep interval 1m, got %s", cfg.SweepInterval)
	}
	if !cfg.IsDev() {
		t.Error("expected development mode by default")
	}
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error when DATABASE_URL is unset")
	}
}

func TestValidate_RequiresSecretInProduction(t *testing.T) {
	cfg := &Config{Env: "production", RequestTTL: 24 * time.Hour}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when JWT_SECRET is unset in production")
	}
	cfg.JWTSecret = "s3cret"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidate_RejectsNonPositiveTTL(t *testing.T) {
	cfg := &Config{Env: "development", RequestTTL: 0}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for zero TTL")
	}
}
