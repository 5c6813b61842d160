package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTHGATE_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL != time.Hour {
		t.Fatalf("unexpected access ttl: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh ttl: %v", cfg.RefreshTTL)
	}
	if cfg.ResetTTL != 15*time.Minute {
		t.Fatalf("unexpected reset ttl: %v", cfg.ResetTTL)
	}
	if cfg.ConnectAttempts != 3 || cfg.ConnectBackoff != 5*time.Second {
		t.Fatalf("unexpected retry policy: %d/%v", cfg.ConnectAttempts, cfg.ConnectBackoff)
	}
	if cfg.ProbeInterval != time.Minute {
		t.Fatalf("unexpected probe interval: %v", cfg.ProbeInterval)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("AUTHGATE_AUTH_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestLoadOverridesAndErrors(t *testing.T) {
	t.Setenv("AUTHGATE_AUTH_SECRET", "s")
	t.Setenv("AUTHGATE_ACCESS_TTL", "30m")
	t.Setenv("AUTHGATE_CONNECT_ATTEMPTS", "5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.AccessTTL != 30*time.Minute {
		t.Fatalf("override not applied: %v", cfg.AccessTTL)
	}
	if cfg.ConnectAttempts != 5 {
		t.Fatalf("override not applied: %d", cfg.ConnectAttempts)
	}

	t.Setenv("AUTHGATE_ACCESS_TTL", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
