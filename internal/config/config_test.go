package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutThreshold != 5 {
		t.Fatalf("unexpected lockout threshold: %d", cfg.LockoutThreshold)
	}
	if cfg.LockoutDuration != time.Hour {
		t.Fatalf("unexpected lockout duration: %v", cfg.LockoutDuration)
	}
	if cfg.AccessTTL != 24*time.Hour {
		t.Fatalf("unexpected access TTL: %v", cfg.AccessTTL)
	}
	if cfg.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected refresh TTL: %v", cfg.RefreshTTL)
	}
	if cfg.SessionTTL != 7*24*time.Hour {
		t.Fatalf("unexpected session TTL: %v", cfg.SessionTTL)
	}
	if cfg.SessionCookie != "sessionId" {
		t.Fatalf("unexpected session cookie name: %q", cfg.SessionCookie)
	}
	if cfg.Production() {
		t.Fatal("default environment must not be production")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("METASAAS_LOCKOUT_THRESHOLD", "3")
	t.Setenv("METASAAS_LOCKOUT_DURATION", "30m")
	t.Setenv("METASAAS_ACCESS_TTL", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LockoutThreshold != 3 {
		t.Fatalf("override ignored: %d", cfg.LockoutThreshold)
	}
	if cfg.LockoutDuration != 30*time.Minute {
		t.Fatalf("override ignored: %v", cfg.LockoutDuration)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("override ignored: %v", cfg.AccessTTL)
	}
}

func TestLoadRejectsProductionWithoutSecret(t *testing.T) {
	t.Setenv("METASAAS_ENV", "production")
	t.Setenv("METASAAS_JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for production without JWT secret")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("METASAAS_LOCKOUT_DURATION", "not-a-duration")
	if _, err := Load(); err == nil {
		t.Fatal("expected parse error")
	}
}
