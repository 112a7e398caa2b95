package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("WHATSAPP_TOKEN", "wa-token")
	t.Setenv("PHONE_NUMBER_ID", "12345")
	t.Setenv("VERIFY_TOKEN", "verify-me")
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("UID_SALT", "salt")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DedupRetention != 48*time.Hour {
		t.Errorf("expected 48h dedup retention, got %v", cfg.DedupRetention)
	}
	if cfg.Memory.SummaryMaxChars != 3500 {
		t.Errorf("expected summary cap 3500, got %d", cfg.Memory.SummaryMaxChars)
	}
	if cfg.Upstream.BaseCooldown != time.Minute || cfg.Upstream.MaxCooldown != 10*time.Minute {
		t.Errorf("unexpected breaker bounds: %v..%v", cfg.Upstream.BaseCooldown, cfg.Upstream.MaxCooldown)
	}
	if cfg.Upstream.BackoffFactor != 2.0 {
		t.Errorf("expected backoff factor 2, got %v", cfg.Upstream.BackoffFactor)
	}
	if cfg.UserCooldown != 2*time.Second {
		t.Errorf("expected 2s user cooldown, got %v", cfg.UserCooldown)
	}
	if cfg.WhatsApp.GraphAPIVersion != "v21.0" {
		t.Errorf("unexpected graph version %q", cfg.WhatsApp.GraphAPIVersion)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("TAIL_WINDOW", "8")
	t.Setenv("BREAKER_BASE_COOLDOWN", "30")
	t.Setenv("USER_COOLDOWN", "1500ms")
	t.Setenv("BREAKER_BACKOFF_FACTOR", "1.5")
	t.Setenv("DEBUG", "yes")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Memory.TailWindow != 8 {
		t.Errorf("expected tail window 8, got %d", cfg.Memory.TailWindow)
	}
	if cfg.Upstream.BaseCooldown != 30*time.Second {
		t.Errorf("expected bare seconds to parse, got %v", cfg.Upstream.BaseCooldown)
	}
	if cfg.UserCooldown != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", cfg.UserCooldown)
	}
	if cfg.Upstream.BackoffFactor != 1.5 {
		t.Errorf("expected factor 1.5, got %v", cfg.Upstream.BackoffFactor)
	}
	if !cfg.Debug {
		t.Error("expected DEBUG=yes to enable debug")
	}
}

func TestLoadRejectsSaltEqualToVerifyToken(t *testing.T) {
	setRequired(t)
	t.Setenv("UID_SALT", "verify-me")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "UID_SALT") {
		t.Fatalf("expected UID_SALT validation error, got %v", err)
	}
}

func TestLoadRequiresCredentials(t *testing.T) {
	setRequired(t)
	t.Setenv("GEMINI_API_KEY", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing GEMINI_API_KEY")
	}
}
