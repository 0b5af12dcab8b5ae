package config

import (
	"testing"
	"time"
)

func TestLoadConfigReadsEnvironment(t *testing.T) {
	t.Setenv("HISTORY_CAPACITY", "25")
	t.Setenv("AUTO_REGISTER", "false")
	t.Setenv("PERSIST_INTERVAL", "750ms")
	t.Setenv("SIM_REGISTRATION_FAILURE_RATE", "0.5")
	t.Setenv("REDIS_HOST", "cache.internal")

	cfg := LoadConfig()
	if cfg.HistoryCapacity != 25 {
		t.Fatalf("expected history capacity 25, got %d", cfg.HistoryCapacity)
	}
	if cfg.AutoRegister {
		t.Fatalf("expected auto register disabled")
	}
	if cfg.PersistInterval != 750*time.Millisecond {
		t.Fatalf("expected persist interval 750ms, got %s", cfg.PersistInterval)
	}
	if cfg.SimRegistrationFailureRate != 0.5 {
		t.Fatalf("expected failure rate 0.5, got %v", cfg.SimRegistrationFailureRate)
	}
	if !cfg.RedisEnabled() {
		t.Fatalf("expected redis to be enabled")
	}
}

func TestLoadConfigFallsBackOnGarbage(t *testing.T) {
	t.Setenv("DIAGNOSTIC_CAPACITY", "lots")
	t.Setenv("JWT_SECRET", "")

	cfg := LoadConfig()
	if cfg.DiagnosticCapacity != 500 {
		t.Fatalf("expected default diagnostic capacity, got %d", cfg.DiagnosticCapacity)
	}
	if cfg.AuthEnabled() {
		t.Fatalf("auth must be disabled without a secret")
	}
}
