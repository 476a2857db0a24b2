package config_test

import (
	"testing"
	"time"

	"github.com/iho/transactai/internal/infrastructure/config"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.LedgerBackend != config.BackendMemory || cfg.ChainMode != config.ChainSimulated {
		t.Fatalf("expected memory/simulated defaults, got %s/%s", cfg.LedgerBackend, cfg.ChainMode)
	}
	if cfg.DepositMinConfirmations != 6 {
		t.Fatalf("expected 6 confirmations, got %d", cfg.DepositMinConfirmations)
	}
	if cfg.EscrowSweepInterval != time.Minute {
		t.Fatalf("expected 60s sweep, got %s", cfg.EscrowSweepInterval)
	}
	if cfg.EscrowMaxTTL != 30*24*time.Hour {
		t.Fatalf("expected 30 day escrow cap, got %s", cfg.EscrowMaxTTL)
	}
	if cfg.ChainDenom != "atestfet" {
		t.Fatalf("expected atestfet, got %s", cfg.ChainDenom)
	}
	if cfg.HTTPPort != "8080" {
		t.Fatalf("expected default HTTP port 8080, got %s", cfg.HTTPPort)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LEDGER_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("REDIS_URL", "redis://example")
	t.Setenv("CHAIN_MODE", "lcd")
	t.Setenv("DEPOSIT_CONFIRM_WAIT", "45s")
	t.Setenv("JWT_SECRET", "top-secret")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("unexpected error loading config: %v", err)
	}

	if cfg.LedgerBackend != config.BackendPostgres || cfg.DatabaseURL != "postgres://example" {
		t.Fatalf("expected postgres backend, got %s %s", cfg.LedgerBackend, cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://example" {
		t.Fatalf("expected custom redis URL, got %s", cfg.RedisURL)
	}
	if cfg.DepositConfirmWait != 45*time.Second {
		t.Fatalf("expected deposit wait override, got %s", cfg.DepositConfirmWait)
	}
	if cfg.JWTSecret != "top-secret" || !cfg.AuthEnabled {
		t.Fatalf("expected auth settings to be set, got secret=%s enabled=%v", cfg.JWTSecret, cfg.AuthEnabled)
	}
	if cfg.RateLimitRPS != 2.5 {
		t.Fatalf("expected rate override, got %v", cfg.RateLimitRPS)
	}
}

func TestLoadRejectsInvalidSettings(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"bad duration", "HTTP_READ_TIMEOUT", "not-a-duration"},
		{"unknown backend", "LEDGER_BACKEND", "sqlite"},
		{"unknown chain mode", "CHAIN_MODE", "grpc"},
		{"zero confirmations", "DEPOSIT_MIN_CONFIRMATIONS", "0"},
		{"auth without secret", "AUTH_ENABLED", "true"},
		{"no sweep", "ESCROW_SWEEP_INTERVAL", "0s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("JWT_SECRET", "")
			t.Setenv(tt.key, tt.value)
			if _, err := config.Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}
