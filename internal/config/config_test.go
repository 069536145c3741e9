package config

import (
	"testing"
	"time"
)

func TestDefaultClientMatchesDocumentedDefaults(t *testing.T) {
	cfg := DefaultClient()
	if !cfg.AutoReconnect || cfg.MaxReconnectAttempts != 5 {
		t.Fatalf("reconnect defaults: %+v", cfg)
	}
	if cfg.ReconnectDelay != time.Second || cfg.BackoffCap != 30*time.Second || cfg.BackoffMultiplier != 2 {
		t.Fatalf("backoff defaults: %+v", cfg)
	}
	if cfg.HeartbeatInterval != 10*time.Second || cfg.InterpolationDelay != 100*time.Millisecond {
		t.Fatalf("timing defaults: %+v", cfg)
	}
	if cfg.HistorySize != 60 || cfg.ReconciliationTolerance != 5 || cfg.ReconciliationWindow != 50*time.Millisecond {
		t.Fatalf("prediction defaults: %+v", cfg)
	}
	if cfg.ClockSamples != 10 || cfg.MaxRange != 10000 {
		t.Fatalf("clock/codec defaults: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadClientReadsPrefixedEnv(t *testing.T) {
	t.Setenv("STATESYNC_NETWORK", "ws")
	t.Setenv("STATESYNC_MAX_RECONNECT_ATTEMPTS", "9")
	t.Setenv("STATESYNC_HEARTBEAT_INTERVAL", "250ms")
	t.Setenv("STATESYNC_AUTO_RECONNECT", "false")

	cfg, err := LoadClient()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Network != "ws" || cfg.MaxReconnectAttempts != 9 || cfg.HeartbeatInterval != 250*time.Millisecond || cfg.AutoReconnect {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadClientRejectsInvalidValues(t *testing.T) {
	t.Setenv("STATESYNC_BACKOFF_MULTIPLIER", "0.5")
	if _, err := LoadClient(); err == nil {
		t.Fatal("expected validation error")
	}
	t.Setenv("STATESYNC_BACKOFF_MULTIPLIER", "not-a-number")
	if _, err := LoadClient(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefaultAuthority(t *testing.T) {
	cfg := DefaultAuthority()
	if cfg.TickRate != 20 || cfg.ListenAddr != ":7777" || cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("authority defaults: %+v", cfg)
	}
}
