package main

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/hub"
)

func TestParsePolicy(t *testing.T) {
	l := slog.Default()
	if p := parsePolicy("drop", l); p != hub.PolicyDrop {
		t.Fatalf("drop -> %v", p)
	}
	if p := parsePolicy("kick", l); p != hub.PolicyKick {
		t.Fatalf("kick -> %v", p)
	}
	if p := parsePolicy("bogus", l); p != hub.PolicyDrop {
		t.Fatalf("unknown should fall back to drop, got %v", p)
	}
}

func TestOpenBusUnknownBackend(t *testing.T) {
	cfg := baseConfig()
	cfg.backend = "bogus"
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	start := time.Now()
	if _, err := openBus(ctx, cfg, slog.Default()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
	// Unrecoverable errors must not burn through the retry schedule.
	if time.Since(start) > 500*time.Millisecond {
		t.Fatal("unknown backend was retried")
	}
}
