package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go"
	"github.com/kstaniek/go-canopen-hub/internal/canopen"
	"github.com/kstaniek/go-canopen-hub/internal/hub"
	"github.com/kstaniek/go-canopen-hub/internal/slcan"
)

const (
	openAttempts   = 5
	openRetryDelay = 500 * time.Millisecond
)

// openBus brings up the configured backend behind a hub. Transient open
// failures (interface still coming up, adapter re-enumerating) are retried
// with backoff before giving up.
func openBus(ctx context.Context, cfg *appConfig, l *slog.Logger) (*hub.Hub, error) {
	opts := []hub.Option{
		hub.WithOutBufSize(cfg.hubBuffer),
		hub.WithTxQueueSize(cfg.txQueue),
		hub.WithPolicy(parsePolicy(cfg.hubPolicy, l)),
		hub.WithLogger(l),
	}
	if cfg.syncPeriod > 0 {
		opts = append(opts, hub.WithPeriodic(canopen.SyncFrame(), cfg.syncPeriod))
	}

	var h *hub.Hub
	err := retry.Do(func() error {
		var err error
		switch cfg.backend {
		case "socketcan":
			h, err = hub.Open(cfg.canIf, opts...)
		case "slcan":
			var dev *slcan.Device
			dev, err = slcan.Open(slcan.Config{
				Path:    cfg.serialDev,
				Baud:    cfg.baud,
				Bitrate: cfg.bitrate,
			})
			if err == nil {
				h = hub.New(dev, opts...)
			}
		default:
			return retry.Unrecoverable(fmt.Errorf("unknown backend %q (use socketcan|slcan)", cfg.backend))
		}
		return err
	},
		retry.Context(ctx),
		retry.Attempts(openAttempts),
		retry.Delay(openRetryDelay),
		retry.OnRetry(func(n uint, err error) {
			l.Warn("backend_open_retry", "attempt", n+1, "backend", cfg.backend, "error", err)
		}),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	switch cfg.backend {
	case "socketcan":
		l.Info("socketcan_open", "if", cfg.canIf, "sync_period", cfg.syncPeriod)
	case "slcan":
		l.Info("slcan_open", "serial", cfg.serialDev, "baud", cfg.baud, "bitrate", cfg.bitrate)
	}
	return h, nil
}

func parsePolicy(p string, l *slog.Logger) hub.BackpressurePolicy {
	switch p {
	case "kick":
		return hub.PolicyKick
	case "drop":
		return hub.PolicyDrop
	default:
		l.Warn("unknown_hub_policy", "policy", p, "used", "drop")
		return hub.PolicyDrop
	}
}
