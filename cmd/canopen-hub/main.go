package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/go-canopen-hub/internal/metrics"
	"github.com/kstaniek/go-canopen-hub/internal/server"
	"github.com/kstaniek/go-canopen-hub/internal/wire"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("canopen-hub %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)
	l.Info("hub_config", "policy", cfg.hubPolicy, "buffer", cfg.hubBuffer, "tx_queue", cfg.txQueue, "sync_period", cfg.syncPeriod)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	h, err := openBus(ctx, cfg, l)
	if err != nil {
		l.Error("backend_init_error", "error", err)
		os.Exit(1)
	}

	srv := server.New(
		server.WithHub(h),
		server.WithCodec(&wire.Codec{}),
		server.WithLogger(l),
		server.WithListenAddr(cfg.listenAddr),
		server.WithMaxClients(cfg.maxClients),
		server.WithReadDeadline(cfg.clientReadTO),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		sd, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sd)
	})

	// Start mDNS advertisement once the listener is bound.
	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-srv.Ready():
		case <-gctx.Done():
			return
		}
		var portNum int
		if _, p, err := net.SplitHostPort(srv.Addr()); err == nil {
			portNum, _ = strconv.Atoi(p)
		}
		cleanupMDNS, err := startMDNS(gctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-gctx.Done(); cleanupMDNS() }()
	}()

	// Ready when the listener is bound and we are not shutting down.
	metrics.SetReadinessFunc(func() bool {
		select {
		case <-srv.Ready():
		default:
			return false
		}
		return gctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		l.Error("server_error", "error", err)
	}
	if err := h.Close(); err != nil {
		l.Warn("bus_close_error", "error", err)
	}
	wg.Wait()
	l.Info("shutdown_complete")
}
