package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/logmet/logmet-go/server/internal/api"
	"github.com/logmet/logmet-go/server/internal/auth"
	"github.com/logmet/logmet-go/server/internal/config"
	"github.com/logmet/logmet-go/server/internal/receiver"
	"github.com/logmet/logmet-go/server/internal/store"
	"github.com/logmet/logmet-go/server/internal/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		slog.Warn("unknown log level, using info", "log_level", cfg.LogLevel)
	}

	slog.Info("logmet-sink starting",
		"config", *configPath,
		"lumberjack_port", cfg.Server.LumberjackPort,
		"http_port", cfg.Server.HTTPPort,
		"tenants", len(cfg.Server.Tenants),
		"record_ttl", cfg.Server.RecordTTL,
	)

	tlsCfg, err := cfg.Server.TLS.ServerTLS()
	if err != nil {
		slog.Error("failed to load TLS config", "err", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	verifier := auth.NewVerifier(cfg.Server.Tenants)
	st := store.New(cfg.Server.RecordTTL, cfg.Server.MaxRecords)
	recv, err := receiver.New(st, verifier, cfg.Server.IdleTimeout, reg)
	if err != nil {
		slog.Error("failed to create receiver", "err", err)
		os.Exit(1)
	}
	hub := ws.New(st, cfg.Server.StreamInterval)

	// Combined HTTP server: search API, WebSocket stream and metrics.
	mux := http.NewServeMux()
	mux.Handle("/", api.New(st, verifier))
	mux.Handle("/ws/stream", verifier.Middleware(hub))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		st.Run(ctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return recv.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.Server.LumberjackPort), tlsCfg)
	})
	g.Go(func() error {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("logmet-sink shutting down")
		shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
		defer done()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("logmet-sink stopped", "err", err)
		os.Exit(1)
	}
}
