package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/logmet/logmet-go/agent/internal/alerts"
	"github.com/logmet/logmet-go/agent/internal/config"
	"github.com/logmet/logmet-go/agent/internal/scraper"
	"github.com/logmet/logmet-go/agent/internal/security"
	"github.com/logmet/logmet-go/agent/internal/shipper"
	"github.com/logmet/logmet-go/pkg/producer"
)

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
	level.Set(cfg.Level())
	slog.Info("logmet-agent starting",
		"config", *configPath,
		"server_endpoint", cfg.Agent.ServerEndpoint,
		"sources", len(cfg.Agent.Sources),
		"scrape_interval", cfg.Agent.ScrapeInterval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Hot-reload applies the log level only; the producer is never
	// reconfigured at runtime.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Level())
			slog.Info("config hot-reloaded", "log_level", updated.Level().String())
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pcfg, err := cfg.Agent.ProducerConfig()
	if err != nil {
		slog.Error("failed to build producer config", "err", err)
		os.Exit(1)
	}
	pcfg.Logger = logger
	pcfg.Registerer = reg

	cert := security.NewChecker(pcfg.TLS).Check(ctx, pcfg.Addr())
	switch cert.Status {
	case security.StatusValid:
		slog.Info("ingest certificate ok", "days_left", cert.DaysLeft, "issuer", cert.Issuer)
	default:
		slog.Warn("ingest certificate needs attention",
			"status", cert.Status, "days_left", cert.DaysLeft, "err", cert.Err)
	}

	prod, err := producer.New(pcfg)
	if err != nil {
		slog.Error("failed to create producer", "err", err)
		os.Exit(1)
	}

	ship, err := shipper.New(cfg.Agent, prod, reg)
	if err != nil {
		slog.Error("failed to create shipper", "err", err)
		os.Exit(1)
	}
	for _, src := range cfg.Agent.Sources {
		s, err := scraper.New(src)
		if err != nil {
			slog.Error("skipping source, could not build scraper", "source", src.ID, "err", err)
			continue
		}
		ship.AddSource(src.ID, s)
		slog.Info("registered source", "id", src.ID, "type", src.Type, "endpoint", src.Endpoint)
	}

	if cfg.Agent.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Agent.MetricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
		defer srv.Close()
	}

	// Connect in the background: records scraped before the first
	// handshake wait in the producer buffer.
	go func() {
		if err := prod.Connect(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("ingest connection failed", "err", err)
			if producer.IsFatal(err) {
				cancel()
			}
		}
	}()

	alertEngine, err := alerts.New(cfg.Alerts)
	if err != nil {
		slog.Error("failed to create alert engine", "err", err)
		os.Exit(1)
	}
	alertInterval := cfg.Alerts.Interval
	if alertInterval <= 0 {
		alertInterval = cfg.Agent.ScrapeInterval
	}
	certs := newCertCache(security.NewChecker(pcfg.TLS), pcfg.Addr(), certRecheck)
	certs.set(cert)
	alertsDone := make(chan struct{})
	go func() {
		defer close(alertsDone)
		alertEngine.Run(ctx, alertInterval, func() alerts.Health {
			st := prod.Stats()
			h := alerts.Health{
				State:    st.State.String(),
				Pending:  st.Pending,
				InFlight: st.InFlight,
				RetryIn:  st.NextRetry.Seconds(),
				Dropped:  ship.LastDropped(),
			}
			if c := certs.get(ctx); c.Status != security.StatusUnreachable {
				h.HasCert, h.CertDaysLeft = true, c.DaysLeft
			}
			return h
		})
	}()

	if err := ship.Run(ctx); err != nil {
		slog.Error("shipper stopped", "err", err)
	}

	slog.Info("logmet-agent shutting down", "timeout", cfg.Agent.ShutdownTimeout)
	ok := shipper.Drain(prod, cfg.Agent.ShutdownTimeout)
	cancel()
	<-alertsDone
	if !ok {
		os.Exit(1)
	}
}

// certRecheck is how often the alert loop re-dials the ingest endpoint for
// its certificate.
const certRecheck = time.Hour

// certCache re-checks the ingest certificate at most once per ttl.
type certCache struct {
	checker *security.Checker
	addr    string
	ttl     time.Duration

	mu      sync.Mutex
	last    security.CertStatus
	checked time.Time
}

func newCertCache(c *security.Checker, addr string, ttl time.Duration) *certCache {
	return &certCache{checker: c, addr: addr, ttl: ttl}
}

func (c *certCache) set(s security.CertStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last, c.checked = s, time.Now()
}

func (c *certCache) get(ctx context.Context) security.CertStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	if time.Since(c.checked) >= c.ttl {
		c.last, c.checked = c.checker.Check(ctx, c.addr), time.Now()
	}
	return c.last
}
