package shipper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/logmet/logmet-go/agent/internal/compute"
	"github.com/logmet/logmet-go/agent/internal/config"
	"github.com/logmet/logmet-go/agent/internal/scraper"
	"github.com/logmet/logmet-go/pkg/producer"
)

// Sender accepts records for delivery. *producer.Producer implements it.
type Sender interface {
	Send(rec producer.Record, typ, tenantID string) (producer.SendStatus, error)
}

type source struct {
	id string
	s  scraper.Scraper
}

// Shipper scrapes every registered source on an interval and hands the
// resulting records to a Sender.
//
// Records refused with producer.ErrBufferFull are counted and dropped; the
// next cycle produces fresh values anyway.
type Shipper struct {
	cfg     config.AgentConfig
	sender  Sender
	engine  *compute.Engine
	sources []source
	now     func() time.Time // injectable for tests

	lastDropped atomic.Int64

	shipped prometheus.Counter
	dropped prometheus.Counter
	failed  *prometheus.CounterVec
}

// New creates a Shipper. Metrics are registered with reg when non-nil.
func New(cfg config.AgentConfig, sender Sender, reg prometheus.Registerer) (*Shipper, error) {
	s := &Shipper{
		cfg:    cfg,
		sender: sender,
		engine: compute.NewEngine(),
		now:    time.Now,
		shipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "agent",
			Name:      "records_shipped_total",
			Help:      "Total records accepted by the producer",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "agent",
			Name:      "records_dropped_total",
			Help:      "Total records dropped because the producer buffer was full",
		}),
		failed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "agent",
			Name:      "scrape_failures_total",
			Help:      "Total failed scrapes by source",
		}, []string{"source"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{s.shipped, s.dropped, s.failed} {
			if err := reg.Register(c); err != nil {
				return nil, fmt.Errorf("shipper: register metrics: %w", err)
			}
		}
	}
	return s, nil
}

// AddSource registers a scraper under the given source id.
func (s *Shipper) AddSource(id string, sc scraper.Scraper) {
	s.sources = append(s.sources, source{id: id, s: sc})
}

// Run scrapes immediately and then every ScrapeInterval until ctx is
// cancelled. It returns early only if the producer has failed fatally.
func (s *Shipper) Run(ctx context.Context) error {
	if len(s.sources) == 0 {
		slog.Warn("shipper: no sources configured, agent will idle")
	}

	ticker := time.NewTicker(s.cfg.ScrapeInterval)
	defer ticker.Stop()

	for {
		if err := s.Cycle(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Cycle runs one scrape of every source and ships the records.
func (s *Shipper) Cycle(ctx context.Context) error {
	var shipped, dropped int
	for _, src := range s.sources {
		if ctx.Err() != nil {
			return nil
		}
		res, err := src.s.Scrape(ctx)
		if err != nil {
			slog.Warn("shipper: scrape error", "source", src.id, "err", err)
			continue
		}
		if res.Err != nil {
			s.failed.WithLabelValues(src.id).Inc()
		}
		derived := s.engine.Process(res, s.now())

		for _, rec := range toRecords(derived) {
			_, err := s.sender.Send(rec, s.cfg.RecordType, s.cfg.TenantID)
			switch {
			case err == nil:
				shipped++
			case errors.Is(err, producer.ErrBufferFull):
				dropped++
			default:
				return fmt.Errorf("shipper: send: %w", err)
			}
		}
	}

	s.shipped.Add(float64(shipped))
	s.dropped.Add(float64(dropped))
	s.lastDropped.Store(int64(dropped))
	if dropped > 0 {
		slog.Warn("shipper: producer buffer full, records dropped",
			"dropped", dropped, "shipped", shipped)
	} else {
		slog.Debug("shipper: cycle complete", "shipped", shipped)
	}
	return nil
}

// LastDropped returns the number of records dropped by the most recent cycle.
func (s *Shipper) LastDropped() int {
	return int(s.lastDropped.Load())
}

// Flusher is the shutdown side of a producer.
type Flusher interface {
	Terminate()
	Done() <-chan struct{}
}

// Drain terminates f and waits for it to finish or for timeout to elapse.
// It reports whether every buffered record was acknowledged in time.
func Drain(f Flusher, timeout time.Duration) bool {
	f.Terminate()
	select {
	case <-f.Done():
		return true
	case <-time.After(timeout):
		slog.Warn("shipper: producer did not drain before timeout", "timeout", timeout)
		return false
	}
}
