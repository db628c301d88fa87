package producer

import "github.com/prometheus/client_golang/prometheus"

// Drop reasons recorded by the records_dropped_total counter.
const (
	dropOversized = "oversized"
)

// producerMetrics holds Prometheus metrics for one producer. The collectors
// always exist; they are registered only when a Registerer is configured.
type producerMetrics struct {
	enqueued   prometheus.Counter     // Records accepted by Send
	rejected   prometheus.Counter     // Records refused by Send with a full buffer
	dropped    *prometheus.CounterVec // Records accepted but never sent, by reason
	sent       prometheus.Counter     // Data frames written, resends included
	acked      prometheus.Counter     // Records released by acknowledgments
	reconnects prometheus.Counter     // Connection attempts after the first

	pending   prometheus.Gauge // Records waiting to be sent
	inflight  prometheus.Gauge // Records sent and not yet acknowledged
	connected prometheus.Gauge // 1 while the handshake is complete
}

func newProducerMetrics(reg prometheus.Registerer) (*producerMetrics, error) {
	m := &producerMetrics{
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "records_enqueued_total",
			Help:      "Total records accepted into the pending buffer",
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "records_rejected_total",
			Help:      "Total records refused because the pending buffer was full",
		}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "records_dropped_total",
			Help:      "Total accepted records discarded before sending, by reason",
		}, []string{"reason"}),
		sent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "records_sent_total",
			Help:      "Total data frames written to the service, resends included",
		}),
		acked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "records_acked_total",
			Help:      "Total records acknowledged by the service",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "reconnects_total",
			Help:      "Total reconnection attempts",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "pending_records",
			Help:      "Records waiting in the pending buffer",
		}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "inflight_records",
			Help:      "Records sent and awaiting acknowledgment",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "logmet",
			Subsystem: "producer",
			Name:      "connected",
			Help:      "Connection state (1=connected, 0=not connected)",
		}),
	}

	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{
		m.enqueued, m.rejected, m.dropped, m.sent, m.acked, m.reconnects,
		m.pending, m.inflight, m.connected,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
