package receiver

import "github.com/prometheus/client_golang/prometheus"

type receiverMetrics struct {
	connections  prometheus.Counter // Accepted TCP connections
	authFailures prometheus.Counter // Authentication frames rejected
	records      prometheus.Counter // Data frames stored
}

func newReceiverMetrics(reg prometheus.Registerer) (*receiverMetrics, error) {
	m := &receiverMetrics{
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "sink",
			Name:      "connections_total",
			Help:      "Total producer connections accepted",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "sink",
			Name:      "auth_failures_total",
			Help:      "Total authentication frames rejected",
		}),
		records: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "logmet",
			Subsystem: "sink",
			Name:      "records_received_total",
			Help:      "Total records stored from data frames",
		}),
	}
	if reg == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.connections, m.authFailures, m.records} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}
