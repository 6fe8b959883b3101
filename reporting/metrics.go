package reporting

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the collectors updated by master and slave reporters.
type Metrics struct {
	RecordsReceived  prometheus.Counter
	RecordsMalformed prometheus.Counter
	SlaveConnections prometheus.Gauge

	StatsSent       prometheus.Counter
	StatsDropped    prometheus.Counter
	ConnectAttempts prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RecordsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testwire",
			Subsystem: "master",
			Name:      "records_received_total",
			Help:      "Stat records received from slaves.",
		}),
		RecordsMalformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testwire",
			Subsystem: "master",
			Name:      "records_malformed_total",
			Help:      "Records that could not be decoded as a stat or exceeded the size limit.",
		}),
		SlaveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "testwire",
			Subsystem: "master",
			Name:      "slave_connections",
			Help:      "Slave connections currently open.",
		}),
		StatsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testwire",
			Subsystem: "slave",
			Name:      "stats_sent_total",
			Help:      "Stats written to the master connection.",
		}),
		StatsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testwire",
			Subsystem: "slave",
			Name:      "stats_dropped_total",
			Help:      "Stats dropped because the send queue was full or the write failed.",
		}),
		ConnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "testwire",
			Subsystem: "slave",
			Name:      "connect_attempts_total",
			Help:      "Connection attempts to the master.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.RecordsReceived,
			m.RecordsMalformed,
			m.SlaveConnections,
			m.StatsSent,
			m.StatsDropped,
			m.ConnectAttempts,
		)
	}
	return m
}
