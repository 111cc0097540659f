package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the bus-level metrics shared by every subsystem.
type Metrics struct {
	// Transport metrics
	FramesReceived  *prometheus.CounterVec
	FramesSent      *prometheus.CounterVec
	FrameReadErrors prometheus.Counter

	// Dispatch metrics
	MessagesDispatched *prometheus.CounterVec
	HandlerFailures    *prometheus.CounterVec
	QueueDepth         *prometheus.GaugeVec
	BatchSize          *prometheus.HistogramVec
	DispatchDuration   *prometheus.HistogramVec

	// Directory metrics
	DirectoryPeers   prometheus.Gauge
	DirectoryUpdates *prometheus.CounterVec
	OutdatedUpdates  prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all bus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		FramesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "peerbus",
				Subsystem: "transport",
				Name:      "frames_received_total",
				Help:      "Total number of wire frames received",
			},
			[]string{"adapter"},
		),

		FramesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "peerbus",
				Subsystem: "transport",
				Name:      "frames_sent_total",
				Help:      "Total number of wire frames sent",
			},
			[]string{"adapter"},
		),

		FrameReadErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "peerbus",
				Subsystem: "transport",
				Name:      "frame_read_errors_total",
				Help:      "Total number of malformed frames discarded by the reader",
			},
		),

		MessagesDispatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "peerbus",
				Subsystem: "dispatch",
				Name:      "messages_total",
				Help:      "Total number of messages dispatched to handlers",
			},
			[]string{"queue", "type"},
		),

		HandlerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "peerbus",
				Subsystem: "dispatch",
				Name:      "handler_failures_total",
				Help:      "Total number of handler invocations that returned an error",
			},
			[]string{"queue", "type"},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "peerbus",
				Subsystem: "dispatch",
				Name:      "queue_depth",
				Help:      "Current number of entries waiting in a dispatch queue",
			},
			[]string{"queue"},
		),

		BatchSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "peerbus",
				Subsystem: "dispatch",
				Name:      "batch_size",
				Help:      "Number of entries merged into one handler invocation",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
			[]string{"queue"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "peerbus",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Handler invocation duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),

		DirectoryPeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "peerbus",
				Subsystem: "directory",
				Name:      "peers",
				Help:      "Number of peers currently known to the directory",
			},
		),

		DirectoryUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "peerbus",
				Subsystem: "directory",
				Name:      "updates_total",
				Help:      "Total number of directory state updates applied",
			},
			[]string{"action"},
		),

		OutdatedUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "peerbus",
				Subsystem: "directory",
				Name:      "outdated_updates_total",
				Help:      "Total number of updates discarded by the monotonic timestamp rule",
			},
		),
	}
}

// collectors returns every core metric for registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.FramesReceived,
		m.FramesSent,
		m.FrameReadErrors,
		m.MessagesDispatched,
		m.HandlerFailures,
		m.QueueDepth,
		m.BatchSize,
		m.DispatchDuration,
		m.DirectoryPeers,
		m.DirectoryUpdates,
		m.OutdatedUpdates,
	}
}
