// Package metrics exposes kiosk counters and gauges for Prometheus. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mattjoyce/medkiosk/internal/conn"
)

const namespace = "medkiosk"

// Metrics holds every collector, registered on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Readings         *prometheus.CounterVec
	FrameErrors      *prometheus.CounterVec
	ReadingsRejected *prometheus.CounterVec
	ConnectionState  *prometheus.GaugeVec
	Reconnects       *prometheus.CounterVec
	Dispatches       *prometheus.CounterVec
	FramesDropped    *prometheus.CounterVec
}

// New creates and registers the kiosk collectors plus the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		Readings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_total",
				Help:      "Validated readings delivered to the sink",
			},
			[]string{"source", "kind"},
		),

		FrameErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frame_errors_total",
				Help:      "Frames or fields that failed to decode",
			},
			[]string{"source", "reason"},
		),

		ReadingsRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "readings_rejected_total",
				Help:      "Decoded values rejected by range or unit validation",
			},
			[]string{"source", "kind"},
		),

		ConnectionState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "connection_state",
				Help:      "Source connection state (0=disconnected, 1=connecting, 2=connected, 3=degraded, 4=reconnecting)",
			},
			[]string{"source"},
		),

		Reconnects: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reconnects_total",
				Help:      "Reconnect attempts scheduled per source",
			},
			[]string{"source"},
		),

		Dispatches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_total",
				Help:      "Station dispatch requests by outcome",
			},
			[]string{"outcome"},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "frames_dropped_total",
				Help:      "Frames discarded because a source inbox was full",
			},
			[]string{"source"},
		),
	}

	m.registry.MustRegister(
		m.Readings,
		m.FrameErrors,
		m.ReadingsRejected,
		m.ConnectionState,
		m.Reconnects,
		m.Dispatches,
		m.FramesDropped,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RegisterJournalGauge exposes the journal's reading count, evaluated on
// every scrape.
func (m *Metrics) RegisterJournalGauge(count func() float64) {
	if m == nil || count == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "journal_readings",
			Help:      "Readings currently stored in the journal",
		},
		count,
	))
}

// RegisterEventDropsGauge exposes how many events the hub skipped for full
// subscribers.
func (m *Metrics) RegisterEventDropsGauge(dropped func() float64) {
	if m == nil || dropped == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "events_dropped",
			Help:      "Events skipped because a subscriber was not keeping up",
		},
		dropped,
	))
}

func (m *Metrics) ObserveReading(source, kind string) {
	if m == nil {
		return
	}
	m.Readings.WithLabelValues(source, kind).Inc()
}

func (m *Metrics) ObserveFrameError(source, reason string) {
	if m == nil {
		return
	}
	m.FrameErrors.WithLabelValues(source, reason).Inc()
}

func (m *Metrics) ObserveRejected(source, kind string) {
	if m == nil {
		return
	}
	m.ReadingsRejected.WithLabelValues(source, kind).Inc()
}

// ObserveStatus records a transition; entering reconnecting counts as a
// reconnect.
func (m *Metrics) ObserveStatus(s conn.Status) {
	if m == nil {
		return
	}
	m.ConnectionState.WithLabelValues(s.SourceID).Set(stateValue(s.State))
	if s.State == conn.StateReconnecting {
		m.Reconnects.WithLabelValues(s.SourceID).Inc()
	}
}

func (m *Metrics) ObserveDispatch(outcome string) {
	if m == nil {
		return
	}
	m.Dispatches.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveFramesDropped(source string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.FramesDropped.WithLabelValues(source).Add(float64(n))
}

func stateValue(s conn.State) float64 {
	switch s {
	case conn.StateConnecting:
		return 1
	case conn.StateConnected:
		return 2
	case conn.StateDegraded:
		return 3
	case conn.StateReconnecting:
		return 4
	default:
		return 0
	}
}
