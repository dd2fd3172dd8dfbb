// internal/metrics/metrics.go
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "modbus_supervisor"

// Metrics instruments the connection/poll state machine.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	polls         *prometheus.CounterVec
	ticksSkipped  prometheus.Counter
	staleResults  prometheus.Counter
	eventsDropped prometheus.Counter
	connected     prometheus.Gauge
	polling       prometheus.Gauge
	readDuration  prometheus.Histogram
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Completed register polls by result.",
		}, []string{"result"}),
		ticksSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Poll ticks dropped because a read was still in flight.",
		}),
		staleResults: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stale_results_total",
			Help:      "Read results discarded because polling stopped or the connection closed first.",
		}),
		eventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_dropped_total",
			Help:      "Events dropped because the consumer was not keeping up.",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected",
			Help:      "1 while a slave connection is open.",
		}),
		polling: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "polling",
			Help:      "1 while the poll timer is armed.",
		}),
		readDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "read_duration_seconds",
			Help:      "Duration of holding-register reads.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
	}

	reg.MustRegister(
		m.polls,
		m.ticksSkipped,
		m.staleResults,
		m.eventsDropped,
		m.connected,
		m.polling,
		m.readDuration,
	)
	return m
}

// PollSucceeded counts a complete read and records its latency.
func (m *Metrics) PollSucceeded(took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("ok").Inc()
	m.readDuration.Observe(took.Seconds())
}

// PollFailed counts a failed read and records its latency.
func (m *Metrics) PollFailed(took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues("failed").Inc()
	m.readDuration.Observe(took.Seconds())
}

// TickSkipped counts a tick dropped because a read was still in flight.
func (m *Metrics) TickSkipped() {
	if m == nil {
		return
	}
	m.ticksSkipped.Inc()
}

// StaleResult counts a read result discarded after polling stopped or the connection closed.
func (m *Metrics) StaleResult() {
	if m == nil {
		return
	}
	m.staleResults.Inc()
}

// EventDropped counts an event the consumer had no room for.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Inc()
}

// SetState mirrors the coordinator state into the gauges.
func (m *Metrics) SetState(connected, polling bool) {
	if m == nil {
		return
	}
	m.connected.Set(boolToFloat(connected))
	m.polling.Set(boolToFloat(polling))
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
