package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the watcher.
type Metrics struct {
	cycles           prometheus.Counter
	chainUnreachable prometheus.Counter
	eventsDelivered  *prometheus.CounterVec
	listenerErrors   *prometheus.CounterVec
	alertsSent       prometheus.Counter
	alertsDropped    prometheus.Counter
	errors           prometheus.Counter
	cursor           *prometheus.GaugeVec
	cutoff           prometheus.Gauge
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = &Metrics{
			cycles: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "event_watcher_cycles_total",
				Help: "Total number of completed polling cycles",
			}),
			chainUnreachable: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "event_watcher_chain_unreachable_total",
				Help: "Cycles skipped because the chain node was unreachable",
			}),
			eventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "event_watcher_events_delivered_total",
				Help: "New events handed to listeners",
			}, []string{"event"}),
			listenerErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "event_watcher_listener_errors_total",
				Help: "Listener invocations that returned an error or panicked",
			}, []string{"event"}),
			alertsSent: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "event_watcher_alerts_sent_total",
				Help: "Total number of alerts sent to sinks",
			}),
			alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "event_watcher_alerts_dropped_total",
				Help: "Total number of alerts dropped (dedupe/rate-limit)",
			}),
			errors: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "event_watcher_errors_total",
				Help: "Total number of cycle errors encountered",
			}),
			cursor: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Name: "event_watcher_event_cursor",
				Help: "Last block checked per event",
			}, []string{"event"}),
			cutoff: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "event_watcher_cutoff_block",
				Help: "Finality cutoff computed in the latest cycle",
			}),
		}
		prometheus.MustRegister(
			metrics.cycles,
			metrics.chainUnreachable,
			metrics.eventsDelivered,
			metrics.listenerErrors,
			metrics.alertsSent,
			metrics.alertsDropped,
			metrics.errors,
			metrics.cursor,
			metrics.cutoff,
		)
	})
	return metrics
}

// Cycle increments the completed cycle counter.
func (m *Metrics) Cycle() {
	if m != nil {
		m.cycles.Inc()
	}
}

// ChainUnreachable counts a skipped cycle.
func (m *Metrics) ChainUnreachable() {
	if m != nil {
		m.chainUnreachable.Inc()
	}
}

// EventsDelivered adds n delivered events for eventName.
func (m *Metrics) EventsDelivered(eventName string, n int) {
	if m != nil {
		m.eventsDelivered.WithLabelValues(eventName).Add(float64(n))
	}
}

// ListenerError counts a failed listener call.
func (m *Metrics) ListenerError(eventName string) {
	if m != nil {
		m.listenerErrors.WithLabelValues(eventName).Inc()
	}
}

// AlertsSent increments the alerts sent counter.
func (m *Metrics) AlertsSent() {
	if m != nil {
		m.alertsSent.Inc()
	}
}

// AlertsDropped increments the alerts dropped counter.
func (m *Metrics) AlertsDropped() {
	if m != nil {
		m.alertsDropped.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Cursor records the persisted cursor for eventName.
func (m *Metrics) Cursor(eventName string, block int64) {
	if m != nil {
		m.cursor.WithLabelValues(eventName).Set(float64(block))
	}
}

// Cutoff records the cycle's finality cutoff.
func (m *Metrics) Cutoff(block int64) {
	if m != nil {
		m.cutoff.Set(float64(block))
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
