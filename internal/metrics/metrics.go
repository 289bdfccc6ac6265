// Package metrics defines the server's Prometheus metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sealdb"

// Metrics groups every collector the server updates.
type Metrics struct {
	gatherer prometheus.Gatherer

	connectionsActive prometheus.Gauge
	connectionsTotal  prometheus.Counter
	messagesTotal     *prometheus.CounterVec
	authTotal         *prometheus.CounterVec
	recordsTotal      *prometheus.CounterVec
	queryDuration     prometheus.Histogram
	queryResults      prometheus.Histogram
	frameErrorsTotal  *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "server", Name: "connections_active",
			Help: "Connections currently being served.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "connections_total",
			Help: "Connections accepted since start.",
		}),
		messagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "messages_total",
			Help: "Messages received, by message type and resulting command.",
		}, []string{"type", "command"}),
		authTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "attempts_total",
			Help: "Authentication attempts by outcome.",
		}, []string{"outcome"}),
		recordsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "records", Name: "operations_total",
			Help: "Record operations by kind and outcome.",
		}, []string{"op", "outcome"}),
		queryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "duration_seconds",
			Help:    "Time to evaluate and stream a query.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
		}),
		queryResults: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "results",
			Help:    "Records returned per query.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		frameErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "server", Name: "frame_errors_total",
			Help: "Connections closed on an unreadable frame, by reason.",
		}, []string{"reason"}),
	}
	reg.MustRegister(
		m.connectionsActive, m.connectionsTotal, m.messagesTotal, m.authTotal,
		m.recordsTotal, m.queryDuration, m.queryResults, m.frameErrorsTotal,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnClosed records a finished connection.
func (m *Metrics) ConnClosed() { m.connectionsActive.Dec() }

// Message counts one dispatched message.
func (m *Metrics) Message(msgType, command string) {
	m.messagesTotal.WithLabelValues(msgType, command).Inc()
}

// Auth counts an authentication attempt; outcome is ok, denied or locked.
func (m *Metrics) Auth(outcome string) { m.authTotal.WithLabelValues(outcome).Inc() }

// RecordOp counts an insert, update or delete.
func (m *Metrics) RecordOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.recordsTotal.WithLabelValues(op, outcome).Inc()
}

// Query observes one evaluated query.
func (m *Metrics) Query(d time.Duration, results int) {
	m.queryDuration.Observe(d.Seconds())
	m.queryResults.Observe(float64(results))
}

// FrameError counts a connection dropped on a bad frame.
func (m *Metrics) FrameError(reason string) {
	m.frameErrorsTotal.WithLabelValues(reason).Inc()
}
