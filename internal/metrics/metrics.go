// Package metrics provides Prometheus metrics for tssh.
package metrics

import (
	"net/http"
	"sync"

	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tssh"

// Metrics holds every counter this client exposes.
type Metrics struct {
	HandshakeAttempts prometheus.Counter
	HandshakeFailures *prometheus.CounterVec

	AuthAttempts prometheus.Counter
	AuthFailures prometheus.Counter

	ChannelBytes  *prometheus.CounterVec
	WindowAdjusts prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide metrics instance, registered
// against prometheus.DefaultRegisterer on first use.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics creates a Metrics instance registered against the
// default Prometheus registerer.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry creates a Metrics instance registered
// against reg, useful for tests that want an isolated registry.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HandshakeAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_attempts_total",
			Help:      "Total key-exchange handshakes attempted",
		}),
		HandshakeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "handshake_failures_total",
			Help:      "Total key-exchange handshake failures by reason",
		}, []string{"reason"}),

		AuthAttempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_attempts_total",
			Help:      "Total password authentication attempts",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Total password authentication failures",
		}),

		ChannelBytes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "channel_bytes_total",
			Help:      "Total bytes moved over the session channel by direction",
		}, []string{"direction"}),
		WindowAdjusts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "window_adjust_total",
			Help:      "Total CHANNEL_WINDOW_ADJUST messages sent",
		}),
	}
}

// RecordHandshakeAttempt records the start of a handshake.
func (m *Metrics) RecordHandshakeAttempt() {
	m.HandshakeAttempts.Inc()
}

// RecordHandshakeFailure records a handshake failure by reason (the
// sshcore.Kind string, e.g. "SignatureInvalid").
func (m *Metrics) RecordHandshakeFailure(reason string) {
	m.HandshakeFailures.WithLabelValues(reason).Inc()
}

// RecordAuthAttempt records one password authentication attempt.
func (m *Metrics) RecordAuthAttempt() {
	m.AuthAttempts.Inc()
}

// RecordAuthFailure records an exhausted authentication attempt.
func (m *Metrics) RecordAuthFailure() {
	m.AuthFailures.Inc()
}

// RecordChannelBytes records bytes moved over the channel, direction
// being "tx" or "rx".
func (m *Metrics) RecordChannelBytes(direction string, n int) {
	m.ChannelBytes.WithLabelValues(direction).Add(float64(n))
}

// RecordWindowAdjust records one CHANNEL_WINDOW_ADJUST sent.
func (m *Metrics) RecordWindowAdjust() {
	m.WindowAdjusts.Inc()
}

// ChannelByteTotals reads the current tx/rx channel_bytes_total values,
// for a CLI that wants to print a session summary without reaching
// for the Prometheus text exposition format.
func (m *Metrics) ChannelByteTotals() (tx, rx float64) {
	return readCounter(m.ChannelBytes.WithLabelValues("tx")), readCounter(m.ChannelBytes.WithLabelValues("rx"))
}

func readCounter(c prometheus.Counter) float64 {
	var mm dto.Metric
	if err := c.Write(&mm); err != nil {
		return 0
	}
	return mm.GetCounter().GetValue()
}

// Registry pairs a *Metrics with the isolated Prometheus registry it's
// bound to, so a caller that wants an HTTP scrape endpoint doesn't
// have to reach for prometheus.DefaultGatherer.
type Registry struct {
	*Metrics
	gatherer prometheus.Gatherer
}

// NewRegistry builds a Metrics instance on a fresh, isolated registry
// suitable for serving over HTTP.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()
	return &Registry{Metrics: NewMetricsWithRegistry(reg), gatherer: reg}
}

// Handler returns the HTTP handler that serves this registry's metrics
// in the Prometheus text exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
