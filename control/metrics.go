// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Prometheus instruments for the server loop.

package control

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Close reasons used as the "reason" label of SessionsClosed.
const (
	CloseReasonPeer     = "peer"
	CloseReasonKeepOff  = "connection_close"
	CloseReasonError    = "error"
	CloseReasonEvicted  = "evicted"
	CloseReasonTrigger  = "triggered"
	CloseReasonInvalid  = "invalid"
	CloseReasonShutdown = "shutdown"
)

// MetricsConfig configures NewMetrics.
type MetricsConfig struct {
	// Namespace prefixes every metric name (default "httpd").
	Namespace string
	// Registry receives the collectors. A private registry is created when nil.
	Registry prometheus.Registerer
}

// MetricsOption configures MetricsConfig.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(ns string) MetricsOption {
	return func(c *MetricsConfig) { c.Namespace = ns }
}

// WithRegistry sets the Prometheus registerer.
func WithRegistry(r prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) { c.Registry = r }
}

// Metrics holds the server's collectors.
type Metrics struct {
	SessionsActive      prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected prometheus.Counter
	SessionsEvicted     prometheus.Counter
	SessionsClosed      *prometheus.CounterVec
	ControlMessages     *prometheus.CounterVec
	ControlMalformed    prometheus.Counter
	WorkPanics          prometheus.Counter
	Requests            *prometheus.CounterVec
	LoopIterations      prometheus.Counter
	PollerErrors        prometheus.Counter
}

// NewMetrics registers the collectors.
func NewMetrics(opts ...MetricsOption) *Metrics {
	cfg := MetricsConfig{Namespace: "httpd"}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}
	f := promauto.With(cfg.Registry)
	ns := cfg.Namespace

	return &Metrics{
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: ns, Name: "sessions_active",
			Help: "Sessions currently registered in the session table",
		}),
		ConnectionsAccepted: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "connections_accepted_total",
			Help: "Connections accepted and registered as sessions",
		}),
		ConnectionsRejected: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "connections_rejected_total",
			Help: "Connections closed right after accept without a session",
		}),
		SessionsEvicted: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "sessions_evicted_total",
			Help: "Sessions scheduled for LRU eviction",
		}),
		SessionsClosed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "sessions_closed_total",
			Help: "Sessions deleted, by reason",
		}, []string{"reason"}),
		ControlMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "control_messages_total",
			Help: "Control messages executed by the loop, by kind",
		}, []string{"kind"}),
		ControlMalformed: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "control_malformed_total",
			Help: "Malformed control datagrams discarded",
		}),
		WorkPanics: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "control_work_panics_total",
			Help: "Queued work functions that panicked",
		}),
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns, Name: "requests_total",
			Help: "Requests answered, by status code",
		}, []string{"status"}),
		LoopIterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "loop_iterations_total",
			Help: "Server loop iterations",
		}),
		PollerErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: ns, Name: "poller_errors_total",
			Help: "Readiness wait failures",
		}),
	}
}
