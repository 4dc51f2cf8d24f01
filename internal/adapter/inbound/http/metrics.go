package http

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for agentrelay.
// Pass to components that need to record metrics.
type Metrics struct {
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	RPCRequestsTotal    *prometheus.CounterVec
	ActiveBindings      *prometheus.GaugeVec
	SessionsCreated     prometheus.Counter
	SessionsEnded       prometheus.Counter
	SweepRemovedTotal   prometheus.Counter
	SweepFailuresTotal  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		HTTPRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"}, // method=POST/GET/DELETE, status=ok/error
		),
		HTTPRequestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "agentrelay",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets, // 5ms to 10s
			},
			[]string{"method"},
		),
		RPCRequestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "rpc_requests_total",
				Help:      "Total dispatched RPC requests by method and error code",
			},
			[]string{"method", "code"}, // code=0 on success
		),
		ActiveBindings: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "agentrelay",
				Name:      "active_transport_bindings",
				Help:      "Live transport bindings by channel kind",
			},
			[]string{"kind"},
		),
		SessionsCreated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "sessions_created_total",
				Help:      "Total sessions created",
			},
		),
		SessionsEnded: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "sessions_ended_total",
				Help:      "Total sessions explicitly ended by callers",
			},
		),
		SweepRemovedTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "sweep_removed_total",
				Help:      "Total expired sessions removed by the background sweeper",
			},
		),
		SweepFailuresTotal: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: "agentrelay",
				Name:      "sweep_failures_total",
				Help:      "Total background sweep runs that failed",
			},
		),
	}
}
