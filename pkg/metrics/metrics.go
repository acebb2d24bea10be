package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Tenant metrics
	TenantsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "nexusd_tenants_total",
			Help: "Total number of tenants by actual state",
		},
		[]string{"state"},
	)

	// Event bus metrics
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_events_published_total",
			Help: "Total number of events published by type",
		},
		[]string{"type"},
	)

	WSSubscribersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "nexusd_ws_subscribers",
			Help: "Total number of live stream gateway subscribers across all tenants",
		},
	)

	WSDisconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_ws_disconnects_total",
			Help: "Total number of stream gateway disconnects by reason",
		},
		[]string{"reason"},
	)

	// HTTP API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_api_requests_total",
			Help: "Total number of API requests by method, route, and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexusd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Worker action metrics
	ActionRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_action_requests_total",
			Help: "Total number of signed actions dispatched to the worker, by action and status",
		},
		[]string{"action", "status"},
	)

	ActionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nexusd_action_duration_seconds",
			Help:    "Time taken for the worker to execute a dispatched action",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"action"},
	)

	// Reconciler metrics
	ReconcileDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusd_reconcile_duration_seconds",
			Help:    "Time taken for one reconciliation pass over local tenants",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconcileCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nexusd_reconcile_cycles_total",
			Help: "Total number of reconciliation cycles completed",
		},
	)

	ReconcileDriftTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nexusd_reconcile_drift_total",
			Help: "Total number of tenants found with actual state diverging from desired state, by transition",
		},
		[]string{"from", "to"},
	)

	// Container lifecycle metrics
	ContainerStartDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusd_container_start_duration_seconds",
			Help:    "Time taken to provision and start a tenant container",
			Buckets: prometheus.DefBuckets,
		},
	)

	ContainerStopDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nexusd_container_stop_duration_seconds",
			Help:    "Time taken to stop a tenant container",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(TenantsTotal)
	prometheus.MustRegister(EventsPublishedTotal)
	prometheus.MustRegister(WSSubscribersTotal)
	prometheus.MustRegister(WSDisconnectsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(ActionRequestsTotal)
	prometheus.MustRegister(ActionDuration)
	prometheus.MustRegister(ReconcileDuration)
	prometheus.MustRegister(ReconcileCyclesTotal)
	prometheus.MustRegister(ReconcileDriftTotal)
	prometheus.MustRegister(ContainerStartDuration)
	prometheus.MustRegister(ContainerStopDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
