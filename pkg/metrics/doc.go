/*
Package metrics provides Prometheus metrics collection and exposition for nexusd.

The metrics package defines and registers all nexusd metrics using the Prometheus
client library, providing observability into tenant counts, event throughput,
stream gateway subscribers, API and action latency, and reconciliation behavior.
Metrics are exposed via HTTP endpoint for scraping by Prometheus servers.

# Architecture

nexusd's metrics system follows Prometheus best practices with comprehensive
instrumentation across the control and worker planes:

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (tenant count)       │          │
	│  │  Counter: Monotonic increases (requests)    │          │
	│  │  Histogram: Distributions (latency)         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Tenants: Count by actual state              │          │
	│  │  Events: Published count by type            │          │
	│  │  Gateway: WebSocket subscribers, disconnects │          │
	│  │  API: Request count, duration               │          │
	│  │  Actions: Dispatch count, duration           │          │
	│  │  Reconciler: Cycle duration, count, drift    │          │
	│  │  Runtime: Container start/stop duration      │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics every 15s               │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: tenants by state, live WebSocket subscribers
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: events published total, reconcile drift total
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Buckets for latency percentiles (p50, p95, p99)
  - Examples: API request duration, container start duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Tenant Metrics:

nexusd_tenants_total{state}:
  - Type: Gauge
  - Description: Total number of tenants by actual state
  - Labels: state
  - Example: nexusd_tenants_total{state="running"} 42

Event Metrics:

nexusd_events_published_total{type}:
  - Type: Counter
  - Description: Total number of events published by type
  - Labels: type
  - Example: nexusd_events_published_total{type="whatsapp.message"} 10342

Stream Gateway Metrics:

nexusd_ws_subscribers:
  - Type: Gauge
  - Description: Total number of live stream gateway subscribers across all tenants
  - Example: nexusd_ws_subscribers 17

nexusd_ws_disconnects_total{reason}:
  - Type: Counter
  - Description: Total number of stream gateway disconnects by reason
  - Labels: reason
  - Example: nexusd_ws_disconnects_total{reason="lagging"} 3

API Metrics:

nexusd_api_requests_total{method, route, status}:
  - Type: Counter
  - Description: Total API requests by method, route, and status
  - Labels: method, route, status
  - Example: nexusd_api_requests_total{method="POST",route="/tenants/setup",status="201"} 100

nexusd_api_request_duration_seconds{method, route}:
  - Type: Histogram
  - Description: API request duration in seconds
  - Labels: method, route
  - Buckets: 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10

Action Metrics:

nexusd_action_requests_total{action, status}:
  - Type: Counter
  - Description: Total number of signed actions dispatched to the worker, by action and status
  - Labels: action, status
  - Example: nexusd_action_requests_total{action="pair_start",status="200"} 12

nexusd_action_duration_seconds{action}:
  - Type: Histogram
  - Description: Time taken for the worker to execute a dispatched action
  - Labels: action

Reconciler Metrics:

nexusd_reconcile_duration_seconds:
  - Type: Histogram
  - Description: Time taken for one reconciliation pass over local tenants

nexusd_reconcile_cycles_total:
  - Type: Counter
  - Description: Total number of reconciliation cycles completed

nexusd_reconcile_drift_total{from,to}:
  - Type: Counter
  - Description: Total number of tenants found with actual state diverging from desired state, by previous and new actual state
  - Labels: from, to

Container Runtime Metrics:

nexusd_container_start_duration_seconds:
  - Type: Histogram
  - Description: Time taken to provision and start a tenant container

nexusd_container_stop_duration_seconds:
  - Type: Histogram
  - Description: Time taken to stop a tenant container

# Usage

Updating Gauge Metrics:

	import "github.com/nexusd/nexusd/pkg/metrics"

	// Set absolute value
	metrics.TenantsTotal.WithLabelValues("running").Set(5)

	// Increment/decrement
	metrics.WSSubscribersTotal.Inc()
	metrics.WSSubscribersTotal.Dec()

Updating Counter Metrics:

	// Increment by 1
	metrics.ReconcileCyclesTotal.Inc()

	// Add arbitrary value
	metrics.APIRequestsTotal.WithLabelValues("POST", "/tenants/setup", "201").Add(1)

Recording Histogram Observations:

	// Direct observation
	metrics.ReconcileDuration.Observe(0.125) // 125ms

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.ContainerStartDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDurationVec(metrics.ActionDuration, "pair_start")

Complete Example:

	package main

	import (
		"net/http"
		"time"
		"github.com/nexusd/nexusd/pkg/metrics"
	)

	func main() {
		// Update tenant metrics
		metrics.TenantsTotal.WithLabelValues("running").Set(8)
		metrics.TenantsTotal.WithLabelValues("provisioning").Set(2)

		// Time an operation
		timer := metrics.NewTimer()
		provisionTenant()
		timer.ObserveDuration(metrics.ContainerStartDuration)

		// Expose metrics endpoint
		http.Handle("/metrics", metrics.Handler())
		http.ListenAndServe(":9090", nil)
	}

	func provisionTenant() {
		// Container provisioning logic
		time.Sleep(100 * time.Millisecond)
	}

# Integration Points

This package integrates with:

  - cmd/control: Runs the Collector, which sets tenant counts
  - pkg/worker: Reports action execution and container runtime metrics
  - pkg/reconciler: Tracks reconciliation cycles and drift
  - pkg/gateway: Tracks WebSocket subscriber count and disconnects
  - Prometheus: Scrapes /metrics endpoint

EventsPublishedTotal, APIRequestsTotal and APIRequestDuration are registered
and exported, but no package in this repository updates them.

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels
  - Avoid high-cardinality labels (IDs, timestamps)
  - Document label values in metric description
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Defer or explicitly call ObserveDuration
  - Automatically calculates elapsed time
  - Supports both simple and vector histograms

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any nexusd package
  - Thread-safe concurrent updates
  - No initialization required by callers

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on hot path

Memory Usage:
  - Per metric: ~1KB baseline
  - Per label combination: ~100 bytes
  - Histogram buckets: ~50 bytes each
  - Total: ~1-5MB for a typical deployment

Scrape Performance:
  - Metrics gathering: ~1-5ms for full scrape
  - HTTP response: ~10ms for typical metric set
  - Recommendation: Scrape interval ≥ 15s
  - Concurrent scrapes: Safe (read-only)

Cardinality Management:
  - Low cardinality: role, status, state (< 10 values)
  - Medium cardinality: method, host (< 100 values)
  - Avoid: task IDs, timestamps (unbounded)
  - Best practice: Aggregate high-cardinality in logs

# Troubleshooting

Common Issues:

Missing Metrics:
  - Symptom: Metric not appearing in /metrics output
  - Check: Metric registered in init() function
  - Check: MustRegister called (panics if duplicate)
  - Solution: Verify metric variable is exported

High Cardinality:
  - Symptom: Prometheus memory usage grows
  - Cause: Using IDs or unbounded values as labels
  - Check: Label cardinality (count unique combinations)
  - Solution: Remove high-cardinality labels, aggregate differently

Histogram Bucket Mismatch:
  - Symptom: No data in desired percentiles
  - Cause: Buckets don't cover observed value range
  - Check: Histogram sum / count for average
  - Solution: Customize buckets for value range

Stale Metrics:
  - Symptom: Metrics not updating
  - Cause: Code not calling metric update methods
  - Check: Add logging around metric updates
  - Solution: Instrument code paths correctly

# Monitoring

Prometheus Queries (PromQL):

Tenant Health:
  - Total tenants: sum(nexusd_tenants_total)
  - Running tenants: nexusd_tenants_total{state="running"}
  - Errored tenants: nexusd_tenants_total{state="error"}

Event Throughput:
  - Publish rate: rate(nexusd_events_published_total[1m])
  - Publish rate by type: rate(nexusd_events_published_total{type="whatsapp.message"}[1m])

Stream Gateway Health:
  - Live subscribers: nexusd_ws_subscribers
  - Disconnect rate: rate(nexusd_ws_disconnects_total[5m])
  - Disconnects by reason: rate(nexusd_ws_disconnects_total{reason="lagging"}[5m])

API Performance:
  - Request rate: rate(nexusd_api_requests_total[1m])
  - Error rate: rate(nexusd_api_requests_total{status=~"5.."}[1m])
  - p95 latency: histogram_quantile(0.95, nexusd_api_request_duration_seconds_bucket)
  - p99 latency: histogram_quantile(0.99, nexusd_api_request_duration_seconds_bucket)

Reconciler Health:
  - Cycle rate: rate(nexusd_reconcile_cycles_total[5m])
  - Drift rate: rate(nexusd_reconcile_drift_total[5m])
  - p95 cycle duration: histogram_quantile(0.95, nexusd_reconcile_duration_seconds_bucket)

# Alerting Rules

Recommended Prometheus alerts:

High Reconcile Drift:
  - Alert: rate(nexusd_reconcile_drift_total[5m]) > 0.1
  - Description: More than 0.1 tenants drifting from desired state per second
  - Action: Check worker logs, containerd health, image availability

No Reconcile Cycles:
  - Alert: rate(nexusd_reconcile_cycles_total[10m]) == 0
  - Description: Worker has stopped reconciling
  - Action: Check worker process health, reconciler interval configuration

High API Latency:
  - Alert: histogram_quantile(0.95, nexusd_api_request_duration_seconds_bucket) > 1
  - Description: p95 API latency > 1 second
  - Action: Check store performance, database size

Rising WebSocket Disconnects:
  - Alert: rate(nexusd_ws_disconnects_total{reason="lagging"}[5m]) > 0.05
  - Description: Subscribers are being dropped for lagging behind the event bus
  - Action: Check subscriber buffer size, client consumption rate

# Grafana Dashboards

Recommended dashboard panels:

Tenant Overview:
  - Gauge: Total tenants by state
  - Time series: Tenant state transitions over time

API Performance:
  - Time series: Request rate by method and route
  - Time series: p95 and p99 latency
  - Time series: Error rate (5xx responses)

Stream Gateway:
  - Single stat: Live subscriber count
  - Time series: Disconnects by reason

Reconciler Performance:
  - Time series: Reconcile cycles per second
  - Heatmap: Reconcile cycle duration distribution
  - Time series: Drift events by transition

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
