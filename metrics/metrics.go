// Package metrics is a per-pool Prometheus collector: this module is a
// client library with one pool per logical database rather than a
// proxy multiplexing many tenants, so every series is keyed by pool
// name and engine. There is no session-pinning concept on this side of
// the wire, so metrics for it are not present here.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds the Prometheus metrics this module exposes for pool
// and driver observability (spec's config & observability glue).
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	acquireDuration    *prometheus.HistogramVec
	queryDuration      *prometheus.HistogramVec
	poolExhausted      *prometheus.CounterVec
	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec
}

// New creates and registers a Collector on a fresh registry. Safe to
// call multiple times, e.g. once per test — each call is independent.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sqlcore_connections_active", Help: "Connections currently checked out of the pool"},
			[]string{"pool", "engine"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sqlcore_connections_idle", Help: "Connections idle in the pool"},
			[]string{"pool", "engine"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sqlcore_connections_total", Help: "Total connections owned by the pool"},
			[]string{"pool", "engine"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "sqlcore_connections_waiting", Help: "Goroutines blocked in Acquire"},
			[]string{"pool", "engine"},
		),
		acquireDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlcore_acquire_duration_seconds",
				Help:    "Time spent in Pool.Acquire",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
			},
			[]string{"pool", "engine"},
		),
		queryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlcore_query_duration_seconds",
				Help:    "Duration of Query/Exec calls",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"pool", "engine"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sqlcore_pool_exhausted_total", Help: "Times Acquire had to wait for a connection"},
			[]string{"pool"},
		),
		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sqlcore_health_check_duration_seconds",
				Help:    "Duration of connection-validation pings",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"pool", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "sqlcore_health_check_errors_total", Help: "Connection-validation ping failures by error kind"},
			[]string{"pool", "error_kind"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.acquireDuration,
		c.queryDuration,
		c.poolExhausted,
		c.healthCheckDuration,
		c.healthCheckErrors,
	)
	return c
}

// UpdatePoolStats sets the gauge family from a pool.Stats-shaped snapshot.
func (c *Collector) UpdatePoolStats(poolName, engine string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(poolName, engine).Set(float64(active))
	c.connectionsIdle.WithLabelValues(poolName, engine).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(poolName, engine).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(poolName, engine).Set(float64(waiting))
}

// AcquireDuration observes time spent waiting in Pool.Acquire.
func (c *Collector) AcquireDuration(poolName, engine string, d time.Duration) {
	c.acquireDuration.WithLabelValues(poolName, engine).Observe(d.Seconds())
}

// QueryDuration observes a Query/Exec call's duration.
func (c *Collector) QueryDuration(poolName, engine string, d time.Duration) {
	c.queryDuration.WithLabelValues(poolName, engine).Observe(d.Seconds())
}

// PoolExhausted increments the exhaustion counter.
func (c *Collector) PoolExhausted(poolName string) {
	c.poolExhausted.WithLabelValues(poolName).Inc()
}

// HealthCheckCompleted records a validation ping's duration and outcome.
func (c *Collector) HealthCheckCompleted(poolName string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(poolName, status).Observe(d.Seconds())
}

// HealthCheckError records a validation ping failure by error kind.
func (c *Collector) HealthCheckError(poolName, errorKind string) {
	c.healthCheckErrors.WithLabelValues(poolName, errorKind).Inc()
}

// Remove deletes all metrics for a pool name, for use when a pool is
// torn down (pool.Manager.Remove).
func (c *Collector) Remove(poolName string) {
	c.connectionsActive.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.connectionsIdle.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.connectionsTotal.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.connectionsWaiting.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.acquireDuration.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.queryDuration.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.poolExhausted.DeleteLabelValues(poolName)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"pool": poolName})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"pool": poolName})
}
