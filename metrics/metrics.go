// Package metrics defines the Prometheus collectors exposed by the
// server: cache hit/miss/promote counters, render duration, pool
// saturation, and lock wait time. No example repo in the retrieval pack
// wires prometheus/client_golang itself, but it is the ecosystem-standard
// choice for instrumenting a Go service of this shape (see DESIGN.md).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every collector the server registers.
type Metrics struct {
	CacheOps       *prometheus.CounterVec
	RenderDuration *prometheus.HistogramVec
	PoolWaitTime   *prometheus.HistogramVec
	PoolLive       *prometheus.GaugeVec
	LockWaitTime   *prometheus.HistogramVec
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mapcache",
			Name:      "cache_operations_total",
			Help:      "Count of multitier cache operations by cache name, tier, and outcome (hit/miss/error/promote).",
		}, []string{"cache", "tier", "outcome"}),

		RenderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mapcache",
			Name:      "render_duration_seconds",
			Help:      "Time spent rendering a metatile.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tileset"}),

		PoolWaitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mapcache",
			Name:      "pool_acquire_wait_seconds",
			Help:      "Time spent waiting for a pooled connection.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"pool"}),

		PoolLive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mapcache",
			Name:      "pool_live_connections",
			Help:      "Number of live (borrowed + idle) connections per pool key.",
		}, []string{"pool"}),

		LockWaitTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mapcache",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting on lock_or_wait before owning, losing, or timing out.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
	}

	reg.MustRegister(m.CacheOps, m.RenderDuration, m.PoolWaitTime, m.PoolLive, m.LockWaitTime)
	return m
}
