package viewcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks cache reads by result
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_lookups_total",
			Help: "Total number of view cache reads by result",
		},
		[]string{"result"}, // "hit", "miss", "error"
	)

	// Populates tracks populate runs by outcome
	Populates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_populates_total",
			Help: "Total number of view populations by outcome",
		},
		[]string{"outcome"}, // "stored", "uncacheable", "store_error"
	)

	// LockAttempts tracks lock acquisition attempts by result
	LockAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_lock_attempts_total",
			Help: "Total number of populate lock attempts by result",
		},
		[]string{"result"}, // "acquired", "contended", "error"
	)

	// SpinWaits tracks finished spin-waits by how they ended
	SpinWaits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_spin_waits_total",
			Help: "Total number of spin-waits by outcome",
		},
		[]string{"outcome"}, // "hit", "acquired", "unavailable", "timeout", "cancelled"
	)

	// SpinWaitDuration observes how long requests spent spin-waiting
	SpinWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "viewcache_spin_wait_duration_seconds",
			Help:    "Time spent waiting for another request to populate a view",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 30, 60},
		},
	)

	// ConfigErrors tracks requests rejected for misconfiguration
	ConfigErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "viewcache_config_errors_total",
			Help: "Total number of requests failed by view cache configuration errors",
		},
	)
)
