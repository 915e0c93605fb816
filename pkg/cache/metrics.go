package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// StoreHits tracks successful reads by namespace
	StoreHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_store_hits_total",
			Help: "Total number of store reads that found a value",
		},
		[]string{"namespace"},
	)

	// StoreMisses tracks reads of absent or undecodable values
	StoreMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_store_misses_total",
			Help: "Total number of store reads that found nothing usable",
		},
		[]string{"namespace"},
	)

	// StoreRejections tracks conditional writes refused by the backend
	StoreRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_store_rejections_total",
			Help: "Total number of NX/XX writes rejected by the backend",
		},
		[]string{"namespace", "mode"},
	)

	// StoreErrors tracks backend operation errors
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_store_errors_total",
			Help: "Total number of store operation errors",
		},
		[]string{"namespace", "operation"}, // "has", "get", "set", "delete", "flush"
	)

	// StoreBytesWritten tracks encoded payload bytes written by namespace
	StoreBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "viewcache_store_written_bytes_total",
			Help: "Total encoded bytes written to the store",
		},
		[]string{"namespace"},
	)
)
