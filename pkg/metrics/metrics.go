// Package metrics is the reference for every Prometheus metric the view
// cache exports. Metrics are defined in their owning packages (cache,
// viewcache, client) and registered via promauto; this package exposes
// the registry and the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the Prometheus registerer all packages register against.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer paired with Registry.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the metrics registered in Registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// View Cache Metrics (pkg/viewcache):
//   - viewcache_lookups_total{result} (Counter): Reads by result (hit, miss, error)
//   - viewcache_populates_total{outcome} (Counter): Populations by outcome (stored, uncacheable, store_error)
//   - viewcache_lock_attempts_total{result} (Counter): Populate lock attempts (acquired, contended, error)
//   - viewcache_spin_waits_total{outcome} (Counter): Spin-waits by how they ended
//   - viewcache_spin_wait_duration_seconds (Histogram): Time spent waiting on another populator
//   - viewcache_config_errors_total (Counter): Requests failed by a missing route or base path
//
// Store Metrics (pkg/cache):
//   - viewcache_store_hits_total{namespace} (Counter): Reads that found a value
//   - viewcache_store_misses_total{namespace} (Counter): Reads that found nothing usable
//   - viewcache_store_rejections_total{namespace, mode} (Counter): NX/XX writes rejected
//   - viewcache_store_errors_total{namespace, operation} (Counter): Backend errors
//   - viewcache_store_written_bytes_total{namespace} (Counter): Encoded bytes written
//
// Upstream Metrics (pkg/client):
//   - upstream_requests_total{route, status} (Counter): Upstream requests by route template and status
//   - upstream_request_duration_seconds{route} (Histogram): Upstream latency, retries included
//   - upstream_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - upstream_retries_total{error_class} (Counter): Retry attempts
//   - upstream_retry_backoff_seconds{error_class} (Histogram): Backoff durations
//   - upstream_retry_exhausted_total{error_class} (Counter): Requests that ran out of attempts
//
// Example Prometheus Queries:
//
//   # View Hit Rate
//   sum(rate(viewcache_lookups_total{result="hit"}[5m])) /
//   sum(rate(viewcache_lookups_total[5m]))
//
//   # Coalescing: requests that waited instead of hitting the origin
//   sum(rate(viewcache_spin_waits_total{outcome="hit"}[5m]))
//
//   # Spin timeouts (populations slower than the lock TTL)
//   rate(viewcache_spin_waits_total{outcome="timeout"}[5m])
//
//   # P95 Upstream Latency per route
//   histogram_quantile(0.95, sum by (le, route) (rate(upstream_request_duration_seconds_bucket[5m])))
//
//   # Store failure rate
//   sum by (operation) (rate(viewcache_store_errors_total[5m]))
