// Package viewcache caches rendered GET responses ("views") and keeps
// concurrent misses for the same view from all running the handler.
//
// Per request the Coalescer:
//
//  1. derives a key from method, host, mount path, route template and a
//     digest of {method, path, query, identity}
//  2. serves a cached entry when one exists (unless ?flush=true)
//  3. otherwise takes a short-lived lock with SET NX and populates the
//     entry, or, when another request holds the lock, polls the cache
//     until the entry shows up or the lock can be taken
//
// The lock lives one second less than the entry so an abandoned lock
// always expires before the entry it guards would.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	registry := cache.NewRedisRegistry(redisClient, cache.RemoteOptions{Prefix: "app"})
//
//	views, err := viewcache.New(registry, viewcache.Options{TTL: time.Minute})
//	if err != nil {
//		return err
//	}
//
//	router := httprouter.New()
//	router.Handler(http.MethodGet, "/posts/:id", views.Route("/posts/:id", postsHandler))
//
// # Keys
//
// Route templates, not interpolated paths, form the key prefix:
//
//	get/api.example.com/posts/_id:5d41402abc4b2a76b9719d911017c592
//
// A HashStrategy can project the payload before hashing, e.g. to ignore
// tracking parameters:
//
//	viewcache.Options{
//		HashStrategy: viewcache.HashStrategyFunc(func(p viewcache.Payload) any {
//			delete(p.Query, "utm_source")
//			return p
//		}),
//	}
//
// # Response Headers
//
//   - X-View-Cache-Hit: served from cache
//   - X-View-Cache-Miss: populated by this request
//   - X-View-Cache-Expire-At, X-View-Cache-Created-At: HTTP dates of the
//     populated entry
//
// Only headers passed by Options.HeadersFilter (Content-Type by default)
// are stored and replayed.
//
// # Cacheable Statuses
//
// Every response with status <= 500 is stored, which includes most client
// errors. Responses above 500 are forwarded but not stored.
//
// # Failure Handling
//
// Configuration errors (non-GET, no route template, uncallable hash
// strategy) fail the request through Options.ErrorHandler. Store failures
// never do: reads count as misses, writes and lock releases are logged.
//
// # Metrics
//
//   - viewcache_lookups_total{result}
//   - viewcache_populates_total{outcome}
//   - viewcache_lock_attempts_total{result}
//   - viewcache_spin_waits_total{outcome}
//   - viewcache_spin_wait_duration_seconds
//   - viewcache_config_errors_total
package viewcache
