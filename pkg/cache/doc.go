// Package cache provides the namespaced key-value stores used by the view
// cache.
//
// Two Store implementations are provided:
//
//   - RemoteStore: Redis backend with TTLs and atomic conditional writes
//     (SET NX / SET XX)
//   - NullStore: always misses; used when caching is disabled
//
// Keys are namespaced purely by prefixing: {prefix}:{namespace}:{key}.
//
// # Basic Usage
//
//	// Create Redis client
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	// One registry per process, passed to whoever needs stores
//	registry := cache.NewRedisRegistry(redisClient, cache.RemoteOptions{
//		Prefix: "myapp",
//	})
//
//	views, err := registry.Namespace("view")
//	if err != nil {
//		return err
//	}
//
//	// Create-if-absent, the primitive used for locking
//	acquired, err := views.Set(ctx, "some-key", 1, 59*time.Second, cache.SetNX)
//
// # Codecs
//
// Values are JSON encoded by default. MsgpackCodec stores the same values
// in MessagePack:
//
//	registry := cache.NewRedisRegistry(redisClient, cache.RemoteOptions{
//		Codec: cache.MsgpackCodec{},
//	})
//
// # Flushing
//
// Flush scans {prefix}:{namespace}:* and deletes matches in batches. Note
// that namespaces nest by prefix: flushing "view" also clears "view:lock".
//
// # Metrics
//
//   - viewcache_store_hits_total{namespace}
//   - viewcache_store_misses_total{namespace}
//   - viewcache_store_rejections_total{namespace, mode}
//   - viewcache_store_errors_total{namespace, operation}
//   - viewcache_store_written_bytes_total{namespace}
package cache
