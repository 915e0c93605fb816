package viewcache

import (
	"context"

	"github.com/Sternrassler/viewcache/pkg/cache"
)

// lockValue is the token stored under a held lock.
const lockValue = 1

type lockResult int

const (
	lockAcquired lockResult = iota
	lockContended
	// lockUnavailable means the backend could not answer; callers populate
	// without the lock rather than wait on a broken store.
	lockUnavailable
)

// tryAcquire attempts to take the populate lock for key with a single
// SET NX.
func (c *Coalescer) tryAcquire(ctx context.Context, key string) lockResult {
	ok, err := c.locks.Set(ctx, key, lockValue, c.lockTTL, cache.SetNX)
	if err != nil {
		LockAttempts.WithLabelValues("error").Inc()
		c.logger.Error().Err(err).Str("cache_key", key).Msg("Lock acquire failed")
		return lockUnavailable
	}
	if !ok {
		LockAttempts.WithLabelValues("contended").Inc()
		return lockContended
	}
	LockAttempts.WithLabelValues("acquired").Inc()
	c.logger.Debug().Str("cache_key", key).Dur("lock_ttl", c.lockTTL).Msg("Lock acquired")
	return lockAcquired
}

// release drops the populate lock for key. Failures are logged only; the
// lock then clears when its TTL runs out.
func (c *Coalescer) release(ctx context.Context, key string) {
	if err := c.locks.Delete(ctx, key); err != nil {
		c.logger.Error().Err(err).Str("cache_key", key).Msg("Lock release failed")
		return
	}
	c.logger.Debug().Str("cache_key", key).Msg("Lock released")
}
