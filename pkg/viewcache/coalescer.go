package viewcache

import (
	"context"
	"net/http"
	"time"

	"github.com/Sternrassler/viewcache/pkg/cache"
	"github.com/Sternrassler/viewcache/pkg/logging"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/Sternrassler/viewcache/pkg/viewcache"

// Coalescer serves GET responses from the view cache and lets only one
// request at a time populate a missing entry.
type Coalescer struct {
	opts    Options
	views   cache.Store
	locks   cache.Store
	lockTTL time.Duration
	logger  zerolog.Logger
	tracer  trace.Tracer
}

// New creates a Coalescer using the entry and lock namespaces of reg.
func New(reg *cache.Registry, opts Options) (*Coalescer, error) {
	if reg == nil {
		panic("cache registry cannot be nil")
	}
	if opts.TTL < 0 {
		return nil, &ConfigError{Op: "new", Err: ErrInvalidTTL}
	}
	if opts.HashStrategy != nil && !callable(opts.HashStrategy) {
		return nil, &ConfigError{Op: "new", Err: ErrInvalidHashStrategy}
	}
	opts = opts.withDefaults()

	views, err := reg.Namespace(opts.Namespace)
	if err != nil {
		return nil, err
	}
	locks, err := reg.Namespace(opts.LockNamespace)
	if err != nil {
		return nil, err
	}

	logger := logging.NewLogger("viewcache")
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	c := &Coalescer{
		opts:    opts,
		views:   views,
		locks:   locks,
		lockTTL: opts.LockTTL(),
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}
	if c.opts.SpinTimeout == 0 {
		c.opts.SpinTimeout = c.lockTTL
	}
	if c.opts.ErrorHandler == nil {
		c.opts.ErrorHandler = c.defaultErrorHandler
	}
	return c, nil
}

// LockTTL returns the lifetime of populate locks. Zero means locking is off.
func (c *Coalescer) LockTTL() time.Duration {
	return c.lockTTL
}

// Handler wraps next with the view cache. The route template must already
// be bound to the request (see Route, BindRoute and Options.RouteFunc).
func (c *Coalescer) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.serve(w, r, next)
	})
}

// Route binds template to the request and wraps next with the view cache.
func (c *Coalescer) Route(template string, next http.Handler) http.Handler {
	return BindRoute(template, c.Handler(next))
}

// Key derives the cache key for r.
func (c *Coalescer) Key(r *http.Request) (key string, flush bool, err error) {
	query := r.URL.Query()
	flush = query.Get(FlushParam) == "true"

	key, err = DeriveKey(KeyInput{
		Method:   r.Method,
		Host:     r.Host,
		BasePath: c.opts.BasePath,
		Route:    c.opts.RouteFunc(r),
		Path:     r.URL.Path,
		Query:    query,
		Identity: c.opts.IdentityFunc(r),
	}, c.opts.HashStrategy)
	return key, flush, err
}

// Invalidate removes the cached entry for key.
func (c *Coalescer) Invalidate(ctx context.Context, key string) error {
	return c.views.Delete(ctx, key)
}

// Flush removes every cached entry in the entry namespace.
func (c *Coalescer) Flush(ctx context.Context) error {
	return c.views.Flush(ctx)
}

func (c *Coalescer) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	key, flush, err := c.Key(r)
	if err != nil {
		c.opts.ErrorHandler(w, r, err)
		return
	}
	ctx := r.Context()

	if !flush {
		if entry, ok := c.lookup(ctx, key); ok {
			c.serveHit(w, key, entry)
			return
		}
	} else {
		c.logger.Debug().Str("cache_key", key).Msg("Flush requested, skipping cache read")
	}

	if c.lockTTL <= 0 {
		c.populate(w, r, next, key, false)
		return
	}

	switch c.tryAcquire(ctx, key) {
	case lockAcquired:
		c.populate(w, r, next, key, true)
	case lockUnavailable:
		if ctx.Err() != nil {
			c.logger.Debug().Err(ctx.Err()).Str("cache_key", key).Msg("Request cancelled before populate")
			return
		}
		c.populate(w, r, next, key, false)
	default:
		c.spinWait(w, r, next, key)
	}
}

// lookup reads the entry for key. Backend errors are treated as a miss.
func (c *Coalescer) lookup(ctx context.Context, key string) (*Entry, bool) {
	var entry Entry
	found, err := c.views.Get(ctx, key, &entry)
	if err != nil {
		Lookups.WithLabelValues("error").Inc()
		c.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache read failed, treating as miss")
		return nil, false
	}
	if !found {
		Lookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	Lookups.WithLabelValues("hit").Inc()
	return &entry, true
}

func (c *Coalescer) serveHit(w http.ResponseWriter, key string, entry *Entry) {
	c.logger.Debug().Str("cache_key", key).Int("status_code", entry.StatusCode()).Msg("Serving cached view")
	if err := entry.writeTo(w); err != nil {
		c.logger.Debug().Err(err).Str("cache_key", key).Msg("Client write failed")
	}
}

// spinWait polls the cache while another request populates key. It ends
// on a hit, on winning the lock, on SpinTimeout, or when the request is
// cancelled.
func (c *Coalescer) spinWait(w http.ResponseWriter, r *http.Request, next http.Handler, key string) {
	ctx, span := c.tracer.Start(r.Context(), "viewcache.spin_wait",
		trace.WithAttributes(attribute.String("viewcache.key", key)))
	start := time.Now()
	attempts := 0

	finish := func(outcome string) {
		SpinWaits.WithLabelValues(outcome).Inc()
		SpinWaitDuration.Observe(time.Since(start).Seconds())
		span.SetAttributes(
			attribute.String("viewcache.spin_outcome", outcome),
			attribute.Int("viewcache.spin_attempts", attempts),
		)
		span.End()
	}

	var timeout <-chan time.Time
	if c.opts.SpinTimeout > 0 {
		timer := time.NewTimer(c.opts.SpinTimeout)
		defer timer.Stop()
		timeout = timer.C
	}
	ticker := time.NewTicker(c.opts.SpinInterval)
	defer ticker.Stop()

	c.logger.Debug().Str("cache_key", key).Msg("View is being populated, waiting")

	for {
		attempts++
		if entry, ok := c.lookup(ctx, key); ok {
			finish("hit")
			c.serveHit(w, key, entry)
			return
		}
		// The populator may have released without writing, e.g. after a
		// status above MaxCacheableStatus.
		switch c.tryAcquire(ctx, key) {
		case lockAcquired:
			// The previous holder stores before it releases, so the entry
			// may have landed after the read above.
			if entry, ok := c.lookup(ctx, key); ok {
				c.release(context.WithoutCancel(ctx), key)
				finish("hit")
				c.serveHit(w, key, entry)
				return
			}
			finish("acquired")
			c.populate(w, r, next, key, true)
			return
		case lockUnavailable:
			if ctx.Err() != nil {
				break
			}
			finish("unavailable")
			c.populate(w, r, next, key, false)
			return
		}

		select {
		case <-ctx.Done():
			finish("cancelled")
			c.logger.Debug().Err(ctx.Err()).Str("cache_key", key).Int("attempts", attempts).Msg("Request cancelled while waiting for view")
			return
		case <-timeout:
			finish("timeout")
			c.logger.Warn().Str("cache_key", key).Int("attempts", attempts).
				Dur("spin_timeout", c.opts.SpinTimeout).
				Msg("Timed out waiting for view, populating without lock")
			c.populate(w, r, next, key, false)
			return
		case <-ticker.C:
		}
	}
}

// populate runs next into a buffer, then persists and forwards the result.
func (c *Coalescer) populate(w http.ResponseWriter, r *http.Request, next http.Handler, key string, locked bool) {
	ctx, span := c.tracer.Start(r.Context(), "viewcache.populate",
		trace.WithAttributes(
			attribute.String("viewcache.key", key),
			attribute.Bool("viewcache.locked", locked),
		))
	defer span.End()

	rec := c.produceBody(ctx, r, next, key, locked)
	c.onBodyProduced(ctx, w, rec, key, locked, span)
}

// produceBody runs the downstream handler against a recorder. A held lock
// is released if the handler panics.
func (c *Coalescer) produceBody(ctx context.Context, r *http.Request, next http.Handler, key string, locked bool) *recorder {
	rec := newRecorder()
	if locked {
		defer func() {
			if p := recover(); p != nil {
				c.release(context.WithoutCancel(ctx), key)
				panic(p)
			}
		}()
	}
	next.ServeHTTP(rec, r.WithContext(ctx))
	return rec
}

// onBodyProduced persists the recorded response, stamps the diagnostic
// headers, releases the lock and forwards the response. The response never
// depends on the cache write succeeding.
func (c *Coalescer) onBodyProduced(ctx context.Context, w http.ResponseWriter, rec *recorder, key string, locked bool, span trace.Span) {
	// The client may be gone; the entry is still worth writing.
	storeCtx := context.WithoutCancel(ctx)

	now := c.opts.Now()
	status := rec.Status()
	span.SetAttributes(attribute.Int("http.status_code", status))

	if status <= MaxCacheableStatus {
		entry := Entry{
			Status:  status,
			Headers: c.opts.HeadersFilter(status, rec.Sent()),
			Body:    rec.Body(),
		}
		if _, err := c.views.Set(storeCtx, key, entry, c.opts.TTL, cache.SetAlways); err != nil {
			Populates.WithLabelValues("store_error").Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, "cache write failed")
			c.logger.Error().Err(err).Str("cache_key", key).Msg("Failed to cache view")
		} else {
			Populates.WithLabelValues("stored").Inc()
			c.logger.Debug().Str("cache_key", key).Int("status_code", status).
				Dur("ttl", c.opts.TTL).Int("bytes", len(entry.Body)).Msg("Cached view")
		}
	} else {
		Populates.WithLabelValues("uncacheable").Inc()
		c.logger.Info().Str("cache_key", key).Int("status_code", status).Msg("Response not cacheable")
	}

	h := rec.Sent()
	h.Set(HeaderMiss, "true")
	h.Set(HeaderExpireAt, now.Add(c.opts.TTL).UTC().Format(http.TimeFormat))
	h.Set(HeaderCreatedAt, now.UTC().Format(http.TimeFormat))

	if locked {
		c.release(storeCtx, key)
	}

	if err := rec.forward(w); err != nil {
		c.logger.Debug().Err(err).Str("cache_key", key).Msg("Client write failed")
	}
}

func (c *Coalescer) defaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	ConfigErrors.Inc()
	c.logger.Error().Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg("View cache misconfigured")
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
