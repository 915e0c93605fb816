package viewcache

import (
	"context"
	"net/http"
	"time"

	"github.com/Sternrassler/viewcache/pkg/identity"
	"github.com/rs/zerolog"
)

// Response headers set by the coalescer.
const (
	HeaderHit       = "X-View-Cache-Hit"
	HeaderMiss      = "X-View-Cache-Miss"
	HeaderExpireAt  = "X-View-Cache-Expire-At"
	HeaderCreatedAt = "X-View-Cache-Created-At"
)

const (
	// DefaultTTL is the cache entry lifetime.
	DefaultTTL = 60 * time.Second

	// DefaultNamespace holds cache entries.
	DefaultNamespace = "view"

	// DefaultLockNamespace holds lock tokens.
	DefaultLockNamespace = "view:lock"

	// DefaultSpinInterval is the pause between spin-wait attempts.
	DefaultSpinInterval = 10 * time.Millisecond

	// MaxCacheableStatus is the highest status that is persisted. Most 4xx
	// and the 500 itself are cached too.
	MaxCacheableStatus = http.StatusInternalServerError
)

// HeadersFilter selects the response headers stored with an entry.
type HeadersFilter func(status int, header http.Header) []HeaderPair

// RouteFunc returns the route template bound to r, or "".
type RouteFunc func(r *http.Request) string

// IdentityFunc returns the caller identity mixed into the key, or nil.
type IdentityFunc func(r *http.Request) any

// ErrorHandler handles configuration errors raised while serving r.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// Options configures a Coalescer.
type Options struct {
	// TTL is the cache entry lifetime (default: 60s). Locks live one
	// second less; a TTL of one second or less disables locking.
	TTL time.Duration

	// HeadersFilter picks stored headers (default: Content-Type only).
	HeadersFilter HeadersFilter

	// HashStrategy projects the key payload before hashing (default: identity).
	HashStrategy HashStrategy

	// Namespace holds cache entries (default: "view").
	Namespace string

	// LockNamespace holds lock tokens (default: "view:lock").
	LockNamespace string

	// BasePath is the mount path prepended to route templates in keys.
	BasePath string

	// RouteFunc resolves the route template (default: RouteFromContext).
	RouteFunc RouteFunc

	// IdentityFunc resolves the caller identity (default: the principal
	// attached by the identity package).
	IdentityFunc IdentityFunc

	// SpinInterval is the pause between spin-wait attempts (default: 10ms).
	SpinInterval time.Duration

	// SpinTimeout bounds the spin-wait (default: the lock TTL). When it
	// elapses the request populates without the lock. Negative means
	// wait indefinitely.
	SpinTimeout time.Duration

	// ErrorHandler handles configuration errors (default: log and 500).
	ErrorHandler ErrorHandler

	// Logger is the logger to use (default: component logger "viewcache").
	Logger *zerolog.Logger

	// Now is the clock used for diagnostic timestamps (default: time.Now).
	Now func() time.Time
}

// DefaultOptions returns the default configuration.
func DefaultOptions() Options {
	return Options{
		TTL:           DefaultTTL,
		HeadersFilter: DefaultHeadersFilter,
		Namespace:     DefaultNamespace,
		LockNamespace: DefaultLockNamespace,
		RouteFunc:     RouteFromRequest,
		IdentityFunc:  IdentityFromRequest,
		SpinInterval:  DefaultSpinInterval,
		Now:           time.Now,
	}
}

// withDefaults fills zero fields from DefaultOptions.
func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TTL == 0 {
		o.TTL = d.TTL
	}
	if o.HeadersFilter == nil {
		o.HeadersFilter = d.HeadersFilter
	}
	if o.Namespace == "" {
		o.Namespace = d.Namespace
	}
	if o.LockNamespace == "" {
		o.LockNamespace = d.LockNamespace
	}
	if o.RouteFunc == nil {
		o.RouteFunc = d.RouteFunc
	}
	if o.IdentityFunc == nil {
		o.IdentityFunc = d.IdentityFunc
	}
	if o.SpinInterval <= 0 {
		o.SpinInterval = d.SpinInterval
	}
	if o.Now == nil {
		o.Now = d.Now
	}
	return o
}

// LockTTL returns the lock lifetime for o: TTL minus one second, floored
// at zero.
func (o Options) LockTTL() time.Duration {
	ttl := o.TTL - time.Second
	if ttl < 0 {
		return 0
	}
	return ttl
}

// DefaultHeadersFilter stores Content-Type only.
func DefaultHeadersFilter(status int, header http.Header) []HeaderPair {
	return AllowHeaders("Content-Type")(status, header)
}

// AllowHeaders returns a filter that stores the named headers, in the
// given order.
func AllowHeaders(names ...string) HeadersFilter {
	return func(_ int, header http.Header) []HeaderPair {
		var pairs []HeaderPair
		for _, name := range names {
			for _, v := range header.Values(name) {
				pairs = append(pairs, HeaderPair{http.CanonicalHeaderKey(name), v})
			}
		}
		return pairs
	}
}

type routeKey struct{}

// WithRoute returns a context carrying the route template.
func WithRoute(ctx context.Context, template string) context.Context {
	return context.WithValue(ctx, routeKey{}, template)
}

// RouteFromContext returns the route template bound by WithRoute.
func RouteFromContext(ctx context.Context) string {
	route, _ := ctx.Value(routeKey{}).(string)
	return route
}

// RouteFromRequest is the default RouteFunc.
func RouteFromRequest(r *http.Request) string {
	return RouteFromContext(r.Context())
}

// BindRoute binds template to every request passing through next.
func BindRoute(template string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(WithRoute(r.Context(), template)))
	})
}

// IdentityFromRequest is the default IdentityFunc.
func IdentityFromRequest(r *http.Request) any {
	return identity.FromContext(r.Context()).CacheValue()
}
