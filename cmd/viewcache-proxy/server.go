package main

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Sternrassler/viewcache/pkg/cache"
	"github.com/Sternrassler/viewcache/pkg/client"
	"github.com/Sternrassler/viewcache/pkg/identity"
	"github.com/Sternrassler/viewcache/pkg/metrics"
	"github.com/Sternrassler/viewcache/pkg/viewcache"
	"github.com/julienschmidt/httprouter"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// newRedisClient accepts a redis:// URL or a plain host:port.
func newRedisClient(redisURL string) (*redis.Client, error) {
	if !strings.Contains(redisURL, "://") {
		return redis.NewClient(&redis.Options{Addr: redisURL}), nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	return redis.NewClient(opts), nil
}

// newRegistry returns the store registry for cfg. redisClient may be nil
// when caching is disabled.
func newRegistry(cfg config, redisClient redis.UniversalClient, logger zerolog.Logger) *cache.Registry {
	if !cfg.CacheEnabled {
		return cache.NewNullRegistry()
	}
	storeLogger := logger.With().Str("component", "cache").Logger()
	return cache.NewRedisRegistry(redisClient, cache.RemoteOptions{
		Prefix: cfg.CachePrefix,
		Codec:  cache.CodecByName(cfg.CacheCodec),
		Logger: &storeLogger,
	})
}

// newServer wires the operational endpoints and the cached proxy routes.
func newServer(cfg config, redisClient redis.UniversalClient, registry *cache.Registry, upstream *client.Client, logger zerolog.Logger) (http.Handler, error) {
	views, err := viewcache.New(registry, viewcache.Options{
		TTL:         cfg.TTL,
		SpinTimeout: cfg.SpinTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create view cache: %w", err)
	}

	router := httprouter.New()
	proxy := upstream.ProxyHandler()
	for _, route := range cfg.Routes {
		if err := addRoute(router, route, views.Route(route, proxy)); err != nil {
			return nil, err
		}
	}

	var routes http.Handler = router
	if cfg.JWTSecret != "" {
		auth, err := identity.NewAuthenticator(identity.Config{
			Secret:   []byte(cfg.JWTSecret),
			Issuer:   cfg.JWTIssuer,
			Required: cfg.AuthRequired,
		}, logger.With().Str("component", "identity").Logger())
		if err != nil {
			return nil, err
		}
		routes = auth.Middleware(routes)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.Handle("/ready", readyHandler(redisClient))
	mux.Handle("/metrics", metrics.Handler())
	if cfg.AdminToken != "" {
		mux.Handle("/cache", flushHandler(views, cfg.AdminToken, logger))
	}
	mux.Handle("/", routes)

	return mux, nil
}

// addRoute registers a cached GET route, turning httprouter's panics on
// malformed or conflicting templates into errors.
func addRoute(router *httprouter.Router, route string, handler http.Handler) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("register route %q: %v", route, p)
		}
	}()
	router.Handler(http.MethodGet, route, handler)
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "OK")
}

// readyHandler reports ready when Redis answers a PING. Without Redis
// (caching disabled) the proxy is always ready.
func readyHandler(redisClient redis.UniversalClient) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if redisClient != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := redisClient.Ping(ctx).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "OK")
	}
}

// flushHandler drops every cached view on DELETE /cache.
func flushHandler(views *viewcache.Coalescer, token string, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			w.Header().Set("Allow", http.MethodDelete)
			http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
			return
		}
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Admin-Token")), []byte(token)) != 1 {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if err := views.Flush(r.Context()); err != nil {
			logger.Error().Err(err).Msg("Cache flush failed")
			http.Error(w, "flush failed", http.StatusInternalServerError)
			return
		}
		logger.Info().Msg("Cache flushed")
		w.WriteHeader(http.StatusNoContent)
	}
}
