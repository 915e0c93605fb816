// Command viewcache-proxy is a caching reverse proxy: GET requests on the
// configured routes are served from the view cache and populated from the
// upstream origin, one request per view at a time.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Sternrassler/viewcache/pkg/client"
	"github.com/Sternrassler/viewcache/pkg/logging"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logging.Setup(logging.Config{
		Level:   cfg.LogLevel,
		Pretty:  cfg.LogPretty,
		Service: "viewcache-proxy",
	})
	logger := logging.NewLogger("proxy")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Proxy failed")
	}
}

func run(ctx context.Context, cfg config, logger zerolog.Logger) error {
	var redisClient redis.UniversalClient
	if cfg.CacheEnabled {
		rc, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rc.Close()

		if err := rc.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		logger.Info().Str("redis", rc.Options().Addr).Msg("Connected to Redis")
		redisClient = rc
	} else {
		logger.Warn().Msg("Caching disabled, every request goes upstream")
	}

	upstream, err := client.New(client.DefaultConfig(cfg.UpstreamURL, cfg.UserAgent))
	if err != nil {
		return fmt.Errorf("create upstream client: %w", err)
	}
	defer upstream.Close()

	handler, err := newServer(cfg, redisClient, newRegistry(cfg, redisClient, logger), upstream, logger)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(handler, "viewcache-proxy"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("addr", srv.Addr).
			Str("upstream", cfg.UpstreamURL).
			Strs("routes", cfg.Routes).
			Dur("ttl", cfg.TTL).
			Msg("Starting view cache proxy")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
