package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/viewcache/pkg/logging"
	"github.com/Sternrassler/viewcache/pkg/viewcache"
)

// config is read from the environment at startup.
type config struct {
	Port        string
	RedisURL    string
	UpstreamURL string
	UserAgent   string

	LogLevel  logging.LogLevel
	LogPretty bool

	CacheEnabled bool
	CacheCodec   string
	CachePrefix  string
	TTL          time.Duration
	SpinTimeout  time.Duration
	Routes       []string

	JWTSecret    string
	JWTIssuer    string
	AuthRequired bool

	// AdminToken enables DELETE /cache when set.
	AdminToken string
}

func loadConfig() (config, error) {
	cfg := config{
		Port:        getEnv("PORT", "8080"),
		RedisURL:    getEnv("REDIS_URL", "localhost:6379"),
		UpstreamURL: getEnv("UPSTREAM_URL", ""),
		UserAgent:   getEnv("USER_AGENT", "viewcache-proxy/0.1.0"),
		LogLevel:    logging.LogLevel(getEnv("LOG_LEVEL", string(logging.LevelInfo))),
		CacheCodec:  getEnv("CACHE_CODEC", "json"),
		CachePrefix: getEnv("CACHE_PREFIX", "viewcache"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		JWTIssuer:   getEnv("JWT_ISSUER", ""),
		AdminToken:  getEnv("ADMIN_TOKEN", ""),
	}

	if cfg.UpstreamURL == "" {
		return cfg, fmt.Errorf("UPSTREAM_URL is required")
	}

	var err error
	if cfg.LogPretty, err = getEnvBool("LOG_PRETTY", false); err != nil {
		return cfg, err
	}
	if cfg.CacheEnabled, err = getEnvBool("CACHE_ENABLED", true); err != nil {
		return cfg, err
	}
	if cfg.AuthRequired, err = getEnvBool("AUTH_REQUIRED", false); err != nil {
		return cfg, err
	}
	if cfg.TTL, err = getEnvDuration("VIEWCACHE_TTL", viewcache.DefaultTTL); err != nil {
		return cfg, err
	}
	if cfg.SpinTimeout, err = getEnvDuration("VIEWCACHE_SPIN_TIMEOUT", 0); err != nil {
		return cfg, err
	}

	cfg.Routes = splitList(getEnv("VIEWCACHE_ROUTES", "/*path"))
	if len(cfg.Routes) == 0 {
		return cfg, fmt.Errorf("VIEWCACHE_ROUTES must name at least one route")
	}

	if cfg.AuthRequired && cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("AUTH_REQUIRED needs JWT_SECRET")
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

// getEnvDuration accepts Go durations ("90s") and plain seconds ("90").
func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
