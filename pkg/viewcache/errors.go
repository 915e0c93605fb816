package viewcache

import (
	"errors"
	"fmt"
)

// Configuration error causes. They indicate an integration mistake, never
// a runtime condition, and are always surfaced through ErrorHandler.
var (
	// ErrMethodNotCacheable is returned for any method other than GET.
	ErrMethodNotCacheable = errors.New("only GET requests can be view cached")

	// ErrRouteNotBound is returned when no route template is bound to the request.
	ErrRouteNotBound = errors.New("no route template bound to request")

	// ErrInvalidHashStrategy is returned when a hash strategy is set but cannot be called.
	ErrInvalidHashStrategy = errors.New("hash strategy is not callable")

	// ErrInvalidTTL is returned for a negative TTL.
	ErrInvalidTTL = errors.New("ttl must not be negative")
)

// ConfigError reports a view cache misconfiguration.
type ConfigError struct {
	// Op is the operation that detected the problem.
	Op string

	// Detail adds request context such as the offending method.
	Detail string

	// Err is one of the Err* sentinels above.
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("viewcache %s: %v (%s)", e.Op, e.Err, e.Detail)
	}
	return fmt.Sprintf("viewcache %s: %v", e.Op, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is, or wraps, a *ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
