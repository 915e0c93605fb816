package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNilClient indicates a RemoteStore was built without a Redis client.
	ErrNilClient = errors.New("cache: redis client is nil")

	// ErrInvalidMode indicates an unknown SetMode was passed to Set.
	ErrInvalidMode = errors.New("cache: invalid set mode")
)

// SetMode selects the conditional behaviour of Store.Set.
type SetMode int

const (
	// SetAlways writes the value unconditionally.
	SetAlways SetMode = iota

	// SetNX writes the value only if the key is absent.
	SetNX

	// SetXX writes the value only if the key already exists.
	SetXX
)

// String returns the mode name used in logs and metric labels.
func (m SetMode) String() string {
	switch m {
	case SetAlways:
		return "always"
	case SetNX:
		return "nx"
	case SetXX:
		return "xx"
	default:
		return "unknown"
	}
}

// Store is a namespaced key-value backend with TTL support.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Get reports false for absent keys and for values that fail to decode.
//   - Set reports false, without an error, when a SetNX/SetXX condition
//     rejects the write. A ttl of 0 means no expiry.
//   - Delete is idempotent.
type Store interface {
	// Namespace returns the namespace this store prefixes keys with.
	Namespace() string

	// Has reports whether key exists.
	Has(ctx context.Context, key string) (bool, error)

	// Get decodes the value stored under key into dst.
	Get(ctx context.Context, key string, dst any) (bool, error)

	// Set encodes value and stores it under key.
	Set(ctx context.Context, key string, value any, ttl time.Duration, mode SetMode) (bool, error)

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Flush removes every key in the namespace.
	Flush(ctx context.Context) error
}
