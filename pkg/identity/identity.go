// Package identity attaches the caller identity to requests so that cached
// views can be partitioned per caller.
package identity

import (
	"context"
	"errors"
)

// Sentinel errors returned by the Authenticator.
var (
	ErrMissingToken = errors.New("identity: missing bearer token")
	ErrInvalidToken = errors.New("identity: invalid token")
	ErrTokenExpired = errors.New("identity: token expired")
)

// Identity is an authenticated caller.
type Identity struct {
	// Principal is the unique caller identifier (the "sub" claim by default).
	Principal string

	// TenantID is the tenant the caller belongs to, if any.
	TenantID string
}

// CacheValue returns the value mixed into view cache keys.
// Anonymous callers yield nil so that all of them share one entry.
func (id *Identity) CacheValue() any {
	if id == nil || id.Principal == "" {
		return nil
	}
	if id.TenantID == "" {
		return id.Principal
	}
	return id.TenantID + "/" + id.Principal
}

type contextKey int

const identityKey contextKey = iota

// WithIdentity returns a new context carrying id.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity attached to ctx, or nil.
func FromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityKey).(*Identity)
	return id
}
