package cache

import (
	"context"
	"time"
)

// NullStore is a Store that never holds anything. It backs namespaces
// when caching is disabled: every read misses and every write is accepted
// and dropped.
type NullStore struct {
	namespace string
}

// NewNullStore returns a NullStore reporting the given namespace.
func NewNullStore(namespace string) *NullStore {
	return &NullStore{namespace: namespace}
}

func (s *NullStore) Namespace() string { return s.namespace }

func (s *NullStore) Has(context.Context, string) (bool, error) { return false, nil }

func (s *NullStore) Get(context.Context, string, any) (bool, error) { return false, nil }

func (s *NullStore) Set(_ context.Context, _ string, _ any, _ time.Duration, mode SetMode) (bool, error) {
	if mode < SetAlways || mode > SetXX {
		return false, ErrInvalidMode
	}
	return true, nil
}

func (s *NullStore) Delete(context.Context, string) error { return nil }

func (s *NullStore) Flush(context.Context) error { return nil }

var _ Store = (*NullStore)(nil)
