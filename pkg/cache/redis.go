package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// flushBatchSize bounds how many keys a single DEL carries during Flush.
const flushBatchSize = 500

// RemoteStore is a Store backed by Redis. Keys are stored as
// {prefix}:{namespace}:{key}.
type RemoteStore struct {
	redis     redis.UniversalClient
	prefix    string
	namespace string
	codec     Codec
	logger    zerolog.Logger

	// reads collapses concurrent GETs of one key into a single round trip.
	reads singleflight.Group
}

// RemoteOptions configures a RemoteStore.
type RemoteOptions struct {
	// Prefix is the global key prefix shared by every namespace.
	Prefix string

	// Codec serializes values (default: JSONCodec).
	Codec Codec

	// Logger receives decode failures (default: disabled).
	Logger *zerolog.Logger
}

// NewRemoteStore creates a Redis-backed store for one namespace.
func NewRemoteStore(client redis.UniversalClient, namespace string, opts RemoteOptions) (*RemoteStore, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if opts.Codec == nil {
		opts.Codec = JSONCodec{}
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &RemoteStore{
		redis:     client,
		prefix:    opts.Prefix,
		namespace: namespace,
		codec:     opts.Codec,
		logger:    logger.With().Str("namespace", namespace).Logger(),
	}, nil
}

// Namespace returns the store namespace.
func (s *RemoteStore) Namespace() string { return s.namespace }

// Key returns the fully qualified Redis key for key.
func (s *RemoteStore) Key(key string) string {
	if s.prefix == "" {
		return s.namespace + ":" + key
	}
	return s.prefix + ":" + s.namespace + ":" + key
}

// Has reports whether key exists in Redis.
func (s *RemoteStore) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.redis.Exists(ctx, s.Key(key)).Result()
	if err != nil {
		StoreErrors.WithLabelValues(s.namespace, "has").Inc()
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Get loads key and decodes it into dst.
// A value that cannot be decoded is reported as a miss.
func (s *RemoteStore) Get(ctx context.Context, key string, dst any) (bool, error) {
	fullKey := s.Key(key)

	// The shared GET must outlive any single caller; each caller still
	// stops waiting on its own context.
	shared := context.WithoutCancel(ctx)
	results := s.reads.DoChan(fullKey, func() (any, error) {
		data, err := s.redis.Get(shared, fullKey).Bytes()
		if errors.Is(err, redis.Nil) {
			return []byte(nil), nil
		}
		return data, err
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		StoreErrors.WithLabelValues(s.namespace, "get").Inc()
		return false, fmt.Errorf("redis get: %w", ctx.Err())
	case res = <-results:
	}
	if res.Err != nil {
		StoreErrors.WithLabelValues(s.namespace, "get").Inc()
		return false, fmt.Errorf("redis get: %w", res.Err)
	}

	data := res.Val.([]byte)
	if data == nil {
		StoreMisses.WithLabelValues(s.namespace).Inc()
		return false, nil
	}

	if err := s.codec.Unmarshal(data, dst); err != nil {
		StoreErrors.WithLabelValues(s.namespace, "decode").Inc()
		StoreMisses.WithLabelValues(s.namespace).Inc()
		s.logger.Debug().Err(err).Str("key", key).Str("codec", s.codec.Name()).Msg("Discarding undecodable value")
		return false, nil
	}

	StoreHits.WithLabelValues(s.namespace).Inc()
	return true, nil
}

// Set encodes value and writes it with the given TTL and mode.
func (s *RemoteStore) Set(ctx context.Context, key string, value any, ttl time.Duration, mode SetMode) (bool, error) {
	if ttl < 0 {
		ttl = 0
	}

	data, err := s.codec.Marshal(value)
	if err != nil {
		StoreErrors.WithLabelValues(s.namespace, "set").Inc()
		return false, fmt.Errorf("marshal %s value: %w", s.codec.Name(), err)
	}

	fullKey := s.Key(key)
	var ok bool
	switch mode {
	case SetAlways:
		err = s.redis.Set(ctx, fullKey, data, ttl).Err()
		ok = err == nil
	case SetNX:
		ok, err = s.redis.SetNX(ctx, fullKey, data, ttl).Result()
	case SetXX:
		ok, err = s.redis.SetXX(ctx, fullKey, data, ttl).Result()
	default:
		return false, ErrInvalidMode
	}
	if err != nil {
		StoreErrors.WithLabelValues(s.namespace, "set").Inc()
		return false, fmt.Errorf("redis set %s: %w", mode, err)
	}
	if !ok {
		StoreRejections.WithLabelValues(s.namespace, mode.String()).Inc()
		return false, nil
	}

	StoreBytesWritten.WithLabelValues(s.namespace).Add(float64(len(data)))
	return true, nil
}

// Delete removes key.
func (s *RemoteStore) Delete(ctx context.Context, key string) error {
	if err := s.redis.Del(ctx, s.Key(key)).Err(); err != nil {
		StoreErrors.WithLabelValues(s.namespace, "delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Flush deletes every key under this store's namespace using SCAN.
func (s *RemoteStore) Flush(ctx context.Context) error {
	iter := s.redis.Scan(ctx, 0, s.Key("*"), flushBatchSize).Iterator()

	batch := make([]string, 0, flushBatchSize)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == flushBatchSize {
			if err := s.redis.Del(ctx, batch...).Err(); err != nil {
				StoreErrors.WithLabelValues(s.namespace, "flush").Inc()
				return fmt.Errorf("redis del batch: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		StoreErrors.WithLabelValues(s.namespace, "flush").Inc()
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.redis.Del(ctx, batch...).Err(); err != nil {
			StoreErrors.WithLabelValues(s.namespace, "flush").Inc()
			return fmt.Errorf("redis del batch: %w", err)
		}
	}
	return nil
}

var _ Store = (*RemoteStore)(nil)
