//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Sternrassler/viewcache/internal/testutil"
	"github.com/Sternrassler/viewcache/pkg/cache"
	"github.com/Sternrassler/viewcache/pkg/client"
	"github.com/Sternrassler/viewcache/pkg/viewcache"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"
)

// setupRedis creates a Redis container for integration testing.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr: host + ":" + port.Port(),
	})

	cleanup := func() {
		redisClient.Close()
		container.Terminate(ctx)
	}

	return redisClient, cleanup
}

// stack is the proxy pipeline: view cache in front of the upstream client.
type stack struct {
	origin   *testutil.MockOrigin
	registry *cache.Registry
	views    *viewcache.Coalescer
	server   *httptest.Server
}

func newStack(t *testing.T, redisClient *redis.Client, opts viewcache.Options, codec cache.Codec, routes ...string) *stack {
	t.Helper()

	origin := testutil.NewMockOrigin()
	t.Cleanup(origin.Close)

	upstream, err := client.New(client.DefaultConfig(origin.URL(), "integration/1.0"))
	if err != nil {
		t.Fatalf("Failed to create upstream client: %v", err)
	}
	t.Cleanup(func() { upstream.Close() })

	registry := cache.NewRedisRegistry(redisClient, cache.RemoteOptions{Prefix: "it", Codec: codec})
	views, err := viewcache.New(registry, opts)
	if err != nil {
		t.Fatalf("Failed to create view cache: %v", err)
	}

	mux := http.NewServeMux()
	for _, route := range routes {
		mux.Handle(route, views.Route(route, upstream.ProxyHandler()))
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &stack{origin: origin, registry: registry, views: views, server: server}
}

func (s *stack) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()

	resp, err := http.Get(s.server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

// TestSingleWriter tests that concurrent cold requests reach the origin once.
func TestSingleWriter(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	s := newStack(t, redisClient, viewcache.Options{}, nil, "/slow")
	slow := testutil.NewOKResponse(`{"rendered":true}`, "application/json")
	slow.Delay = 300 * time.Millisecond
	s.origin.SetResponse("/slow", slow)

	const n = 20
	statuses := make([]int, n)
	bodies := make([]string, n)

	var g errgroup.Group
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			resp, err := http.Get(s.server.URL + "/slow")
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			statuses[i] = resp.StatusCode
			bodies[i] = string(body)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("request failed: %v", err)
	}

	if got := s.origin.RequestCountFor("/slow"); got != 1 {
		t.Errorf("origin requests = %d, want 1", got)
	}
	for i := range statuses {
		if statuses[i] != http.StatusOK || bodies[i] != `{"rendered":true}` {
			t.Errorf("request %d: %d %s", i, statuses[i], bodies[i])
		}
	}
}

// TestLockLifetime tests the lock TTL is one second below the entry TTL.
func TestLockLifetime(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	s := newStack(t, redisClient, viewcache.Options{TTL: 30 * time.Second}, nil, "/posts")
	ctx := context.Background()

	var lockTTL time.Duration
	s.origin.SetHandler("/posts", func(w http.ResponseWriter, r *http.Request) {
		keys, _ := redisClient.Keys(ctx, "it:view:lock:*").Result()
		if len(keys) == 1 {
			lockTTL, _ = redisClient.PTTL(ctx, keys[0]).Result()
		}
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("ok"))
	})

	s.get(t, "/posts")

	if lockTTL <= 28*time.Second || lockTTL > 29*time.Second {
		t.Errorf("lock TTL = %v, want just under 29s", lockTTL)
	}

	keys, err := redisClient.Keys(ctx, "it:view:get/*").Result()
	if err != nil || len(keys) != 1 {
		t.Fatalf("entry keys = %v (%v), want 1", keys, err)
	}
	entryTTL, _ := redisClient.TTL(ctx, keys[0]).Result()
	if entryTTL <= 28*time.Second || entryTTL > 30*time.Second {
		t.Errorf("entry TTL = %v, want ~30s", entryTTL)
	}

	if locks, _ := redisClient.Keys(ctx, "it:view:lock:*").Result(); len(locks) != 0 {
		t.Errorf("locks left behind: %v", locks)
	}
}

// TestEntryExpiry tests an expired view is populated again.
func TestEntryExpiry(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	s := newStack(t, redisClient, viewcache.Options{TTL: 2 * time.Second}, nil, "/posts")

	resp, _ := s.get(t, "/posts")
	if resp.Header.Get(viewcache.HeaderMiss) != "true" {
		t.Error("first request should populate")
	}

	resp, _ = s.get(t, "/posts")
	if resp.Header.Get(viewcache.HeaderHit) != "true" {
		t.Error("second request should hit")
	}

	time.Sleep(2100 * time.Millisecond)

	resp, _ = s.get(t, "/posts")
	if resp.Header.Get(viewcache.HeaderMiss) != "true" {
		t.Error("request after expiry should populate")
	}
	if got := s.origin.RequestCountFor("/posts"); got != 2 {
		t.Errorf("origin requests = %d, want 2", got)
	}
}

// TestMsgpackEntries tests entries round trip through Redis as msgpack.
func TestMsgpackEntries(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	s := newStack(t, redisClient, viewcache.Options{}, cache.MsgpackCodec{}, "/posts")
	s.origin.SetResponse("/posts", testutil.NewNotFoundResponse())

	s.get(t, "/posts")
	resp, body := s.get(t, "/posts")

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404 replayed from cache", resp.StatusCode)
	}
	if resp.Header.Get(viewcache.HeaderHit) != "true" {
		t.Error("expected a cache hit")
	}
	if body != `{"error": "not found"}` {
		t.Errorf("body = %s", body)
	}
}

// TestFlushNamespace tests flushing across several SCAN batches.
func TestFlushNamespace(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	registry := cache.NewRedisRegistry(redisClient, cache.RemoteOptions{Prefix: "it"})

	views, err := registry.Namespace("view")
	if err != nil {
		t.Fatalf("Namespace failed: %v", err)
	}
	other, err := registry.Namespace("other")
	if err != nil {
		t.Fatalf("Namespace failed: %v", err)
	}

	for i := 0; i < 1200; i++ {
		if _, err := views.Set(ctx, fmt.Sprintf("k%d", i), i, time.Minute, cache.SetAlways); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}
	if _, err := other.Set(ctx, "keep", "me", time.Minute, cache.SetAlways); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	if err := registry.FlushNamespace(ctx, "view"); err != nil {
		t.Fatalf("FlushNamespace failed: %v", err)
	}

	left, _ := redisClient.Keys(ctx, "it:view:*").Result()
	if len(left) != 0 {
		t.Errorf("%d keys left after flush", len(left))
	}
	if ok, _ := other.Has(ctx, "keep"); !ok {
		t.Error("other namespace must survive the flush")
	}
}
