//go:build integration

package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_FixedWindow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)
	ctx := context.Background()
	p := Policy{Limit: 3, Window: 500 * time.Millisecond}

	var allowed []bool
	for i := 0; i < 4; i++ {
		d, err := store.Admit(ctx, "download:1.2.3.4", p)
		if err != nil {
			t.Fatalf("Admit() error = %v", err)
		}
		allowed = append(allowed, d.Allowed)
	}
	if fmt.Sprint(allowed) != "[true true true false]" {
		t.Errorf("allowed = %v, want [true true true false]", allowed)
	}

	ttl, err := redisClient.PTTL(ctx, RedisKeyPrefix+":download:1.2.3.4").Result()
	if err != nil {
		t.Fatalf("PTTL error = %v", err)
	}
	if ttl <= 0 || ttl > p.Window {
		t.Errorf("Expected key TTL within the window, got %v", ttl)
	}

	time.Sleep(p.Window + 100*time.Millisecond)

	d, err := store.Admit(ctx, "download:1.2.3.4", p)
	if err != nil {
		t.Fatalf("Admit() error = %v", err)
	}
	if !d.Allowed || d.Remaining != 2 {
		t.Errorf("Expected fresh window, got %+v", d)
	}
}

func TestRedisStore_Integration_Peek(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)
	ctx := context.Background()
	p := Policy{Limit: 2, Window: time.Minute}

	d, err := store.Peek(ctx, "info:x", p)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if !d.Allowed || d.Remaining != 2 {
		t.Errorf("Peek on unknown key = %+v", d)
	}
	if n, _ := redisClient.Exists(ctx, RedisKeyPrefix+":info:x").Result(); n != 0 {
		t.Error("Peek must not create a key")
	}

	_, _ = store.Admit(ctx, "info:x", p)
	d, err = store.Peek(ctx, "info:x", p)
	if err != nil {
		t.Fatalf("Peek() error = %v", err)
	}
	if d.Remaining != 1 || d.RetryAfter(time.Now()) <= 0 {
		t.Errorf("Peek after admission = %+v", d)
	}
}

func TestRedisStore_Integration_Concurrent(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(redisClient)
	p := Policy{Limit: 10, Window: time.Minute}

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := store.Admit(context.Background(), "download:shared", p)
			if err == nil && d.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := admitted.Load(); got != 10 {
		t.Errorf("admitted = %d, want exactly 10", got)
	}
}

func TestLimiter_Integration_FailsOpenWhenRedisDown(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	l := NewLimiter(NewRedisStore(redisClient), map[Operation]Policy{
		OperationDownload: {Limit: 1, Window: time.Minute},
	}, zerolog.Nop())

	ctx := context.Background()
	if d := l.Admit(ctx, OperationDownload, "c"); !d.Allowed {
		t.Fatal("Expected first admission")
	}
	if d := l.Admit(ctx, OperationDownload, "c"); d.Allowed {
		t.Fatal("Expected second admission to be rejected")
	}

	redisClient.Close()

	if d := l.Admit(ctx, OperationDownload, "c"); !d.Allowed {
		t.Error("Expected fail-open admission when Redis is unreachable")
	}
}
