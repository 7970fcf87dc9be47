package progress_test

import (
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/p-n-ai/pai-learn/internal/progress"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in short mode")
	}

	ctx := t.Context()
	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("redis container unavailable: %v", err)
	}
	testcontainers.CleanupContainer(t, ctr)

	endpoint, err := ctr.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Endpoint() error = %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisCache_RoundTrip(t *testing.T) {
	client := startRedis(t)
	c := progress.NewRedisCache(client, "test")
	ctx := t.Context()
	at := time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC)

	added, err := c.Add(ctx, "u1", "go", "intro", at)
	if err != nil || !added {
		t.Fatalf("Add() = %v, %v; want true, nil", added, err)
	}
	added, err = c.Add(ctx, "u1", "go", "intro", at.Add(time.Hour))
	if err != nil || added {
		t.Fatalf("duplicate Add() = %v, %v; want false, nil", added, err)
	}

	got, err := c.Completions(ctx, "u1", "go")
	if err != nil {
		t.Fatalf("Completions() error = %v", err)
	}
	if !got["intro"].Equal(at) {
		t.Errorf("completed_at = %v, want %v", got["intro"], at)
	}

	if err := c.Remove(ctx, "u1", "go", "intro"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	_, _ = c.Add(ctx, "u1", "go", "other", at)
	if err := c.Clear(ctx, "u1", "go"); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	got, _ = c.Completions(ctx, "u1", "go")
	if len(got) != 0 {
		t.Errorf("Completions() after Clear = %v, want empty", got)
	}
}
