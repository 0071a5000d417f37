//go:build integration
// +build integration

package cache

import (
	"context"
	"testing"
	"time"
)

// TestMemcachedCache_GetSet_Integration verifies that MemcachedCache stores and
// retrieves values when a memcached server is available.
func TestMemcachedCache_GetSet_Integration(t *testing.T) {
	c := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	defer c.Close()

	ctx := context.Background()
	val := sampleWeather(12)
	if err := c.Set(ctx, Key(47.6062, -122.3321), val, time.Minute); err != nil {
		t.Skipf("Set failed (memcached may not be running): %v", err)
	}

	got, ok, err := c.Get(ctx, Key(47.6062, -122.3321))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !ok {
		t.Fatal("Get() ok = false, want true")
	}
	if got != val {
		t.Errorf("Get() = %+v, want %+v", got, val)
	}
}

// TestMemcachedCache_Miss_Integration verifies a missing key is a miss, not an error.
func TestMemcachedCache_Miss_Integration(t *testing.T) {
	c := NewMemcachedCache("localhost:11211", 500*time.Millisecond, 2)
	defer c.Close()
	if err := c.Ping(context.Background()); err != nil {
		t.Skipf("memcached not reachable: %v", err)
	}

	_, ok, err := c.Get(context.Background(), "no-such-bucket")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false")
	}
}
