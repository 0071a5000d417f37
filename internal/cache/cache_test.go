package cache

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/weather-map-service/internal/models"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func sampleWeather(temp int) models.WeatherData {
	return models.WeatherData{
		Current: models.WeatherSnapshot{Temp: temp, Description: "clear sky", Icon: "01d", Humidity: 40, WindSpeedKmh: 18},
	}
}

// TestKey verifies two-decimal rounding of coordinates, including negative values
// and negative zero.
func TestKey(t *testing.T) {
	tests := []struct {
		lat, lng float64
		want     string
	}{
		{40.7128, -74.006, "40.71,-74.01"},
		{40.71279, -74.0059, "40.71,-74.01"},
		{40.71280, -74.0061, "40.71,-74.01"},
		{51.5074, -0.1278, "51.51,-0.13"},
		{-33.8688, 151.2093, "-33.87,151.21"},
		{-0.001, 0.004, "-0.00,0.00"},
		{0, 0, "0.00,0.00"},
		{math.Copysign(0, -1), 0, "0.00,0.00"},
		// Exact halves round away from zero.
		{40.125, -74.125, "40.13,-74.13"},
		{0.375, 0.625, "0.38,0.63"},
		{18.375, -0.875, "18.38,-0.88"},
		{-0.005, 0.005, "-0.01,0.01"}, // not exact halves in binary: nearest wins
		{89.999, -179.999, "90.00,-180.00"},
	}
	for _, tt := range tests {
		if got := Key(tt.lat, tt.lng); got != tt.want {
			t.Errorf("Key(%v, %v) = %q, want %q", tt.lat, tt.lng, got, tt.want)
		}
	}
}

// TestInMemoryCache_GetSet verifies that Set stores values and Get retrieves them.
func TestInMemoryCache_GetSet(t *testing.T) {
	ctx := context.Background()
	c := NewInMemoryCache()

	val := sampleWeather(12)
	if err := c.Set(ctx, "47.61,-122.33", val, time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, ok, err := c.Get(ctx, "47.61,-122.33")
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

// TestInMemoryCache_Get_Miss verifies that Get returns ok=false for an unknown key.
func TestInMemoryCache_Get_Miss(t *testing.T) {
	c := NewInMemoryCache()

	_, ok, err := c.Get(context.Background(), "nonexistent")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if ok {
		t.Error("Get() ok = true, want false for miss")
	}
}

// TestInMemoryCache_Get_Expired verifies that an entry is served while younger than
// the TTL and is removed on the first read at or after the TTL.
func TestInMemoryCache_Get_Expired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCacheWithClock(clock.Now)

	if err := c.Set(ctx, "k", sampleWeather(1), 10*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	clock.Advance(10*time.Minute - time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); !ok {
		t.Fatal("Get() just before TTL ok = false, want true")
	}

	clock.Advance(time.Millisecond)
	if _, ok, _ := c.Get(ctx, "k"); ok {
		t.Error("Get() at TTL ok = true, want false")
	}
	if n := c.Len(); n != 0 {
		t.Errorf("Len() after expired Get = %d, want 0", n)
	}
}

// TestInMemoryCache_ExpiryIsLazy verifies expired entries stay in the map until read.
func TestInMemoryCache_ExpiryIsLazy(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCacheWithClock(clock.Now)

	_ = c.Set(ctx, "a", sampleWeather(1), time.Minute)
	_ = c.Set(ctx, "b", sampleWeather(2), time.Minute)
	clock.Advance(time.Hour)

	if n := c.Len(); n != 2 {
		t.Fatalf("Len() before any read = %d, want 2", n)
	}
	_, _, _ = c.Get(ctx, "a")
	if n := c.Len(); n != 1 {
		t.Errorf("Len() after reading one expired key = %d, want 1", n)
	}
}

// TestInMemoryCache_SetOverwrites verifies Set replaces the value and restarts the TTL.
func TestInMemoryCache_SetOverwrites(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	c := NewInMemoryCacheWithClock(clock.Now)

	_ = c.Set(ctx, "k", sampleWeather(1), time.Minute)
	clock.Advance(50 * time.Second)
	_ = c.Set(ctx, "k", sampleWeather(2), time.Minute)
	clock.Advance(50 * time.Second)

	got, ok, _ := c.Get(ctx, "k")
	if !ok {
		t.Fatal("Get() ok = false, want true after overwrite refreshed TTL")
	}
	if got.Current.Temp != 2 {
		t.Errorf("Get().Current.Temp = %d, want 2", got.Current.Temp)
	}
}

// TestWeatherCache_BucketSharing verifies nearby coordinates share one bucket.
func TestWeatherCache_BucketSharing(t *testing.T) {
	ctx := context.Background()
	wc := NewWeatherCache(NewInMemoryCacheWithClock(newFakeClock().Now), 0, nil)

	data := sampleWeather(21)
	wc.Put(ctx, 40.7128, -74.006, data)

	for _, p := range [][2]float64{{40.71279, -74.0059}, {40.71280, -74.0061}} {
		got, ok := wc.Get(ctx, p[0], p[1])
		if !ok {
			t.Fatalf("Get(%v, %v) ok = false, want hit in shared bucket", p[0], p[1])
		}
		if got != data {
			t.Errorf("Get(%v, %v) = %+v, want %+v", p[0], p[1], got, data)
		}
	}
	if _, ok := wc.Get(ctx, 40.72, -74.006); ok {
		t.Error("Get() in neighbouring bucket ok = true, want false")
	}
}

// TestWeatherCache_TTL verifies the default ten-minute lifetime end to end.
func TestWeatherCache_TTL(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	backend := NewInMemoryCacheWithClock(clock.Now)
	wc := NewWeatherCache(backend, 0, nil)

	if wc.TTL() != 10*time.Minute {
		t.Fatalf("TTL() = %v, want 10m", wc.TTL())
	}

	wc.Put(ctx, 51.5074, -0.1278, sampleWeather(10))
	if _, ok := wc.Get(ctx, 51.5074, -0.1278); !ok {
		t.Fatal("Get() immediately after Put ok = false, want true")
	}

	clock.Advance(10 * time.Minute)
	if _, ok := wc.Get(ctx, 51.5074, -0.1278); ok {
		t.Error("Get() after TTL ok = true, want false")
	}
	if backend.Len() != 0 {
		t.Errorf("backend Len() = %d, want 0 after expired read", backend.Len())
	}
}

type failingCache struct{}

func (failingCache) Get(ctx context.Context, key string) (models.WeatherData, bool, error) {
	return models.WeatherData{}, false, errors.New("connection refused")
}

func (failingCache) Set(ctx context.Context, key string, value models.WeatherData, ttl time.Duration) error {
	return errors.New("connection refused")
}

// TestWeatherCache_BackendErrorsAreMisses verifies backend failures are logged and
// reported as a miss rather than returned.
func TestWeatherCache_BackendErrorsAreMisses(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	wc := NewWeatherCache(failingCache{}, time.Minute, zap.New(core))

	wc.Put(context.Background(), 1, 2, sampleWeather(3))
	if _, ok := wc.Get(context.Background(), 1, 2); ok {
		t.Error("Get() ok = true, want false when backend fails")
	}
	if n := logs.FilterMessage("cache set failed").Len(); n != 1 {
		t.Errorf("cache set failed logs = %d, want 1", n)
	}
	if n := logs.FilterMessage("cache get failed").Len(); n != 1 {
		t.Errorf("cache get failed logs = %d, want 1", n)
	}
}
