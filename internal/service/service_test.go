package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/client"
	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/queue"
)

type mockWeatherClient struct {
	mu      sync.Mutex
	calls   []queue.Request
	weather models.WeatherData
	err     error
	// started, when set, receives once per call before release is awaited.
	started chan struct{}
	release chan struct{}
}

func (m *mockWeatherClient) Fetch(ctx context.Context, lat, lng float64) (models.WeatherData, error) {
	m.mu.Lock()
	m.calls = append(m.calls, queue.Request{Lat: lat, Lng: lng})
	m.mu.Unlock()
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		<-m.release
	}
	return m.weather, m.err
}

func (m *mockWeatherClient) Configured() bool { return true }

func (m *mockWeatherClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func sampleWeather(temp int) models.WeatherData {
	return models.WeatherData{
		Current: models.WeatherSnapshot{Temp: temp, Description: "clear sky", Icon: "01d", Humidity: 40, WindSpeedKmh: 11},
		Forecast: models.Forecast{
			Today:    models.DayForecast{TempMax: temp + 3, TempMin: temp - 4, Description: "clear sky", Icon: "01d"},
			Tomorrow: models.DayForecast{TempMax: temp + 1, TempMin: temp - 5, Description: "light rain", Icon: "10d"},
		},
	}
}

// newTestService returns a started service over an in-memory cache driven by clock.
func newTestService(t *testing.T, c client.WeatherClient, clock *fakeClock) (*WeatherService, *cache.WeatherCache) {
	t.Helper()
	wc := cache.NewWeatherCache(cache.NewInMemoryCacheWithClock(clock.Now), cache.DefaultTTL, nil)
	s := NewWeatherService(c, wc, Options{QueueDelay: time.Millisecond})
	s.Start(context.Background())
	t.Cleanup(s.Stop)
	return s, wc
}

// TestWeatherService_FetchWeather_BypassesCache verifies FetchWeather always calls
// upstream and never populates the cache.
func TestWeatherService_FetchWeather_BypassesCache(t *testing.T) {
	mc := &mockWeatherClient{weather: sampleWeather(10)}
	s, wc := newTestService(t, mc, &fakeClock{now: time.Now()})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		got, err := s.FetchWeather(ctx, 51.5074, -0.1278)
		if err != nil {
			t.Fatalf("FetchWeather() error = %v", err)
		}
		if got != sampleWeather(10) {
			t.Errorf("FetchWeather() = %+v, want %+v", got, sampleWeather(10))
		}
	}
	if n := mc.callCount(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
	if _, ok := wc.Get(ctx, 51.5074, -0.1278); ok {
		t.Error("FetchWeather populated the cache")
	}
}

// TestWeatherService_GetWeather_CacheAside verifies a miss fetches and caches, and a
// later request in the same bucket is a hit.
func TestWeatherService_GetWeather_CacheAside(t *testing.T) {
	mc := &mockWeatherClient{weather: sampleWeather(22)}
	s, _ := newTestService(t, mc, &fakeClock{now: time.Now()})
	ctx := context.Background()

	got, cached, err := s.GetWeather(ctx, 40.7128, -74.006)
	if err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	if cached {
		t.Error("first GetWeather() cached = true, want false")
	}
	if got != sampleWeather(22) {
		t.Errorf("GetWeather() = %+v", got)
	}

	for _, p := range [][2]float64{{40.71279, -74.0059}, {40.71280, -74.0061}} {
		got, cached, err := s.GetWeather(ctx, p[0], p[1])
		if err != nil || !cached {
			t.Fatalf("GetWeather(%v) = cached %v, err %v; want cache hit", p, cached, err)
		}
		if got != sampleWeather(22) {
			t.Errorf("GetWeather(%v) = %+v", p, got)
		}
	}
	if n := mc.callCount(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
}

// TestWeatherService_GetWeather_TTLExpiry verifies an entry older than the TTL is refetched.
func TestWeatherService_GetWeather_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)}
	mc := &mockWeatherClient{weather: sampleWeather(5)}
	s, _ := newTestService(t, mc, clock)
	ctx := context.Background()

	if _, _, err := s.GetWeather(ctx, 1, 2); err != nil {
		t.Fatalf("GetWeather() error = %v", err)
	}
	clock.Advance(cache.DefaultTTL - time.Second)
	if _, cached, _ := s.GetWeather(ctx, 1, 2); !cached {
		t.Error("GetWeather() before TTL cached = false, want true")
	}
	clock.Advance(time.Second)
	if _, cached, _ := s.GetWeather(ctx, 1, 2); cached {
		t.Error("GetWeather() at TTL cached = true, want false")
	}
	if n := mc.callCount(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

// TestWeatherService_GetWeather_ErrorNotCached verifies failures propagate with their
// category intact and are not cached.
func TestWeatherService_GetWeather_ErrorNotCached(t *testing.T) {
	mc := &mockWeatherClient{err: client.ErrRateLimited}
	s, wc := newTestService(t, mc, &fakeClock{now: time.Now()})
	ctx := context.Background()

	_, _, err := s.GetWeather(ctx, 35.6762, 139.6503)
	if !errors.Is(err, client.ErrRateLimited) {
		t.Fatalf("GetWeather() error = %v, want ErrRateLimited", err)
	}
	if client.CategorizeError(err) != client.ErrorCategoryRateLimited {
		t.Errorf("CategorizeError() = %q", client.CategorizeError(err))
	}
	if _, ok := wc.Get(ctx, 35.6762, 139.6503); ok {
		t.Error("failed fetch was cached")
	}

	if _, _, err := s.GetWeather(ctx, 35.6762, 139.6503); err == nil {
		t.Error("second GetWeather() error = nil, want retry to hit upstream again")
	}
	if n := mc.callCount(); n != 2 {
		t.Errorf("upstream calls = %d, want 2", n)
	}
}

// TestWeatherService_GetWeather_Coalesces verifies concurrent misses for one bucket
// share a single queued fetch.
func TestWeatherService_GetWeather_Coalesces(t *testing.T) {
	mc := &mockWeatherClient{
		weather: sampleWeather(18),
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
	s, _ := newTestService(t, mc, &fakeClock{now: time.Now()})
	ctx := context.Background()
	before := testutil.ToFloat64(observability.CoalescedRequestsTotal)

	const callers = 5
	var wg sync.WaitGroup
	var failures int32
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := s.GetWeather(ctx, 48.8566, 2.3522)
			if err != nil || got != sampleWeather(18) {
				atomic.AddInt32(&failures, 1)
			}
		}()
		if i == 0 {
			<-mc.started
		}
	}
	time.Sleep(50 * time.Millisecond)
	close(mc.release)
	wg.Wait()

	if failures != 0 {
		t.Errorf("%d callers failed", failures)
	}
	if n := mc.callCount(); n != 1 {
		t.Errorf("upstream calls = %d, want 1", n)
	}
	if d := testutil.ToFloat64(observability.CoalescedRequestsTotal) - before; d != callers {
		t.Errorf("coalesced delta = %v, want %d", d, callers)
	}
}

// TestWeatherService_GetWeather_CallerGivesUp verifies a cancelled caller returns
// promptly while the shared fetch still completes and fills the cache.
func TestWeatherService_GetWeather_CallerGivesUp(t *testing.T) {
	mc := &mockWeatherClient{
		weather: sampleWeather(3),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	s, wc := newTestService(t, mc, &fakeClock{now: time.Now()})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, _, err := s.GetWeather(ctx, 55.7558, 37.6173)
		errc <- err
	}()
	<-mc.started
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Fatalf("GetWeather() error = %v, want context.Canceled", err)
	}

	close(mc.release)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := wc.Get(context.Background(), 55.7558, 37.6173); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("detached fetch did not populate the cache")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestWeatherService_Stop verifies fetches after Stop fail with queue.ErrStopped.
func TestWeatherService_Stop(t *testing.T) {
	mc := &mockWeatherClient{weather: sampleWeather(1)}
	s, _ := newTestService(t, mc, &fakeClock{now: time.Now()})
	s.Stop()

	_, err := s.FetchWeather(context.Background(), 1, 1)
	if !errors.Is(err, queue.ErrStopped) {
		t.Fatalf("FetchWeather() error = %v, want queue.ErrStopped", err)
	}
	_, _, err = s.GetWeather(context.Background(), 1, 1)
	if client.CategorizeError(err) != client.ErrorCategoryQueueStopped {
		t.Errorf("CategorizeError(%v) = %q, want queue_stopped", err, client.CategorizeError(err))
	}
	if mc.callCount() != 0 {
		t.Errorf("upstream calls = %d, want 0", mc.callCount())
	}
	if !s.Configured() {
		t.Error("Configured() = false")
	}
	if s.QueueLen() != 0 {
		t.Errorf("QueueLen() = %d, want 0", s.QueueLen())
	}
}
