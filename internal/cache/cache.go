package cache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/kjstillabower/weather-map-service/internal/models"
)

// Cache defines the interface for weather data caching backends.
// Get returns cached data if present and not expired, Set stores data with TTL.
type Cache interface {
	Get(ctx context.Context, key string) (models.WeatherData, bool, error)
	Set(ctx context.Context, key string, value models.WeatherData, ttl time.Duration) error
}

// Key returns the coordinate bucket for (lat, lng): both rounded to two decimal
// places (about 1.1km) and joined with a comma, e.g. "40.71,-74.01".
//
// Rounding follows the map front end's keys: exact halves round away from zero
// (40.125 → "40.13", -74.125 → "-74.13"), and a value that rounds to zero from
// below keeps its sign ("-0.00"), so it is a different bucket from "0.00".
func Key(lat, lng float64) string {
	return formatCoord(lat) + "," + formatCoord(lng)
}

func formatCoord(v float64) string {
	if v == 0 {
		// Negative zero itself prints unsigned.
		v = 0
	}
	// A float64 sits exactly halfway between two hundredths only when 8v is an odd
	// integer (x.125, x.375, x.625, x.875). FormatFloat rounds those to even.
	if eighths := math.Abs(v) * 8; eighths == math.Trunc(eighths) && eighths < 1<<50 && math.Mod(eighths, 2) == 1 {
		hundredths := (int64(eighths)*25 + 1) / 2
		sign := ""
		if v < 0 {
			sign = "-"
		}
		return fmt.Sprintf("%s%d.%02d", sign, hundredths/100, hundredths%100)
	}
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// InMemoryCache implements Cache using a map with TTL-based expiration.
// Expired entries are removed on access; nothing sweeps them proactively and the
// map has no size bound. Safe for concurrent use.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
	now  func() time.Time
}

type cacheEntry struct {
	value     models.WeatherData
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache on the wall clock.
func NewInMemoryCache() *InMemoryCache {
	return NewInMemoryCacheWithClock(time.Now)
}

// NewInMemoryCacheWithClock creates an in-memory cache that reads time from now.
func NewInMemoryCacheWithClock(now func() time.Time) *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
		now:  now,
	}
}

// Get retrieves cached weather data for the key while its age is below the TTL.
// An expired entry is deleted and reported as a miss.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.WeatherData, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return models.WeatherData{}, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return models.WeatherData{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores weather data under key, overwriting any prior entry.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.WeatherData, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: c.now().Add(ttl),
	}
	return nil
}

// Len returns the number of entries held, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}
