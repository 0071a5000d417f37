package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// DefaultTTL is how long a fetched result stays valid.
const DefaultTTL = 10 * time.Minute

// WeatherCache puts a coordinate-bucketed, TTL-bounded cache in front of weather
// fetches. Backend failures are logged and counted but never surface to callers:
// a failed Get is a miss and a failed Put is dropped.
type WeatherCache struct {
	backend Cache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewWeatherCache wraps backend. A non-positive ttl uses DefaultTTL.
func NewWeatherCache(backend Cache, ttl time.Duration, logger *zap.Logger) *WeatherCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WeatherCache{backend: backend, ttl: ttl, logger: logger}
}

// TTL returns the configured time-to-live.
func (c *WeatherCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the cached data for the bucket containing (lat, lng).
func (c *WeatherCache) Get(ctx context.Context, lat, lng float64) (models.WeatherData, bool) {
	key := Key(lat, lng)
	start := time.Now()
	data, ok, err := c.backend.Get(ctx, key)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get").Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(duration)
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		return models.WeatherData{}, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(duration)
	if !ok {
		observability.CacheMissesTotal.Inc()
		return models.WeatherData{}, false
	}
	observability.CacheHitsTotal.Inc()
	return data, true
}

// Put stores data for the bucket containing (lat, lng), replacing any prior entry.
func (c *WeatherCache) Put(ctx context.Context, lat, lng float64, data models.WeatherData) {
	key := Key(lat, lng)
	start := time.Now()
	err := c.backend.Set(ctx, key, data, c.ttl)
	duration := time.Since(start).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("set").Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(duration)
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(duration)
}
