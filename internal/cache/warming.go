package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// WeatherFetcher is implemented by the service layer. It populates the cache on success.
// Declared here to avoid a dependency on the service package.
type WeatherFetcher interface {
	GetWeather(ctx context.Context, lat, lng float64) (models.WeatherData, bool, error)
}

// Warmer prefetches weather for a list of cities so first clicks are served from cache.
type Warmer struct {
	fetcher WeatherFetcher
	logger  *zap.Logger
}

func NewWarmer(fetcher WeatherFetcher, logger *zap.Logger) *Warmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{fetcher: fetcher, logger: logger}
}

// warmConcurrency bounds how many warm requests wait on the fetcher at once.
const warmConcurrency = 4

// Warm requests every city, at most warmConcurrency at a time. Upstream calls are
// still serialised by the fetcher's queue. One failed city does not stop the others;
// all failures are joined into the returned error. Cancelling ctx stops dispatching
// and the cancellation is part of the returned error.
func (w *Warmer) Warm(ctx context.Context, cities []models.City) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming cache", zap.Int("cities", len(cities)))

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for _, city := range cities {
		city := city
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, _, err := w.fetcher.GetWeather(gctx, city.Lat, city.Lng); err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", city.Name, err))
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		errs = append(errs, fmt.Errorf("warm aborted: %w", err))
	}

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("cache warming complete",
		zap.Int("cities", len(cities)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return errors.Join(errs...)
	}
	return nil
}

// WarmPeriodic runs Warm immediately and then every interval until ctx is done.
func (w *Warmer) WarmPeriodic(ctx context.Context, cities []models.City, interval time.Duration) error {
	if err := w.Warm(ctx, cities); err != nil {
		w.logger.Warn("initial cache warm failed", zap.Error(err))
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.Warm(ctx, cities); err != nil {
				w.logger.Warn("periodic cache warm failed", zap.Error(err))
			}
		}
	}
}
