// Package service is the weather fetch entry point. Every upstream fetch goes through
// a serial request queue; GetWeather adds the cache-aside composition the map UI uses.
package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/client"
	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/queue"
)

// Options configures a WeatherService. Zero values take defaults.
type Options struct {
	// QueueDelay is the pause after each upstream fetch. Default queue.DefaultDelay.
	QueueDelay time.Duration
	Logger     *zap.Logger
}

// WeatherService orchestrates weather retrieval: cache lookup, coalescing of
// concurrent misses, and queued upstream fetches.
type WeatherService struct {
	client client.WeatherClient
	cache  *cache.WeatherCache
	queue  *queue.Queue
	group  singleflight.Group
	logger *zap.Logger
}

// NewWeatherService wires a client and cache behind a new request queue. Call Start
// before serving requests and Stop on shutdown.
func NewWeatherService(c client.WeatherClient, wc *cache.WeatherCache, opts Options) *WeatherService {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	s := &WeatherService{
		client: c,
		cache:  wc,
		logger: opts.Logger,
	}
	s.queue = queue.New(s.fetch, queue.Options{Delay: opts.QueueDelay, Logger: opts.Logger})
	return s
}

// Start launches the queue worker.
func (s *WeatherService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the queue: the in-flight fetch completes, pending fetches fail with
// queue.ErrStopped.
func (s *WeatherService) Stop() {
	s.queue.Stop()
}

// Configured reports whether the upstream client has an API key.
func (s *WeatherService) Configured() bool {
	return s.client.Configured()
}

// QueueLen returns the number of fetches waiting for the worker.
func (s *WeatherService) QueueLen() int {
	return s.queue.Len()
}

func (s *WeatherService) fetch(ctx context.Context, req queue.Request) (models.WeatherData, error) {
	return s.client.Fetch(ctx, req.Lat, req.Lng)
}

// FetchWeather fetches fresh weather for (lat, lng) through the request queue. It
// never reads or writes the cache and does not retry.
func (s *WeatherService) FetchWeather(ctx context.Context, lat, lng float64) (models.WeatherData, error) {
	return s.queue.Submit(ctx, queue.Request{Lat: lat, Lng: lng})
}

// GetWeather returns weather for (lat, lng) using cache-aside. On a miss, concurrent
// callers for the same coordinate bucket share one queued fetch, and a successful
// result is cached. The bool reports whether the data came from the cache.
//
// The shared fetch is detached from any single caller's cancellation; a caller that
// gives up returns ctx.Err() while the fetch completes for the others.
func (s *WeatherService) GetWeather(ctx context.Context, lat, lng float64) (models.WeatherData, bool, error) {
	start := time.Now()
	logger := observability.LoggerFromContext(ctx, s.logger)
	key := cache.Key(lat, lng)

	if data, ok := s.cache.Get(ctx, lat, lng); ok {
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return data, true, nil
	}
	logger.Debug("cache miss, queueing fetch", zap.String("key", key))

	detached := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		data, err := s.FetchWeather(detached, lat, lng)
		if err != nil {
			return nil, err
		}
		s.cache.Put(detached, lat, lng, data)
		return data, nil
	})

	select {
	case res := <-ch:
		if res.Shared {
			observability.CoalescedRequestsTotal.Inc()
		}
		if res.Err != nil {
			return models.WeatherData{}, false, fmt.Errorf("fetch weather for %s: %w", key, res.Err)
		}
		logger.Debug("weather served", zap.String("key", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
		return res.Val.(models.WeatherData), false, nil
	case <-ctx.Done():
		return models.WeatherData{}, false, ctx.Err()
	}
}
