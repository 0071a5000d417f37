package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-map-service/internal/cache"
	"github.com/kjstillabower/weather-map-service/internal/catalog"
	"github.com/kjstillabower/weather-map-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-map-service/internal/client"
	"github.com/kjstillabower/weather-map-service/internal/config"
	httphandler "github.com/kjstillabower/weather-map-service/internal/http"
	"github.com/kjstillabower/weather-map-service/internal/health"
	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/service"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = observability.Flush(logger) }()

	if cfg.WeatherAPIKey == "" {
		logger.Warn("WEATHER_API_KEY is not set; weather requests will fail until it is configured")
	}

	weatherClient := client.NewOpenWeatherClient(client.Options{
		APIKey:  cfg.WeatherAPIKey,
		BaseURL: cfg.WeatherAPIURL,
		Timeout: cfg.WeatherAPITimeout,
	})
	if cfg.CircuitBreakerEnabled {
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			OpenTimeout:      cfg.CircuitBreakerTimeout,
			IsFailure:        client.IsUpstreamFault,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.CircuitBreakerTransitionsTotal.WithLabelValues(from.String(), to.String()).Inc()
				observability.CircuitBreakerState.Set(float64(to))
				logger.Warn("circuit breaker state change", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		weatherClient.SetCircuitBreaker(cb)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var (
		backend   cache.Cache
		cachePing func(context.Context) error
		closer    func() error
	)
	switch cfg.CacheBackend {
	case config.BackendMemcached:
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		backend, cachePing, closer = mc, mc.Ping, mc.Close
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	case config.BackendRedis:
		connectCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.ConnectRedis(connectCtx, cfg.RedisURL)
		cancel()
		if err != nil {
			logger.Fatal("redis cache", zap.Error(err))
		}
		backend, cachePing, closer = rc, rc.Ping, rc.Close
		logger.Info("cache backend: redis")
	default:
		backend = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}
	weatherCache := cache.NewWeatherCache(backend, cfg.CacheTTL, logger)

	appCtx, appCancel := context.WithCancel(context.Background())
	defer appCancel()

	weatherService := service.NewWeatherService(weatherClient, weatherCache, service.Options{
		QueueDelay: cfg.QueueDelay,
		Logger:     logger,
	})
	weatherService.Start(appCtx)

	monitor := health.NewMonitor(health.Config{
		Window:           cfg.HealthWindow,
		DegradedErrorPct: cfg.DegradedErrorPct,
		OverloadDenials:  cfg.OverloadDenials,
	})
	handler := httphandler.NewHandler(weatherService, monitor, logger, httphandler.HandlerOptions{
		CachePing:       cachePing,
		SearchMaxLength: cfg.SearchMaxLength,
		Version:         version,
	})
	inFlight := &httphandler.InFlightTracker{}
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst),
		Monitor:        monitor,
		RequestTimeout: cfg.RequestTimeout,
		InFlight:       inFlight,
	})

	if cfg.WarmCache && weatherService.Configured() {
		warmer := cache.NewWarmer(weatherService, logger)
		go func() {
			var err error
			if cfg.WarmInterval > 0 {
				err = warmer.WarmPeriodic(appCtx, catalog.All(), cfg.WarmInterval)
			} else {
				err = warmer.Warm(appCtx, catalog.All())
			}
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("cache warming stopped", zap.Error(err))
			}
		}()
	}

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("version", version))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	monitor.SetDraining(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := inFlight.WaitForZero(shutdownCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", inFlight.Count()))
	}

	appCancel()
	weatherService.Stop()
	if closer != nil {
		if err := closer(); err != nil {
			logger.Error("cache close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}
