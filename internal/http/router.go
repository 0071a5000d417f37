package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-map-service/internal/health"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// RouterConfig holds the middleware settings for NewRouter.
type RouterConfig struct {
	Logger *zap.Logger
	// Limiter guards the weather routes. nil disables rate limiting.
	Limiter *rate.Limiter
	Monitor *health.Monitor
	// RequestTimeout bounds the weather routes. 0 disables the deadline.
	RequestTimeout time.Duration
	InFlight       *InFlightTracker
}

// NewRouter wires every route. Weather routes, which may queue an upstream fetch, sit
// behind the rate limiter and request timeout; catalog routes and /health do not.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(cfg.Logger))
	router.Use(MetricsMiddleware)
	if cfg.InFlight != nil {
		router.Use(cfg.InFlight.Middleware())
	}

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/cities", h.ListCities).Methods(http.MethodGet)
	router.HandleFunc("/cities/nearest", h.NearestCity).Methods(http.MethodGet)
	router.HandleFunc("/cities/{id:[^/]+}", h.GetCity).Methods(http.MethodGet)

	weather := router.NewRoute().Subrouter()
	weather.Use(RateLimitMiddleware(cfg.Limiter, cfg.Monitor))
	if cfg.RequestTimeout > 0 {
		weather.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	weather.HandleFunc("/cities/{id:[^/]+}/weather", h.GetCityWeather).Methods(http.MethodGet)
	weather.HandleFunc("/weather", h.GetWeather).Methods(http.MethodGet)

	return router
}
