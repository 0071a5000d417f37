package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/weather-map-service/internal/catalog"
	"github.com/kjstillabower/weather-map-service/internal/client"
	"github.com/kjstillabower/weather-map-service/internal/health"
	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
	"github.com/kjstillabower/weather-map-service/internal/service"
	"github.com/kjstillabower/weather-map-service/internal/validation"
)

// ServiceName is reported by /health.
const ServiceName = "weather-map-service"

// HandlerOptions holds optional handler dependencies.
type HandlerOptions struct {
	// CachePing, when set, is called by /health to check a remote cache backend.
	CachePing func(ctx context.Context) error
	// SearchMaxLength bounds the ?q= filter term. 0 means no limit.
	SearchMaxLength int
	Version         string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weatherService *service.WeatherService
	monitor        *health.Monitor
	logger         *zap.Logger
	opts           HandlerOptions

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(weatherService *service.WeatherService, monitor *health.Monitor, logger *zap.Logger, opts HandlerOptions) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	return &Handler{
		weatherService: weatherService,
		monitor:        monitor,
		logger:         logger,
		opts:           opts,
	}
}

// ListCities handles GET /cities?q=.
func (h *Handler) ListCities(w http.ResponseWriter, r *http.Request) {
	term, err := validation.ValidateSearchTerm(r.URL.Query().Get("q"), h.opts.SearchMaxLength)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_SEARCH", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, catalog.Filter(term))
}

// NearestCity handles GET /cities/nearest?lat=&lng=.
func (h *Handler) NearestCity(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseCoordinates(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, catalog.Nearest(lat, lng))
}

// GetCity handles GET /cities/{id}.
func (h *Handler) GetCity(w http.ResponseWriter, r *http.Request) {
	city, ok := lookupCity(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, city)
}

// GetCityWeather handles GET /cities/{id}/weather.
func (h *Handler) GetCityWeather(w http.ResponseWriter, r *http.Request) {
	city, ok := lookupCity(w, r)
	if !ok {
		return
	}
	observability.RecordWeatherQuery(city.ID)

	data, cached, err := h.weatherService.GetWeather(r.Context(), city.Lat, city.Lng)
	h.recordOutcome(err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.CityWeather{City: city, Weather: data, Cached: cached})
}

// GetWeather handles GET /weather?lat=&lng=. lon is accepted in place of lng.
// X-Cache reports HIT or MISS.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	lat, lng, ok := parseCoordinates(w, r)
	if !ok {
		return
	}
	observability.RecordWeatherQuery(0)

	data, cached, err := h.weatherService.GetWeather(r.Context(), lat, lng)
	h.recordOutcome(err)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if cached {
		w.Header().Set("X-Cache", "HIT")
	} else {
		w.Header().Set("X-Cache", "MISS")
	}
	writeJSON(w, http.StatusOK, data)
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.monitor.Status()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.Status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.Status),
			zap.String("reason", result.Reason))
	}
	h.healthStatusPrev = result.Status
	h.healthStatusMu.Unlock()

	checks := map[string]string{
		"weatherApi": "healthy",
		"apiKey":     "configured",
	}
	if result.Status == health.StatusDegraded {
		checks["weatherApi"] = "unhealthy"
	}
	if !h.weatherService.Configured() {
		checks["apiKey"] = "unconfigured"
	}
	if h.opts.CachePing != nil {
		if err := h.opts.CachePing(r.Context()); err != nil {
			checks["cache"] = "unhealthy"
		} else {
			checks["cache"] = "healthy"
		}
	}
	writeJSON(w, result.StatusCode, map[string]interface{}{
		"status":     result.Status,
		"service":    ServiceName,
		"version":    h.opts.Version,
		"checks":     checks,
		"queueDepth": h.weatherService.QueueLen(),
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
}

// recordOutcome feeds the health monitor. Missing configuration and callers that
// went away say nothing about upstream health and are not counted.
func (h *Handler) recordOutcome(err error) {
	switch {
	case err == nil:
		h.monitor.RecordSuccess()
	case errors.Is(err, client.ErrConfiguration), errors.Is(err, context.Canceled):
	default:
		h.monitor.RecordError()
	}
}

// parseCoordinates reads lat and lng (or lon) and writes a 400 on failure.
func parseCoordinates(w http.ResponseWriter, r *http.Request) (lat, lng float64, ok bool) {
	q := r.URL.Query()
	lngStr := q.Get("lng")
	if lngStr == "" {
		lngStr = q.Get("lon")
	}
	lat, lng, err := validation.ParseCoordinates(q.Get("lat"), lngStr)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_COORDINATES", err.Error())
		return 0, 0, false
	}
	return lat, lng, true
}

// lookupCity resolves the {id} path variable and writes 400 or 404 on failure.
func lookupCity(w http.ResponseWriter, r *http.Request) (models.City, bool) {
	id, err := validation.ParseCityID(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY_ID", err.Error())
		return models.City{}, false
	}
	city, ok := catalog.ByID(id)
	if !ok {
		writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", fmt.Sprintf("no city with id %d", id))
		return models.City{}, false
	}
	return city, true
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// serviceErrorResponse maps a weather fetch error to status, code and message.
func serviceErrorResponse(err error) (int, string, string) {
	switch client.CategorizeError(err) {
	case client.ErrorCategoryConfiguration:
		return http.StatusServiceUnavailable, "CONFIGURATION_ERROR", "Weather API key is not configured"
	case client.ErrorCategoryInvalidAPIKey:
		return http.StatusBadGateway, "UPSTREAM_AUTH_FAILED", "Weather API rejected the configured key"
	case client.ErrorCategoryRateLimited:
		return http.StatusTooManyRequests, "UPSTREAM_RATE_LIMITED", "Weather API rate limit reached, try again shortly"
	case client.ErrorCategoryTimeout:
		return http.StatusGatewayTimeout, "UPSTREAM_TIMEOUT", "Weather API did not respond in time"
	case client.ErrorCategoryUpstream:
		var ue *client.UpstreamError
		if errors.As(err, &ue) {
			return http.StatusBadGateway, "UPSTREAM_ERROR", fmt.Sprintf("Weather API returned HTTP %d", ue.StatusCode)
		}
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Weather API request failed"
	case client.ErrorCategoryNetwork, client.ErrorCategoryMalformed:
		return http.StatusBadGateway, "UPSTREAM_ERROR", "Weather API request failed"
	case client.ErrorCategoryCircuitOpen, client.ErrorCategoryQueueStopped, client.ErrorCategoryCanceled:
		return http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR", "Unable to fetch weather data"
	}
}

// writeServiceError writes the mapped error response and logs the cause.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message := serviceErrorResponse(err)
	logger := observability.LoggerFromContext(r.Context(), h.logger)
	fields := []zap.Field{zap.String("code", code), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		logger.Warn("weather request failed", fields...)
	} else {
		logger.Debug("weather request failed", fields...)
	}
	writeError(w, r, status, code, message)
}
