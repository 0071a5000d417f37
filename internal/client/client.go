package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjstillabower/weather-map-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-map-service/internal/models"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

const (
	// DefaultBaseURL is the OpenWeatherMap 2.5 API root.
	DefaultBaseURL = "https://api.openweathermap.org/data/2.5"
	// DefaultTimeout bounds each of the two upstream calls.
	DefaultTimeout = 10 * time.Second

	endpointCurrent  = "current"
	endpointForecast = "forecast"

	maxBodyBytes = 1 << 20
)

// WeatherClient fetches and normalizes weather for a coordinate.
type WeatherClient interface {
	Fetch(ctx context.Context, lat, lng float64) (models.WeatherData, error)
	Configured() bool
}

// Options configures an OpenWeatherClient. Zero values take defaults.
type Options struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	HTTPClient *http.Client
	// Now is the clock used to decide which forecast entries are today and tomorrow.
	Now func() time.Time
}

// OpenWeatherClient calls the OpenWeatherMap current-weather and 5-day/3-hour
// forecast endpoints. It does not retry; callers re-invoke to retry.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	timeout time.Duration
	client  *http.Client
	now     func() time.Time
	breaker *circuitbreaker.CircuitBreaker
}

// NewOpenWeatherClient builds a client. An empty API key is allowed: every Fetch
// then fails with ErrConfiguration.
func NewOpenWeatherClient(opts Options) *OpenWeatherClient {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &OpenWeatherClient{
		apiKey:  opts.APIKey,
		baseURL: opts.BaseURL,
		timeout: opts.Timeout,
		client:  opts.HTTPClient,
		now:     opts.Now,
	}
}

// SetCircuitBreaker guards upstream calls with cb. Call before first use.
func (c *OpenWeatherClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// Configured reports whether an API key is set.
func (c *OpenWeatherClient) Configured() bool {
	return c.apiKey != ""
}

// Fetch retrieves current conditions, then the forecast, and normalizes both into
// WeatherData. The calls are sequential; each has its own timeout.
func (c *OpenWeatherClient) Fetch(ctx context.Context, lat, lng float64) (models.WeatherData, error) {
	if !c.Configured() {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(ErrorCategoryConfiguration)).Inc()
		return models.WeatherData{}, ErrConfiguration
	}

	var data models.WeatherData
	fetch := func(ctx context.Context) error {
		var current currentResponse
		if err := c.getJSON(ctx, endpointCurrent, "/weather", lat, lng, &current); err != nil {
			return err
		}
		var forecast forecastResponse
		if err := c.getJSON(ctx, endpointForecast, "/forecast", lat, lng, &forecast); err != nil {
			return err
		}
		var err error
		data, err = normalize(current, forecast, c.now())
		return err
	}

	var err error
	if c.breaker != nil {
		err = c.breaker.Call(ctx, fetch)
	} else {
		err = fetch(ctx)
	}
	if err != nil {
		observability.WeatherAPIErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
		return models.WeatherData{}, err
	}
	return data, nil
}

// getJSON performs one GET under its own timeout and decodes the body into dst.
func (c *OpenWeatherClient) getJSON(ctx context.Context, endpoint, path string, lat, lng float64, dst any) error {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, lat, lng)
	if err != nil {
		return fmt.Errorf("build %s request: %w", endpoint, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(time.Since(start).Seconds())
		return classifyTransportError(endpoint, err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())

	if err := checkStatus(endpoint, resp.StatusCode); err != nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return classifyTransportError(endpoint, err)
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedResponse, endpoint, err)
	}
	return nil
}

func (c *OpenWeatherClient) buildRequest(ctx context.Context, path string, lat, lng float64) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(lng, 'f', -1, 64))
	params.Set("appid", c.apiKey)
	params.Set("units", "metric")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

// checkStatus maps an HTTP status to the error taxonomy. 2xx is nil.
func checkStatus(endpoint string, code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%w: %s returned HTTP 401", ErrInvalidAPIKey, endpoint)
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s returned HTTP 429", ErrRateLimited, endpoint)
	default:
		return &UpstreamError{Endpoint: endpoint, StatusCode: code}
	}
}

// classifyTransportError maps a failed round trip to ErrTimeout or ErrNetwork,
// keeping the cause in the chain.
func classifyTransportError(endpoint string, err error) error {
	// url.Error carries the request URL, which includes appid.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) ||
		(errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, endpoint, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrNetwork, endpoint, err)
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusUnauthorized:
		return "unauthorized"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	default:
		return "error"
	}
}
