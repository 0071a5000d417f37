package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-map-service/internal/health"
	"github.com/kjstillabower/weather-map-service/internal/observability"
)

// TestCorrelationIDMiddleware verifies an incoming id is kept and a missing one generated.
func TestCorrelationIDMiddleware(t *testing.T) {
	var seen string
	h := CorrelationIDMiddleware(zap.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "abc-123")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if seen != "abc-123" || w.Header().Get("X-Correlation-ID") != "abc-123" {
		t.Errorf("propagated id = %q, header = %q, want abc-123", seen, w.Header().Get("X-Correlation-ID"))
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if seen == "" || seen == "abc-123" {
		t.Fatalf("generated id = %q", seen)
	}
	if got := w.Header().Get("X-Correlation-ID"); got != seen {
		t.Errorf("header = %q, want %q", got, seen)
	}
}

// TestRateLimitMiddleware verifies exhaustion returns 429 and records the denial.
func TestRateLimitMiddleware(t *testing.T) {
	monitor := health.NewMonitor(health.Config{})
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	h := RateLimitMiddleware(limiter, monitor)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	before := testutil.ToFloat64(observability.RateLimitDeniedTotal)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/weather", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("first request status = %d, want 204", w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/weather", nil))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w.Code)
	}
	if !strings.Contains(w.Body.String(), "RATE_LIMITED") {
		t.Errorf("body = %s, want RATE_LIMITED", w.Body.String())
	}
	if got := monitor.DenialCount(); got != 1 {
		t.Errorf("DenialCount() = %d, want 1", got)
	}
	if got := testutil.ToFloat64(observability.RateLimitDeniedTotal) - before; got != 1 {
		t.Errorf("rate_limit_denied delta = %v, want 1", got)
	}
}

func TestRateLimitMiddleware_NilLimiter(t *testing.T) {
	h := RateLimitMiddleware(nil, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		if w.Code != http.StatusNoContent {
			t.Fatalf("request %d status = %d, want 204", i, w.Code)
		}
	}
}

// TestRouter_RateLimitScope verifies only the weather routes are rate limited.
func TestRouter_RateLimitScope(t *testing.T) {
	env := newTestEnv(t, &mockWeatherClient{weather: testWeather, configured: true}, nil, HandlerOptions{})
	env.router = NewRouter(env.handler, RouterConfig{
		Limiter: rate.NewLimiter(rate.Every(time.Hour), 1),
		Monitor: env.monitor,
	})

	if w := env.do(t, "/weather?lat=1&lng=2"); w.Code != http.StatusOK {
		t.Fatalf("first weather status = %d, want 200", w.Code)
	}
	if w := env.do(t, "/cities/2/weather"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second weather status = %d, want 429", w.Code)
	}
	for _, path := range []string{"/cities", "/cities/2", "/health"} {
		if w := env.do(t, path); w.Code == http.StatusTooManyRequests {
			t.Errorf("GET %s was rate limited", path)
		}
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	var deadline time.Time
	var ok bool
	h := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		deadline, ok = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !ok {
		t.Fatal("no deadline set")
	}
	if remaining := time.Until(deadline); remaining > time.Second {
		t.Errorf("deadline %v away, want <= 1s", remaining)
	}
}

func TestTimeoutMiddleware_Expires(t *testing.T) {
	var err error
	h := TimeoutMiddleware(10 * time.Millisecond)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
		err = r.Context().Err()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err != context.DeadlineExceeded {
		t.Errorf("ctx.Err() = %v, want DeadlineExceeded", err)
	}
}

// TestMetricsMiddleware_RouteTemplate verifies requests are labelled by route template.
func TestMetricsMiddleware_RouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/cities/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	counter := observability.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/cities/{id}", "4xx")
	before := testutil.ToFloat64(counter)
	for _, id := range []string{"1", "2", "3"} {
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/cities/"+id, nil))
	}
	if got := testutil.ToFloat64(counter) - before; got != 3 {
		t.Errorf("counter delta = %v, want 3", got)
	}
}

func TestStatusCodeString(t *testing.T) {
	tests := map[int]string{200: "2xx", 204: "2xx", 404: "4xx", 429: "4xx", 503: "5xx"}
	for code, want := range tests {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}
