// Package health derives the service's reported health from recent weather-request
// outcomes, ingress rate-limit denials and the shutdown flag.
package health

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

// Status names reported by /health.
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusOverloaded   = "overloaded"
	StatusShuttingDown = "shutting-down"
)

// retention bounds how long outcomes are kept regardless of Window.
const retention = 5 * time.Minute

// Config holds health thresholds. Zero values take defaults.
type Config struct {
	// Window is the sliding window for error rate and denial counts. Default 60s.
	Window time.Duration
	// DegradedErrorPct is the error percentage at or above which the service is degraded. Default 50.
	DegradedErrorPct int
	// OverloadDenials is the denial count in Window above which the service is
	// overloaded. 0 disables the check.
	OverloadDenials int
	Now             func() time.Time
}

// Result is a computed health status.
type Result struct {
	Status     string
	StatusCode int
	Reason     string
}

// Monitor keeps sliding windows of outcome timestamps. Safe for concurrent use.
type Monitor struct {
	cfg      Config
	draining atomic.Bool

	mu           sync.Mutex
	successTimes []time.Time
	errorTimes   []time.Time
	deniedTimes  []time.Time
}

func NewMonitor(cfg Config) *Monitor {
	if cfg.Window <= 0 {
		cfg.Window = 60 * time.Second
	}
	if cfg.Window > retention {
		cfg.Window = retention
	}
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Monitor{cfg: cfg}
}

// Window returns the configured sliding window.
func (m *Monitor) Window() time.Duration {
	return m.cfg.Window
}

// RecordSuccess records a weather request that returned data.
func (m *Monitor) RecordSuccess() {
	m.record(&m.successTimes)
}

// RecordError records a weather request that failed upstream.
func (m *Monitor) RecordError() {
	m.record(&m.errorTimes)
}

// RecordDenied records an ingress rate-limit denial.
func (m *Monitor) RecordDenied() {
	m.record(&m.deniedTimes)
}

func (m *Monitor) record(slice *[]time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.cfg.Now()
	*slice = append(*slice, now)
	m.pruneLocked(now)
}

// SetDraining marks the process as shutting down. /health returns 503 from then on.
func (m *Monitor) SetDraining(v bool) {
	m.draining.Store(v)
}

func (m *Monitor) Draining() bool {
	return m.draining.Load()
}

// ErrorRate returns (errors, total) within the window. Denials are not counted.
func (m *Monitor) ErrorRate() (errors, total int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := m.cfg.Now().Add(-m.cfg.Window)
	errCount := countSince(m.errorTimes, cutoff)
	return errCount, errCount + countSince(m.successTimes, cutoff)
}

// DenialCount returns the number of denials within the window.
func (m *Monitor) DenialCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return countSince(m.deniedTimes, m.cfg.Now().Add(-m.cfg.Window))
}

// Status evaluates, in order: shutting-down, overloaded, degraded, healthy.
func (m *Monitor) Status() Result {
	if m.Draining() {
		return Result{StatusShuttingDown, http.StatusServiceUnavailable, "signal"}
	}
	if m.cfg.OverloadDenials > 0 && m.DenialCount() > m.cfg.OverloadDenials {
		return Result{StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"}
	}
	if errors, total := m.ErrorRate(); total > 0 {
		if errors*100 >= m.cfg.DegradedErrorPct*total {
			return Result{StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return Result{StatusHealthy, http.StatusOK, ""}
}

// Reset clears all recorded outcomes and the draining flag.
func (m *Monitor) Reset() {
	m.mu.Lock()
	m.successTimes = nil
	m.errorTimes = nil
	m.deniedTimes = nil
	m.mu.Unlock()
	m.draining.Store(false)
}

// countSince counts timestamps not before cutoff.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mu held.
func (m *Monitor) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for ; i < len(times) && times[i].Before(cutoff); i++ {
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&m.successTimes)
	prune(&m.errorTimes)
	prune(&m.deniedTimes)
}
