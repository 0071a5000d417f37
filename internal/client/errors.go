package client

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means no API key is configured. No request was sent.
	ErrConfiguration = errors.New("weather API key not configured")
	// ErrInvalidAPIKey means the upstream rejected the key (HTTP 401).
	ErrInvalidAPIKey = errors.New("invalid API key")
	// ErrRateLimited means the upstream quota is exhausted (HTTP 429).
	ErrRateLimited = errors.New("upstream rate limit exceeded")
	// ErrTimeout means a call exceeded its deadline or was aborted.
	ErrTimeout = errors.New("upstream request timed out")
	// ErrNetwork means the request failed below HTTP (DNS, connection refused, reset).
	ErrNetwork = errors.New("upstream unreachable")
	// ErrUpstreamFailure is wrapped by every *UpstreamError.
	ErrUpstreamFailure = errors.New("upstream failure")
	// ErrMalformedResponse means a 2xx body could not be used.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// UpstreamError is a non-2xx response other than 401 and 429.
type UpstreamError struct {
	Endpoint   string
	StatusCode int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %s returned HTTP %d", ErrUpstreamFailure, e.Endpoint, e.StatusCode)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstreamFailure
}

// IsUpstreamFault reports whether err points at an unhealthy upstream rather than
// at our own configuration or credential. A call abandoned by its caller says nothing
// about the upstream and is not a fault. Used as the circuit breaker's failure test.
func IsUpstreamFault(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrNetwork) ||
		errors.Is(err, ErrUpstreamFailure) ||
		errors.Is(err, ErrMalformedResponse)
}
