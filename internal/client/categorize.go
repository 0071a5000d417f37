package client

import (
	"context"
	"errors"

	"github.com/kjstillabower/weather-map-service/internal/circuitbreaker"
	"github.com/kjstillabower/weather-map-service/internal/queue"
)

// ErrorCategory is a stable label for error classification in metrics and API
// error codes.
type ErrorCategory string

const (
	ErrorCategoryConfiguration ErrorCategory = "configuration"
	ErrorCategoryInvalidAPIKey ErrorCategory = "invalid_api_key"
	ErrorCategoryRateLimited   ErrorCategory = "rate_limited"
	ErrorCategoryTimeout       ErrorCategory = "timeout"
	ErrorCategoryNetwork       ErrorCategory = "network"
	ErrorCategoryUpstream      ErrorCategory = "upstream"
	ErrorCategoryMalformed     ErrorCategory = "malformed"
	ErrorCategoryCircuitOpen   ErrorCategory = "circuit_open"
	ErrorCategoryQueueStopped  ErrorCategory = "queue_stopped"
	ErrorCategoryCanceled      ErrorCategory = "canceled"
	ErrorCategoryUnknown       ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory. nil maps to "".
// Sentinels are checked before bare context errors because ErrTimeout wraps them.
func CategorizeError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfiguration):
		return ErrorCategoryConfiguration
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrTimeout):
		return ErrorCategoryTimeout
	case errors.Is(err, ErrNetwork):
		return ErrorCategoryNetwork
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream
	case errors.Is(err, ErrMalformedResponse):
		return ErrorCategoryMalformed
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, queue.ErrStopped):
		return ErrorCategoryQueueStopped
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorCategoryTimeout
	case errors.Is(err, context.Canceled):
		return ErrorCategoryCanceled
	default:
		return ErrorCategoryUnknown
	}
}
