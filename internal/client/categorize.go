package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/snow-season-service/internal/circuitbreaker"
	"github.com/kjstillabower/snow-season-service/internal/snow"
)

// ErrorCategory is a stable label for error classification in metrics.
type ErrorCategory string

// Error category constants used as metric labels (providerErrorsTotal).
const (
	ErrorCategoryTimeout         ErrorCategory = "timeout"
	ErrorCategoryNetwork         ErrorCategory = "network"
	ErrorCategoryInvalidAPIKey   ErrorCategory = "invalid_api_key"
	ErrorCategoryInvalidRequest  ErrorCategory = "invalid_request"
	ErrorCategoryDataUnavailable ErrorCategory = "data_unavailable"
	ErrorCategoryRateLimited     ErrorCategory = "rate_limited"
	ErrorCategoryUpstream5xx     ErrorCategory = "upstream_5xx"
	ErrorCategoryCircuitOpen     ErrorCategory = "circuit_open"
	ErrorCategoryParsing         ErrorCategory = "parsing"
	ErrorCategoryUnknown         ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory for metrics.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, snow.ErrDataUnavailable):
		return ErrorCategoryDataUnavailable
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrInvalidRequest):
		return ErrorCategoryInvalidRequest
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamFailure):
		return ErrorCategoryUpstream5xx
	}

	errStr := err.Error()
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") || strings.Contains(errStr, "no such host") {
		return ErrorCategoryNetwork
	}
	if strings.Contains(errStr, "parse") || strings.Contains(errStr, "unmarshal") {
		return ErrorCategoryParsing
	}
	return ErrorCategoryUnknown
}

// IsUpstreamFailure reports whether err reflects provider health rather than the
// request: timeouts, 5xx, rate limits, transport errors and an open circuit.
// Used by the circuit breaker and the degraded-health tracker.
func IsUpstreamFailure(err error) bool {
	switch CategorizeError(err) {
	case ErrorCategoryTimeout, ErrorCategoryNetwork, ErrorCategoryRateLimited,
		ErrorCategoryUpstream5xx, ErrorCategoryCircuitOpen, ErrorCategoryUnknown:
		return true
	}
	return false
}
