package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kjstillabower/snow-season-service/internal/circuitbreaker"
	"github.com/kjstillabower/snow-season-service/internal/snow"
)

func TestCategorizeError(t *testing.T) {
	noData := snow.NewDataUnavailableError(time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC), nil)
	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"nil", nil, ""},
		{"timeout context", context.DeadlineExceeded, ErrorCategoryTimeout},
		{"canceled context", context.Canceled, ErrorCategoryTimeout},
		{"provider timeout", fmt.Errorf("exhausted retries: %w", ErrTimeout), ErrorCategoryTimeout},
		{"invalid API key", ErrInvalidAPIKey, ErrorCategoryInvalidAPIKey},
		{"wrapped invalid API key", fmt.Errorf("auth: %w", ErrInvalidAPIKey), ErrorCategoryInvalidAPIKey},
		{"invalid request", ErrInvalidRequest, ErrorCategoryInvalidRequest},
		{"data unavailable", noData, ErrorCategoryDataUnavailable},
		{"rate limited", ErrRateLimited, ErrorCategoryRateLimited},
		{"upstream failure", ErrUpstreamFailure, ErrorCategoryUpstream5xx},
		{"circuit open", circuitbreaker.ErrOpen, ErrorCategoryCircuitOpen},
		{"network in message", errors.New("dial tcp: connection refused"), ErrorCategoryNetwork},
		{"parse in message", errors.New("parse response: invalid json"), ErrorCategoryParsing},
		{"unknown", errors.New("something else"), ErrorCategoryUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CategorizeError(tt.err); got != tt.want {
				t.Errorf("CategorizeError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsUpstreamFailure(t *testing.T) {
	noData := snow.NewDataUnavailableError(time.Time{}, time.Time{}, nil)
	for _, err := range []error{ErrUpstreamFailure, ErrTimeout, ErrRateLimited, circuitbreaker.ErrOpen} {
		if !IsUpstreamFailure(err) {
			t.Errorf("IsUpstreamFailure(%v) = false, want true", err)
		}
	}
	for _, err := range []error{noData, ErrInvalidRequest, ErrInvalidAPIKey, nil} {
		if IsUpstreamFailure(err) {
			t.Errorf("IsUpstreamFailure(%v) = true, want false", err)
		}
	}
}
