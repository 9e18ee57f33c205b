package statsapi

import (
	"errors"
	"fmt"
)

// ErrNoData is returned when the API confirms it holds no statistics for a
// match (HTTP 422).
var ErrNoData = errors.New("no data available for match")

// RateLimitError represents a rate limit error from the API
type RateLimitError struct {
	StatusCode int
	RetryAfter string
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter != "" {
		return fmt.Sprintf("rate limit exceeded (status %d), retry after: %s", e.StatusCode, e.RetryAfter)
	}
	return fmt.Sprintf("rate limit exceeded (status %d): %s", e.StatusCode, e.Message)
}

// APIError represents a general API error
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
}
