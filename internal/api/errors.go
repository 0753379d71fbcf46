package api

import (
	"errors"
	"fmt"
	"net/http"
)

// Common API errors that can be checked with errors.Is.
var (
	// ErrInvalidAction indicates the proxy rejected a verb outside the allow-list.
	ErrInvalidAction = errors.New("invalid action")
	// ErrRateLimited indicates the rate limit has been exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrUpstream indicates the oracle behind the proxy returned a failure.
	ErrUpstream = errors.New("upstream error")
	// ErrEmptyResponse indicates a 2xx response without the expected fields.
	ErrEmptyResponse = errors.New("empty oracle response")
)

// APIError represents a non-2xx response from the oracle or its proxy.
type APIError struct {
	StatusCode int
	Message    string
	Action     string
}

func (e *APIError) Error() string {
	if e.Action != "" {
		if e.Message != "" {
			return fmt.Sprintf("oracle %s failed with %d: %s", e.Action, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("oracle %s failed with %d", e.Action, e.StatusCode)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *APIError) Is(target error) bool {
	switch e.StatusCode {
	case http.StatusBadRequest:
		return target == ErrInvalidAction && e.Message == "Invalid action"
	case http.StatusTooManyRequests:
		return target == ErrRateLimited
	}
	return target == ErrUpstream && e.StatusCode >= 500
}

// NetworkError represents a network-level failure.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error: %v", e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
