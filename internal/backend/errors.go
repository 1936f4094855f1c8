package backend

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrServiceUnavailable matches any HTTP 503 from the backend. It is the
	// only response the verification client retries.
	ErrServiceUnavailable = errors.New("backend temporarily unavailable")

	// ErrMalformedResponse is returned when a 2xx body does not match the
	// documented shape.
	ErrMalformedResponse = errors.New("malformed backend response")
)

// APIError is a non-2xx response, or a 2xx envelope with success=false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("backend error: http=%d", e.Status)
	}
	return fmt.Sprintf("backend error: http=%d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrServiceUnavailable && e.Status == http.StatusServiceUnavailable
}

// IsClientError reports a 4xx, i.e. the backend understood and refused.
func (e *APIError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// NetworkError is a fetch-level failure: no response was received.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }
