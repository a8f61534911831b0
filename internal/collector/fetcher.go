package collector

import (
	"context"
	"errors"
	"fmt"

	"github.com/niyio-cyber/NECIM-Market/internal/domain"
)

// Fetcher retrieves the raw payload of one source.
type Fetcher interface {
	Fetch(ctx context.Context, src domain.Source) ([]byte, error)
}

// TimeoutError is returned when the request or the caller's budget ran out.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "timeout" }
func (e *TimeoutError) Unwrap() error { return e.Err }

// HTTPError is a non-2xx response.
type HTTPError struct {
	Status int
}

func (e *HTTPError) Error() string { return fmt.Sprintf("http %d", e.Status) }

// Blocked reports statuses that mean the site is refusing us rather than broken.
func (e *HTTPError) Blocked() bool { return e.Status == 403 || e.Status == 429 }

// NetworkError wraps connection-level failures.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// Transient reports whether a retry might succeed: connection errors and 5xx.
func Transient(err error) bool {
	var ne *NetworkError
	if errors.As(err, &ne) {
		return true
	}
	var he *HTTPError
	if errors.As(err, &he) {
		return he.Status >= 500
	}
	return false
}
