package pipeline

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnknownPhase is returned when registering or executing a phase name
// outside request/response/error.
var ErrUnknownPhase = errors.New("pipeline: unknown phase")

// RateLimitError is returned by the rate limiter and carries the status
// the HTTP layer should render.
type RateLimitError struct {
	ClientAddr string
	RetryAfter time.Duration
	Status     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.ClientAddr, e.RetryAfter)
}

// StatusFor maps a pipeline failure to an HTTP status. Unrecognized
// failures render as 500.
func StatusFor(err error) int {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		if rl.Status != 0 {
			return rl.Status
		}
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}
