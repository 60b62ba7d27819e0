package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// RateLimitError reports that the provider rejected a request for
// exceeding its rate limit. RetryAfter carries the provider's advertised
// cooldown, or zero when the response did not include one.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider rate limited, retry after %s", e.RetryAfter)
	}
	return "provider rate limited"
}

// TransientError reports a retryable provider failure: timeouts,
// connection resets, 5xx responses.
type TransientError struct {
	Status int
	Err    error
}

func (e *TransientError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("transient provider error: status=%d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient provider error: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// PermanentError reports a non-retryable client error (4xx other than
// 429). The task that triggered it is abandoned; the run continues.
type PermanentError struct {
	Status int
	Body   string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent provider error: status=%d, body=%s", e.Status, e.Body)
}

// IsRateLimit reports whether err is a rate-limit rejection, returning
// the advertised cooldown when present.
func IsRateLimit(err error) (time.Duration, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle.RetryAfter, true
	}
	return 0, false
}

// IsRetryable reports whether err is worth another attempt. Rate-limit
// and transient failures retry; permanent errors and cancellations do not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var pe *PermanentError
	if errors.As(err, &pe) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}
