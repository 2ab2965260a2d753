package reliability

import (
	"errors"
	"net/http"
	"time"
)

// IsRetryableHTTPStatus classifies platform responses worth retrying.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

type transientError struct{ err error }

func (e transientError) Error() string { return e.err.Error() }
func (e transientError) Unwrap() error { return e.err }

// MarkTransient tags err as a failure that may succeed when tried again.
func MarkTransient(err error) error {
	if err == nil || IsTransient(err) {
		return err
	}
	return transientError{err: err}
}

// IsTransient reports whether any error in err's chain was marked transient.
func IsTransient(err error) bool {
	var t transientError
	return errors.As(err, &t)
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}
