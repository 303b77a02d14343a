package provider

import (
	"context"
	"errors"
	"io"
	"syscall"
	"time"

	. "github.com/forgecore/forge/internal/logging"
)

// httpStatusError carries the HTTP status code of a failed request so
// withRetry can decide retryability without string-sniffing the error,
// the way the teacher's llm.ClassifyError does on message text — we
// prefer a typed field here since we control the transport.
type httpStatusError struct {
	StatusCode int
	Err        error
}

func (e *httpStatusError) Error() string { return e.Err.Error() }
func (e *httpStatusError) Unwrap() error { return e.Err }

// newHTTPStatusError wraps err with the status code that produced it.
func newHTTPStatusError(code int, err error) error {
	return &httpStatusError{StatusCode: code, Err: err}
}

// withRetry runs open repeatedly per cfg until it succeeds, a non-retryable
// error occurs, ctx is cancelled, or attempts are exhausted. Each retry
// re-opens a fresh stream — spec.md §4.1 explicitly forbids partial-resume.
// Retryable-ness is determined purely from the status code returned by
// open, before any bytes are handed to the caller (a caller-started stream
// is only returned once open has fully succeeded).
func withRetry[T any](ctx context.Context, cfg RetryConfig, open func(context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetryAttempts; attempt++ {
		if attempt > 0 {
			delay := cfg.Backoff(attempt - 1)
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
			if !cfg.SuppressRetryLog {
				L_warn("provider: retrying after transient error", "attempt", attempt, "delay", delay, "error", lastErr)
			}
		}

		if err := cfg.Limiter.Wait(ctx); err != nil {
			return zero, err
		}

		result, err := open(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var statusErr *httpStatusError
		if errors.As(err, &statusErr) && cfg.Retryable(statusErr.StatusCode) {
			continue
		}
		// Network errors (no status code) are retried too, per spec.md §4.1
		// ("transient HTTP status codes ... and on network errors").
		if statusErr == nil && isNetworkError(err) {
			continue
		}
		return zero, err
	}
	return zero, lastErr
}

// isNetworkError is a conservative check for errors worth retrying that
// didn't carry an HTTP status (connection refused, timeout, EOF mid-read).
func isNetworkError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	type timeout interface{ Timeout() bool }
	var t timeout
	if errors.As(err, &t) {
		return t.Timeout()
	}
	return false
}
