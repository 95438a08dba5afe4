package telemetry

import (
	"context"
	"errors"
	"fmt"
)

// Common sentinel errors for the telemetry package.
var (
	// ErrInvalidConfig is returned when the pipeline configuration is
	// malformed. It is fatal at construction time.
	ErrInvalidConfig = errors.New("invalid telemetry config")

	// ErrPipelineClosed is returned when a flush is requested after
	// Shutdown.
	ErrPipelineClosed = errors.New("telemetry pipeline is closed")

	// ErrFlushTimeout is returned when FlushAndWait does not observe a
	// terminal outcome within its timeout.
	ErrFlushTimeout = errors.New("flush wait timed out")
)

// TransportErrorKind classifies transport failures for the retry policy.
type TransportErrorKind int

const (
	// TransportRetryable marks transient failures: connection errors,
	// timeouts, 5xx responses, rate limiting.
	TransportRetryable TransportErrorKind = iota
	// TransportFatal marks failures that retrying cannot fix:
	// authentication rejections, malformed requests, encoding errors.
	TransportFatal
)

// TransportError describes a failed attempt to ship a batch, with enough
// detail to decide whether another attempt is worthwhile.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int // HTTP status, 0 when the request never completed
	Message    string
	Cause      error
}

func (e *TransportError) Error() string {
	switch {
	case e.Cause != nil && e.StatusCode > 0:
		return fmt.Sprintf("%s (status %d): %v", e.Message, e.StatusCode, e.Cause)
	case e.Cause != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	case e.StatusCode > 0:
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

func (e *TransportError) Unwrap() error { return e.Cause }

// Retryable reports whether another attempt may succeed.
func (e *TransportError) Retryable() bool { return e.Kind == TransportRetryable }

func retryableError(message string, status int, cause error) *TransportError {
	return &TransportError{Kind: TransportRetryable, StatusCode: status, Message: message, Cause: cause}
}

func fatalError(message string, status int, cause error) *TransportError {
	return &TransportError{Kind: TransportFatal, StatusCode: status, Message: message, Cause: cause}
}

// IsRetryable reports whether a send failure should be retried. Typed
// transport errors carry their own classification and it wins even when
// the cause chain ends in a context sentinel: a per-request timeout is a
// transient collector problem, not a caller cancellation. Bare context
// errors (the caller's own deadline or cancellation) are never retried;
// anything else (raw network errors from the HTTP client) is treated as
// transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable()
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
