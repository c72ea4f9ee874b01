package model

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by every adapter. Callers classify with errors.Is;
// none of these are retried internally.
var (
	// ErrAuthExchange covers failed OAuth code exchanges and token refreshes.
	ErrAuthExchange = errors.New("authorization exchange failed")
	// ErrRateLimitExceeded is fatal for the attempt; backoff is the caller's job.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrPrecondition covers missing local files and missing upstream entities
	// (no Facebook page, no linked Instagram business account).
	ErrPrecondition = errors.New("precondition failed")
	// ErrProcessingTimeout means async polling hit its attempt ceiling without
	// reaching a terminal state.
	ErrProcessingTimeout = errors.New("processing timeout")
	// ErrProcessing means the platform reported a terminal failure state.
	ErrProcessing = errors.New("processing failed")
	// ErrUnsupportedOperation is a deliberate signal (e.g. refresh on a
	// non-expiring-token platform), distinguishable from genuine failures.
	ErrUnsupportedOperation = errors.New("operation not supported")
)

// UpstreamError is a non-2xx response from a platform API, carrying the
// status and body for diagnostics.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream request failed: status %d: %s", e.StatusCode, e.Body)
}

// IsUpstreamError reports whether err (or anything it wraps) is an
// UpstreamError, returning it when so.
func IsUpstreamError(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
