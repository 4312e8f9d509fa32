package shared

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTokenExpired     = fmt.Errorf("access token expired")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// Control errors
	ErrUnauthorized = fmt.Errorf("unauthorized")
	ErrAlreadyHeld  = fmt.Errorf("control already held")

	// Remote playback errors
	ErrRemoteRejected     = fmt.Errorf("remote rejected command")
	ErrRemoteUnavailable  = fmt.Errorf("remote unavailable")
	ErrNoActiveDevice     = fmt.Errorf("no active device")
	ErrRateLimited        = fmt.Errorf("rate limited")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")
	ErrPlaylistNotFound   = fmt.Errorf("playlist not found")

	// Artwork errors
	ErrArtworkNotFound    = fmt.Errorf("artwork not found")
	ErrArtworkUnavailable = fmt.Errorf("artwork unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// RemoteError is a failure reported by the remote playback service.
//
// Code is the remote status code (HTTP status for Spotify); Retryable marks
// failures that may succeed if issued again later (rate limits, 5xx).
type RemoteError struct {
	Code      int
	Retryable bool
	Err       error
}

// NewRemoteError builds a [RemoteError] for an HTTP status code, deriving Retryable from it.
func NewRemoteError(code int, err error) *RemoteError {
	return &RemoteError{
		Code:      code,
		Retryable: code == http.StatusTooManyRequests || code >= http.StatusInternalServerError,
		Err:       err,
	}
}

func (e *RemoteError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("remote error: status %d", e.Code)
	}
	return fmt.Sprintf("remote error: status %d: %v", e.Code, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err carries a retryable [RemoteError].
func IsRetryable(err error) bool {
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}
