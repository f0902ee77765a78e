package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error categories for the sync core
var (
	// Transport errors
	ErrNetworkUnavailable = errors.New("network unavailable")

	// Auth errors
	ErrUnauthorized              = errors.New("unauthorized")
	ErrRequestFailedAfterRefresh = errors.New("request failed after refresh")
	ErrRefreshFailed             = errors.New("refresh failed")

	// Accepted for later delivery, not an application failure
	ErrOfflineQueued = errors.New("offline: action queued")

	// Storage errors
	ErrNotFound      = errors.New("not found")
	ErrInvalidKey    = errors.New("invalid storage key")
	ErrCorruptRecord = errors.New("corrupt record")

	// General errors
	ErrInvalidInput = errors.New("invalid input")
)

// HTTPError is a non-2xx response from the remote API. The message is the
// response body when present, otherwise the status text.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Status != "" {
		return e.Status
	}
	return http.StatusText(e.StatusCode)
}

// NetworkError wraps a transport level failure (offline, DNS, timeout).
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

func (e *NetworkError) Is(target error) bool {
	return target == ErrNetworkUnavailable
}

// ParseError reports a persisted record that could not be decoded or failed
// schema validation.
type ParseError struct {
	Key string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("corrupt record %q: %v", e.Key, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrCorruptRecord
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// New returns a plain error, for package level sentinels outside this package
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
