package zaci

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// TransportError is a connection or timeout failure, no HTTP response was received.
type TransportError struct {
	Method string
	Path   string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// HTTPError is a response with a status code the caller did not accept.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s %s: http %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: http %d: %s", e.Method, e.Path, e.StatusCode, body)
}

// AuthError is a rejected or unreachable token request. It is never retried.
type AuthError struct {
	Address string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authenticate to %s: %v", e.Address, e.Err)
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the appliance answered and refused the credentials,
// as opposed to being unreachable.
func (e *AuthError) Rejected() bool {
	var httpErr *HTTPError
	if !errors.As(e.Err, &httpErr) {
		return false
	}
	return httpErr.StatusCode == http.StatusUnauthorized || httpErr.StatusCode == http.StatusForbidden
}

// ProtocolError is a successful response with an unexpected payload.
type ProtocolError struct {
	Path   string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("unexpected response from %s: %s", e.Path, e.Reason)
}

// IsTransport reports whether err is, or wraps, a TransportError. A cancelled request
// is never a transport failure.
func IsTransport(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var t *TransportError
	return errors.As(err, &t)
}

// StatusCode returns the status code of a wrapped HTTPError, or 0.
func StatusCode(err error) int {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode
	}
	return 0
}
