package internaltypes

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotConfigured      = errors.New("remote account is not configured")
	ErrNoLocationsEnabled = errors.New("no inventory locations enabled")
	ErrRateLimited        = errors.New("remote api rate limit exceeded")
	ErrTimeout            = errors.New("request timed out")
	ErrBadRequest         = errors.New("bad request")
	ErrNotFound           = errors.New("not found")
)

// Wire codes reported to callers.
const (
	CodeNotConfigured      = "not_configured"
	CodeNoLocationsEnabled = "no_locations_enabled"
	CodeRateLimited        = "rate_limited"
	CodeUpstreamError      = "upstream_error"
	CodeTransportError     = "transport_error"
	CodeTimeout            = "timeout"
	CodeBadRequest         = "bad_request"
	CodeCanceled           = "canceled"
	CodeInternal           = "internal_error"
)

// UpstreamError is a non-success, non-429 response from the remote API.
type UpstreamError struct {
	Status int
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("remote api http %d", e.Status)
}

// TransportError wraps network and decoding failures talking to the remote API.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("remote api transport: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Code maps err onto the wire taxonomy. nil maps to "". ErrTimeout is the
// caller's own deadline; a remote call that hit the HTTP client timeout is a
// transport error.
func Code(err error) string {
	if err == nil {
		return ""
	}
	var up *UpstreamError
	var tr *TransportError
	switch {
	case errors.Is(err, ErrNotConfigured):
		return CodeNotConfigured
	case errors.Is(err, ErrNoLocationsEnabled):
		return CodeNoLocationsEnabled
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.As(err, &up):
		return CodeUpstreamError
	case errors.As(err, &tr):
		return CodeTransportError
	case errors.Is(err, context.DeadlineExceeded):
		return CodeTimeout
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case errors.Is(err, ErrBadRequest):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// Retryable reports whether a caller may sensibly retry later.
func Retryable(err error) bool {
	switch Code(err) {
	case CodeRateLimited, CodeTimeout, CodeTransportError:
		return true
	}
	return false
}
