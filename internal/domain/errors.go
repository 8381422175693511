package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// ErrorKind is the closed set of failure categories a generation can end in
type ErrorKind string

const (
	KindValidation          ErrorKind = "validation"
	KindResourceUnavailable ErrorKind = "resource_unavailable"
	KindRateLimited         ErrorKind = "rate_limited"
	KindCancelled           ErrorKind = "cancelled"
	KindTimeout             ErrorKind = "timeout"
	KindUpstream            ErrorKind = "upstream"
	KindInternal            ErrorKind = "internal"
)

// StatusClientClosedRequest is the non-standard status used for cancelled requests.
const StatusClientClosedRequest = 499

// HTTPStatus returns the HTTP status code equivalent of the kind.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindResourceUnavailable:
		return http.StatusServiceUnavailable
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindCancelled:
		return StatusClientClosedRequest
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether a caller may reasonably retry the same request later.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindResourceUnavailable, KindRateLimited, KindTimeout:
		return true
	default:
		return false
	}
}

// GenerationError is the typed failure returned by the generation service.
// Values are never mutated after construction.
type GenerationError struct {
	Kind      ErrorKind
	Message   string
	Details   []string
	RequestID string
	Cause     error
}

// NewGenerationError builds a GenerationError; details are copied.
func NewGenerationError(kind ErrorKind, message string, details ...string) *GenerationError {
	return &GenerationError{
		Kind:    kind,
		Message: message,
		Details: append([]string(nil), details...),
	}
}

func (e *GenerationError) Error() string {
	if e == nil {
		return "<nil>"
	}
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	return b.String()
}

func (e *GenerationError) Unwrap() error { return e.Cause }

// WithRequestID returns a copy of e tagged with the request ID.
func (e *GenerationError) WithRequestID(id string) *GenerationError {
	cp := *e
	cp.RequestID = id
	cp.Details = append([]string(nil), e.Details...)
	return &cp
}

// WithCause returns a copy of e wrapping cause.
func (e *GenerationError) WithCause(cause error) *GenerationError {
	cp := *e
	cp.Cause = cause
	cp.Details = append([]string(nil), e.Details...)
	return &cp
}

// AsGenerationError extracts *GenerationError.
func AsGenerationError(err error) (*GenerationError, bool) {
	var ge *GenerationError
	if errors.As(err, &ge) {
		return ge, true
	}
	return nil, false
}

// KindOf returns the kind of err, or KindInternal for foreign errors.
func KindOf(err error) ErrorKind {
	if ge, ok := AsGenerationError(err); ok {
		return ge.Kind
	}
	return KindInternal
}

// BackendFailure is the raw failure reported by an ImageBackend.
type BackendFailure struct {
	// StatusCode is 0 when no response was received.
	StatusCode int
	// Body is the (possibly truncated) upstream response body or message.
	Body string
	// Aborted is set when the call stopped because its context was cancelled.
	Aborted bool
	// TimedOut is set when no response arrived within the deadline.
	TimedOut bool
	Err      error
}

func (f *BackendFailure) Error() string {
	if f == nil {
		return "<nil>"
	}
	var b strings.Builder
	switch {
	case f.Aborted:
		b.WriteString("backend call aborted")
	case f.TimedOut:
		b.WriteString("backend call timed out")
	case f.StatusCode != 0:
		b.WriteString(fmt.Sprintf("backend returned status %d", f.StatusCode))
	default:
		b.WriteString("backend call failed")
	}
	if f.Body != "" {
		b.WriteString(": ")
		b.WriteString(f.Body)
	} else if f.Err != nil {
		b.WriteString(": ")
		b.WriteString(f.Err.Error())
	}
	return b.String()
}

func (f *BackendFailure) Unwrap() error { return f.Err }

// NewTransportFailure labels a failure that produced no usable response,
// using ctx to tell our own abort from a deadline.
func NewTransportFailure(ctx context.Context, err error) *BackendFailure {
	f := &BackendFailure{Err: err}
	switch ctxErr := ctx.Err(); {
	case errors.Is(ctxErr, context.DeadlineExceeded):
		f.TimedOut = true
	case ctxErr != nil:
		f.Aborted = true
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			f.TimedOut = true
		}
	}
	return f
}
