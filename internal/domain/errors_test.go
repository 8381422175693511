package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorKind_HTTPStatus(t *testing.T) {
	cases := map[ErrorKind]int{
		KindValidation:          400,
		KindResourceUnavailable: 503,
		KindRateLimited:         429,
		KindCancelled:           499,
		KindTimeout:             504,
		KindUpstream:            502,
		KindInternal:            500,
		ErrorKind("bogus"):      500,
	}
	for kind, want := range cases {
		if got := kind.HTTPStatus(); got != want {
			t.Errorf("%s.HTTPStatus() = %d, want %d", kind, got, want)
		}
	}
}

func TestErrorKind_Retryable(t *testing.T) {
	retryable := []ErrorKind{KindResourceUnavailable, KindRateLimited, KindTimeout}
	terminal := []ErrorKind{KindValidation, KindCancelled, KindUpstream, KindInternal}
	for _, k := range retryable {
		if !k.Retryable() {
			t.Errorf("%s should be retryable", k)
		}
	}
	for _, k := range terminal {
		if k.Retryable() {
			t.Errorf("%s should not be retryable", k)
		}
	}
}

func TestGenerationError_ErrorIncludesDetails(t *testing.T) {
	err := NewGenerationError(KindValidation, "Validation failed", "Prompt is required", "Width must be divisible by 8")

	got := err.Error()
	if !strings.HasPrefix(got, "validation: Validation failed") {
		t.Errorf("unexpected prefix: %q", got)
	}
	if !strings.Contains(got, "Prompt is required; Width must be divisible by 8") {
		t.Errorf("details missing from %q", got)
	}
}

func TestGenerationError_CopiesDoNotShareDetails(t *testing.T) {
	details := []string{"a"}
	orig := NewGenerationError(KindUpstream, "boom", details...)
	details[0] = "mutated"
	if orig.Details[0] != "a" {
		t.Fatalf("constructor kept caller slice")
	}

	tagged := orig.WithRequestID("req-1")
	tagged.Details[0] = "changed"
	if orig.Details[0] != "a" {
		t.Errorf("WithRequestID shares details with original")
	}
	if orig.RequestID != "" {
		t.Errorf("original mutated: RequestID = %q", orig.RequestID)
	}
	if tagged.RequestID != "req-1" {
		t.Errorf("RequestID = %q, want req-1", tagged.RequestID)
	}
}

func TestKindOf_UnwrapsThroughWrappedErrors(t *testing.T) {
	cause := errors.New("socket closed")
	ge := NewGenerationError(KindTimeout, "timed out").WithCause(cause)
	wrapped := fmt.Errorf("generate: %w", ge)

	if got := KindOf(wrapped); got != KindTimeout {
		t.Errorf("KindOf = %s, want timeout", got)
	}
	if !errors.Is(wrapped, cause) {
		t.Errorf("cause not reachable through Unwrap")
	}
	if got := KindOf(errors.New("plain")); got != KindInternal {
		t.Errorf("KindOf(plain) = %s, want internal", got)
	}
}

func TestBackendFailure_Error(t *testing.T) {
	cases := []struct {
		name string
		f    *BackendFailure
		want string
	}{
		{"status with body", &BackendFailure{StatusCode: 429, Body: `{"error":"rate limited"}`}, `backend returned status 429: {"error":"rate limited"}`},
		{"aborted", &BackendFailure{Aborted: true, Err: errors.New("context canceled")}, "backend call aborted: context canceled"},
		{"timeout", &BackendFailure{TimedOut: true}, "backend call timed out"},
		{"transport", &BackendFailure{Err: errors.New("dial tcp: refused")}, "backend call failed: dial tcp: refused"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.f.Error(); got != tc.want {
				t.Errorf("Error() = %q, want %q", got, tc.want)
			}
		})
	}
}
