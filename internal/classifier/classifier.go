// Package classifier maps raw backend failures to a domain.ErrorKind.
//
// Classification runs an ordered list of rules over a normalized Failure;
// the first matching rule decides the kind and the message.
package classifier

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/basel-ax/imagegate/internal/domain"
)

const (
	cancelledMessage = "Image generation cancelled"
	outOfMemoryMsg   = "The model server is currently out of GPU memory. Please try:\n1. Using a smaller image size\n2. Waiting a few minutes\n3. Trying a different model"
	internalMessage  = "Failed to generate image"
)

// Failure is the normalized description of a failed backend call.
type Failure struct {
	// Cancelled is set when the call was aborted through our own handle
	// or its context was cancelled.
	Cancelled bool
	TimedOut  bool
	// StatusCode is 0 when no upstream response was received.
	StatusCode int
	Body       string
	// Reason is the adapter's own description of the failure, if any.
	Reason string
	Cause  error
}

// FromUpstream reports whether the backend produced a response at all.
func (f Failure) FromUpstream() bool {
	return f.StatusCode != 0
}

// Describe normalizes err into a Failure.
func Describe(err error) Failure {
	f := Failure{Cause: err}
	if err == nil {
		return f
	}

	var bf *domain.BackendFailure
	if errors.As(err, &bf) {
		f.StatusCode = bf.StatusCode
		f.Body = bf.Body
		f.Cancelled = bf.Aborted
		f.TimedOut = bf.TimedOut
		if bf.Err != nil {
			f.Reason = bf.Err.Error()
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		f.Cancelled = true
	case errors.Is(err, context.DeadlineExceeded):
		f.TimedOut = true
	default:
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			f.TimedOut = true
		}
	}
	return f
}

// evidence is what rules match against.
type evidence struct {
	Failure
	payload payload
	// text is the lower-cased searchable message: the parsed payload when it
	// decoded, the raw body otherwise.
	text    string
	subject string
}

func (e *evidence) mentions(phrases ...string) bool {
	for _, p := range phrases {
		if strings.Contains(e.text, p) {
			return true
		}
	}
	return false
}

// upstreamDetails returns the raw upstream text, falling back to the cause.
func (e *evidence) upstreamDetails() []string {
	if raw := strings.TrimSpace(e.Body); raw != "" {
		return []string{raw}
	}
	if e.Cause != nil {
		return []string{e.Cause.Error()}
	}
	return nil
}

// Rule is one predicate → kind entry of the classification table.
type Rule struct {
	Name  string
	Kind  domain.ErrorKind
	match func(*evidence) bool
	build func(*evidence) (string, []string)
}

var (
	rateLimitPhrases = []string{"rate limit", "rate-limit", "ratelimit", "too many requests", "quota exceeded"}
	badModelPhrases  = []string{"model not found", "unknown model", "invalid model", "does not exist", "is not a valid model", "no such model"}
	oomPhrases       = []string{"out of memory", "cuda oom", "outofmemory", "resource exhausted", "resources exhausted"}
	busyPhrases      = []string{"too busy", "model busy", "is busy", "unable to get response", "currently loading", "is loading", "overloaded", "unavailable", "try again later"}
)

// DefaultRules is the classification table, in priority order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:  "cancelled",
			Kind:  domain.KindCancelled,
			match: func(e *evidence) bool { return e.Cancelled },
			build: func(e *evidence) (string, []string) { return cancelledMessage, nil },
		},
		{
			Name:  "timeout",
			Kind:  domain.KindTimeout,
			match: func(e *evidence) bool { return e.TimedOut },
			build: func(e *evidence) (string, []string) {
				msg := fmt.Sprintf("The request to %s timed out. Please try again or select a different model.", e.subject)
				if e.Cause != nil {
					return msg, []string{e.Cause.Error()}
				}
				return msg, nil
			},
		},
		{
			Name: "rate_limited",
			Kind: domain.KindRateLimited,
			match: func(e *evidence) bool {
				return e.StatusCode == http.StatusTooManyRequests || (e.FromUpstream() && e.mentions(rateLimitPhrases...))
			},
			build: func(e *evidence) (string, []string) {
				return fmt.Sprintf("Too many requests to %s. Please wait before trying again.", e.subject), e.upstreamDetails()
			},
		},
		{
			Name: "unknown_model",
			Kind: domain.KindValidation,
			match: func(e *evidence) bool {
				return e.StatusCode == http.StatusNotFound || (e.FromUpstream() && e.mentions(badModelPhrases...))
			},
			build: func(e *evidence) (string, []string) {
				return fmt.Sprintf("%s is not available on the inference service", capitalize(e.subject)), e.upstreamDetails()
			},
		},
		{
			Name: "resource_unavailable",
			Kind: domain.KindResourceUnavailable,
			match: func(e *evidence) bool {
				return e.FromUpstream() && (e.mentions(oomPhrases...) || e.mentions(busyPhrases...))
			},
			build: func(e *evidence) (string, []string) {
				if e.mentions(oomPhrases...) {
					return outOfMemoryMsg, e.upstreamDetails()
				}
				return fmt.Sprintf("%s is currently busy. Please try again in a few minutes or select a different model.", capitalize(e.subject)), e.upstreamDetails()
			},
		},
		{
			Name:  "upstream",
			Kind:  domain.KindUpstream,
			match: func(e *evidence) bool { return e.FromUpstream() },
			build: func(e *evidence) (string, []string) {
				switch {
				case e.payload.parsed && e.payload.Message != "":
					return e.payload.Message, e.upstreamDetails()
				case strings.TrimSpace(e.Body) == "" && e.Reason != "":
					return capitalize(e.Reason), e.upstreamDetails()
				default:
					return fmt.Sprintf("API returned status %d", e.StatusCode), e.upstreamDetails()
				}
			},
		},
		{
			Name:  "internal",
			Kind:  domain.KindInternal,
			match: func(e *evidence) bool { return true },
			build: func(e *evidence) (string, []string) {
				if e.Cause != nil {
					return internalMessage, []string{e.Cause.Error()}
				}
				return internalMessage, nil
			},
		},
	}
}

// Classifier applies a rule table.
type Classifier struct {
	rules []Rule
}

// New creates a Classifier with the given rules; no rules means DefaultRules.
func New(rules ...Rule) *Classifier {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Classifier{rules: rules}
}

// Classify maps f to exactly one GenerationError. subject names the model in
// user-facing messages; empty means "the model".
func (c *Classifier) Classify(f Failure, subject string) *domain.GenerationError {
	if strings.TrimSpace(subject) == "" {
		subject = "the model"
	}
	e := &evidence{Failure: f, subject: subject}
	e.payload = parsePayload(f.Body)
	if e.payload.parsed {
		e.text = strings.ToLower(e.payload.searchText())
	} else {
		e.text = strings.ToLower(f.Body)
	}

	for _, r := range c.rules {
		if r.match(e) {
			msg, details := r.build(e)
			return domain.NewGenerationError(r.Kind, msg, details...).WithCause(f.Cause)
		}
	}
	// Unreachable with DefaultRules; custom tables may omit the catch-all.
	return domain.NewGenerationError(domain.KindInternal, internalMessage).WithCause(f.Cause)
}

// Classify runs the default table over err.
func Classify(err error, subject string) *domain.GenerationError {
	return defaultClassifier.Classify(Describe(err), subject)
}

var defaultClassifier = New()

func capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
