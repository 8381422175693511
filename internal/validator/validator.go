// Package validator checks generation requests before they reach the registry
// or the backend. All checks are pure and report every violation at once.
package validator

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/basel-ax/imagegate/internal/domain"
	"github.com/google/uuid"
)

const (
	MinPromptLength = 1
	MaxPromptLength = 1000
	MinDimension    = 128
	MaxDimension    = 1024
	DimensionStep   = 8
)

// Validator holds the externally supplied set of known model keys
type Validator struct {
	models []string
	known  map[string]struct{}
}

// New creates a Validator accepting the given model keys, in catalog order
func New(models []string) *Validator {
	known := make(map[string]struct{}, len(models))
	for _, m := range models {
		known[m] = struct{}{}
	}
	return &Validator{
		models: append([]string(nil), models...),
		known:  known,
	}
}

// Validate returns every violation found in req. An empty result means valid.
func (v *Validator) Validate(req domain.GenerationRequest) []string {
	var violations []string

	if strings.TrimSpace(req.Prompt) == "" {
		violations = append(violations, "Prompt is required")
	} else if n := utf8.RuneCountInString(req.Prompt); n < MinPromptLength || n > MaxPromptLength {
		violations = append(violations, fmt.Sprintf("Prompt must be between %d and %d characters", MinPromptLength, MaxPromptLength))
	}

	if req.Width != nil {
		if msg := checkDimension("Width", *req.Width); msg != "" {
			violations = append(violations, msg)
		}
	}
	if req.Height != nil {
		if msg := checkDimension("Height", *req.Height); msg != "" {
			violations = append(violations, msg)
		}
	}

	if req.ModelKey != "" {
		if _, ok := v.known[req.ModelKey]; !ok {
			violations = append(violations, "Invalid model. Available models: "+strings.Join(v.models, ", "))
		}
	}

	if req.ID != "" && !IsRequestID(req.ID) {
		violations = append(violations, "Invalid request ID format")
	}

	return violations
}

// checkDimension reports at most one problem per dimension.
func checkDimension(name string, value int) string {
	switch {
	case value < MinDimension || value > MaxDimension:
		return fmt.Sprintf("%s must be between %d and %d pixels", name, MinDimension, MaxDimension)
	case value%DimensionStep != 0:
		return fmt.Sprintf("%s must be divisible by %d", name, DimensionStep)
	}
	return ""
}

// ValidateRequestID checks the ID supplied to a cancel call.
func ValidateRequestID(id string) []string {
	if strings.TrimSpace(id) == "" {
		return []string{"Request ID is required"}
	}
	if !IsRequestID(id) {
		return []string{"Invalid request ID format"}
	}
	return nil
}

// IsRequestID reports whether id is a canonical hyphenated UUID.
func IsRequestID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// NumberViolation is the message used by decoders that receive a non-numeric
// dimension.
func NumberViolation(name string) string {
	return name + " must be a number"
}

// StringViolation is the message used by decoders that receive a non-string
// value for a text field.
func StringViolation(name string) string {
	return name + " must be a string"
}
