package domain

import (
	"context"
	"time"
)

// GenerationRequest represents a caller's request for a single image
type GenerationRequest struct {
	// ID is a UUID string. Empty means the service assigns one.
	ID       string
	Prompt   string
	Width    *int
	Height   *int
	ModelKey string
}

// GenerationResult is the image produced for a request
type GenerationResult struct {
	RequestID   string
	ModelKey    string
	Image       []byte
	ContentType string
	Duration    time.Duration
}

// ModelInfo describes a model from the catalog
type ModelInfo struct {
	Key         string `yaml:"key" json:"key"`
	BackendID   string `yaml:"id" json:"-"`
	DisplayName string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

// BackendRequest is what the orchestrator hands to an ImageBackend
type BackendRequest struct {
	ModelID       string
	ModelName     string
	Prompt        string
	Width         int
	Height        int
	GuidanceScale float64
	Steps         int
}

// BackendImage is a successful backend response
type BackendImage struct {
	Data        []byte
	ContentType string
}

// ImageBackend defines the outbound port to a remote inference service
type ImageBackend interface {
	// GenerateImage performs the network call. It must stop at the next
	// opportunity once ctx is done and report failures as *BackendFailure.
	GenerateImage(ctx context.Context, req BackendRequest) (*BackendImage, error)
}

// Outcome stored for a generation that produced an image.
const OutcomeSuccess = "success"

// GenerationRecord is one finished request as kept in the history store
type GenerationRecord struct {
	RequestID string
	ModelKey  string
	Prompt    string
	Width     int
	Height    int
	// Outcome is OutcomeSuccess or the ErrorKind of the failure.
	Outcome    string
	Message    string
	Duration   time.Duration
	FinishedAt time.Time
}
