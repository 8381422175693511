package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/basel-ax/imagegate/internal/classifier"
	"github.com/basel-ax/imagegate/internal/config"
	"github.com/basel-ax/imagegate/internal/domain"
	"github.com/basel-ax/imagegate/internal/logging"
	"github.com/basel-ax/imagegate/internal/registry"
	"github.com/basel-ax/imagegate/internal/repository"
	"github.com/basel-ax/imagegate/internal/validator"
)

const (
	validationMessage = "Validation failed"
	recordTimeout     = 5 * time.Second
)

// ImageGenerationService validates requests, tracks them in the registry
// while the backend runs and turns backend failures into typed errors.
type ImageGenerationService struct {
	backend    domain.ImageBackend
	catalog    *config.Catalog
	defaults   config.GenerationDefaults
	registry   *registry.Registry
	validator  *validator.Validator
	classifier *classifier.Classifier
	history    repository.GenerationRepository
	logger     *logging.Logger
	newID      func() string
	now        func() time.Time
}

// Option configures an ImageGenerationService
type Option func(*ImageGenerationService)

// WithHistory records every finished request in repo
func WithHistory(repo repository.GenerationRepository) Option {
	return func(s *ImageGenerationService) { s.history = repo }
}

// WithLogger sets the service logger
func WithLogger(l *logging.Logger) Option {
	return func(s *ImageGenerationService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithRegistry shares an existing registry, e.g. with a reporting job
func WithRegistry(r *registry.Registry) Option {
	return func(s *ImageGenerationService) {
		if r != nil {
			s.registry = r
		}
	}
}

// WithIDGenerator replaces uuid.NewString for request IDs
func WithIDGenerator(f func() string) Option {
	return func(s *ImageGenerationService) {
		if f != nil {
			s.newID = f
		}
	}
}

// NewImageGenerationService creates a new image generation service
func NewImageGenerationService(backend domain.ImageBackend, catalog *config.Catalog, defaults config.GenerationDefaults, opts ...Option) *ImageGenerationService {
	s := &ImageGenerationService{
		backend:    backend,
		catalog:    catalog,
		defaults:   defaults,
		registry:   registry.New(),
		validator:  validator.New(catalog.Keys()),
		classifier: classifier.New(),
		logger:     logging.NewNop(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Registry exposes the table of in-flight requests
func (s *ImageGenerationService) Registry() *registry.Registry {
	return s.registry
}

// ActiveRequests returns the number of requests currently in flight
func (s *ImageGenerationService) ActiveRequests() int {
	return s.registry.Len()
}

// Validate reports the violations GenerateImage would reject req with
func (s *ImageGenerationService) Validate(req domain.GenerationRequest) []string {
	return s.validator.Validate(req)
}

// ListModels returns the catalog in order
func (s *ImageGenerationService) ListModels() []domain.ModelInfo {
	return s.catalog.Models()
}

// Cancel aborts the in-flight request with the given ID. It is safe to call
// at any time and reports false when no such request is running.
func (s *ImageGenerationService) Cancel(id string) bool {
	ok := s.registry.Cancel(id)
	if ok {
		s.logger.Info("generation cancel requested", zap.String("request_id", id))
	} else {
		s.logger.Debug("cancel for unknown request", zap.String("request_id", id))
	}
	return ok
}

// GenerateImage runs one request end to end. A non-nil error is always a
// *domain.GenerationError.
func (s *ImageGenerationService) GenerateImage(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error) {
	if violations := s.validator.Validate(req); len(violations) > 0 {
		ge := domain.NewGenerationError(domain.KindValidation, validationMessage, violations...).WithRequestID(req.ID)
		s.logger.Warn("generation request rejected",
			zap.String("request_id", req.ID),
			zap.Strings("violations", violations),
		)
		return nil, ge
	}

	id := req.ID
	if id == "" {
		id = s.newID()
	}

	model, ok := s.resolveModel(req.ModelKey)
	if !ok {
		return nil, domain.NewGenerationError(domain.KindValidation, validationMessage,
			"Invalid model. Available models: "+strings.Join(s.catalog.Keys(), ", ")).WithRequestID(id)
	}
	backendReq := domain.BackendRequest{
		ModelID:       model.BackendID,
		ModelName:     model.DisplayName,
		Prompt:        req.Prompt,
		Width:         valueOr(req.Width, s.defaults.Width),
		Height:        valueOr(req.Height, s.defaults.Height),
		GuidanceScale: s.defaults.GuidanceScale,
		Steps:         s.defaults.Steps,
	}

	handle, err := s.registry.Register(ctx, id)
	if err != nil {
		ge := domain.NewGenerationError(domain.KindInternal, "Failed to register request", err.Error()).
			WithCause(err).
			WithRequestID(id)
		s.logger.Error("registry rejected request", zap.String("request_id", id), zap.Error(err))
		return nil, ge
	}
	// Covers panics in the backend; normal paths deregister before recording.
	defer s.registry.Deregister(id)

	log := s.logger.With(zap.String("request_id", id), zap.String("model", model.Key))
	log.Info("generation started",
		zap.Int("width", backendReq.Width),
		zap.Int("height", backendReq.Height),
	)

	start := s.now()
	img, err := s.backend.GenerateImage(handle.Context(), backendReq)
	elapsed := s.now().Sub(start)

	if err == nil && img == nil {
		err = errors.New("backend returned no image")
	}
	if err == nil {
		// A cancel that won the race against completion must not be
		// answered with the image.
		s.registry.Deregister(id)
		if handle.Cancelled() {
			ge := s.classifier.Classify(classifier.Failure{Cancelled: true}, model.DisplayName).WithRequestID(id)
			log.Info("generation cancelled after completion", zap.Duration("duration", elapsed))
			s.record(ctx, id, model.Key, backendReq, string(ge.Kind), ge.Message, elapsed)
			return nil, ge
		}

		log.Info("generation completed",
			zap.Duration("duration", elapsed),
			zap.Int("bytes", len(img.Data)),
			zap.String("content_type", img.ContentType),
		)
		s.record(ctx, id, model.Key, backendReq, domain.OutcomeSuccess, "", elapsed)
		return &domain.GenerationResult{
			RequestID:   id,
			ModelKey:    model.Key,
			Image:       img.Data,
			ContentType: img.ContentType,
			Duration:    elapsed,
		}, nil
	}

	// Once deregistered the handle can no longer be signalled, so the
	// cancelled flag read below is final.
	s.registry.Deregister(id)
	failure := classifier.Describe(err)
	if handle.Cancelled() {
		failure.Cancelled = true
	}
	ge := s.classifier.Classify(failure, model.DisplayName).WithRequestID(id)

	fields := []zap.Field{
		zap.String("kind", string(ge.Kind)),
		zap.Duration("duration", elapsed),
		zap.Strings("details", ge.Details),
		zap.Error(err),
	}
	switch ge.Kind {
	case domain.KindCancelled:
		log.Info("generation cancelled", zap.Duration("duration", elapsed))
	case domain.KindInternal:
		log.Error("generation failed", fields...)
	default:
		log.Warn("generation failed", fields...)
	}
	s.record(ctx, id, model.Key, backendReq, string(ge.Kind), ge.Message, elapsed)
	return nil, ge
}

func (s *ImageGenerationService) resolveModel(key string) (domain.ModelInfo, bool) {
	if key == "" {
		return s.catalog.Default(s.defaults.Model), true
	}
	return s.catalog.Lookup(key)
}

// record stores the outcome in the history repository. Failures are logged
// and never change the result of the request.
func (s *ImageGenerationService) record(ctx context.Context, id, modelKey string, req domain.BackendRequest, outcome, message string, elapsed time.Duration) {
	if s.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	err := s.history.Record(ctx, domain.GenerationRecord{
		RequestID:  id,
		ModelKey:   modelKey,
		Prompt:     req.Prompt,
		Width:      req.Width,
		Height:     req.Height,
		Outcome:    outcome,
		Message:    message,
		Duration:   elapsed,
		FinishedAt: s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to record generation", zap.String("request_id", id), zap.Error(err))
	}
}

func valueOr(v *int, def int) int {
	if v == nil {
		return def
	}
	return *v
}
