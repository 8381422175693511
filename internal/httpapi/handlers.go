// Package httpapi exposes the generation service over JSON/HTTP.
//
// Endpoints:
//   - POST /api/image/generate  - generate one image
//   - POST /api/image/cancel    - cancel an in-flight request
//   - GET  /api/image/models    - model catalog
//   - GET  /api/image/history   - recent generations (when history is enabled)
//   - GET  /healthz             - liveness and in-flight count
package httpapi

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/basel-ax/imagegate/internal/domain"
	"github.com/basel-ax/imagegate/internal/logging"
	"github.com/basel-ax/imagegate/internal/repository"
	"github.com/basel-ax/imagegate/internal/validator"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Generator is the service the handlers drive
type Generator interface {
	GenerateImage(ctx context.Context, req domain.GenerationRequest) (*domain.GenerationResult, error)
	Cancel(id string) bool
	ListModels() []domain.ModelInfo
	Validate(req domain.GenerationRequest) []string
	ActiveRequests() int
}

// API holds the HTTP handlers
type API struct {
	gen        Generator
	history    repository.GenerationRepository
	logger     *logging.Logger
	production bool
	now        func() time.Time
}

// NewAPI creates the handlers. history may be nil. In production, details of
// internal errors are not sent to clients.
func NewAPI(gen Generator, history repository.GenerationRepository, logger *logging.Logger, production bool) *API {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &API{
		gen:        gen,
		history:    history,
		logger:     logger,
		production: production,
		now:        time.Now,
	}
}

// RegisterRoutes adds the API routes to mux
func (api *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/image/generate", api.HandleGenerate)
	mux.HandleFunc("POST /api/image/cancel", api.HandleCancel)
	mux.HandleFunc("GET /api/image/models", api.HandleModels)
	mux.HandleFunc("GET /api/image/history", api.HandleHistory)
	mux.HandleFunc("GET /healthz", api.HandleHealth)
}

type generateRequest struct {
	Prompt    json.RawMessage `json:"prompt"`
	Width     json.RawMessage `json:"width"`
	Height    json.RawMessage `json:"height"`
	Model     string          `json:"model"`
	RequestID string          `json:"requestId"`
}

// GenerateResponse is the body of a successful generation
type GenerateResponse struct {
	RequestID      string `json:"requestId"`
	Image          string `json:"image"`
	ContentType    string `json:"contentType"`
	Model          string `json:"model"`
	GenerationTime int64  `json:"generationTime"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string   `json:"error"`
	Kind      string   `json:"kind,omitempty"`
	Details   []string `json:"details,omitempty"`
	RequestID string   `json:"requestId,omitempty"`
	Timestamp string   `json:"timestamp"`
}

// HandleGenerate handles POST /api/image/generate
func (api *API) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	var body generateRequest
	if err := decodeBody(w, r, &body); err != nil {
		api.writeSyntaxError(w, err)
		return
	}

	req, typeViolations := body.toDomain()
	if len(typeViolations) > 0 {
		// Report type problems together with everything else wrong with the request.
		details := append(typeViolations, api.gen.Validate(req)...)
		api.writeGenerationError(w, domain.NewGenerationError(domain.KindValidation, "Validation failed", details...).WithRequestID(req.ID))
		return
	}

	res, err := api.gen.GenerateImage(r.Context(), req)
	if err != nil {
		ge, ok := domain.AsGenerationError(err)
		if !ok {
			ge = domain.NewGenerationError(domain.KindInternal, "Failed to generate image", err.Error()).WithCause(err)
		}
		api.writeGenerationError(w, ge)
		return
	}

	api.writeJSON(w, http.StatusOK, GenerateResponse{
		RequestID:      res.RequestID,
		Image:          "data:" + res.ContentType + ";base64," + base64.StdEncoding.EncodeToString(res.Image),
		ContentType:    res.ContentType,
		Model:          res.ModelKey,
		GenerationTime: res.Duration.Milliseconds(),
	})
}

func (b generateRequest) toDomain() (domain.GenerationRequest, []string) {
	req := domain.GenerationRequest{ID: b.RequestID, ModelKey: b.Model}
	var violations []string

	if present(b.Prompt) {
		if err := json.Unmarshal(b.Prompt, &req.Prompt); err != nil {
			violations = append(violations, validator.StringViolation("Prompt"))
			// Keeps the prompt check from adding "Prompt is required" on top.
			req.Prompt = string(b.Prompt)
		}
	}
	var ok bool
	if req.Width, ok = dimension(b.Width); !ok {
		violations = append(violations, validator.NumberViolation("Width"))
	}
	if req.Height, ok = dimension(b.Height); !ok {
		violations = append(violations, validator.NumberViolation("Height"))
	}
	return req, violations
}

// dimension decodes an optional integral JSON number.
func dimension(raw json.RawMessage) (*int, bool) {
	if !present(raw) {
		return nil, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	if f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return nil, false
	}
	v := int(f)
	return &v, true
}

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

type cancelRequest struct {
	RequestID json.RawMessage `json:"requestId"`
}

// HandleCancel handles POST /api/image/cancel
func (api *API) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if err := decodeBody(w, r, &body); err != nil {
		api.writeSyntaxError(w, err)
		return
	}

	var id string
	var violations []string
	if present(body.RequestID) {
		if err := json.Unmarshal(body.RequestID, &id); err != nil {
			violations = []string{validator.StringViolation("Request ID")}
		}
	}
	if violations == nil {
		violations = validator.ValidateRequestID(id)
	}
	if len(violations) > 0 {
		api.writeGenerationError(w, domain.NewGenerationError(domain.KindValidation, "Validation failed", violations...))
		return
	}

	if !api.gen.Cancel(id) {
		api.writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:     "No active request found",
			RequestID: id,
			Timestamp: api.timestamp(),
		})
		return
	}
	api.writeJSON(w, http.StatusOK, map[string]string{
		"message":   "Request cancelled successfully",
		"requestId": id,
	})
}

// ModelsResponse is the body of GET /api/image/models
type ModelsResponse struct {
	Models []domain.ModelInfo `json:"models"`
}

// HandleModels handles GET /api/image/models
func (api *API) HandleModels(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, ModelsResponse{Models: api.gen.ListModels()})
}

// HistoryEntry is one generation in the history listing
type HistoryEntry struct {
	RequestID  string    `json:"requestId"`
	Model      string    `json:"model"`
	Prompt     string    `json:"prompt"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Outcome    string    `json:"outcome"`
	Message    string    `json:"message,omitempty"`
	DurationMs int64     `json:"durationMs"`
	FinishedAt time.Time `json:"finishedAt"`
}

// HistoryResponse is the body of GET /api/image/history
type HistoryResponse struct {
	Generations []HistoryEntry `json:"generations"`
	Count       int            `json:"count"`
	Limit       int            `json:"limit"`
}

// HandleHistory handles GET /api/image/history
// Query parameters:
// - limit: number of records to return (default: 20, max: 100)
func (api *API) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if api.history == nil {
		api.writeJSON(w, http.StatusNotFound, ErrorResponse{
			Error:     "Generation history is not enabled",
			Timestamp: api.timestamp(),
		})
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		if parsed, err := strconv.Atoi(s); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := api.history.Recent(r.Context(), limit)
	if err != nil {
		api.writeGenerationError(w, domain.NewGenerationError(domain.KindInternal, "Failed to read generation history", err.Error()).WithCause(err))
		return
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, HistoryEntry{
			RequestID:  rec.RequestID,
			Model:      rec.ModelKey,
			Prompt:     rec.Prompt,
			Width:      rec.Width,
			Height:     rec.Height,
			Outcome:    rec.Outcome,
			Message:    rec.Message,
			DurationMs: rec.Duration.Milliseconds(),
			FinishedAt: rec.FinishedAt,
		})
	}
	api.writeJSON(w, http.StatusOK, HistoryResponse{Generations: entries, Count: len(entries), Limit: limit})
}

// HandleHealth handles GET /healthz
func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	api.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"activeRequests": api.gen.ActiveRequests(),
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(dst)
}

func (api *API) writeSyntaxError(w http.ResponseWriter, err error) {
	msg := "Invalid request syntax"
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		msg = "Request body too large"
	}
	api.writeGenerationError(w, domain.NewGenerationError(domain.KindValidation, msg, err.Error()))
}

func (api *API) writeGenerationError(w http.ResponseWriter, ge *domain.GenerationError) {
	resp := ErrorResponse{
		Error:     ge.Message,
		Kind:      string(ge.Kind),
		Details:   ge.Details,
		RequestID: ge.RequestID,
		Timestamp: api.timestamp(),
	}
	if ge.Kind == domain.KindInternal {
		api.logger.Error("request failed",
			zap.String("request_id", ge.RequestID),
			zap.Strings("details", ge.Details),
			zap.Error(ge),
		)
		if api.production {
			resp.Details = nil
		}
	}
	api.writeJSON(w, ge.Kind.HTTPStatus(), resp)
}

func (api *API) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (api *API) timestamp() string {
	return api.now().UTC().Format(time.RFC3339)
}
