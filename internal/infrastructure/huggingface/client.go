package huggingface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/basel-ax/imagegate/internal/domain"
)

const (
	defaultBaseURL = "https://api-inference.huggingface.co/models"
	defaultTimeout = 2 * time.Minute

	defaultMaxImageBytes = 32 << 20
	maxErrorBytes        = 64 << 10
	// Responses this small may be a JSON error served with status 200
	suspiciousSize = 1000
)

// Client calls the Hugging Face inference API text-to-image endpoint
type Client struct {
	httpClient    *http.Client
	apiKey        string
	baseURL       string
	maxImageBytes int64
}

// Option configures a Client
type Option func(*Client)

// WithBaseURL points the client at another inference endpoint root
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithTimeout sets the deadline for a whole generation call
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxImageSize sets the largest image body accepted, in bytes
func WithMaxImageSize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxImageBytes = n
		}
	}
}

// NewClient creates a new Hugging Face inference client
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		maxImageBytes: defaultMaxImageBytes,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type generateParams struct {
	Width             int     `json:"width,omitempty"`
	Height            int     `json:"height,omitempty"`
	GuidanceScale     float64 `json:"guidance_scale,omitempty"`
	NumInferenceSteps int     `json:"num_inference_steps,omitempty"`
}

type generateBody struct {
	Inputs     string         `json:"inputs"`
	Parameters generateParams `json:"parameters"`
}

// GenerateImage implements domain.ImageBackend
func (c *Client) GenerateImage(ctx context.Context, req domain.BackendRequest) (*domain.BackendImage, error) {
	payload, err := json.Marshal(generateBody{
		Inputs: req.Prompt,
		Parameters: generateParams{
			Width:             req.Width,
			Height:            req.Height,
			GuidanceScale:     req.GuidanceScale,
			NumInferenceSteps: req.Steps,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+req.ModelID, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "image/*, application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.NewTransportFailure(ctx, fmt.Errorf("failed to send request: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxErrorBytes))
		if readErr != nil && ctx.Err() != nil {
			return nil, domain.NewTransportFailure(ctx, readErr)
		}
		return nil, &domain.BackendFailure{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("unexpected status code: %d", resp.StatusCode),
		}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxImageBytes+1))
	if err != nil {
		return nil, domain.NewTransportFailure(ctx, fmt.Errorf("failed to read response: %w", err))
	}
	if int64(len(data)) > c.maxImageBytes {
		return nil, &domain.BackendFailure{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("image exceeds %d bytes", c.maxImageBytes),
		}
	}
	if len(data) == 0 {
		return nil, &domain.BackendFailure{
			StatusCode: resp.StatusCode,
			Err:        errors.New("no data received from API"),
		}
	}

	contentType := resp.Header.Get("Content-Type")
	if isJSONError(contentType, data) {
		return nil, &domain.BackendFailure{
			StatusCode: resp.StatusCode,
			Body:       string(data),
			Err:        errors.New("API returned an error payload"),
		}
	}
	if contentType == "" || strings.HasPrefix(contentType, "application/octet-stream") {
		contentType = http.DetectContentType(data)
	}

	return &domain.BackendImage{
		Data:        data,
		ContentType: contentType,
	}, nil
}

// isJSONError detects error documents delivered with a success status.
func isJSONError(contentType string, data []byte) bool {
	if strings.HasPrefix(contentType, "application/json") {
		return true
	}
	if len(data) >= suspiciousSize {
		return false
	}
	var doc struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(data), &doc); err != nil {
		return false
	}
	return len(doc.Error) > 0
}

// Ensure Client satisfies the ImageBackend port at compile time.
var _ domain.ImageBackend = (*Client)(nil)
