// Package openaiimages adapts the OpenAI images API to the domain.ImageBackend port.
package openaiimages

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/basel-ax/imagegate/internal/domain"
)

const defaultTimeout = 2 * time.Minute

// Client generates images through go-openai
type Client struct {
	api *openai.Client
}

// NewClient creates a client for the OpenAI images endpoint. An empty baseURL
// keeps the library default.
func NewClient(apiKey, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	return &Client{api: openai.NewClientWithConfig(cfg)}
}

// GenerateImage implements domain.ImageBackend. ModelID is passed through as
// the OpenAI model name.
func (c *Client) GenerateImage(ctx context.Context, req domain.BackendRequest) (*domain.BackendImage, error) {
	resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          req.ModelID,
		N:              1,
		Size:           fmt.Sprintf("%dx%d", req.Width, req.Height),
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, toFailure(ctx, err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, &domain.BackendFailure{
			StatusCode: http.StatusOK,
			Err:        errors.New("no data received from API"),
		}
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, &domain.BackendFailure{
			StatusCode: http.StatusOK,
			Err:        fmt.Errorf("failed to decode image: %w", err),
		}
	}
	contentType := http.DetectContentType(data)
	if contentType == "application/octet-stream" {
		contentType = "image/png"
	}
	return &domain.BackendImage{Data: data, ContentType: contentType}, nil
}

func toFailure(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &domain.BackendFailure{
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
			Err:        err,
		}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		f := &domain.BackendFailure{StatusCode: reqErr.HTTPStatusCode, Err: err}
		if reqErr.Err != nil {
			f.Body = reqErr.Err.Error()
		}
		return f
	}
	return domain.NewTransportFailure(ctx, err)
}

var _ domain.ImageBackend = (*Client)(nil)
