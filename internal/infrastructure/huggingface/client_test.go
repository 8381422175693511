package huggingface_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/basel-ax/imagegate/internal/domain"
	"github.com/basel-ax/imagegate/internal/infrastructure/huggingface"
)

// These tests run the adapter against an httptest.Server and check the HTTP
// contract and the failure labels it produces.

var pngHeader = []byte("\x89PNG\r\n\x1a\n0000000000")

func request() domain.BackendRequest {
	return domain.BackendRequest{
		ModelID:       "black-forest-labs/FLUX.1-schnell",
		Prompt:        "a cat",
		Width:         512,
		Height:        512,
		GuidanceScale: 7.5,
		Steps:         50,
	}
}

func asFailure(t *testing.T, err error) *domain.BackendFailure {
	t.Helper()
	var f *domain.BackendFailure
	if !errors.As(err, &f) {
		t.Fatalf("error %v (%T) is not a *domain.BackendFailure", err, err)
	}
	return f
}

func TestGenerateImage_SendsInferenceRequest(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes-that-are-an-image"))
	}))
	defer server.Close()

	client := huggingface.NewClient("hf_key", huggingface.WithBaseURL(server.URL+"/models/"))
	img, err := client.GenerateImage(context.Background(), request())
	if err != nil {
		t.Fatalf("GenerateImage() error: %v", err)
	}

	if gotPath != "/models/black-forest-labs/FLUX.1-schnell" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer hf_key" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotBody["inputs"] != "a cat" {
		t.Errorf("inputs = %v", gotBody["inputs"])
	}
	params, _ := gotBody["parameters"].(map[string]interface{})
	if params["width"] != float64(512) || params["num_inference_steps"] != float64(50) || params["guidance_scale"] != 7.5 {
		t.Errorf("parameters = %v", params)
	}
	if string(img.Data) != "jpeg-bytes-that-are-an-image" {
		t.Errorf("Data = %q", img.Data)
	}
	if img.ContentType != "image/jpeg" {
		t.Errorf("ContentType = %q", img.ContentType)
	}
}

func TestGenerateImage_DetectsMissingContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	img, err := huggingface.NewClient("k", huggingface.WithBaseURL(server.URL)).GenerateImage(context.Background(), request())
	if err != nil {
		t.Fatalf("GenerateImage() error: %v", err)
	}
	if img.ContentType != "image/png" {
		t.Errorf("ContentType = %q, want image/png", img.ContentType)
	}
}

func TestGenerateImage_NonSuccessStatusCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer server.Close()

	_, err := huggingface.NewClient("k", huggingface.WithBaseURL(server.URL)).GenerateImage(context.Background(), request())
	f := asFailure(t, err)

	if f.StatusCode != http.StatusTooManyRequests {
		t.Errorf("StatusCode = %d", f.StatusCode)
	}
	if f.Body != `{"error":"rate limited"}` {
		t.Errorf("Body = %q", f.Body)
	}
	if f.Aborted || f.TimedOut {
		t.Errorf("unexpected flags: %+v", f)
	}
}

func TestGenerateImage_JSONErrorWithSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"error":"Model too busy"}`))
	}))
	defer server.Close()

	_, err := huggingface.NewClient("k", huggingface.WithBaseURL(server.URL)).GenerateImage(context.Background(), request())
	f := asFailure(t, err)
	if f.StatusCode != http.StatusOK || f.Body != `{"error":"Model too busy"}` {
		t.Errorf("failure = %+v", f)
	}
}

func TestGenerateImage_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	_, err := huggingface.NewClient("k", huggingface.WithBaseURL(server.URL)).GenerateImage(context.Background(), request())
	f := asFailure(t, err)
	if f.Err == nil || f.Err.Error() != "no data received from API" {
		t.Errorf("Err = %v", f.Err)
	}
}

func TestGenerateImage_OversizedImageIsRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(append(pngHeader, make([]byte, 64)...))
	}))
	defer server.Close()

	client := huggingface.NewClient("k", huggingface.WithBaseURL(server.URL), huggingface.WithMaxImageSize(32))
	img, err := client.GenerateImage(context.Background(), request())
	if img != nil {
		t.Fatalf("got a truncated image of %d bytes", len(img.Data))
	}
	f := asFailure(t, err)
	if f.StatusCode != http.StatusOK || f.Err == nil || f.Err.Error() != "image exceeds 32 bytes" {
		t.Errorf("failure = %+v", f)
	}
}

func TestGenerateImage_ImageAtSizeLimitIsAccepted(t *testing.T) {
	body := append(pngHeader, make([]byte, 14)...)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	client := huggingface.NewClient("k", huggingface.WithBaseURL(server.URL), huggingface.WithMaxImageSize(int64(len(body))))
	img, err := client.GenerateImage(context.Background(), request())
	if err != nil {
		t.Fatalf("GenerateImage() error: %v", err)
	}
	if len(img.Data) != len(body) {
		t.Errorf("len(Data) = %d, want %d", len(img.Data), len(body))
	}
}

func TestGenerateImage_CancelledContextAborts(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, err := huggingface.NewClient("k", huggingface.WithBaseURL(server.URL)).GenerateImage(ctx, request())
	f := asFailure(t, err)
	if !f.Aborted {
		t.Errorf("Aborted = false: %+v", f)
	}
	if f.TimedOut {
		t.Error("TimedOut = true for a cancellation")
	}
}

func TestGenerateImage_ClientTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	client := huggingface.NewClient("k",
		huggingface.WithBaseURL(server.URL),
		huggingface.WithTimeout(50*time.Millisecond),
	)
	_, err := client.GenerateImage(context.Background(), request())
	f := asFailure(t, err)
	if !f.TimedOut {
		t.Errorf("TimedOut = false: %+v", f)
	}
	if f.Aborted {
		t.Error("Aborted = true for a timeout")
	}
}

func TestGenerateImage_ConnectionRefused(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	_, err := huggingface.NewClient("k", huggingface.WithBaseURL(url)).GenerateImage(context.Background(), request())
	f := asFailure(t, err)
	if f.StatusCode != 0 || f.Aborted || f.TimedOut {
		t.Errorf("failure = %+v", f)
	}
}
