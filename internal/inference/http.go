package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/example/weaponid/internal/detection"
	"github.com/example/weaponid/internal/logging"
)

const defaultHTTPTimeout = 30 * time.Second

// HTTPInferencer posts the staged image to an external detector as the
// multipart field "file" and expects {"detections":[{class_id,confidence,bbox}]}.
type HTTPInferencer struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// HTTPOption customizes an HTTPInferencer.
type HTTPOption func(*HTTPInferencer)

// WithHTTPClient replaces the default client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(h *HTTPInferencer) { h.client = client }
}

// NewHTTPInferencer targets endpoint.
func NewHTTPInferencer(endpoint string, logger *zap.Logger, opts ...HTTPOption) *HTTPInferencer {
	h := &HTTPInferencer{
		url:    endpoint,
		client: &http.Client{Timeout: defaultHTTPTimeout},
		logger: logger.Named("inference.http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Infer streams the file at in.Path to the detector.
func (h *HTTPInferencer) Infer(ctx context.Context, in detection.Input) ([]detection.RawDetection, error) {
	f, err := os.Open(in.Path)
	if err != nil {
		return nil, fmt.Errorf("open staged image: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		part, err := writer.CreateFormFile("file", filepath.Base(in.Path))
		if err == nil {
			_, err = io.Copy(part, f)
		}
		if err == nil {
			err = writer.Close()
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, pr)
	if err != nil {
		pr.Close()
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.client.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("inference.http.detect", in.RequestID, err)
		h.logger.Error("detector call failed", zap.Error(wrapped), zap.String("url", h.url))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		h.logger.Warn("detector returned non-200",
			zap.String("request_id", in.RequestID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", snippet),
		)
		return nil, fmt.Errorf("detector responded with status %d", resp.StatusCode)
	}

	var payload struct {
		Detections []wireDetection `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode detector response: %w", err)
	}

	return toRawList(payload.Detections)
}

// Ping checks that the detector answers on /health at the root of its host.
func (h *HTTPInferencer) Ping(ctx context.Context) error {
	u, err := url.Parse(h.url)
	if err != nil {
		return fmt.Errorf("parse detector url: %w", err)
	}
	health := url.URL{Scheme: u.Scheme, User: u.User, Host: u.Host, Path: "/health"}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, health.String(), nil)
	if err != nil {
		return err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("detector unhealthy: %d", resp.StatusCode)
	}
	return nil
}
