// Package processing talks to the remote cleaning service.
//
// The client keeps no workflow state: every call translates one request into
// either a normalized models value or one of TransportError, ServiceError and
// MalformedResponseError.
package processing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/dataclean/cleanctl/internal/models"
)

const (
	// DefaultTimeout bounds a whole submission round trip.
	DefaultTimeout = 120 * time.Second

	maxResponseBytes = 10 * 1024 * 1024
)

// Client is an HTTP client for the cleaning service API.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	statusLimiter *rate.Limiter
	logger        logrus.FieldLogger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

// WithStatusRateLimit throttles status polls to rps requests per second.
// A non-positive rps disables throttling.
func WithStatusRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.statusLimiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.statusLimiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithLogger sets the logger used for request tracing.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
		logger:     logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends a file to POST /api/process and returns the normalized result.
// A result with status=error is returned without an error when the service
// answered 2xx; non-2xx answers become *ServiceError.
func (c *Client) Submit(ctx context.Context, req models.ProcessingRequest) (*models.ProcessingResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	start := time.Now()
	status, raw, err := c.do(ctx, "process", http.MethodPost, "/api/process", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	c.logger.WithFields(logrus.Fields{
		"file":    req.FileName,
		"status":  status,
		"elapsed": time.Since(start).Round(time.Millisecond),
	}).Debug("process request finished")

	if !isSuccess(status) {
		return nil, newServiceError(status, decodeErrorText(raw))
	}
	return decodeResult(raw, req.FileName)
}

// PollStatus asks GET /api/status/{reference} for the progress of a job.
func (c *Client) PollStatus(ctx context.Context, reference string) (*models.JobStatus, error) {
	if reference == "" {
		return nil, errors.New("status reference is required")
	}
	if c.statusLimiter != nil {
		if err := c.statusLimiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "status", Err: err}
		}
	}

	status, raw, err := c.do(ctx, "status", http.MethodGet, "/api/status/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, err
	}
	if !isSuccess(status) {
		return nil, newServiceError(status, decodeErrorText(raw))
	}
	return decodeStatus(raw)
}

// Download is a processed file being streamed from the service.
// The caller must close Body.
type Download struct {
	Body     io.ReadCloser
	FileName string
	Size     int64 // -1 when unknown
}

// Download opens GET /api/download/{reference}.
func (c *Client) Download(ctx context.Context, reference string) (*Download, error) {
	if reference == "" {
		return nil, errors.New("download reference is required")
	}

	req, err := c.newRequest(ctx, http.MethodGet, "/api/download/"+url.PathEscape(reference), nil)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	req.Header.Set("Accept", "*/*")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "download", Err: err}
	}
	if !isSuccess(resp.StatusCode) {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		return nil, newServiceError(resp.StatusCode, decodeErrorText(raw))
	}

	name := reference
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil && params["filename"] != "" {
			name = params["filename"]
		}
	}
	return &Download{Body: resp.Body, FileName: name, Size: resp.ContentLength}, nil
}

// do performs a request and reads the whole (bounded) body.
func (c *Client) do(ctx context.Context, op, method, path string, body io.Reader) (int, []byte, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, &TransportError{Op: op, Err: fmt.Errorf("reading response: %w", err)}
	}
	return resp.StatusCode, raw, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}
