package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrUnsupportedFormat = errors.New("unsupported download format")
)

// DownloadFormats lists the formats the backend can render a finished book in.
var DownloadFormats = []string{"txt", "md", "json"}

const maxErrorBody = 64 << 10

// HTTPError is returned for any non-2xx response.
type HTTPError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api %s %s: %s", e.Method, e.Path, e.Message)
	}
	return fmt.Sprintf("api %s %s failed with status %d", e.Method, e.Path, e.StatusCode)
}

func (e *HTTPError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// Client talks to the book generation backend. It holds no job state.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	log            logrus.FieldLogger
	requestTimeout time.Duration
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithRequestTimeout bounds every request. Zero leaves requests unbounded.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.requestTimeout = timeout
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	c := &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{},
		log:        discard,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) Health(ctx context.Context) (*HealthReport, error) {
	var report HealthReport
	if err := c.doJSON(ctx, http.MethodGet, "/health", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) ListBooks(ctx context.Context) ([]BookSummary, error) {
	var response booksListResponse
	if err := c.doJSON(ctx, http.MethodGet, "/books/list", nil, &response); err != nil {
		return nil, err
	}
	if response.Books == nil {
		return []BookSummary{}, nil
	}
	return response.Books, nil
}

// CreateBook validates the request locally and only then submits it.
func (c *Client) CreateBook(ctx context.Context, req CreateBookRequest) (string, error) {
	req = req.Normalized()
	if err := ValidateCreateRequest(req); err != nil {
		return "", err
	}
	var response createBookResponse
	if err := c.doJSON(ctx, http.MethodPost, "/books/generate", req, &response); err != nil {
		return "", err
	}
	id := strings.TrimSpace(response.ProjectID)
	if id == "" {
		return "", fmt.Errorf("service did not return a project id")
	}
	return id, nil
}

func (c *Client) GetStatus(ctx context.Context, jobID string) (*JobStatus, error) {
	path, err := bookPath(jobID, "status")
	if err != nil {
		return nil, err
	}
	blob, err := c.doBytes(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := ValidateStatusPayload(blob); err != nil {
		return nil, err
	}
	var status JobStatus
	if err := json.Unmarshal(blob, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if strings.TrimSpace(status.ID) == "" {
		status.ID = jobID
	}
	return &status, nil
}

func (c *Client) CancelBook(ctx context.Context, jobID string) error {
	path, err := bookPath(jobID, "")
	if err != nil {
		return err
	}
	return c.doJSON(ctx, http.MethodDelete, path, nil, nil)
}

// ViewBook returns chapter text as sent by the backend, ordered by chapter
// number. Display text is left empty.
func (c *Client) ViewBook(ctx context.Context, jobID string) (*BookContent, error) {
	path, err := bookPath(jobID, "view")
	if err != nil {
		return nil, err
	}
	var payload viewPayload
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, err
	}
	return payload.toContent(), nil
}

// Download streams the rendered book into w. The format is checked before any
// request is made and error bodies are never written to w.
func (c *Client) Download(ctx context.Context, jobID, format string, w io.Writer) (int64, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if !SupportedFormat(format) {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}
	path, err := bookPath(jobID, "download/"+format)
	if err != nil {
		return 0, err
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, log, err := c.send(ctx, http.MethodGet, path, nil, "*/*")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if err := checkResponse(resp, http.MethodGet, path); err != nil {
		log.WithError(err).Warn("service.http.failed")
		return 0, err
	}
	written, err := io.Copy(w, resp.Body)
	if err != nil {
		return written, fmt.Errorf("read download body: %w", err)
	}
	log.WithField("bytes", written).Debug("service.http.download")
	return written, nil
}

func SupportedFormat(format string) bool {
	for _, candidate := range DownloadFormats {
		if candidate == format {
			return true
		}
	}
	return false
}

func bookPath(jobID, suffix string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	path := "/books/" + url.PathEscape(jobID)
	if suffix != "" {
		path += "/" + suffix
	}
	return path, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.requestTimeout > 0 {
		return context.WithTimeout(ctx, c.requestTimeout)
	}
	return ctx, func() {}
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload any, out any) error {
	blob, err := c.doBytes(ctx, method, path, payload)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(blob)) == 0 {
		return nil
	}
	if err := json.Unmarshal(blob, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) doBytes(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, log, err := c.send(ctx, method, path, payload, "application/json")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, method, path); err != nil {
		log.WithError(err).Warn("service.http.failed")
		return nil, err
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	log.WithField("bytes", len(blob)).Debug("service.http.response")
	return blob, nil
}

func (c *Client) send(ctx context.Context, method, path string, payload any, accept string) (*http.Response, logrus.FieldLogger, error) {
	var body io.Reader
	if payload != nil {
		blob, err := json.Marshal(payload)
		if err != nil {
			return nil, nil, fmt.Errorf("marshal request payload: %w", err)
		}
		body = bytes.NewReader(blob)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Accept", accept)
	req.Header.Set("X-Request-ID", requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	log := c.log.WithFields(logrus.Fields{
		"req_id": requestID,
		"method": method,
		"path":   path,
	})
	log.Debug("service.http.request")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.WithError(err).Warn("service.http.failed")
		return nil, nil, fmt.Errorf("perform request: %w", err)
	}
	return resp, log.WithFields(logrus.Fields{
		"status":      resp.StatusCode,
		"duration_ms": time.Since(start).Milliseconds(),
	}), nil
}

func checkResponse(resp *http.Response, method, path string) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	blob, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &HTTPError{
		Method:     method,
		Path:       path,
		StatusCode: resp.StatusCode,
		Message:    errorMessage(blob),
	}
}

func errorMessage(blob []byte) string {
	var apiErr apiError
	if json.Unmarshal(blob, &apiErr) != nil {
		return ""
	}
	if msg := strings.TrimSpace(apiErr.Error); msg != "" {
		return msg
	}
	switch detail := apiErr.Detail.(type) {
	case string:
		return strings.TrimSpace(detail)
	case nil:
		return ""
	default:
		encoded, err := json.Marshal(detail)
		if err != nil {
			return ""
		}
		return string(encoded)
	}
}
