package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/lomolisso/esn-cloud-api/internal/domain"
	"github.com/lomolisso/esn-cloud-api/internal/metrics"

	"go.uber.org/zap"
)

// Response is a collaborator answer. Body is always valid JSON (or empty).
type Response struct {
	StatusCode int
	Body       json.RawMessage
}

// Decode unmarshals the response body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body (status %d)", r.StatusCode)
	}
	return json.Unmarshal(r.Body, v)
}

// Client performs JSON requests against one collaborator service.
// It never retries; a non-2xx answer is returned together with an
// UpstreamRejected error, a timeout or connection failure as TransportFailure.
type Client struct {
	name    string
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

func NewClient(name, baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Call(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Call(ctx, http.MethodPost, path, body)
}

func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Call(ctx, http.MethodPut, path, body)
}

func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Call(ctx, http.MethodDelete, path, nil)
}

func (c *Client) Call(ctx context.Context, method, path string, body any) (*Response, error) {
	op := method + " " + c.name + path

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to encode body: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%s: failed to build request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.UpstreamRequestDuration.WithLabelValues(c.name, method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(c.name, method, "error").Inc()
		c.logger.Warn("[Client] request failed",
			zap.String("service", c.name),
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err))
		return nil, &domain.ServiceError{Kind: domain.KindTransportFailure, Op: op, Err: err}
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues(c.name, method, strconv.Itoa(resp.StatusCode)).Inc()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &domain.ServiceError{Kind: domain.KindTransportFailure, Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	result := &Response{StatusCode: resp.StatusCode, Body: normalizeBody(raw)}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Debug("[Client] collaborator rejected request",
			zap.String("service", c.name),
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return result, &domain.ServiceError{
			Kind:       domain.KindUpstreamRejected,
			Op:         op,
			StatusCode: resp.StatusCode,
			Body:       result.Body,
		}
	}

	return result, nil
}

// Expect turns the outcome of a call into an error unless the collaborator
// answered with exactly the wanted status.
func Expect(resp *Response, err error, want int) error {
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		return &domain.ServiceError{
			Kind:       domain.KindUpstreamRejected,
			StatusCode: resp.StatusCode,
			Body:       resp.Body,
			Err:        fmt.Errorf("expected status %d", want),
		}
	}
	return nil
}

// normalizeBody makes non-JSON bodies safe to forward as JSON
func normalizeBody(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}
	if json.Valid(trimmed) {
		return json.RawMessage(trimmed)
	}
	quoted, _ := json.Marshal(map[string]string{"detail": string(trimmed)})
	return quoted
}
