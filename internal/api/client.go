package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/telemetry-relay/internal/state"
)

// Client interface for testability
type Client interface {
	PostTelemetry(ctx context.Context, r state.Report) (IngestAck, error)
	Telemetry(ctx context.Context) (state.Telemetry, error)
	Status(ctx context.Context) (state.Status, error)
	ListWaypoints(ctx context.Context) ([]state.Waypoint, error)
	CreateWaypoint(ctx context.Context, spec state.WaypointSpec) (state.Waypoint, error)
	DeleteWaypoint(ctx context.Context, id string) error
	Health(ctx context.Context) (Health, error)
}

type HTTPClient struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	retryCount int
	retryDelay time.Duration
	logger     *zap.Logger
}

type IngestAck struct {
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

type Health struct {
	Status        string  `json:"status"`
	Uptime        float64 `json:"uptime"`
	Clients       int     `json:"clients"`
	Waypoints     int     `json:"waypoints"`
	LastTelemetry int64   `json:"lastTelemetry"`
}

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields"`
}

func NewClient(baseURL string, ratePerSec int, timeout, retryDelay time.Duration, retryCount int, logger *zap.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:       100,
		MaxConnsPerHost:    10,
		IdleConnTimeout:    90 * time.Second,
		DisableCompression: false,
	}

	return &HTTPClient{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   timeout,
		},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec*2),
		retryCount: retryCount,
		retryDelay: retryDelay,
		logger:     logger,
	}
}

// PostTelemetry submits one report. Re-sending a report is harmless, so
// transient failures are retried.
func (c *HTTPClient) PostTelemetry(ctx context.Context, r state.Report) (IngestAck, error) {
	var ack IngestAck
	err := c.do(ctx, http.MethodPost, "/telemetry", r, &ack, true)
	return ack, err
}

func (c *HTTPClient) Telemetry(ctx context.Context) (state.Telemetry, error) {
	var t state.Telemetry
	err := c.do(ctx, http.MethodGet, "/api/telemetry", nil, &t, true)
	return t, err
}

func (c *HTTPClient) Status(ctx context.Context) (state.Status, error) {
	var s state.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &s, true)
	return s, err
}

func (c *HTTPClient) ListWaypoints(ctx context.Context) ([]state.Waypoint, error) {
	var wps []state.Waypoint
	err := c.do(ctx, http.MethodGet, "/api/waypoints", nil, &wps, true)
	return wps, err
}

// CreateWaypoint is only retried when the caller supplied an id, since a
// retried anonymous create could insert the waypoint twice.
func (c *HTTPClient) CreateWaypoint(ctx context.Context, spec state.WaypointSpec) (state.Waypoint, error) {
	var wp state.Waypoint
	err := c.do(ctx, http.MethodPost, "/api/waypoints", spec, &wp, spec.ID != "")
	return wp, err
}

func (c *HTTPClient) DeleteWaypoint(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/waypoints/"+url.PathEscape(id), nil, nil, true)
}

func (c *HTTPClient) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &h, true)
	return h, err
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any, retry bool) error {
	// Wait for rate limiter
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	endpoint := c.baseURL + path
	c.logger.Debug("requesting", zap.String("method", method), zap.String("url", endpoint))

	attempts := c.retryCount
	if !retry {
		attempts = 0
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1)) // Exponential backoff
			c.logger.Debug("retrying request", zap.Int("attempt", attempt), zap.Duration("delay", delay))

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// Read body before closing for error messages
		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if readErr != nil {
			lastErr = readErr
			continue
		}

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return ErrNotFound
		case resp.StatusCode == http.StatusBadRequest:
			return rejection(respBody)
		case resp.StatusCode == http.StatusTooManyRequests:
			lastErr = ErrRateLimited
			continue
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
			return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
		}

		if out == nil {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

func rejection(body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil || e.Error == "" {
		return ErrRejected
	}
	if len(e.Fields) > 0 {
		return fmt.Errorf("%w: %s (%s)", ErrRejected, e.Error, strings.Join(e.Fields, ", "))
	}
	return fmt.Errorf("%w: %s", ErrRejected, e.Error)
}
