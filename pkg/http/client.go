// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"signalbot/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError represents a non-2xx response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Options tunes the resilience pipeline
type Options struct {
	Timeout        time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BreakerFailures of BreakerWindow executions open the circuit for BreakerDelay
	BreakerFailures uint
	BreakerWindow   uint
	BreakerDelay    time.Duration
}

// DefaultOptions suits outbound notification webhooks
func DefaultOptions() Options {
	return Options{
		Timeout:         10 * time.Second,
		MaxRetries:      3,
		InitialBackoff:  100 * time.Millisecond,
		MaxBackoff:      2 * time.Second,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    10 * time.Second,
	}
}

// Client is a wrapper around http.Client with retry and circuit breaking
type Client struct {
	client   *http.Client
	baseURL  string
	pipeline failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client
func NewClient(baseURL string, opts Options) *Client {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaults.InitialBackoff
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.BreakerWindow == 0 {
		opts.BreakerFailures, opts.BreakerWindow = defaults.BreakerFailures, defaults.BreakerWindow
	}
	if opts.BreakerDelay <= 0 {
		opts.BreakerDelay = defaults.BreakerDelay
	}

	retryPolicy := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(opts.InitialBackoff, opts.MaxBackoff).
		WithMaxRetries(opts.MaxRetries).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(opts.BreakerFailures, opts.BreakerWindow).
		WithDelay(opts.BreakerDelay).
		Build()

	meter := telemetry.GetMeter("http-client")
	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client:      &http.Client{Timeout: opts.Timeout},
		baseURL:     baseURL,
		pipeline:    failsafe.With[*http.Response](retryPolicy, breaker),
		tracer:      telemetry.GetTracer("http-client"),
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, params, nil, "")
}

// PostJSON marshals body and sends it as application/json
func (c *Client) PostJSON(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, path, nil, payload, "application/json")
}

func (c *Client) do(ctx context.Context, method, path string, params map[string]string, payload []byte, contentType string) ([]byte, error) {
	start := time.Now()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		trace.WithAttributes(attribute.String("http.method", method)),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
	)

	// Each attempt needs a fresh request because the body reader is consumed.
	resp, err := c.pipeline.GetWithExecution(func(_ failsafe.Execution[*http.Response]) (*http.Response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return nil, err
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		if len(params) > 0 {
			q := req.URL.Query()
			for k, v := range params {
				q.Add(k, v)
			}
			req.URL.RawQuery = q.Encode()
		}
		return c.client.Do(req)
	})

	c.reqCounter.Add(ctx, 1, attrs)
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), attrs)

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, attrs)
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, attrs)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: data}
	}
	return data, nil
}
