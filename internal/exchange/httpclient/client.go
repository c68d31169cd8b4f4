// Package httpclient provides a resilient HTTP transport — retry with
// jittered backoff plus a circuit breaker — shared by every venue
// adapter's REST calls (§4.1a).
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"gridbot/internal/apperrors"
	"gridbot/internal/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError is a non-2xx venue response with its raw body, for the
// adapter's own error-code parsing.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("venue API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer signs an outbound request in place (query string, headers).
type Signer interface {
	SignRequest(req *http.Request) error
}

// Client wraps http.Client with a retry+circuit-breaker pipeline. A
// VenueTransient condition (network error or 5xx/429) retries with
// exponential backoff up to a cap; sustained failures open the circuit,
// degrading callers to "defer to next reconciliation tick" (§7) instead
// of busy-retrying forever.
type Client struct {
	http     *http.Client
	signer   Signer
	pipeline failsafe.Executor[*http.Response]

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewWithProxy builds a Client whose outbound requests route through
// proxyURL (typically one leased from internal/proxypool for the
// duration of a user's session, §4.7).
func NewWithProxy(timeout time.Duration, signer Signer, proxyURL string) (*Client, error) {
	c := New(timeout, signer)
	if proxyURL == "" {
		return c, nil
	}
	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	c.http.Transport = &http.Transport{Proxy: http.ProxyURL(u)}
	return c, nil
}

// New builds a Client. signer may be nil for unsigned calls
// (exchangeInfo/klines/ticker probes).
func New(timeout time.Duration, signer Signer) *Client {
	retry := retrypolicy.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(3).
		Build()

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer("exchange-http-client")
	meter := telemetry.GetMeter("exchange-http-client")
	reqCounter, _ := meter.Int64Counter("gridbot_venue_requests_total")
	errCounter, _ := meter.Int64Counter("gridbot_venue_errors_total")
	latencyHist, _ := meter.Float64Histogram("gridbot_venue_request_duration_seconds")

	return &Client{
		http:        &http.Client{Timeout: timeout},
		signer:      signer,
		pipeline:    failsafe.With[*http.Response](retry, breaker),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// Do executes a request through the resilience pipeline, signing it first
// if a Signer is configured, and returns the raw response body.
func (c *Client) Do(req *http.Request) ([]byte, int, error) {
	start := time.Now()
	ctx, span := c.tracer.Start(req.Context(), fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()
	req = req.WithContext(ctx)

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, 0, fmt.Errorf("sign request: %w", err)
		}
	}

	resp, err := c.pipeline.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return c.http.Do(req)
	})

	c.reqCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("method", req.Method)))
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("method", req.Method)))

	if err != nil {
		span.RecordError(err)
		c.errCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", "pipeline_exhausted")))
		return nil, 0, fmt.Errorf("%w: %v", apperrors.ErrVenueTransient, err)
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		c.errCounter.Add(ctx, 1, metric.WithAttributes(attribute.Int("status", resp.StatusCode)))
		return body, resp.StatusCode, &APIError{StatusCode: resp.StatusCode, Body: body}
	}

	return body, resp.StatusCode, nil
}

// NewRequest is a small convenience wrapper over http.NewRequestWithContext.
func NewRequest(ctx context.Context, method, url string) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, url, nil)
}
