package reportsource

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of an upstream response is read.
const maxResponseBytes = 16 << 20

// ErrNoEndpoint is returned when no report endpoint is configured.
var ErrNoEndpoint = errors.New("report endpoint not configured")

// Source produces report payloads for a date range.
type Source interface {
	Fetch(ctx context.Context, req Request) (*Payload, error)
}

// Client fetches payloads over HTTP from the LecturerReport endpoint.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client
	// Limiter, when set, throttles outgoing requests.
	Limiter *rate.Limiter
}

// NewClient returns a Client with the given per-request timeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		Endpoint:   strings.TrimSpace(endpoint),
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// WithRateLimit allows at most perMinute requests per minute, with bursts of burst.
func (c *Client) WithRateLimit(perMinute, burst int) *Client {
	if perMinute > 0 {
		c.Limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(burst, 1))
	}
	return c
}

// Fetch posts req to the endpoint and decodes the payload.
func (c *Client) Fetch(ctx context.Context, req Request) (*Payload, error) {
	if c.Endpoint == "" {
		return nil, ErrNoEndpoint
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for rate limit: %w", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode report request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build report request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	start := time.Now()
	resp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}

	log.Debug().
		Str("start", req.StartDate).
		Str("end", req.EndDate).
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("took", time.Since(start)).
		Msg("Fetched report payload")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// The gateway may wrap the error body in an envelope as well
		if _, decErr := DecodePayload(data); decErr != nil {
			var se *StatusError
			if errors.As(decErr, &se) {
				se.StatusCode = resp.StatusCode
				return nil, se
			}
		}
		return nil, upstreamError(resp.StatusCode, data)
	}

	return DecodePayload(data)
}
