// Package client provides the Bitrix24 REST client with retry, error
// classification, operating-time gating and typed response decoding.
package client

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/crm-report/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for Bitrix24 client operations.
var (
	bitrixRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_bitrix_requests_total",
		Help: "Total Bitrix24 requests by method and status",
	}, []string{"method", "status"})

	bitrixRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "crm_bitrix_request_duration_seconds",
		Help:    "Bitrix24 request duration in seconds by method",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method"})

	bitrixErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "crm_bitrix_errors_total",
		Help: "Total Bitrix24 errors by class",
	}, []string{"class"})
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx statuses and API error bodies.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx statuses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429, QUERY_LIMIT_EXCEEDED and refused
	// requests.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network/timeout errors.
	ErrorClassNetwork ErrorClass = "network"
)

// Bitrix24 API error codes that signal throttling.
var rateLimitCodes = map[string]bool{
	"QUERY_LIMIT_EXCEEDED": true,
	"OPERATION_TIME_LIMIT": true,
}

// maxBodySize caps how much of a response is read.
const maxBodySize = 64 << 20

// Client is the Bitrix24 REST client.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	tracker    *ratelimit.Tracker
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the inbound webhook URL, e.g.
	// "https://portal.bitrix24.ru/rest/1/secret/". Required.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration

	// Redis enables the shared operating-time tracker. Optional.
	Redis *redis.Client

	// Retry configures retries of network and 5xx failures.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:   baseURL,
		UserAgent: "crm-report/0.1.0",
		Timeout:   10 * time.Second,
		Retry:     DefaultRetryConfig(),
	}
}

// New creates a new Bitrix24 client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", base.Scheme)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}

	logger := log.With().Str("component", "bitrix-client").Logger()

	var tracker *ratelimit.Tracker
	if cfg.Redis != nil {
		tracker = ratelimit.NewTracker(cfg.Redis, logger)
	}

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: base,
		tracker: tracker,
		config:  cfg,
		logger:  logger,
	}, nil
}

// call performs one REST method call with operating-time gating, retries
// and error classification, returning the decoded envelope.
func (c *Client) call(ctx context.Context, method string, params url.Values) (*envelope, error) {
	startTime := time.Now()
	defer func() {
		bitrixRequestDuration.WithLabelValues(method).Observe(time.Since(startTime).Seconds())
	}()

	if c.tracker != nil {
		allowed, err := c.tracker.ShouldAllowRequest(ctx, method)
		if err != nil {
			// Tracker outages must not take the report down with them.
			c.logger.Warn().Err(err).Str("method", method).Msg("Operating time check failed")
		} else if !allowed {
			bitrixRequestsTotal.WithLabelValues(method, "blocked").Inc()
			bitrixErrorsTotal.WithLabelValues(string(ErrorClassRateLimit)).Inc()
			return nil, &TransportError{
				Method:     method,
				ErrorClass: ErrorClassRateLimit,
				Err:        ErrRequestBlocked,
			}
		}
	}

	endpoint := c.baseURL.ResolveReference(&url.URL{Path: method + ".json"})
	endpoint.RawQuery = params.Encode()

	c.logger.Debug().
		Str("method", method).
		Str("query", endpoint.RawQuery).
		Msg("Executing Bitrix24 request")

	var env *envelope

	err := retryWithBackoff(ctx, c.config.Retry, c.logger, func() (ErrorClass, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
		if err != nil {
			return "", fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.config.UserAgent != "" {
			req.Header.Set("User-Agent", c.config.UserAgent)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				// Caller gave up; nothing to retry.
				return "", fmt.Errorf("%w: %w", ErrContextCancelled, ctx.Err())
			}
			c.logger.Error().Err(err).Str("method", method).Msg("HTTP request failed")
			bitrixErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			bitrixRequestsTotal.WithLabelValues(method, "network_error").Inc()
			return ErrorClassNetwork, &TransportError{Method: method, ErrorClass: ErrorClassNetwork, Err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			bitrixErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			bitrixRequestsTotal.WithLabelValues(method, "network_error").Inc()
			return ErrorClassNetwork, &TransportError{
				Method:     method,
				StatusCode: resp.StatusCode,
				ErrorClass: ErrorClassNetwork,
				Err:        fmt.Errorf("read body: %w", err),
			}
		}

		bitrixRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

		decoded, decodeErr := decodeEnvelope(body)

		if resp.StatusCode >= 300 || (decoded != nil && decoded.Error != "") {
			terr := &TransportError{Method: method, StatusCode: resp.StatusCode}
			if decoded != nil {
				terr.Code = decoded.Error
				terr.Description = decoded.ErrorDescription
			}
			terr.ErrorClass = classify(resp.StatusCode, terr.Code)
			bitrixErrorsTotal.WithLabelValues(string(terr.ErrorClass)).Inc()

			c.logger.Warn().
				Str("method", method).
				Int("status", resp.StatusCode).
				Str("api_error", terr.Code).
				Str("error_class", string(terr.ErrorClass)).
				Msg("Bitrix24 request error")

			return terr.ErrorClass, terr
		}

		if decodeErr != nil {
			return "", &SchemaError{Method: method, Field: "body", Err: decodeErr}
		}

		env = decoded
		return "", nil
	})
	if err != nil {
		return nil, err
	}

	if c.tracker != nil && env.Time != nil {
		if err := c.tracker.Update(ctx, method, *env.Time); err != nil {
			c.logger.Warn().Err(err).Str("method", method).Msg("Failed to update operating state")
		}
	}

	return env, nil
}

// classify categorizes a failed response for observability and retries.
func classify(status int, apiCode string) ErrorClass {
	switch {
	case status == http.StatusTooManyRequests || rateLimitCodes[apiCode]:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// List fetches a single page of a list method.
func (c *Client) List(ctx context.Context, q Query) (Page, error) {
	env, err := c.call(ctx, q.Method, q.Values())
	if err != nil {
		return Page{}, err
	}
	return pageFromEnvelope(q, env)
}

// Count returns the server-reported total for q without paging.
func (c *Client) Count(ctx context.Context, q Query) (int, error) {
	env, err := c.call(ctx, q.Method, q.Values())
	if err != nil {
		return 0, err
	}

	total, ok, err := parseTotal(q.Method, env.Total)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, &SchemaError{Method: q.Method, Field: "total"}
	}
	return total, nil
}

// Categories fetches the category catalog for an entity type.
func (c *Client) Categories(ctx context.Context, entityTypeID int) ([]Category, error) {
	const method = "crm.category.list"

	params := url.Values{}
	params.Set("entityTypeId", strconv.Itoa(entityTypeID))

	env, err := c.call(ctx, method, params)
	if err != nil {
		return nil, err
	}
	return categoriesFromEnvelope(method, env)
}

// CountDeals returns the number of deals in a category.
func (c *Client) CountDeals(ctx context.Context, categoryID int) (int, error) {
	return c.Count(ctx, Query{
		Method: "crm.deal.list",
		Filter: map[string]any{"CATEGORY_ID": categoryID},
		Select: []string{"ID"},
	})
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
