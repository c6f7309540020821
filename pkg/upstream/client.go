// Package upstream provides the HTTP client for the remote album content API.
//
// Every call attaches the caller's token as a session cookie, decodes the
// {ec, em, data} envelope, and turns HTTP and envelope failures into typed
// errors. The client never retries: a failed page ends the retrieval.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Upstream endpoints.
const (
	EndpointAlbumPosts = "/api/user/get-album-post"
	EndpointAlbumInfo  = "/api/user/get-album-info"
)

// DefaultUserAgent mimics a desktop browser; the upstream rejects bare clients.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// maxBodyBytes bounds a single upstream response body.
const maxBodyBytes = 32 << 20

// Prometheus metrics for upstream operations.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "album_upstream_requests_total",
		Help: "Total upstream requests by endpoint and status",
	}, []string{"endpoint", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "album_upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"endpoint"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "album_upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// Config holds the client configuration.
type Config struct {
	// BaseURL is the scheme and host of the content API, without a trailing slash.
	BaseURL string

	// UserAgent is sent on every request.
	UserAgent string

	// Timeout bounds a single upstream call.
	Timeout time.Duration
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://ifdian.net",
		UserAgent: DefaultUserAgent,
		Timeout:   30 * time.Second,
	}
}

// Client talks to the upstream content API.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https (got %q)", base.Scheme)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    base,
		config:     cfg,
		logger:     log.With().Str("component", "upstream").Logger(),
	}, nil
}

// FetchPage retrieves one page of album posts starting after lastRank.
// An empty lastRank is sent as "0".
func (c *Client) FetchPage(ctx context.Context, albumID, token, lastRank string) (*PostPage, error) {
	if lastRank == "" {
		lastRank = "0"
	}
	params := url.Values{
		"album_id":  {albumID},
		"lastRank":  {lastRank},
		"rankOrder": {"asc"},
		"rankField": {"rank"},
	}

	var env envelope[PostPage]
	if err := c.get(ctx, EndpointAlbumPosts, params, token, &env); err != nil {
		return nil, err
	}
	if env.Code != StatusSuccess {
		return nil, c.rejected(EndpointAlbumPosts, env.Code, env.Message)
	}

	c.logger.Debug().
		Str("last_rank", lastRank).
		Int("posts", len(env.Data.Posts)).
		Bool("has_more", bool(env.Data.HasMore)).
		Msg("Fetched album page")

	return &env.Data, nil
}

// FetchAlbumInfo retrieves album metadata.
// Returns ErrAlbumNotFound when the envelope succeeds without an album.
func (c *Client) FetchAlbumInfo(ctx context.Context, albumID, token string) (*AlbumInfo, error) {
	params := url.Values{"album_id": {albumID}}

	var env envelope[albumInfoData]
	if err := c.get(ctx, EndpointAlbumInfo, params, token, &env); err != nil {
		return nil, err
	}
	if env.Code != StatusSuccess {
		return nil, c.rejected(EndpointAlbumInfo, env.Code, env.Message)
	}
	if env.Data.Album == nil {
		return nil, ErrAlbumNotFound
	}
	return env.Data.Album, nil
}

// get issues a GET and decodes the JSON body into out.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, token string, out any) error {
	u := *c.baseURL
	u.Path = c.baseURL.Path + endpoint
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Cookie", "auth_token="+token+";")
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Caller went away; not an upstream fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			upstreamRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
			return ctxErr
		}
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		upstreamRequestsTotal.WithLabelValues(endpoint, "network_error").Inc()
		c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Upstream request failed")
		return &NetworkError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	status := strconv.Itoa(resp.StatusCode)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		errClass := classifyStatus(resp.StatusCode)
		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		upstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return &HTTPError{StatusCode: resp.StatusCode, ErrorClass: errClass, Endpoint: endpoint}
	}
	upstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		upstreamErrorsTotal.WithLabelValues(string(ErrorClassServer)).Inc()
		return fmt.Errorf("%w: decode %s: %v", ErrInvalidResponse, endpoint, err)
	}
	return nil
}

func (c *Client) rejected(endpoint string, code int, message string) error {
	upstreamErrorsTotal.WithLabelValues(string(ErrorClassRejected)).Inc()
	c.logger.Warn().
		Str("endpoint", endpoint).
		Int("code", code).
		Msg("Upstream rejected request")
	return &APIError{Code: code, Message: message}
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}

// IsUpstreamFailure reports whether err originated from the upstream
// (HTTP status, envelope rejection, transport failure, or malformed body).
func IsUpstreamFailure(err error) bool {
	var httpErr *HTTPError
	var apiErr *APIError
	var netErr *NetworkError
	return errors.As(err, &httpErr) || errors.As(err, &apiErr) ||
		errors.As(err, &netErr) || errors.Is(err, ErrInvalidResponse)
}
