// Package client provides the upstream HTTP client the proxy renders views
// with: retries with backoff, error classification and request metrics.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/viewcache/pkg/logging"
	"github.com/Sternrassler/viewcache/pkg/viewcache"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Prometheus metrics for upstream requests.
var (
	upstreamRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_requests_total",
		Help: "Total upstream requests by route and status",
	}, []string{"route", "status"})

	upstreamRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "upstream_request_duration_seconds",
		Help:    "Upstream request duration in seconds by route, retries included",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	}, []string{"route"})

	upstreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "upstream_errors_total",
		Help: "Total upstream errors by class",
	}, []string{"class"})
)

// hopHeaders are not copied from the origin response.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// Client fetches responses from the origin.
type Client struct {
	httpClient *http.Client
	baseURL    *url.URL
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL is the origin, e.g. "http://backend:8080" (REQUIRED).
	BaseURL string

	// UserAgent is sent with every upstream request (REQUIRED).
	UserAgent string

	// Timeout bounds a single attempt.
	Timeout time.Duration

	// ForwardHeaders are copied from the incoming request by ProxyHandler.
	ForwardHeaders []string

	// Retry picks the retry configuration per error class.
	Retry RetryPolicy
}

// DefaultConfig returns a safe default configuration.
func DefaultConfig(baseURL, userAgent string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      userAgent,
		Timeout:        30 * time.Second,
		ForwardHeaders: []string{"Accept", "Accept-Language", "Authorization"},
		Retry:          RetryConfigForErrorClass,
	}
}

// New creates a new upstream client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}

	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}

	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("base url must be an absolute http(s) url (got %q)", cfg.BaseURL)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Retry == nil {
		cfg.Retry = RetryConfigForErrorClass
	}

	return &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		baseURL: base,
		config:  cfg,
		logger:  logging.NewLogger("upstream-client"),
	}, nil
}

// Do performs req against the origin, retrying server, rate limit and
// network failures. 4xx responses are returned to the caller as is.
// req must be replayable, i.e. carry no body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	route := routeLabel(req)

	startTime := time.Now()
	defer func() {
		upstreamRequestDuration.WithLabelValues(route).Observe(time.Since(startTime).Seconds())
	}()

	req.Header.Set("User-Agent", c.config.UserAgent)

	c.logger.Debug().
		Str("route", route).
		Str("method", req.Method).
		Str("url", req.URL.String()).
		Msg("Executing upstream request")

	var resp *http.Response
	err := retryWithBackoff(ctx, c.config.Retry, func() error {
		r, reqErr := c.httpClient.Do(req)
		if reqErr != nil {
			upstreamErrorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			upstreamRequestsTotal.WithLabelValues(route, "network_error").Inc()
			c.logger.Warn().Err(reqErr).Str("route", route).Msg("Upstream request failed")
			return &UpstreamError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        reqErr,
			}
		}

		upstreamRequestsTotal.WithLabelValues(route, strconv.Itoa(r.StatusCode)).Inc()

		errClass := classifyStatus(r.StatusCode)
		if errClass == "" {
			resp = r
			return nil
		}

		upstreamErrorsTotal.WithLabelValues(string(errClass)).Inc()
		c.logger.Warn().
			Str("route", route).
			Int("status_code", r.StatusCode).
			Str("error_class", string(errClass)).
			Msg("Upstream request error")

		if !shouldRetry(errClass) {
			resp = r
			return nil
		}

		r.Body.Close()
		return &UpstreamError{
			StatusCode: r.StatusCode,
			ErrorClass: errClass,
			Message:    r.Status,
		}
	}, classifyError)
	if err != nil {
		return nil, err
	}

	return resp, nil
}

// Get performs a GET request for path on the origin.
func (c *Client) Get(ctx context.Context, path string, query url.Values, header http.Header) (*http.Response, error) {
	u := *c.baseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + path
	u.RawPath = ""
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if header != nil {
		req.Header = header.Clone()
	}

	return c.Do(req)
}

// ProxyHandler forwards GET requests to the origin and copies the response
// back. Upstream failures become 502, or 504 on deadline.
func (c *Client) ProxyHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query()
		query.Del(viewcache.FlushParam)

		header := make(http.Header)
		for _, name := range c.config.ForwardHeaders {
			if vs := r.Header.Values(name); len(vs) > 0 {
				header[http.CanonicalHeaderKey(name)] = append([]string(nil), vs...)
			}
		}

		resp, err := c.Get(r.Context(), r.URL.Path, query, header)
		if err != nil {
			c.writeError(w, r, err)
			return
		}
		defer resp.Body.Close()

		dst := w.Header()
		for k, vs := range resp.Header {
			dst[k] = append([]string(nil), vs...)
		}
		for _, h := range hopHeaders {
			dst.Del(h)
		}

		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			c.logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Copying upstream body failed")
		}
	})
}

func (c *Client) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	c.logger.Error().Err(err).
		Str("path", r.URL.Path).
		Int("status_code", status).
		Msg("Upstream request failed")

	http.Error(w, http.StatusText(status), status)
}

// routeLabel keeps the metric cardinality to the bound route templates.
func routeLabel(req *http.Request) string {
	if route := viewcache.RouteFromContext(req.Context()); route != "" {
		return route
	}
	return "unbound"
}

// Close releases idle upstream connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
