package threescale

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// listPageSize is the page size used for paginated list endpoints.
const listPageSize = 500

// Config holds the connection settings for one tenant Admin API.
type Config struct {
	// TenantURL is the tenant admin root, e.g.
	// "https://acme-admin.3scale.example.com".
	TenantURL string

	// AccessToken authenticates every Admin API request.
	AccessToken string

	// Timeout bounds a single HTTP request.
	Timeout time.Duration

	// InsecureSkipVerify disables TLS certificate verification. Intended
	// for self-signed development tenants only.
	InsecureSkipVerify bool

	// UserAgent is sent on every request.
	UserAgent string

	// Logger receives request-level debug logging. Defaults to a no-op
	// logger.
	Logger zerolog.Logger

	// Observer, when set, receives one callback per Admin API request with
	// the HTTP status (zero for network-level failures) and duration.
	Observer func(method, path string, status int, duration time.Duration)
}

// DefaultConfig returns a Config with sensible defaults for the given
// tenant.
func DefaultConfig(tenantURL, accessToken string) *Config {
	return &Config{
		TenantURL:   tenantURL,
		AccessToken: accessToken,
		Timeout:     30 * time.Second,
		UserAgent:   "3scale-sync",
		Logger:      zerolog.Nop(),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.TenantURL == "" {
		return fmt.Errorf("tenant URL is required")
	}
	u, err := url.Parse(c.TenantURL)
	if err != nil {
		return fmt.Errorf("invalid tenant URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("tenant URL must be http or https, got %q", u.Scheme)
	}
	if c.AccessToken == "" {
		return fmt.Errorf("access token is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// Client talks to one tenant Admin API. All methods are safe for concurrent
// use; the client keeps no per-request state.
type Client struct {
	baseURL    *url.URL
	token      string
	userAgent  string
	httpClient *http.Client
	logger     zerolog.Logger
	observer   func(method, path string, status int, duration time.Duration)
}

// New creates a Client from the configuration.
func New(cfg *Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid client config: %w", err)
	}

	base, err := url.Parse(strings.TrimRight(cfg.TenantURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid tenant URL: %w", err)
	}

	transport := http.DefaultTransport
	if cfg.InsecureSkipVerify {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}

	return &Client{
		baseURL:   base,
		token:     cfg.AccessToken,
		userAgent: cfg.UserAgent,
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		logger:   cfg.Logger.With().Str("component", "threescale").Logger(),
		observer: cfg.Observer,
	}, nil
}

// APIError is a non-2xx response from the Admin API. The status code
// decides whether the engine may retry the call.
type APIError struct {
	// StatusCode is the HTTP status of the response.
	StatusCode int

	// Method and Path identify the failing request.
	Method string
	Path   string

	// Body is the response body, truncated for reporting.
	Body string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: status=%d body=%s", e.Method, e.Path, e.StatusCode, e.Body)
}

// Transient reports whether the failure is worth retrying: rate limits,
// request timeouts and server-side errors.
func (e *APIError) Transient() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

// IsTransient reports whether err is a retryable remote failure: a
// transient APIError or a network-level error (timeout, refused
// connection, reset).
func IsTransient(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

// adminPath joins p onto the Admin API root.
func (c *Client) adminPath(p string) string {
	return "/admin/api" + p
}

// newRequest builds a request against the tenant with the access token and
// any extra query parameters attached.
func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string) (*http.Request, error) {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path

	q := u.Query()
	q.Set("access_token", c.token)
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

// do executes the request and returns the response body on 2xx. Non-2xx
// responses become an *APIError carrying the status and truncated body.
func (c *Client) do(req *http.Request) ([]byte, error) {
	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.observer != nil {
			c.observer(req.Method, req.URL.Path, 0, time.Since(start))
		}
		return nil, fmt.Errorf("request %s %s failed: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", req.Method).
		Str("path", req.URL.Path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Admin API request")

	if c.observer != nil {
		c.observer(req.Method, req.URL.Path, resp.StatusCode, time.Since(start))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			Path:       req.URL.Path,
			Body:       truncate(string(body), 512),
		}
	}
	return body, nil
}

// getJSON fetches path and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.adminPath(path), query, nil, "")
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// getXML fetches path and decodes the XML response into out.
func (c *Client) getXML(ctx context.Context, path string, out interface{}) error {
	req, err := c.newRequest(ctx, http.MethodGet, c.adminPath(path), nil, nil, "")
	if err != nil {
		return err
	}
	body, err := c.do(req)
	if err != nil {
		return err
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode XML response from %s: %w", path, err)
	}
	return nil
}

// submitForm sends form-encoded values with the given method and decodes a
// JSON response into out when out is non-nil. Empty form values are dropped
// so updates stay sparse.
func (c *Client) submitForm(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	body, err := c.submitFormRaw(ctx, method, path, form)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", path, err)
	}
	return nil
}

// submitFormXML sends form-encoded values and decodes an XML response.
func (c *Client) submitFormXML(ctx context.Context, method, path string, form url.Values, out interface{}) error {
	body, err := c.submitFormRaw(ctx, method, path, form)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := xml.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode XML response from %s: %w", path, err)
	}
	return nil
}

func (c *Client) submitFormRaw(ctx context.Context, method, path string, form url.Values) ([]byte, error) {
	filtered := url.Values{}
	for k, vs := range form {
		for _, v := range vs {
			if v != "" {
				filtered.Add(k, v)
			}
		}
	}

	req, err := c.newRequest(ctx, method, c.adminPath(path), nil,
		bytes.NewBufferString(filtered.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

// delete issues a DELETE against path. A 404 is returned as an APIError;
// callers that treat missing entities as already-deleted check IsStatus.
func (c *Client) delete(ctx context.Context, path string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, c.adminPath(path), nil, nil, "")
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
