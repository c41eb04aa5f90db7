package network

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/sirupsen/logrus"
)

// Default configuration values
const (
	defaultTimeout         = 2 * time.Second
	defaultIdleConnTimeout = 1 * time.Second
)

// clientConfig holds internal configuration
type clientConfig struct {
	timeout             time.Duration
	idleConnTimeout     time.Duration
	disableKeepAlives   bool
	maxIdleConnsPerHost int
}

// ClientOption configures a Client
type ClientOption func(*clientConfig)

// WithTimeout sets the request timeout
func WithTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithIdleConnTimeout sets the idle connection timeout
func WithIdleConnTimeout(d time.Duration) ClientOption {
	return func(c *clientConfig) {
		c.idleConnTimeout = d
	}
}

// WithKeepAlive enables or disables HTTP keep-alive
func WithKeepAlive(enabled bool) ClientOption {
	return func(c *clientConfig) {
		c.disableKeepAlives = !enabled
	}
}

// WithMaxIdleConns sets the maximum idle connections per host
func WithMaxIdleConns(n int) ClientOption {
	return func(c *clientConfig) {
		c.maxIdleConnsPerHost = n
	}
}

// Client provides HTTP operations over various transports.
// It is immutable after creation and safe for concurrent use.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

const unixBaseURL = "http://unix"

func defaultConfig() *clientConfig {
	return &clientConfig{
		timeout:             defaultTimeout,
		idleConnTimeout:     defaultIdleConnTimeout,
		disableKeepAlives:   true,
		maxIdleConnsPerHost: 1,
	}
}

func applyOptions(cfg *clientConfig, opts []ClientOption) {
	for _, opt := range opts {
		opt(cfg)
	}
}

func newClient(baseURL string, dialFunc func(ctx context.Context, network, addr string) (net.Conn, error), cfg *clientConfig) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: cfg.timeout,
			Transport: &http.Transport{
				DialContext:           dialFunc,
				DisableKeepAlives:     cfg.disableKeepAlives,
				MaxIdleConnsPerHost:   cfg.maxIdleConnsPerHost,
				IdleConnTimeout:       cfg.idleConnTimeout,
				ResponseHeaderTimeout: cfg.timeout,
			},
		},
	}
}

// NewUnixClient creates a new HTTP client for Unix socket communication.
func NewUnixClient(socketPath string, opts ...ClientOption) *Client {
	cfg := defaultConfig()
	applyOptions(cfg, opts)

	dialFunc := func(ctx context.Context, _, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: cfg.timeout}
		return dialer.DialContext(ctx, "unix", socketPath)
	}

	return newClient(unixBaseURL, dialFunc, cfg)
}

// NewTCPClient creates a new HTTP client for TCP communication.
// scheme is "http" or "https"; anything else falls back to "http".
func NewTCPClient(scheme, addr string, opts ...ClientOption) *Client {
	cfg := defaultConfig()
	applyOptions(cfg, opts)

	dialFunc := func(ctx context.Context, _, _ string) (net.Conn, error) {
		dialer := &net.Dialer{Timeout: cfg.timeout}
		return dialer.DialContext(ctx, "tcp", addr)
	}

	if scheme != "https" {
		scheme = "http"
	}
	return newClient(scheme+"://"+addr, dialFunc, cfg)
}

// NewClientForEndpoint picks the transport from the endpoint scheme:
// unix:///path/to.sock, http://host:port or https://host:port.
func NewClientForEndpoint(endpoint string, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}

	switch u.Scheme {
	case "unix":
		if u.Path == "" {
			return nil, fmt.Errorf("endpoint %q: missing socket path", endpoint)
		}
		return NewUnixClient(u.Path, opts...), nil
	case "http", "https":
		if u.Host == "" {
			return nil, fmt.Errorf("endpoint %q: missing host", endpoint)
		}
		return NewTCPClient(u.Scheme, u.Host, opts...), nil
	default:
		return nil, fmt.Errorf("endpoint %q: unsupported scheme %q", endpoint, u.Scheme)
	}
}

// Close closes the HTTP client and cleans up resources
func (c *Client) Close() error {
	if transport, ok := c.httpClient.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}

// Request represents an HTTP request being built.
// Methods return the request for chaining.
type Request struct {
	client  *Client
	method  string
	path    string
	headers http.Header
	query   url.Values
	body    io.Reader
	user    *url.Userinfo
	err     error
}

// NewRequest creates a new request builder
func (c *Client) NewRequest(method, path string) *Request {
	return &Request{
		client:  c,
		method:  method,
		path:    path,
		headers: make(http.Header),
		query:   make(url.Values),
	}
}

// Get creates a GET request builder
func (c *Client) Get(path string) *Request {
	return c.NewRequest(http.MethodGet, path)
}

// Post creates a POST request builder
func (c *Client) Post(path string) *Request {
	return c.NewRequest(http.MethodPost, path)
}

// Header adds a header to the request
func (r *Request) Header(key, value string) *Request {
	r.headers.Set(key, value)
	return r
}

// Query adds a query parameter to the request
func (r *Request) Query(key, value string) *Request {
	r.query.Set(key, value)
	return r
}

// Body sets the request body
func (r *Request) Body(body io.Reader) *Request {
	r.body = body
	return r
}

// JSON sets Content-Type and Accept headers to application/json
func (r *Request) JSON() *Request {
	return r.Header("Content-Type", "application/json").Header("Accept", "application/json")
}

// JSONBody encodes v as the request body.
func (r *Request) JSONBody(v any) *Request {
	b, err := json.Marshal(v)
	if err != nil {
		r.err = fmt.Errorf("failed to encode request body: %w", err)
		return r
	}
	r.body = bytes.NewReader(b)
	return r.JSON()
}

// BasicAuth sets HTTP basic credentials. An empty username leaves the request
// unauthenticated.
func (r *Request) BasicAuth(username, password string) *Request {
	if username != "" {
		r.user = url.UserPassword(username, password)
	}
	return r
}

func (r *Request) buildURL() string {
	return r.client.baseURL + path.Clean(path.Join("/", r.path))
}

// Do executes the request and returns the response
func (r *Request) Do(ctx context.Context) (*http.Response, error) {
	if r.err != nil {
		return nil, r.err
	}
	reqURL := r.buildURL()

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, r.body)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s request: %w", r.method, err)
	}

	req.Header = r.headers
	if len(r.query) > 0 {
		req.URL.RawQuery = r.query.Encode()
	}
	if r.user != nil {
		pass, _ := r.user.Password()
		req.SetBasicAuth(r.user.Username(), pass)
	}

	logrus.Debugf("http request: %s %s", req.Method, req.URL.String())

	resp, err := r.client.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP %s request failed: %w", r.method, err)
	}

	return resp, nil
}

// DoAndRead executes the request, reads the body, and closes the response
func (r *Request) DoAndRead(ctx context.Context) ([]byte, int, error) {
	resp, err := r.Do(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer CloseResponse(resp)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	return body, resp.StatusCode, nil
}

// DoJSON executes the request and decodes a 2xx JSON response into out.
// out may be nil to discard the body.
func (r *Request) DoJSON(ctx context.Context, out any) error {
	resp, err := r.Do(ctx)
	if err != nil {
		return err
	}
	defer CloseResponse(resp)

	if err := CheckStatus(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response body: %w", err)
	}
	return nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	URL    string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.URL, e.Code)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

const maxErrorBody = 4 << 10

// CheckStatus returns a *StatusError unless the response code is 2xx.
func CheckStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method: resp.Request.Method,
		URL:    resp.Request.URL.Path,
		Code:   resp.StatusCode,
		Body:   string(bytes.TrimSpace(body)),
	}
}

// CloseResponse safely closes HTTP response body
func CloseResponse(resp *http.Response) {
	if resp != nil && resp.Body != nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		if err := resp.Body.Close(); err != nil {
			logrus.Debugf("failed to close response body: %v", err)
		}
	}
}
