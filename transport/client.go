// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the HTTP client used to talk to the photo analysis gateway.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jcodagnone/geofoto/utils/httputils"
	"golang.org/x/oauth2"
)

const (
	// DefaultBaseURL is where the gateway listens in a local deployment.
	DefaultBaseURL = "http://localhost:8000/api"

	// DefaultTimeout applies to every call whose context has no deadline,
	// unless overridden.
	DefaultTimeout = 30 * time.Second

	// BatchTimeoutFactor scales DefaultTimeout for batch uploads, which the
	// server processes sequentially.
	BatchTimeoutFactor = 10

	defaultUserAgent = "geofoto/unknown"

	// maxErrorBody bounds how much of an error body is read.
	maxErrorBody = 1 << 20
)

// Config holds configuration for creating a Client.
type Config struct {
	// BaseURL of the gateway, including the /api prefix
	BaseURL string

	// Timeout applied to every call
	Timeout time.Duration

	// BatchTimeout applied to batch uploads. Defaults to BatchTimeoutFactor * Timeout
	BatchTimeout time.Duration

	// UserAgent is the User-Agent header to use in HTTP requests
	UserAgent string

	// Enables light tracing of HTTP requests and responses
	EnableHTTPTrace bool

	// Enables full HTTP body tracing
	EnableHTTPBodyTrace bool

	// TraceWriter receives the traces. Defaults to stderr
	TraceWriter io.Writer

	// RequestsPerSecond throttles outgoing requests. Zero disables it
	RequestsPerSecond float64

	// TokenSource authenticates requests with a bearer token when set
	TokenSource oauth2.TokenSource

	// Transport is the innermost round tripper. Defaults to a tuned http.Transport
	Transport http.RoundTripper
}

// Client issues requests against the gateway and normalizes every failure
// into an *Error.
type Client struct {
	base         *url.URL
	client       *http.Client
	timeout      time.Duration
	batchTimeout time.Duration
}

// New creates a Client. A nil cfg uses the defaults.
func New(cfg *Config) (*Client, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.BatchTimeout <= 0 {
		c.BatchTimeout = BatchTimeoutFactor * c.Timeout
	}

	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}

	base, err := url.Parse(strings.TrimSuffix(c.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing base url %q: %w", c.BaseURL, err)
	}

	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("base url %q must be http or https", c.BaseURL)
	}

	var rt http.RoundTripper = c.Transport
	if rt == nil {
		rt = &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			MaxIdleConns:          10,
			MaxIdleConnsPerHost:   4,
			IdleConnTimeout:       30 * time.Second,
			ResponseHeaderTimeout: c.BatchTimeout,
		}
	}

	var traceWriter io.Writer
	if c.EnableHTTPTrace || c.EnableHTTPBodyTrace {
		traceWriter = c.TraceWriter
		if traceWriter == nil {
			traceWriter = os.Stderr
		}
	}

	rt = &httputils.LoggingRoundTripper{
		Writer:    traceWriter,
		DumpBody:  c.EnableHTTPBodyTrace,
		Transport: rt,
	}
	rt = httputils.NewRateLimitRoundTripper(rt, c.RequestsPerSecond)
	rt = &httputils.AppendRequestHeadersRoundTripper{
		Headers: map[string]string{
			"User-Agent": c.UserAgent,
			"Accept":     "application/json",
		},
		Transport: rt,
	}

	if c.TokenSource != nil {
		rt = &oauth2.Transport{Source: c.TokenSource, Base: rt}
	}

	return &Client{
		base: base,
		client: &http.Client{
			Transport: rt,
			// Timeouts are per call through the context
		},
		timeout:      c.Timeout,
		batchTimeout: c.BatchTimeout,
	}, nil
}

// Timeout returns the standard per-call timeout.
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

// BatchTimeout returns the extended timeout used for batch uploads.
func (c *Client) BatchTimeout() time.Duration {
	return c.batchTimeout
}

type call struct {
	timeout time.Duration
}

// CallOption customizes a single call.
type CallOption func(*call)

// WithTimeout overrides the timeout for one call. A deadline already on the
// call context still wins.
func WithTimeout(d time.Duration) CallOption {
	return func(c *call) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// FilePart is one file of a multipart upload.
type FilePart struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Get issues a GET and decodes the JSON response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any, opts ...CallOption) error {
	return c.do(ctx, http.MethodGet, path, query, nil, "", out, opts)
}

// PostJSON posts body encoded as JSON (nil sends no body) and decodes the
// response into out.
func (c *Client) PostJSON(ctx context.Context, path string, query url.Values, body, out any, opts ...CallOption) error {
	if body == nil {
		return c.do(ctx, http.MethodPost, path, query, nil, "", out, opts)
	}

	data, err := json.Marshal(body)
	if err != nil {
		return requestError(fmt.Errorf("encoding request body: %w", err))
	}

	return c.do(ctx, http.MethodPost, path, query, data, "application/json", out, opts)
}

// PostMultipart uploads files as multipart/form-data and decodes the response
// into out.
func (c *Client) PostMultipart(ctx context.Context, path string, files []FilePart, out any, opts ...CallOption) error {
	var buf bytes.Buffer

	w := multipart.NewWriter(&buf)
	for _, f := range files {
		if f.Content == nil {
			return requestError(fmt.Errorf("file %q has no content", f.Filename))
		}

		part, err := w.CreateFormFile(f.Field, f.Filename)
		if err != nil {
			return requestError(fmt.Errorf("creating form file %q: %w", f.Filename, err))
		}

		if _, err := io.Copy(part, f.Content); err != nil {
			return requestError(fmt.Errorf("reading %q: %w", f.Filename, err))
		}
	}

	if err := w.Close(); err != nil {
		return requestError(fmt.Errorf("closing multipart body: %w", err))
	}

	return c.do(ctx, http.MethodPost, path, nil, buf.Bytes(), w.FormDataContentType(), out, opts)
}

func (c *Client) endpoint(path string, query url.Values) *url.URL {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query.Encode()

	return &u
}

// do runs one call. out may be nil (body discarded), *[]byte (raw body) or
// anything json.Unmarshal accepts.
func (c *Client) do(
	ctx context.Context,
	method, path string,
	query url.Values,
	body []byte,
	contentType string,
	out any,
	opts []CallOption,
) error {
	cl := call{timeout: c.timeout}
	for _, opt := range opts {
		opt(&cl)
	}

	// A deadline set by the caller wins over the per-call timeout.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, cl.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query).String(), reader)
	if err != nil {
		return requestError(fmt.Errorf("building %s %s: %w", method, path, err))
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return noResponseError(fmt.Errorf("%s %s: %w", method, path, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return responseError(resp.StatusCode, data)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return noResponseError(fmt.Errorf("reading %s %s response: %w", method, path, err))
	}

	switch v := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*v = data

		return nil
	default:
		if err := json.Unmarshal(data, out); err != nil {
			return malformedError(resp.StatusCode, fmt.Errorf("decoding %s %s response: %w", method, path, err))
		}

		return nil
	}
}
