// Copyright 2025 The GeoFoto Authors
// SPDX-License-Identifier: Apache-2.0

// Package httputils provides round trippers used by the gateway client.
package httputils

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

/////////////////////////////////////////
/// RoundTrippers

// LoggingRoundTripper dumps every request and response to Writer.
// Multipart image uploads are large, so bodies are only dumped when DumpBody is set.
type LoggingRoundTripper struct {
	Transport http.RoundTripper
	Writer    io.Writer
	DumpBody  bool
}

const redacted = "[redacted]"

// abbreviate prefixes every line and trims the dump to something readable.
func abbreviate(lines []string, prefix rune) []string {
	const maxLines, maxChars = 256, 512

	if len(lines) > maxLines {
		lines = append(lines[:maxLines], "…")
	}

	for i, line := range lines {
		if strings.HasPrefix(strings.ToLower(line), "authorization:") {
			line = "Authorization: " + redacted
		}

		if len(line) > maxChars {
			line = line[0:maxChars] + "…"
		}

		lines[i] = fmt.Sprintf("%c %s", prefix, line)
	}

	return lines
}

func (t *LoggingRoundTripper) write(lines []string) error {
	lines = append(lines, "")
	_, err := fmt.Fprint(t.Writer, strings.Join(lines, "\n"))

	return err
}

func (t *LoggingRoundTripper) dumpRequest(req *http.Request) error {
	dump, err := httputil.DumpRequestOut(req, t.DumpBody)
	if err != nil {
		return fmt.Errorf("tracing HTTP request: %w", err)
	}

	return t.write(abbreviate(strings.Split(string(dump), "\n"), '>'))
}

func (t *LoggingRoundTripper) dumpResponse(resp *http.Response, duration time.Duration) error {
	dump, err := httputil.DumpResponse(resp, t.DumpBody)
	if err != nil {
		return fmt.Errorf("tracing HTTP response: %w", err)
	}

	if _, err := fmt.Fprintf(t.Writer, "< RESPONSE: [%v]\n", duration); err != nil {
		return fmt.Errorf("tracing HTTP response: %w", err)
	}

	return t.write(abbreviate(strings.Split(string(dump), "\n"), '<'))
}

// RoundTrip implements the http.RoundTripper interface.
func (t *LoggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Writer == nil {
		return t.Transport.RoundTrip(req)
	}

	if err := t.dumpRequest(req); err != nil {
		return nil, err
	}

	start := time.Now()

	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		fmt.Fprintf(t.Writer, "< FAILED: [%v] %s\n", time.Since(start), err)

		return nil, err
	}

	if err := t.dumpResponse(resp, time.Since(start)); err != nil {
		return nil, err
	}

	return resp, nil
}

// AppendRequestHeadersRoundTripper sets headers on every request that does not
// already carry them.
type AppendRequestHeadersRoundTripper struct {
	Transport http.RoundTripper
	Headers   map[string]string
}

// RoundTrip implements the http.RoundTripper interface.
func (t *AppendRequestHeadersRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.Headers) > 0 {
		req = req.Clone(req.Context())
		for k, v := range t.Headers {
			if req.Header.Get(k) == "" {
				req.Header.Set(k, v)
			}
		}
	}

	return t.Transport.RoundTrip(req)
}

// RateLimitRoundTripper waits for the limiter before sending each request.
// A nil Limiter disables throttling.
type RateLimitRoundTripper struct {
	Transport http.RoundTripper
	Limiter   *rate.Limiter
}

// NewRateLimitRoundTripper allows perSecond requests per second. perSecond <= 0
// returns a pass-through round tripper.
func NewRateLimitRoundTripper(transport http.RoundTripper, perSecond float64) *RateLimitRoundTripper {
	rt := &RateLimitRoundTripper{Transport: transport}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}

		rt.Limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}

	return rt
}

// RoundTrip implements the http.RoundTripper interface.
func (t *RateLimitRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Limiter != nil {
		if err := t.Limiter.Wait(req.Context()); err != nil {
			return nil, fmt.Errorf("waiting for rate limiter: %w", err)
		}
	}

	return t.Transport.RoundTrip(req)
}
