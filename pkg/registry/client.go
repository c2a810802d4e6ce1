// Copyright (C) 2021 Toitware ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

// Package registry is a client for the component registry and its
// storage mirrors.
package registry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"
	circuit "github.com/rubyist/circuitbreaker"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrRateLimited  = errors.New("rate limited by registry")
	ErrUpstreamDown = errors.New("registry unavailable")
)

// Client downloads metadata and archives from registries and mirrors.
//
// Only idempotent GET requests are made, and they are retried with an
// exponential backoff. Each host has its own circuit breaker, so that a
// dead mirror is skipped quickly.
type Client struct {
	client     *http.Client
	userAgent  string
	token      string
	maxRetries uint64
	baseDelay  time.Duration

	mu       sync.Mutex
	breakers map[string]*circuit.Breaker
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.client = c
	}
}

// WithToken sets the API token that is sent as bearer token.
func WithToken(token string) Option {
	return func(cl *Client) {
		cl.token = token
	}
}

func WithUserAgent(ua string) Option {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n uint64) Option {
	return func(cl *Client) {
		cl.maxRetries = n
	}
}

func WithBaseDelay(d time.Duration) Option {
	return func(cl *Client) {
		cl.baseDelay = d
	}
}

// WithVerifySSL toggles the verification of TLS certificates.
func WithVerifySSL(verify bool) Option {
	return func(cl *Client) {
		if t, ok := cl.client.Transport.(*http.Transport); ok {
			t.TLSClientConfig = &tls.Config{InsecureSkipVerify: !verify}
		}
	}
}

// NewClient creates a new Client with the given options.
func NewClient(opts ...Option) *Client {
	resolver := &dnscache.Resolver{}
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	c := &Client{
		client: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
					host, port, err := net.SplitHostPort(addr)
					if err != nil {
						return nil, err
					}
					ips, err := resolver.LookupHost(ctx, host)
					if err != nil {
						return nil, err
					}
					for _, ip := range ips {
						conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
						if err == nil {
							return conn, nil
						}
					}
					return nil, fmt.Errorf("failed to dial any resolved IP of %s", host)
				},
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		userAgent:  "idfcomp/1.0",
		maxRetries: 3,
		baseDelay:  500 * time.Millisecond,
		breakers:   map[string]*circuit.Breaker{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) breaker(host string) *circuit.Breaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.breakers[host]; ok {
		return b
	}
	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Reset()
	b := circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	c.breakers[host] = b
	return b
}

// get fetches the given URL and returns the open body.
// The caller must close it.
func (c *Client) get(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL '%s': %w", rawURL, err)
	}
	if u.Scheme == "file" {
		f, err := os.Open(fileURLPath(u))
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
		}
		return f, err
	}

	b := c.breaker(u.Host)
	if !b.Ready() {
		return nil, fmt.Errorf("circuit breaker open for %s: %w", u.Host, ErrUpstreamDown)
	}

	var body io.ReadCloser
	var permanent error
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.baseDelay
	operation := func() error {
		var reqErr error
		callErr := b.Call(func() error {
			body, reqErr = c.doGet(ctx, rawURL)
			if errors.Is(reqErr, ErrNotFound) {
				// A missing component is a valid answer of a healthy host.
				return nil
			}
			return reqErr
		}, 0)
		if callErr != nil && reqErr == nil {
			reqErr = callErr
		}
		switch {
		case reqErr == nil:
			return nil
		case errors.Is(reqErr, ErrRateLimited), errors.Is(reqErr, ErrUpstreamDown), isNetError(reqErr):
			return reqErr
		}
		permanent = reqErr
		return nil
	}
	err = backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), ctx))
	if err != nil {
		return nil, err
	}
	if permanent != nil {
		return nil, permanent
	}
	return body, nil
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr)
}

func (c *Client) doGet(ctx context.Context, rawURL string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching '%s': %w", rawURL, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp.Body, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rawURL)
	case resp.StatusCode == http.StatusTooManyRequests:
		_ = resp.Body.Close()
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d from %s", ErrUpstreamDown, resp.StatusCode, rawURL)
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	_ = resp.Body.Close()
	return nil, fmt.Errorf("unexpected status %d from '%s': %s", resp.StatusCode, rawURL, string(body))
}

// Download writes the content at rawURL into w.
func (c *Client) Download(ctx context.Context, rawURL string, w io.Writer) error {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()
	_, err = io.Copy(w, &ctxReader{ctx: ctx, r: body})
	return err
}

// ctxReader stops reading once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (r *ctxReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}
	return r.r.Read(p)
}
