package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http/httpguts"

	"github.com/torosent/breakpoint/internal/config"
	"github.com/torosent/breakpoint/internal/feeder"
	"github.com/torosent/breakpoint/internal/placeholders"
)

// AuthProvider injects credentials into outgoing requests.
type AuthProvider interface {
	InjectHeader(ctx context.Context, req *http.Request) error
}

// RequestBuilder renders the configured request template into a fresh
// *http.Request for every invocation.
type RequestBuilder struct {
	method       string
	baseURL      string
	path         string
	headers      http.Header
	body         BodySource
	authProvider AuthProvider
	feeder       feeder.Feeder
}

func NewRequestBuilder(cfg *config.Config) (*RequestBuilder, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("base URL is required")
	}

	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	method := strings.ToUpper(strings.TrimSpace(cfg.Method))
	if method == "" {
		method = http.MethodGet
	}

	bodySource, err := NewBodySource(cfg.Body, cfg.BodyFile)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	for key, value := range cfg.Headers {
		trimmedKey := strings.TrimSpace(key)
		if strings.ContainsAny(key, "\r\n") || !httpguts.ValidHeaderFieldName(trimmedKey) {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if !httpguts.ValidHeaderFieldValue(value) {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}

	return &RequestBuilder{
		method:  method,
		baseURL: baseURL,
		path:    path,
		headers: headers,
		body:    bodySource,
	}, nil
}

// WithAuth sets the provider used to add credentials to every request.
func (b *RequestBuilder) WithAuth(p AuthProvider) *RequestBuilder {
	b.authProvider = p
	return b
}

// WithFeeder sets the feeder whose records fill placeholders.
func (b *RequestBuilder) WithFeeder(f feeder.Feeder) *RequestBuilder {
	b.feeder = f
	return b
}

// Method returns the HTTP method of the built requests.
func (b *RequestBuilder) Method() string { return b.method }

// URL returns the unexpanded request URL.
func (b *RequestBuilder) URL() string { return b.baseURL + b.path }

// Build renders one request. Placeholders in the path, headers and inline
// body are resolved from the next feeder record first, then from the
// generated builtins for the stage carried by ctx.
func (b *RequestBuilder) Build(ctx context.Context) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var record feeder.Record
	if b.feeder != nil {
		var err error
		record, err = b.feeder.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("feeder: %w", err)
		}
	}
	sources := []placeholders.Source{
		placeholders.Values(record),
		placeholders.Builtins{Stage: placeholders.StageFrom(ctx)},
	}

	target := b.baseURL + placeholders.Apply(b.path, sources...)

	var (
		reader  io.ReadCloser
		length  int64
		hasSize bool
		getBody func() (io.ReadCloser, error)
	)
	if tb, ok := b.body.(templatedBody); ok && strings.Contains(tb.Template(), "{{") {
		rendered := []byte(placeholders.Apply(tb.Template(), sources...))
		reader = io.NopCloser(bytes.NewReader(rendered))
		length, hasSize = int64(len(rendered)), true
		getBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(rendered)), nil
		}
	} else {
		var err error
		reader, err = b.body.NewReader()
		if err != nil {
			return nil, err
		}
		length, hasSize = b.body.ContentLength()
		getBody = b.body.NewReader
	}

	req, err := http.NewRequestWithContext(ctx, b.method, target, reader)
	if err != nil {
		_ = reader.Close()
		return nil, err
	}

	req.Header = make(http.Header, len(b.headers))
	for key, values := range b.headers {
		for _, val := range values {
			req.Header.Add(key, placeholders.Apply(val, sources...))
		}
	}

	if hasSize {
		req.ContentLength = length
	}
	req.GetBody = getBody

	if b.authProvider != nil {
		if err := b.authProvider.InjectHeader(ctx, req); err != nil {
			return nil, fmt.Errorf("auth provider inject header: %w", err)
		}
	}

	return req, nil
}

// NewClient returns a client tuned for many concurrent requests to a single
// host. The client-level timeout is a backstop; invokers also bound each
// request through its context.
func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          512,
		MaxIdleConnsPerHost:   256,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
