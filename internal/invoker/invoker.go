// Package invoker issues single requests against the target service and
// reports each one as an Outcome. Invocations never return errors: every
// failure mode is folded into the outcome's status.
package invoker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/torosent/breakpoint/internal/tracing"
)

const (
	maxDetailBytes   = 512
	maxBodyReadBytes = 64 * 1024
)

// Invoker performs one call against the target.
type Invoker interface {
	Invoke(ctx context.Context) Outcome
}

// RequestBuilder renders the next request to send.
type RequestBuilder interface {
	Build(ctx context.Context) (*http.Request, error)
}

// HTTPOptions configures an HTTPInvoker.
type HTTPOptions struct {
	// Timeout bounds each call. Zero leaves only the caller's context.
	Timeout time.Duration
	// ErrorDetailPath is a gjson path read from JSON error bodies.
	ErrorDetailPath string
	Tracer          trace.Tracer
	// Propagate injects W3C trace headers into outgoing requests.
	Propagate bool
}

// HTTPInvoker sends requests rendered by a RequestBuilder through a shared client.
type HTTPInvoker struct {
	client  *http.Client
	builder RequestBuilder
	opts    HTTPOptions
	tracer  trace.Tracer
}

// NewHTTP returns an invoker for builder. client must be safe for concurrent use.
func NewHTTP(client *http.Client, builder RequestBuilder, opts HTTPOptions) (*HTTPInvoker, error) {
	if client == nil {
		return nil, errors.New("http client is required")
	}
	if builder == nil {
		return nil, errors.New("request builder is required")
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0, got %s", opts.Timeout)
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("breakpoint")
	}
	return &HTTPInvoker{client: client, builder: builder, opts: opts, tracer: tracer}, nil
}

// Invoke sends one request and classifies the result.
func (h *HTTPInvoker) Invoke(ctx context.Context) (out Outcome) {
	if ctx == nil {
		ctx = context.Background()
	}
	out.IssuedAt = time.Now()
	var span trace.Span
	defer func() {
		if r := recover(); r != nil {
			out.Status = StatusNetworkError
			out.Err = &NetworkError{Err: fmt.Errorf("panic: %v", r)}
			out.ErrorDetail = out.Err.Error()
			out.Latency = time.Since(out.IssuedAt)
			if span != nil {
				tracing.EndSpan(span, out.Err)
			}
		}
	}()

	if h.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.opts.Timeout)
		defer cancel()
	}

	req, err := h.builder.Build(ctx)
	if err != nil {
		out.Latency = time.Since(out.IssuedAt)
		if ctx.Err() != nil {
			out.Status, out.Err = classifyTransportError(ctx.Err(), h.opts.Timeout)
		} else {
			out.Status = StatusNetworkError
			out.Err = &NetworkError{Err: fmt.Errorf("build request: %w", err)}
		}
		out.ErrorDetail = out.Err.Error()
		return out
	}

	ctx, span = tracing.StartRequestSpan(ctx, h.tracer, req.Method, req.URL.String())
	req = req.WithContext(ctx)
	if h.opts.Propagate {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		out.Latency = time.Since(out.IssuedAt)
		out.Status, out.Err = classifyTransportError(err, h.opts.Timeout)
		out.ErrorDetail = out.Err.Error()
		tracing.EndSpan(span, out.Err)
		return out
	}
	defer resp.Body.Close()

	out.StatusCode = resp.StatusCode
	statusAttr := attribute.Int("http.response.status_code", resp.StatusCode)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, err := io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyReadBytes))
		out.Latency = time.Since(out.IssuedAt)
		if err != nil {
			h.bodyFailed(ctx, &out, err)
			tracing.EndSpan(span, out.Err, statusAttr)
			return out
		}
		out.Status = StatusSuccess
		tracing.EndSpan(span, nil, statusAttr)
		return out
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyReadBytes))
	out.Latency = time.Since(out.IssuedAt)
	if err != nil {
		h.bodyFailed(ctx, &out, err)
		tracing.EndSpan(span, out.Err, statusAttr)
		return out
	}
	out.Status = StatusHTTPError
	detail := h.errorDetail(body)
	out.Err = &ProtocolError{StatusCode: resp.StatusCode, Detail: detail}
	out.ErrorDetail = "HTTP " + strconv.Itoa(resp.StatusCode)
	if detail != "" {
		out.ErrorDetail += ": " + detail
	}
	tracing.EndSpan(span, out.Err, statusAttr)
	return out
}

// bodyFailed classifies a response whose body could not be read in full. A
// body cut off by the deadline or cancellation is a timeout.
func (h *HTTPInvoker) bodyFailed(ctx context.Context, out *Outcome, err error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	out.Status, out.Err = classifyTransportError(fmt.Errorf("read body: %w", err), h.opts.Timeout)
	out.ErrorDetail = out.Err.Error()
}

// errorDetail pulls a short description out of an error body. With a gjson
// path configured and a JSON body the path value is used; otherwise the
// trimmed body prefix.
func (h *HTTPInvoker) errorDetail(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if h.opts.ErrorDetailPath != "" && gjson.ValidBytes(body) {
		if res := gjson.GetBytes(body, h.opts.ErrorDetailPath); res.Exists() {
			return truncate(strings.TrimSpace(res.String()))
		}
	}
	return truncate(strings.TrimSpace(string(body)))
}

func truncate(s string) string {
	if len(s) > maxDetailBytes {
		return s[:maxDetailBytes]
	}
	return s
}
