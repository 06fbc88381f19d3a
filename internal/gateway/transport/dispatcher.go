package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/taskmesh/gateway/internal/config"
	gwerrors "github.com/taskmesh/gateway/internal/gateway/errors"
)

// MaxResponseBytes bounds how much of an upstream response body the gateway
// will buffer. Larger responses are treated as upstream failures rather than
// letting one misbehaving service exhaust gateway memory.
const MaxResponseBytes = 8 << 20

type upstreamTarget struct {
	base    *url.URL
	timeout time.Duration
}

// dispatcher is the core Handler. It resolves the logical service name to a
// configured base URL, forwards the request with the gateway-asserted
// identity and correlation headers under a bounded timeout, and reports the
// outcome: responses up to 499 return as successes (upstream client errors
// are not infrastructure failures), server errors and transport failures
// return as errors for breaker accounting. It never retries.
type dispatcher struct {
	client    *http.Client
	upstreams map[string]upstreamTarget
	logger    *slog.Logger
}

// NewDispatcher builds the core forwarding handler from the configured
// upstream map. Base URLs are parsed once here; a malformed URL is a
// configuration failure surfaced before the server starts.
func NewDispatcher(client *http.Client, upstreams map[string]config.UpstreamConfig) (Handler, error) {
	if client == nil {
		client = http.DefaultClient
	}
	targets := make(map[string]upstreamTarget, len(upstreams))
	for name, u := range upstreams {
		base, err := url.Parse(u.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("upstream %q: parse base URL: %w", name, err)
		}
		timeout := u.Timeout
		if timeout <= 0 {
			timeout = config.DefaultUpstreamTimeout
		}
		targets[name] = upstreamTarget{base: base, timeout: timeout}
	}
	return &dispatcher{
		client:    client,
		upstreams: targets,
		logger:    slog.Default().With("component", "dispatcher"),
	}, nil
}

// Handle implements Handler by forwarding the request to its upstream.
func (d *dispatcher) Handle(ctx context.Context, req *Request) (*Response, error) {
	target, ok := d.upstreams[req.Service]
	if !ok {
		return nil, gwerrors.Wrap(gwerrors.ErrUnknownService, gwerrors.KindInternal,
			gwerrors.CodeInternal, fmt.Sprintf("no upstream configured for service %s", req.Service))
	}

	reqCtx, cancel := context.WithTimeout(ctx, target.timeout)
	defer cancel()

	httpReq, err := d.buildRequest(reqCtx, target, req)
	if err != nil {
		return nil, gwerrors.Wrap(err, gwerrors.KindInternal, gwerrors.CodeInternal,
			"failed to build upstream request")
	}

	start := time.Now()
	httpResp, err := d.client.Do(httpReq)
	latency := time.Since(start)

	if err != nil {
		return nil, d.classifyTransportError(ctx, req, err, latency)
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := readBounded(httpResp.Body)
	if err != nil {
		d.logger.WarnContext(ctx, "upstream response body read failed",
			"service", req.Service, "correlation_id", req.CorrelationID, "error", err)
		return nil, gwerrors.Wrap(err, gwerrors.KindUpstream, gwerrors.CodeUpstreamError,
			fmt.Sprintf("failed to read response from service %s", req.Service))
	}

	if httpResp.StatusCode >= http.StatusInternalServerError {
		d.logger.WarnContext(ctx, "upstream returned server error",
			"service", req.Service, "status", httpResp.StatusCode,
			"correlation_id", req.CorrelationID, "latency_ms", latency.Milliseconds())
		return nil, gwerrors.NewUpstreamError(req.Service, httpResp.StatusCode)
	}

	return &Response{
		StatusCode: httpResp.StatusCode,
		Header:     FilterResponseHeader(httpResp.Header),
		Body:       body,
	}, nil
}

func (d *dispatcher) buildRequest(ctx context.Context, target upstreamTarget, req *Request) (*http.Request, error) {
	u := *target.base
	u.Path = strings.TrimSuffix(target.base.Path, "/") + req.Path
	u.RawQuery = req.RawQuery

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), body)
	if err != nil {
		return nil, err
	}

	httpReq.Header = SanitizeForwardHeader(req.Header)
	httpReq.Header.Set(HeaderCorrelationID, req.CorrelationID)
	if req.Identity != nil {
		httpReq.Header.Set(HeaderIdentitySubject, req.Identity.SubjectID)
		httpReq.Header.Set(HeaderIdentityRole, string(req.Identity.Role))
		if req.Identity.Email != "" {
			httpReq.Header.Set(HeaderIdentityEmail, req.Identity.Email)
		}
	}
	return httpReq, nil
}

// classifyTransportError separates client disconnects (abandon, no breaker
// accounting), deadline expiry (failure, 504), and connection-level failures
// (failure, 502).
func (d *dispatcher) classifyTransportError(ctx context.Context, req *Request, err error, latency time.Duration) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return gwerrors.Wrap(err, gwerrors.KindInternal, gwerrors.CodeInternal,
			"request abandoned by client")
	}
	if errors.Is(err, context.DeadlineExceeded) {
		d.logger.WarnContext(ctx, "upstream call timed out",
			"service", req.Service, "correlation_id", req.CorrelationID,
			"latency_ms", latency.Milliseconds())
		return gwerrors.Wrap(err, gwerrors.KindTimeout, gwerrors.CodeUpstreamTimeout,
			fmt.Sprintf("service %s did not respond in time", req.Service))
	}
	d.logger.WarnContext(ctx, "upstream connection failed",
		"service", req.Service, "correlation_id", req.CorrelationID, "error", err)
	return gwerrors.Wrap(err, gwerrors.KindUpstream, gwerrors.CodeUpstreamUnreachable,
		fmt.Sprintf("service %s is unreachable", req.Service))
}

func readBounded(r io.Reader) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, MaxResponseBytes+1))
	if err != nil {
		return nil, err
	}
	if len(body) > MaxResponseBytes {
		return nil, fmt.Errorf("response body exceeds %d bytes", MaxResponseBytes)
	}
	return body, nil
}
