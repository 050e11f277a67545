// Package platform executes calls against the threat-modeling platform REST
// API. Every call carries a fresh bearer token, transient failures are retried
// with backoff, and failures surface as compact errmodel errors.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wilhg/devici-mcp/pkg/auth"
	"github.com/wilhg/devici-mcp/pkg/errmodel"
)

const maxResponseBodySize = 10 << 20

// TokenSource supplies bearer tokens. *auth.Source implements it.
type TokenSource interface {
	Token(ctx context.Context) (auth.Token, error)
	Refresh(ctx context.Context, rejected string) (auth.Token, error)
}

// Request is one logical platform call.
type Request struct {
	Method string
	// Path is relative to the base URL, e.g. "/threats/component/42".
	Path  string
	Query url.Values
	// Body is JSON encoded when non-nil.
	Body any
}

// Response is a successful platform reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v. An empty body leaves v untouched.
func (r *Response) Decode(v any) error {
	if r == nil || len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return errmodel.API(errmodel.KindTransport, "malformed platform response", r.Status, nil, err)
	}
	return nil
}

// Client is the request executor. It is safe for concurrent use.
type Client struct {
	base           *url.URL
	http           *http.Client
	tokens         TokenSource
	policy         RetryPolicy
	attemptTimeout time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	now            func() time.Time
	logger         *zap.Logger
	metrics        *Metrics
	tracer         trace.Tracer
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client. Its Timeout should be zero; per-attempt
// timeouts are applied by the Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithRetryPolicy sets the transient retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.policy = p.normalized() }
}

// WithAttemptTimeout bounds each individual HTTP attempt.
func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.attemptTimeout = d
		}
	}
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if fn != nil {
			c.sleep = fn
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient builds a Client for baseURL, e.g. https://api.devici.com/api/v1.
func NewClient(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", baseURL)
	}
	if tokens == nil {
		return nil, errors.New("token source is nil")
	}
	c := &Client{
		base:           u,
		http:           &http.Client{Transport: NewTransport()},
		tokens:         tokens,
		policy:         DefaultRetryPolicy(),
		attemptTimeout: 30 * time.Second,
		sleep:          sleepContext,
		now:            time.Now,
		logger:         zap.NewNop(),
		tracer:         otel.Tracer("platform/client"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Execute performs req, refreshing the token and retrying transient failures.
// Only a 2xx reply is returned as a Response; everything else is an
// *errmodel.Error of category auth or api.
func (c *Client) Execute(ctx context.Context, req Request) (*Response, error) {
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	ctx, span := c.tracer.Start(ctx, "platform.Execute", trace.WithAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("platform.path", req.Path),
	))
	defer span.End()

	start := c.now()
	res, attempts, err := c.execute(ctx, req)
	span.SetAttributes(attribute.Int("platform.attempts", attempts))

	outcome := "ok"
	if err != nil {
		outcome = errmodel.From(err).Code
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		c.logger.Warn("platform call failed",
			zap.String("method", req.Method),
			zap.String("path", req.Path),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
	}
	c.metrics.observeCall(req.Method, outcome, c.now().Sub(start))
	return res, err
}

func (c *Client) execute(ctx context.Context, req Request) (*Response, int, error) {
	target, err := c.resolve(req)
	if err != nil {
		return nil, 0, errmodel.API(errmodel.KindTransport, "invalid request path", 0, map[string]any{"path": req.Path}, err)
	}
	var body []byte
	if req.Body != nil {
		if body, err = json.Marshal(req.Body); err != nil {
			return nil, 0, errmodel.API(errmodel.KindTransport, "request body is not encodable", 0, map[string]any{"path": req.Path}, err)
		}
	}

	tok, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, 0, tokenError(ctx, err)
	}

	requestID := uuid.NewString()
	rs := newRetryState(c.policy)
	for {
		res, result := c.attempt(ctx, req.Method, target, body, tok, requestID)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, rs.attempts + 1, errmodel.API(errmodel.KindTransport, "request canceled", 0, nil, ctxErr)
		}

		act, delay := rs.next(result)
		switch act {
		case actDone:
			return res, rs.attempts, nil
		case actReauth:
			c.logger.Debug("token rejected, refreshing", zap.String("path", req.Path))
			c.metrics.observeRetry(outcomeUnauthorized.String())
			if tok, err = c.tokens.Refresh(ctx, tok.Value); err != nil {
				return nil, rs.attempts, tokenError(ctx, err)
			}
		case actRetry:
			c.logger.Debug("transient platform failure, retrying",
				zap.String("path", req.Path),
				zap.String("outcome", result.outcome.String()),
				zap.Int("status", result.status),
				zap.Duration("delay", delay),
			)
			c.metrics.observeRetry(result.outcome.String())
			if err := c.sleep(ctx, delay); err != nil {
				return nil, rs.attempts, errmodel.API(errmodel.KindTransport, "request canceled", 0, nil, err)
			}
		case actFail:
			return nil, rs.attempts, failure(req, rs, res)
		}
	}
}

// attempt issues one HTTP exchange under its own timeout. The returned
// Response is non-nil whenever a status line was received.
func (c *Client) attempt(ctx context.Context, method string, target *url.URL, body []byte, tok auth.Token, requestID string) (*Response, attemptResult) {
	actx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(actx, method, target.String(), rdr)
	if err != nil {
		return nil, attemptResult{outcome: outcomeTransport, err: err}
	}
	hreq.Header.Set("Accept", "application/json")
	hreq.Header.Set("Authorization", tok.Header())
	hreq.Header.Set("X-Request-Id", requestID)
	if body != nil {
		hreq.Header.Set("Content-Type", "application/json")
	}

	hres, err := c.http.Do(hreq)
	if err != nil {
		return nil, attemptResult{outcome: outcomeTransport, err: err}
	}
	defer hres.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(hres.Body, maxResponseBodySize))
	if err != nil {
		return nil, attemptResult{outcome: outcomeTransport, status: hres.StatusCode, err: err}
	}
	res := &Response{Status: hres.StatusCode, Header: hres.Header, Body: raw}
	return res, attemptResult{
		outcome:    classify(hres.StatusCode, nil),
		status:     hres.StatusCode,
		retryAfter: parseRetryAfter(hres.Header.Get("Retry-After"), c.now()),
	}
}

func (c *Client) resolve(req Request) (*url.URL, error) {
	ref, err := url.Parse(req.Path)
	if err != nil {
		return nil, err
	}
	if ref.IsAbs() || ref.Host != "" {
		return nil, fmt.Errorf("path %q must be relative", req.Path)
	}
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimLeft(ref.Path, "/")
	// keep escapes such as %2F and %26 that callers put into path segments
	u.RawPath = c.base.EscapedPath() + "/" + strings.TrimLeft(ref.EscapedPath(), "/")
	q := ref.Query()
	for k, vs := range req.Query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return &u, nil
}

// failure builds the terminal error for a call the retry state gave up on.
func failure(req Request, rs *retryState, res *Response) error {
	last := rs.last
	switch last.outcome {
	case outcomeUnauthorized:
		return errmodel.API(errmodel.KindUnauthorized, "platform rejected the refreshed token", last.status,
			map[string]any{"path": req.Path}, nil)
	case outcomeRejected:
		ctx := map[string]any{"path": req.Path}
		if res != nil && len(res.Body) > 0 {
			ctx["body"] = string(res.Body)
		}
		return errmodel.API(errmodel.KindRejected, fmt.Sprintf("platform rejected request with status %d", last.status), last.status, ctx, nil)
	default:
		return errmodel.API(errmodel.KindUnavailable, fmt.Sprintf("platform unavailable after %d attempts", rs.transient), last.status,
			map[string]any{"path": req.Path, "attempts": rs.transient, "last_outcome": last.outcome.String()}, last.err)
	}
}

// tokenError keeps auth failures as they are and reports cancellation as a
// transport error.
func tokenError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return errmodel.API(errmodel.KindTransport, "request canceled", 0, nil, ctxErr)
	}
	if errmodel.IsCategory(err, errmodel.CategoryAuth) {
		return err
	}
	return errmodel.AuthFailure(errmodel.ReasonUnreachable, "token unavailable", 0, err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
