// Package gateway is the only path to the remote API. It paces dispatches,
// caps concurrency and absorbs 429 throttling for every caller in the process.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/rms-availability/internal/internaltypes"
	"github.com/example/rms-availability/internal/metrics"
)

const (
	DefaultMinGap        = 260 * time.Millisecond
	DefaultMaxConcurrent = 2
	DefaultRetryDelay    = 2200 * time.Millisecond
	DefaultRetryBackoff  = 1.5
	DefaultMaxRetries    = 2
	defaultHTTPTimeout   = 30 * time.Second
)

// Credentials identify the remote account. They are opaque to the gateway and
// never logged.
type Credentials struct {
	Subdomain string
	APIToken  string
}

func (c Credentials) Valid() bool {
	return strings.TrimSpace(c.Subdomain) != "" && strings.TrimSpace(c.APIToken) != ""
}

// CredentialSource is consulted at dispatch time so credential changes apply
// to queued work.
type CredentialSource interface {
	Credentials(ctx context.Context) (Credentials, error)
}

type CredentialsFunc func(ctx context.Context) (Credentials, error)

func (f CredentialsFunc) Credentials(ctx context.Context) (Credentials, error) { return f(ctx) }

// Options tunes pacing and retry. A zero MinGap disables pacing and a zero
// MaxRetries disables 429 retries; DefaultOptions carries the production values.
type Options struct {
	MinGap        time.Duration
	MaxConcurrent int
	RetryDelay    time.Duration
	RetryBackoff  float64
	MaxRetries    int

	HTTPClient *http.Client
	Logger     *zap.Logger
	Metrics    *metrics.Metrics
}

func (o *Options) setDefaults() {
	if o.MinGap < 0 {
		o.MinGap = 0
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = DefaultMaxConcurrent
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.RetryBackoff < 1 {
		o.RetryBackoff = DefaultRetryBackoff
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.HTTPClient == nil {
		o.HTTPClient = NewHTTPClient(defaultHTTPTimeout)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
}

// NewHTTPClient returns the outbound client with a per-request ceiling.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// DefaultOptions mirrors the remote service's published limits.
func DefaultOptions() Options {
	return Options{
		MinGap:        DefaultMinGap,
		MaxConcurrent: DefaultMaxConcurrent,
		RetryDelay:    DefaultRetryDelay,
		RetryBackoff:  DefaultRetryBackoff,
		MaxRetries:    DefaultMaxRetries,
	}
}

type result struct {
	body json.RawMessage
	err  error
}

type request struct {
	ctx  context.Context
	url  string
	done chan result
}

// Gateway is a FIFO queue with a shared pacing watermark.
type Gateway struct {
	creds CredentialSource
	opts  Options
	log   *zap.Logger
	now   func() time.Time

	mu           sync.Mutex
	queue        []*request
	inFlight     int
	lastDispatch time.Time
	wakeup       *time.Timer
}

func New(creds CredentialSource, opts Options) *Gateway {
	opts.setDefaults()
	return &Gateway{
		creds: creds,
		opts:  opts,
		log:   opts.Logger.With(zap.String("component", "gateway")),
		now:   time.Now,
	}
}

// Enqueue queues a GET for url and waits for its decoded JSON body. If ctx
// ends first the caller gets ctx.Err(); a request already dispatched is left
// to finish.
func (g *Gateway) Enqueue(ctx context.Context, url string) (json.RawMessage, error) {
	req := &request{ctx: ctx, url: url, done: make(chan result, 1)}

	g.mu.Lock()
	g.queue = append(g.queue, req)
	g.pumpLocked()
	g.mu.Unlock()

	select {
	case res := <-req.done:
		return res.body, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats reports queued and in-flight counts.
func (g *Gateway) Stats() (queued, inFlight int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.queue), g.inFlight
}

// pumpLocked dispatches queued work while budget allows. g.mu must be held.
func (g *Gateway) pumpLocked() {
	defer func() { g.opts.Metrics.GatewayLoad(len(g.queue), g.inFlight) }()

	for len(g.queue) > 0 && g.inFlight < g.opts.MaxConcurrent {
		if wait := g.opts.MinGap - g.now().Sub(g.lastDispatch); wait > 0 {
			if g.wakeup == nil {
				g.wakeup = time.AfterFunc(wait, g.wake)
			}
			return
		}

		req := g.queue[0]
		g.queue[0] = nil
		g.queue = g.queue[1:]

		if err := req.ctx.Err(); err != nil {
			g.opts.Metrics.GatewayRequest(metrics.OutcomeCanceled)
			req.done <- result{err: err}
			continue
		}

		g.inFlight++
		g.lastDispatch = g.now()
		go g.dispatch(req)
	}
}

func (g *Gateway) wake() {
	g.mu.Lock()
	g.wakeup = nil
	g.pumpLocked()
	g.mu.Unlock()
}

func (g *Gateway) dispatch(req *request) {
	res := g.execute(req)

	g.mu.Lock()
	g.inFlight--
	g.pumpLocked()
	g.mu.Unlock()

	req.done <- res
}

func (g *Gateway) execute(req *request) result {
	creds, err := g.creds.Credentials(req.ctx)
	if err != nil {
		g.opts.Metrics.GatewayRequest(metrics.OutcomeUnconfigured)
		return result{err: err}
	}
	if !creds.Valid() {
		g.opts.Metrics.GatewayRequest(metrics.OutcomeUnconfigured)
		return result{err: internaltypes.ErrNotConfigured}
	}

	for attempt := 0; ; attempt++ {
		status, body, err := g.do(req.ctx, req.url, creds)
		if err != nil {
			g.opts.Metrics.GatewayRequest(metrics.OutcomeTransport)
			return result{err: &internaltypes.TransportError{Err: err}}
		}

		if status == http.StatusTooManyRequests {
			if attempt >= g.opts.MaxRetries {
				g.opts.Metrics.GatewayRequest(metrics.OutcomeRateLimited)
				g.log.Warn("throttled after retries", zap.String("url", redact(req.url)), zap.Int("attempts", attempt+1))
				return result{err: internaltypes.ErrRateLimited}
			}
			delay := g.retryDelay(attempt)
			g.opts.Metrics.GatewayRetry()
			g.log.Debug("throttled, backing off", zap.String("url", redact(req.url)), zap.Duration("delay", delay))
			if err := sleep(req.ctx, delay); err != nil {
				g.opts.Metrics.GatewayRequest(metrics.OutcomeCanceled)
				return result{err: err}
			}
			continue
		}

		if status < 200 || status >= 300 {
			g.opts.Metrics.GatewayRequest(metrics.OutcomeUpstream)
			return result{err: &internaltypes.UpstreamError{Status: status}}
		}
		if !json.Valid(body) {
			g.opts.Metrics.GatewayRequest(metrics.OutcomeTransport)
			return result{err: &internaltypes.TransportError{Err: errors.New("response body is not json")}}
		}
		g.opts.Metrics.GatewayRequest(metrics.OutcomeOK)
		return result{body: body}
	}
}

// retryDelay is RetryDelay * RetryBackoff^attempt.
func (g *Gateway) retryDelay(attempt int) time.Duration {
	return time.Duration(float64(g.opts.RetryDelay) * math.Pow(g.opts.RetryBackoff, float64(attempt)))
}

func (g *Gateway) do(ctx context.Context, rawURL string, creds Credentials) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("X-SUBDOMAIN", creds.Subdomain)
	req.Header.Set("X-AUTH-TOKEN", creds.APIToken)
	req.Header.Set("Accept", "application/json")

	res, err := g.opts.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return res.StatusCode, b, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// redact drops the query string from logged URLs.
func redact(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
