// Package bridge calls the upstream Irish-language services under per-tool
// policy: a hard per-attempt deadline, bounded exponential-backoff retries
// for transient failures, and a FIFO cap on concurrent in-flight calls. It
// normalizes the heterogeneous upstream response bodies into one Issue shape.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"

	"github.com/abairt/gaelgate/internal/logctx"
)

var (
	// ErrUnavailable means the upstream could not produce a usable response
	// within the configured attempt budget, or rejected the request outright.
	ErrUnavailable = errors.New("upstream unavailable")

	// ErrMalformedResponse means the upstream answered 2xx but the body did
	// not match the expected wire shape. Never retried: it signals a contract
	// bug, not a transient fault.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// Issue is the single normalized output shape every tool produces. Start and
// End are character offsets into the input text; both stay 0 when the
// upstream exposes no positional data, which makes unrelated issues share a
// span. That is documented behavior: offset support upstream is a future
// enhancement and the gateway does not guess.
type Issue struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Suggestions []string `json:"suggestions"`
	Token       string   `json:"token,omitempty"`
}

// Config is the per-tool upstream policy, immutable after startup.
type Config struct {
	BaseURL     string
	Timeout     time.Duration
	Retries     int
	MaxInFlight int64
}

const (
	defaultTimeout     = 6 * time.Second
	defaultMaxInFlight = 8

	backoffBase = 50 * time.Millisecond
	backoffCap  = 1 * time.Second
)

// Client is the policy-enforcing HTTP caller shared by the upstream
// checkers. One Client per tool; safe for concurrent use.
type Client struct {
	name string
	cfg  Config
	http *http.Client
	sem  *semaphore.Weighted
	log  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client. The per-attempt
// deadline still comes from Config.Timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// NewClient builds a policy client for one tool's upstream.
func NewClient(name string, cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = defaultMaxInFlight
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	c := &Client{
		name: name,
		cfg:  cfg,
		http: &http.Client{},
		sem:  semaphore.NewWeighted(cfg.MaxInFlight),
		log:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// checkRequest is the request body both upstreams accept.
type checkRequest struct {
	Teacs string `json:"teacs"`
}

// postCheck runs the policy loop for one logical call: acquire a limiter
// slot (waiting at most one timeout period in the queue), then attempt the
// POST up to Retries+1 times. 4xx responses surface immediately; 5xx,
// timeouts, and transport errors retry with capped exponential backoff.
func (c *Client) postCheck(ctx context.Context, path string, text string) ([]byte, error) {
	ctx = logctx.WithToolData(ctx, &logctx.ToolData{Name: c.name})

	acquireCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	err := c.sem.Acquire(acquireCtx, 1)
	cancel()
	if err != nil {
		c.log.WarnContext(ctx, "bridge.limiter.timeout", slog.String("err", err.Error()))
		return nil, fmt.Errorf("%w: timed out waiting for a request slot", ErrUnavailable)
	}
	defer c.sem.Release(1)

	payload, err := json.Marshal(checkRequest{Teacs: text})
	if err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = backoffBase
	bo.MaxInterval = backoffCap
	bo.RandomizationFactor = 0
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
			}
		}

		body, retryable, err := c.attempt(ctx, path, payload)
		if err == nil {
			if attempt > 0 {
				c.log.InfoContext(ctx, "bridge.call.recovered", slog.Int("attempt", attempt+1))
			}
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
		c.log.WarnContext(ctx, "bridge.attempt.fail",
			slog.Int("attempt", attempt+1),
			slog.String("err", err.Error()))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrUnavailable, lastErr)
}

// attempt performs a single upstream POST under the per-attempt deadline.
// The second return reports whether the failure is worth retrying.
func (c *Client) attempt(ctx context.Context, path string, payload []byte) ([]byte, bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, true, fmt.Errorf("upstream status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, false, fmt.Errorf("upstream rejected request with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, true, fmt.Errorf("read upstream body: %w", err)
	}
	return body, false, nil
}

// Reachable probes the upstream's health endpoint. Used by the health
// surface only; tool calls never depend on it.
func (c *Client) Reachable(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.cfg.BaseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// BaseURL exposes the configured upstream base for the health surface.
func (c *Client) BaseURL() string { return c.cfg.BaseURL }
