// Package health gates activations on an HTTP endpoint or a canary file
// answering correctly.
package health

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kagehq/brail/internal/domain"
)

// Defaults applied when Options leave a field unset.
const (
	DefaultTimeout = 8000 * time.Millisecond
	DefaultRetries = 5
	backoffStep    = 1000 * time.Millisecond
	maxCanaryBytes = 4 << 10
)

// Options bound a single check.
type Options struct {
	Timeout time.Duration
	Retries int
}

func (o Options) withDefaults(fallback Options) Options {
	if o.Timeout <= 0 {
		o.Timeout = fallback.Timeout
	}
	if o.Retries <= 0 {
		o.Retries = fallback.Retries
	}
	return o
}

// Checker runs URL and canary checks with linear backoff.
type Checker struct {
	client   *http.Client
	logger   *slog.Logger
	defaults Options
	sleep    func(context.Context, time.Duration) error
}

// Option customises a Checker.
type Option func(*Checker)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Checker) { c.client = client }
}

// WithSleep overrides the backoff sleep.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(c *Checker) { c.sleep = sleep }
}

// WithDefaults overrides the timeout and retry defaults.
func WithDefaults(opts Options) Option {
	return func(c *Checker) { c.defaults = opts.withDefaults(c.defaults) }
}

// New constructs a Checker.
func New(logger *slog.Logger, opts ...Option) *Checker {
	c := &Checker{
		client:   &http.Client{},
		logger:   logger,
		defaults: Options{Timeout: DefaultTimeout, Retries: DefaultRetries},
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckURL succeeds once a GET of url answers 2xx.
func (c *Checker) CheckURL(ctx context.Context, url string, opts Options) error {
	return c.run(ctx, url, opts, func(status int, _ []byte) error {
		if status < 200 || status > 299 {
			return fmt.Errorf("unexpected status %d", status)
		}
		return nil
	})
}

// CheckCanary succeeds once the trimmed body at url equals expectedDeployID.
func (c *Checker) CheckCanary(ctx context.Context, url, expectedDeployID string, opts Options) error {
	return c.run(ctx, url, opts, func(status int, body []byte) error {
		if status < 200 || status > 299 {
			return fmt.Errorf("unexpected status %d", status)
		}
		if got := strings.TrimSpace(string(body)); got != expectedDeployID {
			return fmt.Errorf("canary serves %q", got)
		}
		return nil
	})
}

func (c *Checker) run(ctx context.Context, url string, opts Options, verify func(int, []byte) error) error {
	opts = opts.withDefaults(c.defaults)
	var lastErr error
	for attempt := 1; attempt <= opts.Retries; attempt++ {
		status, body, err := c.fetch(ctx, url, opts.Timeout)
		if err == nil {
			err = verify(status, body)
		}
		if err == nil {
			c.logger.Info("health check passed", "url", url, "attempt", attempt)
			return nil
		}
		lastErr = err
		c.logger.Warn("health check attempt failed", "url", url, "attempt", attempt, "retries", opts.Retries, "error", err)
		if attempt == opts.Retries {
			break
		}
		if err := c.sleep(ctx, time.Duration(attempt)*backoffStep); err != nil {
			return fmt.Errorf("%w: %s: %v", domain.ErrHealthCheckFailed, url, err)
		}
	}
	return fmt.Errorf("%w: %s after %d attempts: %v", domain.ErrHealthCheckFailed, url, opts.Retries, lastErr)
}

func (c *Checker) fetch(ctx context.Context, url string, timeout time.Duration) (int, []byte, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCanaryBytes))
	if err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, nil, err
	}
	return resp.StatusCode, body, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
