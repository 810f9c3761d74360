// Package httpretry provides an http.RoundTripper that retries transient
// failures with jittered exponential backoff.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ignite/mailflow/internal/pkg/logger"
)

// Transport wraps a base RoundTripper with retry logic. It retries on
// 429/500/502/503/504 and on network errors, never on client errors or
// context cancellation. The last response is returned as-is so callers
// can inspect the status and body.
type Transport struct {
	Base       http.RoundTripper
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// NewTransport creates a Transport. maxRetries <= 0 defaults to 3.
func NewTransport(base http.RoundTripper, maxRetries int) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Transport{
		Base:       base,
		MaxRetries: maxRetries,
		BaseDelay:  1 * time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// NewClient returns an *http.Client whose transport retries transient failures.
func NewClient(timeout time.Duration, maxRetries int) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewTransport(nil, maxRetries)}
}

func (t *Transport) backOff(req *http.Request) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.BaseDelay
	b.MaxInterval = t.MaxDelay
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(t.MaxRetries)), req.Context())
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	var (
		resp    *http.Response
		attempt int
	)

	op := func() error {
		if attempt > 0 {
			if req.GetBody == nil && req.Body != nil {
				return backoff.Permanent(fmt.Errorf("httpretry: request body cannot be replayed"))
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return backoff.Permanent(fmt.Errorf("httpretry: reset request body: %w", err))
				}
				req = req.Clone(ctx)
				req.Body = body
			}
		}
		attempt++

		r, err := t.Base.RoundTrip(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		if IsRetryableStatus(r.StatusCode) && attempt <= t.MaxRetries {
			// Drain for connection reuse.
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			return fmt.Errorf("httpretry: server returned retryable status %d", r.StatusCode)
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		logger.Debug("httpretry: retrying",
			"attempt", attempt, "max", t.MaxRetries,
			"method", req.Method, "host", req.URL.Host, "path", req.URL.Path,
			"wait", wait.String(), "error", err)
	}

	if err := backoff.RetryNotify(op, t.backOff(req), notify); err != nil {
		return nil, err
	}
	return resp, nil
}

// IsRetryableStatus reports whether a status code signals a transient
// server-side condition.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
