// Package httpclient builds the hardened *http.Client every outbound
// integration in this module shares: connection pooling tuned for many
// hosts, and a retry-with-backoff-and-jitter helper for transient
// failures, grounded on the teacher's SearXNG retry wrapper.
package httpclient

import (
	"context"
	"math/rand"
	"net"
	"net/http"
	"time"
)

// Options configures client construction. The zero value is usable; New
// fills in the same defaults the teacher's web fetcher uses.
type Options struct {
	Timeout             time.Duration
	MaxIdleConnsPerHost int
	DialTimeout         time.Duration
}

// New builds an *http.Client with a dialer, connection pool sizing, and
// an overall request timeout suited to polling many small hosts.
func New(opts Options) *http.Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = 10
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 7 * time.Second
	}

	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   opts.DialTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: 15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: opts.Timeout}
}

// RetryConfig tunes WithRetry's exponential backoff and jitter.
type RetryConfig struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	JitterPercent float64
}

// DefaultRetryConfig mirrors the teacher's DefaultRateLimitConfig values.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: time.Second, MaxDelay: 30 * time.Second, JitterPercent: 0.3}
}

// WithRetry calls fn up to cfg.MaxAttempts times, sleeping with
// exponential backoff plus jitter between attempts, and gives up early if
// ctx is cancelled. It returns the last error if every attempt fails.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := fn(attempt); err == nil {
			return nil
		} else {
			lastErr = err
		}
		if attempt == cfg.MaxAttempts-1 {
			break
		}
		delay := cfg.BaseDelay * (1 << attempt)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		jitter := time.Duration(float64(delay) * cfg.JitterPercent * rand.Float64())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
	}
	return lastErr
}
