// Package httpclient builds the shared outbound HTTP transport. Scoring, CRM
// and source calls all receive it by injection so pool and retry settings are
// configured in one place and can be replaced in tests.
package httpclient

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"lead_scraper/internal/config"
)

// New returns an http.Client with a pooled transport. Idempotent requests
// (GET, HEAD, OPTIONS) that fail at the network level or get 429/5xx are
// retried up to cfg.MaxRetries times with exponential backoff; other methods
// are sent exactly once.
func New(cfg config.HTTPConfig) *http.Client {
	return &http.Client{
		Transport: NewRetryTransport(NewTransport(cfg), cfg.MaxRetries, cfg.RetryBackoff),
	}
}

// NewTransport returns the pooled transport without retries, for callers that
// run their own retry policy.
func NewTransport(cfg config.HTTPConfig) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          cfg.MaxIdleConns,
		MaxIdleConnsPerHost:   cfg.MaxIdleConnsPerHost,
		IdleConnTimeout:       cfg.IdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
}

// RetryTransport retries idempotent requests on transient failures.
type RetryTransport struct {
	base       http.RoundTripper
	maxRetries int
	initial    time.Duration
}

func NewRetryTransport(base http.RoundTripper, maxRetries int, initial time.Duration) *RetryTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	if initial <= 0 {
		initial = 500 * time.Millisecond
	}
	return &RetryTransport{base: base, maxRetries: maxRetries, initial: initial}
}

func (t *RetryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.maxRetries <= 0 || !idempotent(req.Method) || req.Body != nil && req.GetBody == nil {
		return t.base.RoundTrip(req)
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = t.initial
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(t.maxRetries)), req.Context())

	var last *http.Response
	op := func() error {
		if last != nil {
			drain(last)
			last = nil
		}

		attempt := req
		if req.Body != nil {
			body, err := req.GetBody()
			if err != nil {
				return backoff.Permanent(fmt.Errorf("rewind body: %w", err))
			}
			attempt = req.Clone(req.Context())
			attempt.Body = body
		}

		resp, err := t.base.RoundTrip(attempt)
		if err != nil {
			if req.Context().Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		last = resp
		if retryableStatus(resp.StatusCode) {
			return fmt.Errorf("retryable status: %d", resp.StatusCode)
		}
		return nil
	}

	err := backoff.Retry(op, b)
	if last != nil {
		// Either success or retries exhausted on a status code; the caller
		// inspects the final response.
		return last, nil
	}
	return nil, err
}

func idempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
