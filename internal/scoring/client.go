// Package scoring rates matched posts as sales leads with an LLM. Scoring is
// best-effort: every failure is reported as an unscored result with a
// diagnostic reason, never as an error.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lead_scraper/internal/domain"
)

// Generator produces a completion for a system + user prompt pair.
type Generator interface {
	GenerateWithSystem(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Request is the input for a single scoring call.
type Request struct {
	Title    string
	Body     string
	Keywords []string
	Guidance string
}

type Client struct {
	gen          Generator
	timeout      time.Duration
	maxBodyChars int
	logger       *slog.Logger
}

// New creates a scoring client. A nil generator yields a client that reports
// every post as not configured.
func New(gen Generator, timeout time.Duration, maxBodyChars int, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 12 * time.Second
	}
	return &Client{
		gen:          gen,
		timeout:      timeout,
		maxBodyChars: maxBodyChars,
		logger:       logger.With("component", "scoring"),
	}
}

// Configured reports whether a model is wired. Without one, Score returns
// ReasonNotConfigured and makes no call.
func (c *Client) Configured() bool {
	return c.gen != nil
}

// Score asks the model to rate the post from 1 to 10.
func (c *Client) Score(ctx context.Context, req Request) (score domain.Score) {
	if c.gen == nil {
		return domain.Unscored(domain.ReasonNotConfigured)
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("scoring panicked", "panic", r)
			score = domain.Unscored(fmt.Sprintf("%s%v", domain.ReasonFailurePrefix, r))
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.gen.GenerateWithSystem(callCtx, systemPrompt, buildUserPrompt(req, c.maxBodyChars))
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			c.logger.Warn("scoring timed out", "timeout", c.timeout)
			return domain.Unscored(domain.ReasonTimedOut)
		}
		c.logger.Warn("scoring request failed", "error", err, "elapsed", time.Since(start))
		return domain.Unscored(domain.ReasonFailurePrefix + err.Error())
	}

	value, reason, err := parseResponse(raw)
	if err != nil {
		c.logger.Warn("unparseable scoring response", "error", err)
		return domain.Unscored(domain.ReasonUnparseable)
	}

	c.logger.Debug("scored post", "score", value, "elapsed", time.Since(start))
	return domain.Scored(value, reason)
}
