// Package notifier forwards high-scoring leads to a CRM webhook.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"lead_scraper/internal/domain"
)

// Lead is the body posted to the CRM.
type Lead struct {
	Author          string   `json:"author"`
	URL             string   `json:"url"`
	Title           string   `json:"title"`
	Source          string   `json:"source"`
	MatchedKeywords []string `json:"matched_keywords"`
}

func LeadFromResult(r *domain.Result) Lead {
	keywords := r.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}
	return Lead{
		Author:          r.Author,
		URL:             r.URL,
		Title:           r.Title,
		Source:          r.Source,
		MatchedKeywords: keywords,
	}
}

// Webhook posts each lead once. Failures are returned to the caller and never
// retried.
type Webhook struct {
	httpClient *http.Client
	url        string
	timeout    time.Duration
	logger     *slog.Logger
}

func NewWebhook(url string, timeout time.Duration, httpClient *http.Client, logger *slog.Logger) *Webhook {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		httpClient: httpClient,
		url:        url,
		timeout:    timeout,
		logger:     logger.With("component", "crm_webhook"),
	}
}

func (w *Webhook) Notify(ctx context.Context, result *domain.Result) error {
	body, err := json.Marshal(LeadFromResult(result))
	if err != nil {
		return fmt.Errorf("marshal lead: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post lead: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("crm responded with status %d", resp.StatusCode)
	}

	w.logger.Debug("lead sent", "result_id", result.ID, "url", result.URL)
	return nil
}
