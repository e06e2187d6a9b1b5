// Package reddit fetches the newest posts of subreddits. With client
// credentials configured it authenticates app-only through OAuth2; otherwise
// it reads the public JSON listings.
package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"lead_scraper/internal/config"
	"lead_scraper/internal/domain"
)

const (
	SourceName   = "reddit"
	maxPageSize  = 100
	defaultLimit = 25
)

var subredditRe = regexp.MustCompile(`^[A-Za-z0-9_]{2,21}$`)

type Source struct {
	httpClient *http.Client
	apiURL     string
	webURL     string
	retry      config.RetryConfig
	logger     *slog.Logger
}

// New creates a Reddit source sending requests through httpClient.
func New(cfg config.RedditConfig, httpClient *http.Client, logger *slog.Logger) *Source {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	base := &http.Client{
		Transport: &userAgentTransport{base: httpClient.Transport, userAgent: cfg.UserAgent},
		Timeout:   cfg.Timeout,
	}

	s := &Source{
		httpClient: base,
		apiURL:     strings.TrimRight(cfg.BaseURL, "/"),
		webURL:     strings.TrimRight(cfg.BaseURL, "/"),
		retry:      cfg.Retry,
		logger:     logger.With("source", SourceName),
	}

	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		}
		tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
		s.httpClient = cc.Client(tokenCtx)
		s.httpClient.Timeout = cfg.Timeout
		s.apiURL = strings.TrimRight(cfg.OAuthBaseURL, "/")
	}

	return s
}

func (s *Source) Name() string {
	return SourceName
}

// FetchPosts returns up to limit of the newest posts in the subreddit,
// following listing pagination as needed. Pinned posts are skipped.
func (s *Source) FetchPosts(ctx context.Context, subreddit string, limit int) ([]domain.CandidatePost, error) {
	name, err := normalizeSubreddit(subreddit)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLimit
	}

	var (
		posts []domain.CandidatePost
		after string
	)
	for len(posts) < limit {
		page, err := s.fetchPage(ctx, name, min(limit-len(posts), maxPageSize), after)
		if err != nil {
			return nil, fmt.Errorf("fetch r/%s: %w", name, err)
		}

		for _, c := range page.Data.Children {
			if c.Kind != "t3" || c.Data.Stickied {
				continue
			}
			posts = append(posts, s.transform(name, c.Data))
		}

		s.logger.Debug("fetched page",
			"subreddit", name,
			"posts", len(page.Data.Children),
			"total", len(posts),
		)

		if page.Data.After == "" || len(page.Data.Children) == 0 {
			break
		}
		after = page.Data.After
	}

	if len(posts) > limit {
		posts = posts[:limit]
	}
	return posts, nil
}

func (s *Source) fetchPage(ctx context.Context, subreddit string, limit int, after string) (*listing, error) {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(limit))
	q.Set("raw_json", "1")
	if after != "" {
		q.Set("after", after)
	}
	u := fmt.Sprintf("%s/r/%s/new.json?%s", s.apiURL, subreddit, q.Encode())

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.retry.InitialBackoff
	policy.MaxInterval = s.retry.MaxBackoff
	policy.MaxElapsedTime = 0
	attempts := max(s.retry.MaxAttempts, 1)
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(attempts-1)), ctx)

	var (
		page    *listing
		attempt int
	)
	err := backoff.RetryNotify(
		func() error {
			attempt++
			var err error
			page, err = s.doRequest(ctx, u)
			return err
		},
		b,
		func(err error, wait time.Duration) {
			s.logger.Warn("request failed, retrying",
				"subreddit", subreddit,
				"attempt", attempt,
				"backoff", wait,
				"error", err,
			)
		},
	)
	if err != nil {
		return nil, fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return page, nil
}

func (s *Source) doRequest(ctx context.Context, u string) (*listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(err)
		}
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("unexpected status: %d", resp.StatusCode))
	}

	var page listing
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &page, nil
}

func (s *Source) transform(subreddit string, p post) domain.CandidatePost {
	externalID := p.Name
	if externalID == "" {
		externalID = "t3_" + p.ID
	}
	source := p.Subreddit
	if source == "" {
		source = subreddit
	}

	cp := domain.CandidatePost{
		ExternalID: externalID,
		Source:     source,
		Title:      p.Title,
		Body:       p.Selftext,
		Author:     p.Author,
		URL:        p.URL,
		Popularity: p.Score,
	}
	if p.Permalink != "" {
		cp.URL = s.webURL + p.Permalink
	}
	if p.CreatedUTC > 0 {
		cp.CreatedAt = time.Unix(int64(p.CreatedUTC), 0).UTC()
	}
	return cp
}

func normalizeSubreddit(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	name = strings.TrimPrefix(name, "/")
	name = strings.TrimPrefix(name, "r/")
	name = strings.TrimSuffix(name, "/")
	if !subredditRe.MatchString(name) {
		return "", fmt.Errorf("invalid subreddit %q", raw)
	}
	return name, nil
}

type userAgentTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	if t.userAgent == "" {
		return base.RoundTrip(req)
	}
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.userAgent)
	return base.RoundTrip(req)
}
