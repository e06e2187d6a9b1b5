package notifier

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead_scraper/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testResult() *domain.Result {
	score := 9
	return &domain.Result{
		ID:              5,
		Title:           "Hiring a VA",
		Author:          "bob",
		Source:          "smallbusiness",
		URL:             "https://www.reddit.com/r/smallbusiness/comments/x/",
		MatchedKeywords: []string{"hiring"},
		AIScore:         &score,
	}
}

func TestNotify_PostsLead(t *testing.T) {
	var got Lead
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, srv.Client(), testLogger())
	require.NoError(t, wh.Notify(context.Background(), testResult()))

	assert.Equal(t, Lead{
		Author:          "bob",
		URL:             "https://www.reddit.com/r/smallbusiness/comments/x/",
		Title:           "Hiring a VA",
		Source:          "smallbusiness",
		MatchedKeywords: []string{"hiring"},
	}, got)
}

func TestNotify_FailureIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, time.Second, srv.Client(), testLogger())
	err := wh.Notify(context.Background(), testResult())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Equal(t, int32(1), calls.Load())
}

func TestNotify_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	wh := NewWebhook(srv.URL, 50*time.Millisecond, srv.Client(), testLogger())
	err := wh.Notify(context.Background(), testResult())

	assert.Error(t, err)
}

func TestLeadFromResult_EmptyKeywordsEncodeAsArray(t *testing.T) {
	r := testResult()
	r.MatchedKeywords = nil

	b, err := json.Marshal(LeadFromResult(r))
	require.NoError(t, err)
	assert.Contains(t, string(b), `"matched_keywords":[]`)
}
