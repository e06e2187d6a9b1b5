package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"lead_scraper/internal/domain"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
)

type jobResponse struct {
	ID        int64      `json:"id"`
	AccountID int64      `json:"account_id"`
	Name      string     `json:"name"`
	Sources   []string   `json:"sources"`
	Keywords  []string   `json:"keywords"`
	PostLimit int        `json:"post_limit"`
	AIEnabled bool       `json:"ai_enabled"`
	Active    bool       `json:"active"`
	Status    string     `json:"status"`
	LastRunAt *time.Time `json:"last_run_at"`
	LastError *string    `json:"last_error"`
}

func newJobResponse(j *domain.Job) jobResponse {
	return jobResponse{
		ID:        j.ID,
		AccountID: j.AccountID,
		Name:      j.Name,
		Sources:   nonNil(j.Sources),
		Keywords:  nonNil(j.Keywords),
		PostLimit: j.PostLimit,
		AIEnabled: j.AIEnabled,
		Active:    j.Active,
		Status:    string(j.Status),
		LastRunAt: j.LastRunAt,
		LastError: j.LastError,
	}
}

func (s *Server) Health(c *gin.Context) {
	if err := s.DB.PingContext(c.Request.Context()); err != nil {
		s.logger.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (s *Server) GetJob(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	job, err := s.Jobs.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, newJobResponse(job))
}

func (s *Server) ListResults(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	var query struct {
		Page          int  `form:"page"`
		PerPage       int  `form:"per_page"`
		IncludeHidden bool `form:"include_hidden"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		abortWithError(c, invalidRequestError("invalid query parameters"))
		return
	}
	if _, set := c.GetQuery("per_page"); !set {
		query.PerPage = defaultPerPage
	}
	query.PerPage = min(max(query.PerPage, 1), maxPerPage)

	// Unknown jobs are a 404, not an empty page.
	if _, err := s.Jobs.Get(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}

	page, err := s.Results.List(c.Request.Context(), id, query.Page, query.PerPage, query.IncludeHidden)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if page.Items == nil {
		page.Items = []*domain.Result{}
	}

	c.JSON(http.StatusOK, page)
}

func (s *Server) HideResult(c *gin.Context) {
	s.setHidden(c, true)
}

func (s *Server) UnhideResult(c *gin.Context) {
	s.setHidden(c, false)
}

func (s *Server) setHidden(c *gin.Context, hidden bool) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.Results.SetHidden(c.Request.Context(), id, hidden); err != nil {
		abortWithError(c, err)
		return
	}

	result, err := s.Results.Get(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if result.MatchedKeywords == nil {
		result.MatchedKeywords = []string{}
	}

	c.JSON(http.StatusOK, result)
}

type usageResponse struct {
	AccountID         int64 `json:"account_id"`
	Year              int   `json:"year"`
	Month             int   `json:"month"`
	AIPostsCount      int   `json:"ai_posts_count"`
	AIQuota           int   `json:"ai_quota"`
	AIRemaining       *int  `json:"ai_remaining"`
	PostsProcessed    int   `json:"posts_processed"`
	RunsInFlight      int   `json:"runs_in_flight"`
	MaxConcurrentRuns int   `json:"max_concurrent_runs"`
}

// GetUsage reports the account's counters for the current month. A negative
// quota is unlimited and has no remaining figure.
func (s *Server) GetUsage(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	account, err := s.Accounts.Get(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	entry, err := s.Usage.Current(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}
	inFlight, err := s.Slots.InFlight(ctx, id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := usageResponse{
		AccountID:         id,
		Year:              entry.Year,
		Month:             entry.Month,
		AIPostsCount:      entry.AIPostsCount,
		AIQuota:           account.MonthlyAIQuota,
		PostsProcessed:    entry.PostsProcessed,
		RunsInFlight:      inFlight,
		MaxConcurrentRuns: account.MaxConcurrentRuns,
	}
	if account.MonthlyAIQuota >= 0 {
		remaining := max(account.MonthlyAIQuota-entry.AIPostsCount, 0)
		resp.AIRemaining = &remaining
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) TriggerRun(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	if err := s.Runs.Trigger(c.Request.Context(), id); err != nil {
		abortWithError(c, err)
		return
	}

	s.logger.Info("run triggered via api", "job_id", id)
	c.JSON(http.StatusAccepted, gin.H{"job_id": id, "status": string(domain.JobStatusQueued)})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, invalidRequestError("id must be a positive integer"))
		return 0, false
	}
	return id, true
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
