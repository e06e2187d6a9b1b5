// Package server exposes jobs and their results over a small JSON API and
// lets operators trigger a run by hand.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"lead_scraper/internal/domain"
)

type JobReader interface {
	Get(ctx context.Context, id int64) (*domain.Job, error)
}

type ResultStore interface {
	Get(ctx context.Context, id int64) (*domain.Result, error)
	List(ctx context.Context, jobID int64, page, perPage int, includeHidden bool) (*domain.ResultPage, error)
	SetHidden(ctx context.Context, id int64, hidden bool) error
}

type AccountReader interface {
	Get(ctx context.Context, id int64) (*domain.Account, error)
}

type UsageReader interface {
	Current(ctx context.Context, accountID int64) (*domain.UsageEntry, error)
}

type RunCounter interface {
	InFlight(ctx context.Context, accountID int64) (int, error)
}

type RunTrigger interface {
	Trigger(ctx context.Context, jobID int64) error
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps are the stores and services the handlers read from.
type Deps struct {
	Jobs     JobReader
	Results  ResultStore
	Accounts AccountReader
	Usage    UsageReader
	Slots    RunCounter
	Runs     RunTrigger
	DB       Pinger
}

type Server struct {
	Deps
	logger  *slog.Logger
	engine  *gin.Engine
	httpSrv *http.Server
}

func New(addr string, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		Deps:   deps,
		logger: logger.With("component", "server"),
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	s.routes(engine)
	s.engine = engine

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes(r *gin.Engine) {
	r.GET("/healthz", s.Health)

	jobs := r.Group("/jobs/:id")
	jobs.GET("", s.GetJob)
	jobs.GET("/results", s.ListResults)
	jobs.POST("/run", s.TriggerRun)

	results := r.Group("/results/:id")
	results.PATCH("/hide", s.HideResult)
	results.PATCH("/unhide", s.UnhideResult)

	r.GET("/accounts/:id/usage", s.GetUsage)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", status,
			"duration", time.Since(start),
		)
	}
}
