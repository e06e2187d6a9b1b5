package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"lead_scraper/internal/config"
	"lead_scraper/internal/httpclient"
	"lead_scraper/internal/notifier"
	"lead_scraper/internal/publisher"
	"lead_scraper/internal/runlimit"
	"lead_scraper/internal/scoring"
	"lead_scraper/internal/service"
	"lead_scraper/internal/source/reddit"
	"lead_scraper/internal/storage/postgres"
	"lead_scraper/internal/usage"
)

// app holds the wired components shared by every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *sqlx.DB
	rdb     *redis.Client
	pub     *publisher.RabbitMQ
	jobs     *postgres.JobStore
	results  *postgres.ResultStore
	accounts *postgres.AccountStore
	ledger   *usage.Ledger
	limiter  *runlimit.Limiter
	runner   *service.Runner

	closeLog func() error
}

func newApp(ctx context.Context, path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, closeLog := config.SetupLogger(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	a := &app{cfg: cfg, logger: logger, closeLog: closeLog}

	if err := a.wire(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg, logger := a.cfg, a.logger

	db, err := sqlx.Connect("postgres", cfg.Database.DSN())
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	a.db = db
	logger.Info("connected to database")

	rdb, err := runlimit.NewRedisClient(ctx, cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.rdb = rdb
	logger.Info("connected to redis")

	// Reddit retries pages itself, so it gets the bare pooled transport.
	sharedClient := httpclient.New(cfg.HTTP)
	redditClient := &http.Client{Transport: httpclient.NewTransport(cfg.HTTP)}

	var gen scoring.Generator
	llm, err := scoring.NewGenerator(cfg.Scoring, sharedClient)
	switch {
	case err == nil:
		gen = llm
	case errors.Is(err, scoring.ErrNotConfigured):
		logger.Warn("ai scoring not configured, posts will be stored unscored", "reason", err)
	default:
		return fmt.Errorf("create scoring model: %w", err)
	}
	scorer := scoring.New(gen, cfg.Scoring.Timeout, cfg.Scoring.MaxBodyChars, logger)

	var crm service.Notifier
	if cfg.CRM.WebhookURL != "" {
		crm = notifier.NewWebhook(cfg.CRM.WebhookURL, cfg.CRM.Timeout, sharedClient, logger)
	}

	var pub service.Publisher
	if cfg.RabbitMQ.Enabled {
		a.pub, err = publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		pub = a.pub
	}

	a.jobs = postgres.NewJobStore(db)
	a.results = postgres.NewResultStore(db)
	a.accounts = postgres.NewAccountStore(db)
	a.ledger = usage.NewLedger(postgres.NewUsageStore(db))
	a.limiter = runlimit.New(rdb, cfg.Redis.RunTTL)
	txManager := postgres.NewTransactionManager(db)

	pipeline := service.NewPipeline(
		reddit.New(cfg.Reddit, redditClient, logger),
		a.results,
		txManager,
		a.ledger,
		scorer,
		crm,
		pub,
		logger,
		service.PipelineConfig{
			Workers:        cfg.Pipeline.Workers,
			NotifyMinScore: cfg.CRM.MinScore,
		},
	)

	a.runner = service.NewRunner(
		a.jobs,
		a.accounts,
		pipeline,
		a.limiter,
		cfg.Pipeline.RunTimeout,
		logger,
	)
	return nil
}

func (a *app) close() {
	if a.pub != nil {
		if err := a.pub.Close(); err != nil {
			a.logger.Warn("failed to close rabbitmq", "error", err)
		}
	}
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
	if a.closeLog != nil {
		_ = a.closeLog()
	}
}
