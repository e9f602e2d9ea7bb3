package main

import (
	"context"
	"fmt"

	"github.com/0xPuncker/pos-scheduler/internal/config"
	"github.com/0xPuncker/pos-scheduler/internal/cron"
	"github.com/0xPuncker/pos-scheduler/internal/metrics"
	"github.com/0xPuncker/pos-scheduler/internal/notifications"
	"github.com/0xPuncker/pos-scheduler/internal/registry"
	"github.com/0xPuncker/pos-scheduler/internal/store"
	"github.com/0xPuncker/pos-scheduler/internal/tasks"
	"github.com/sirupsen/logrus"
)

// app holds everything one process needs to drive the scheduler.
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	store     *store.Store
	scheduler *cron.Scheduler
	metrics   *metrics.Collector
	slack     *notifications.SlackService
}

type appOptions struct {
	// recoverRuns is only safe for the long-running server
	recoverRuns bool
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger, opts appOptions) (*app, error) {
	driver, err := store.ParseDriver(cfg.Database.Driver)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(ctx, driver, cfg.Database.URL)
	if err != nil {
		return nil, err
	}

	seeded, err := st.SeedJobs(ctx, cfg.Jobs)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("failed to seed jobs: %w", err)
	}
	if seeded > 0 {
		logger.WithField("count", seeded).Info("Seeded job definitions from config")
	}

	loc, err := cfg.Location()
	if err != nil {
		st.Close()
		return nil, err
	}

	table := cron.NewTaskTable()
	if err := tasks.Register(table, st, cfg.LogRetention(), logger); err != nil {
		st.Close()
		return nil, err
	}

	collector := metrics.NewCollector()
	schedulerOpts := []cron.Option{
		cron.WithLocation(loc),
		cron.WithRecorder(collector),
		cron.WithRunRecovery(opts.recoverRuns),
	}

	var slack *notifications.SlackService
	if cfg.Slack.WebhookURL != "" {
		slack, err = notifications.NewSlackService(logger, cfg.Slack.WebhookURL)
		if err != nil {
			logger.Warnf("Failed to initialize Slack service: %v", err)
		} else {
			schedulerOpts = append(schedulerOpts, cron.WithNotifier(notifications.NewNotificationService(slack)))
		}
	}

	scheduler := cron.NewScheduler(registry.New(st, logger), st, table, logger, schedulerOpts...)
	if err := scheduler.Initialize(ctx); err != nil {
		st.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		scheduler: scheduler,
		metrics:   collector,
		slack:     slack,
	}, nil
}

func (a *app) Close() {
	a.scheduler.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Errorf("Failed to close store: %v", err)
	}
}
