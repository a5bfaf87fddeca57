package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sirosfoundation/go-msh/internal/bodystore"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/observability"
	"github.com/sirosfoundation/go-msh/internal/storage"
)

// Defaults
const (
	DefaultSchedule      = "@every 1h"
	DefaultRetentionDays = 90
)

// cronParser accepts 5-field expressions and @descriptors
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Config configures the clean-up agent
type Config struct {
	Schedule      string
	RetentionDays int
}

// Agent periodically deletes expired records
type Agent struct {
	repo      storage.Repository
	bodies    bodystore.Store
	schedule  cron.Schedule
	retention time.Duration
	logger    *slog.Logger

	// Now returns the current time; tests replace it
	Now func() time.Time
}

// New creates a clean-up agent. bodies may be nil, in which case stored
// bodies are left in place.
func New(repo storage.Repository, bodies bodystore.Store, cfg Config, logger *slog.Logger) (*Agent, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = DefaultRetentionDays
	}
	sched, err := cronParser.Parse(cfg.Schedule)
	if err != nil {
		return nil, fmt.Errorf("cleanup: invalid schedule %q: %w", cfg.Schedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		repo:      repo,
		bodies:    bodies,
		schedule:  sched,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		logger:    logger.With("agent", "CleanUp"),
		Now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// Name implements the runtime's agent contract
func (a *Agent) Name() string { return "CleanUp" }

// Start runs the agent on its schedule until ctx is done. A run still in
// progress when the next one is due causes that one to be skipped.
func (a *Agent) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cron.DiscardLogger), cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	c.Schedule(a.schedule, cron.FuncJob(func() {
		if _, err := a.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.logger.Error("clean-up failed", "error", err)
		}
	}))
	a.logger.Info("clean-up scheduled", "next", a.schedule.Next(a.Now()), "retention", a.retention)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// RunOnce performs a single clean-up pass
func (a *Agent) RunOnce(ctx context.Context) (*storage.CleanUpResult, error) {
	cutoff := a.Now().Add(-a.retention)
	res, err := a.repo.CleanUp(ctx, cutoff, entities.CleanableOperations())
	if err != nil {
		return nil, fmt.Errorf("cleanup: %w", err)
	}
	for table, n := range res.Deleted {
		observability.RecordCleanUp(string(table), n)
	}

	if a.bodies != nil {
		for _, location := range res.Locations {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			if err := a.bodies.Delete(ctx, location); err != nil {
				a.logger.Warn("deleting stored body", "location", location, "error", err)
			}
		}
	}

	if total := res.Total(); total > 0 {
		a.logger.Info("clean-up done", "cutoff", cutoff, "deleted", total, "bodies", len(res.Locations))
	} else {
		a.logger.Debug("nothing to clean up", "cutoff", cutoff)
	}
	return res, nil
}
