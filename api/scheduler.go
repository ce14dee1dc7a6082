/*
scheduler.go - Nightly accrual scheduler

PURPOSE:
  Runs the daily accrual job for the business date on a cron schedule and
  settles matured fixed deposits as part of the same run.

DESIGN:
  - robfig/cron drives the schedule in the configured business time zone
  - SkipIfStillRunning drops a tick that fires while the previous run is
    still going
  - A lease keyed by business date keeps replicas from running the same
    date concurrently. Losing the lease is not an error; the holder does
    the work and accrual is idempotent per (date, account) anyway.

CONFIGURATION:
  - Schedule: cron spec, default "5 0 * * *" (00:05 local)
  - LeaseTTL: how long a lease outlives a crashed holder (default 1h)

USAGE:
  scheduler := NewAccrualScheduler(svc, locker, SchedulerConfig{...})
  if err := scheduler.Start(); err != nil { ... }
  // ... later
  <-scheduler.Stop().Done()

SEE ALSO:
  - handlers.go: RunAccrual endpoint (manual trigger)
  - savings/accrual.go: The run itself
  - store/redislock: Lease implementations
*/
package api

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/warp/savings-engine/generic"
	"github.com/warp/savings-engine/savings"
	"github.com/warp/savings-engine/store/redislock"
)

type SchedulerConfig struct {
	Schedule string
	Location *time.Location
	LeaseTTL time.Duration
	Logger   *slog.Logger
}

// AccrualScheduler handles automated nightly accrual.
type AccrualScheduler struct {
	service  *savings.Service
	locker   redislock.Locker
	schedule string
	ttl      time.Duration
	logger   *slog.Logger
	cron     *cron.Cron

	// ctx is cancelled by Stop so an in-flight run winds down.
	ctx    context.Context
	cancel context.CancelFunc
}

func NewAccrualScheduler(svc *savings.Service, locker redislock.Locker, cfg SchedulerConfig) *AccrualScheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = "5 0 * * *"
	}
	if cfg.Location == nil {
		cfg.Location = svc.Ledger().Clock().Location()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = time.Hour
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if locker == nil {
		locker = redislock.NewLocal()
	}

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(cfg.Logger.Handler(), slog.LevelInfo))
	ctx, cancel := context.WithCancel(context.Background())
	return &AccrualScheduler{
		service:  svc,
		locker:   locker,
		schedule: cfg.Schedule,
		ttl:      cfg.LeaseTTL,
		logger:   cfg.Logger,
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start registers the job and starts the cron loop.
func (s *AccrualScheduler) Start() error {
	if _, err := s.cron.AddFunc(s.schedule, s.tick); err != nil {
		return fmt.Errorf("failed to schedule accrual job %q: %w", s.schedule, err)
	}
	s.cron.Start()
	s.logger.Info("accrual scheduler started", "schedule", s.schedule)
	return nil
}

// Stop halts the cron loop and cancels a running job. The returned context
// is done once the job has returned.
func (s *AccrualScheduler) Stop() context.Context {
	s.cancel()
	ctx := s.cron.Stop()
	s.logger.Info("accrual scheduler stopped")
	return ctx
}

func (s *AccrualScheduler) tick() {
	date := generic.Today(s.service.Ledger().Clock())
	if _, _, err := s.RunOnce(s.ctx, date); err != nil {
		s.logger.Error("scheduled accrual failed", "business_date", date, "error", err)
	}
}

// RunOnce accrues date if this process wins the lease. ran is false when
// another holder has it.
func (s *AccrualScheduler) RunOnce(ctx context.Context, date generic.BusinessDate) (report savings.Report, ran bool, err error) {
	lease, err := s.locker.Acquire(ctx, "accrual:"+date.String(), s.ttl)
	if err != nil {
		return savings.Report{}, false, fmt.Errorf("acquire accrual lease: %w", err)
	}
	if lease == nil {
		s.logger.Info("accrual lease held elsewhere, skipping", "business_date", date)
		return savings.Report{}, false, nil
	}
	defer func() {
		// Release on a fresh context: ctx may already be cancelled.
		rctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if rerr := lease.Release(rctx); rerr != nil {
			s.logger.Warn("failed to release accrual lease", "key", lease.Key(), "error", rerr)
		}
	}()

	report, err = s.service.RunAccrual(ctx, date)
	if err != nil {
		return report, true, err
	}
	s.logger.Info("scheduled accrual completed",
		"business_date", date,
		"processed", report.Processed,
		"skipped", report.Skipped,
		"failures", len(report.Failures),
		"credited", report.Credited.String(),
	)
	return report, true, nil
}
