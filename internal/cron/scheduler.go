// Package cron provides a periodic scheduler that fires due schedules by
// applying their gateway action (restart, stop, start).
package cron

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/basket/clawdeck/internal/bus"
	"github.com/basket/clawdeck/internal/otel"
	"github.com/basket/clawdeck/internal/persistence"
	"go.opentelemetry.io/otel/trace"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Actions is the slice of the supervisor the scheduler needs. Implemented by
// the panel server, which builds the launch spec from the live config.
type Actions interface {
	StartGateway(ctx context.Context) error
	StopGateway(ctx context.Context) error
	RestartGateway(ctx context.Context) error
}

// Config holds the dependencies for the cron scheduler.
type Config struct {
	Store    *persistence.Store
	Actions  Actions
	Bus      *bus.Bus
	Logger   *slog.Logger
	Tracer   trace.Tracer
	Interval time.Duration // tick interval; defaults to 1 minute if zero
}

// Scheduler periodically queries the store for due schedules and applies
// each one's gateway action.
type Scheduler struct {
	store    *persistence.Store
	actions  Actions
	bus      *bus.Bus
	logger   *slog.Logger
	tracer   trace.Tracer
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a new Scheduler with the given config.
func NewScheduler(cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:    cfg.Store,
		actions:  cfg.Actions,
		bus:      cfg.Bus,
		logger:   logger,
		tracer:   cfg.Tracer,
		interval: interval,
	}
}

// Start begins the scheduler loop. It runs in a background goroutine
// and respects the provided context for shutdown.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("cron scheduler started", "interval", s.interval)
}

// Stop cancels the scheduler loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("cron scheduler stopped")
}

// loop is the main scheduler loop. It ticks at the configured interval,
// queries for due schedules, and fires each one.
func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick queries for due schedules and fires each one.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueSchedules(ctx, now)
	if err != nil {
		s.logger.Error("cron: failed to query due schedules", "error", err)
		return
	}
	for _, sched := range due {
		s.fire(ctx, sched, now)
	}
}

// fire applies the schedule's gateway action and updates its run timestamps.
// The next run time advances even when the action fails, so a broken gateway
// command cannot make the scheduler re-fire every tick.
func (s *Scheduler) fire(ctx context.Context, sched persistence.Schedule, now time.Time) {
	if s.tracer != nil {
		var span trace.Span
		ctx, span = otel.StartSpan(ctx, s.tracer, "schedule.fire",
			otel.AttrScheduleID.Int64(sched.ID),
			otel.AttrAction.String(sched.Action),
		)
		defer span.End()
	}

	var actionErr error
	switch sched.Action {
	case persistence.ScheduleActionStop:
		actionErr = s.actions.StopGateway(ctx)
	case persistence.ScheduleActionStart:
		actionErr = s.actions.StartGateway(ctx)
	default:
		actionErr = s.actions.RestartGateway(ctx)
	}
	if actionErr != nil {
		s.logger.Error("cron: schedule action failed",
			"schedule_id", sched.ID,
			"schedule_name", sched.Name,
			"action", sched.Action,
			"error", actionErr,
		)
	}

	nextRun, err := NextRunTime(sched.CronExpr, now)
	if err != nil {
		s.logger.Error("cron: failed to compute next run time",
			"schedule_id", sched.ID,
			"cron_expr", sched.CronExpr,
			"error", err,
		)
		return
	}

	if err := s.store.UpdateScheduleRun(ctx, sched.ID, now, nextRun); err != nil {
		s.logger.Error("cron: failed to update schedule run",
			"schedule_id", sched.ID,
			"error", err,
		)
		return
	}

	if s.bus != nil {
		s.bus.Publish(bus.TopicScheduleFired, bus.ScheduleEvent{
			ScheduleID: sched.ID,
			Name:       sched.Name,
			Action:     sched.Action,
		})
	}
	s.logger.Info("cron: schedule fired",
		"schedule_id", sched.ID,
		"schedule_name", sched.Name,
		"action", sched.Action,
		"next_run_at", nextRun,
	)
}

// NextRunTime parses the cron expression and returns the next run time after the given time.
func NextRunTime(cronExpr string, after time.Time) (time.Time, error) {
	sched, err := cronParser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(after), nil
}
