package cron_test

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/clawdeck/internal/bus"
	"github.com/basket/clawdeck/internal/cron"
	"github.com/basket/clawdeck/internal/persistence"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func openTestStore(t *testing.T) *persistence.Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "clawdeck.db")
	store, err := persistence.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// fakeActions counts the gateway operations the scheduler requests.
type fakeActions struct {
	starts   atomic.Int32
	stops    atomic.Int32
	restarts atomic.Int32
	err      error
}

func (a *fakeActions) StartGateway(context.Context) error   { a.starts.Add(1); return a.err }
func (a *fakeActions) StopGateway(context.Context) error    { a.stops.Add(1); return a.err }
func (a *fakeActions) RestartGateway(context.Context) error { a.restarts.Add(1); return a.err }

func insertTestSchedule(t *testing.T, store *persistence.Store, cronExpr, action string, enabled bool, nextRunAt *time.Time) int64 {
	t.Helper()
	id, err := store.InsertSchedule(context.Background(), persistence.Schedule{
		Name:      "test-" + t.Name(),
		CronExpr:  cronExpr,
		Action:    action,
		Enabled:   enabled,
		NextRunAt: nextRunAt,
	})
	if err != nil {
		t.Fatalf("insert schedule: %v", err)
	}
	return id
}

func TestScheduler_FiresOnTime(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Schedule with next_run_at in the past should fire immediately.
	past := time.Now().Add(-5 * time.Minute)
	insertTestSchedule(t, store, "*/5 * * * *", persistence.ScheduleActionRestart, true, &past)

	actions := &fakeActions{}
	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Actions:  actions,
		Logger:   slog.Default(),
		Interval: 50 * time.Millisecond,
	})
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return actions.restarts.Load() > 0
	})
}

func TestScheduler_DisabledSkipped(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Disabled schedule should NOT fire even with past next_run_at.
	past := time.Now().Add(-5 * time.Minute)
	insertTestSchedule(t, store, "*/5 * * * *", persistence.ScheduleActionRestart, false, &past)

	actions := &fakeActions{}
	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Actions:  actions,
		Logger:   slog.Default(),
		Interval: 50 * time.Millisecond,
	})
	sched.Start(ctx)

	// Give the scheduler enough ticks to have processed the schedule, then
	// verify nothing fired. We still need a brief wait here because we are
	// asserting a negative (nothing happened), but we keep it short.
	time.Sleep(200 * time.Millisecond)
	sched.Stop()

	if n := actions.restarts.Load(); n != 0 {
		t.Fatalf("expected 0 restarts for disabled schedule, got %d", n)
	}
}

func TestScheduler_ActionDispatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-1 * time.Minute)
	insertTestSchedule(t, store, "0 9 * * *", persistence.ScheduleActionStop, true, &past)

	actions := &fakeActions{}
	b := bus.New()
	sub := b.Subscribe(bus.TopicScheduleFired)
	defer b.Unsubscribe(sub)

	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Actions:  actions,
		Bus:      b,
		Logger:   slog.Default(),
		Interval: 50 * time.Millisecond,
	})
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return actions.stops.Load() > 0
	})
	if actions.restarts.Load() != 0 || actions.starts.Load() != 0 {
		t.Fatal("wrong action dispatched")
	}

	select {
	case ev := <-sub.Ch():
		payload, ok := ev.Payload.(bus.ScheduleEvent)
		if !ok {
			t.Fatalf("payload type %T", ev.Payload)
		}
		if payload.Action != persistence.ScheduleActionStop {
			t.Fatalf("event action = %q", payload.Action)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no schedule.fired event")
	}
}

func TestScheduler_NextRunUpdated(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-1 * time.Minute)
	schedID := insertTestSchedule(t, store, "*/10 * * * *", persistence.ScheduleActionRestart, true, &past)

	actions := &fakeActions{}
	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Actions:  actions,
		Logger:   slog.Default(),
		Interval: 50 * time.Millisecond,
	})
	sched.Start(ctx)
	defer sched.Stop()

	// Poll until last_run_at is set (schedule has fired).
	var found *persistence.Schedule
	waitFor(t, 3*time.Second, func() bool {
		schedules, err := store.ListSchedules(ctx)
		if err != nil {
			return false
		}
		for i := range schedules {
			if schedules[i].ID == schedID && schedules[i].LastRunAt != nil {
				found = &schedules[i]
				return true
			}
		}
		return false
	})

	if found.NextRunAt == nil {
		t.Fatal("expected next_run_at to be set after firing")
	}

	// The next run should be in the future (after the original past time).
	if !found.NextRunAt.After(past) {
		t.Fatalf("expected next_run_at (%v) to be after original past time (%v)", found.NextRunAt, past)
	}

	// Verify next_run_at is roughly aligned to a 10-minute boundary.
	if found.NextRunAt.Minute()%10 != 0 {
		t.Fatalf("expected next_run_at minute to be a multiple of 10, got %d", found.NextRunAt.Minute())
	}
}

func TestScheduler_AdvancesPastFailedAction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-1 * time.Minute)
	insertTestSchedule(t, store, "*/10 * * * *", persistence.ScheduleActionRestart, true, &past)

	actions := &fakeActions{err: errors.New("spawn refused")}
	sched := cron.NewScheduler(cron.Config{
		Store:    store,
		Actions:  actions,
		Logger:   slog.Default(),
		Interval: 50 * time.Millisecond,
	})
	sched.Start(ctx)
	defer sched.Stop()

	waitFor(t, 3*time.Second, func() bool {
		return actions.restarts.Load() > 0
	})
	// next_run_at advanced even though the action failed, so the schedule
	// must not be due again right away.
	waitFor(t, 3*time.Second, func() bool {
		due, err := store.DueSchedules(ctx, time.Now())
		return err == nil && len(due) == 0
	})
}

func TestNextRunTime_RejectsBadExpr(t *testing.T) {
	if _, err := cron.NextRunTime("not a cron", time.Now()); err == nil {
		t.Fatal("expected parse error")
	}
}
