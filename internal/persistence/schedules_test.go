package persistence

import (
	"context"
	"testing"
	"time"
)

func TestSchedules_InsertListDelete(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	next := time.Now().Add(time.Hour).UTC()
	id, err := store.InsertSchedule(ctx, Schedule{
		Name:      "nightly restart",
		CronExpr:  "0 3 * * *",
		Enabled:   true,
		NextRunAt: &next,
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected row id")
	}

	list, err := store.ListSchedules(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 {
		t.Fatalf("len = %d", len(list))
	}
	if list[0].Action != ScheduleActionRestart {
		t.Fatalf("default action = %q", list[0].Action)
	}
	if list[0].NextRunAt == nil {
		t.Fatal("next_run_at not persisted")
	}

	if err := store.DeleteSchedule(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteSchedule(ctx, id); err == nil {
		t.Fatal("expected not-found on second delete")
	}
}

func TestSchedules_DueSelection(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	dueID, err := store.InsertSchedule(ctx, Schedule{Name: "due", CronExpr: "* * * * *", Enabled: true, NextRunAt: &past})
	if err != nil {
		t.Fatalf("insert due: %v", err)
	}
	if _, err := store.InsertSchedule(ctx, Schedule{Name: "later", CronExpr: "* * * * *", Enabled: true, NextRunAt: &future}); err != nil {
		t.Fatalf("insert later: %v", err)
	}
	if _, err := store.InsertSchedule(ctx, Schedule{Name: "disabled", CronExpr: "* * * * *", Enabled: false, NextRunAt: &past}); err != nil {
		t.Fatalf("insert disabled: %v", err)
	}

	due, err := store.DueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 1 || due[0].ID != dueID {
		t.Fatalf("due = %+v", due)
	}
}

func TestSchedules_UpdateRunAdvancesNext(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	id, err := store.InsertSchedule(ctx, Schedule{Name: "s", CronExpr: "* * * * *", Enabled: true, NextRunAt: &past})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	next := now.Add(time.Minute)
	if err := store.UpdateScheduleRun(ctx, id, now, next); err != nil {
		t.Fatalf("update run: %v", err)
	}

	due, err := store.DueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatalf("schedule still due after advance: %+v", due)
	}

	got, err := store.GetSchedule(ctx, id)
	if err != nil || got == nil {
		t.Fatalf("get: %v", err)
	}
	if got.LastRunAt == nil {
		t.Fatal("last_run_at not set")
	}
}

func TestSchedules_EnableToggle(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Minute)

	id, err := store.InsertSchedule(ctx, Schedule{Name: "s", CronExpr: "* * * * *", Enabled: true, NextRunAt: &past})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.EnableSchedule(ctx, id, false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	due, err := store.DueSchedules(ctx, now)
	if err != nil {
		t.Fatalf("due: %v", err)
	}
	if len(due) != 0 {
		t.Fatal("disabled schedule reported due")
	}
}
