package skills

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// The ticker rewrites the file faster than the quiet period, so this also
// checks that a sustained burst cannot postpone the notification past the
// max-wait bound.
func TestWatcher_FiresOnSkillWrite(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	path := filepath.Join(dir, "search.md")
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()

	if err := os.WriteFile(path, []byte("# skill"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	for {
		select {
		case <-w.Events():
			return
		case <-tick.C:
			_ = os.WriteFile(path, []byte("# skill updated"), 0o644)
		case <-deadline:
			t.Fatal("no event for skill write")
		}
	}
}

func TestWatcher_IgnoresTempFiles(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := os.WriteFile(filepath.Join(dir, ".skill-123.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write txt: %v", err)
	}

	select {
	case <-w.Events():
		t.Fatal("event fired for non-skill file")
	case <-time.After(400 * time.Millisecond):
	}
}

func TestWatcher_ClosedOnCancel(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(dir, nil)
	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	select {
	case _, ok := <-w.Events():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after cancel")
	}
}
