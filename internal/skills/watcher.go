package skills

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// debounceQuiet is how long the watcher waits for a burst of
	// filesystem events to settle before notifying.
	debounceQuiet = 150 * time.Millisecond
	// debounceMaxWait bounds the total delay for a burst, so an editor
	// that keeps rewriting a file cannot postpone the update forever.
	debounceMaxWait = 500 * time.Millisecond
)

// Watcher emits an update event when any markdown file in the skills
// directory changes, so the panel can tell connected clients to refresh.
// Bursts of filesystem events are debounced into one notification.
type Watcher struct {
	dir    string
	logger *slog.Logger
	events chan string
}

func NewWatcher(dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		dir:    dir,
		logger: logger,
		events: make(chan string, 16),
	}
}

func (w *Watcher) Events() <-chan string {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}

	abs, err := filepath.Abs(w.dir)
	if err != nil {
		fsw.Close()
		return fmt.Errorf("resolve skills dir: %w", err)
	}
	if err := fsw.Add(abs); err != nil {
		fsw.Close()
		return fmt.Errorf("watch %s: %w", abs, err)
	}

	go func() {
		defer func() {
			_ = fsw.Close()
			close(w.events)
		}()

		// Debounce bursts of events. The quiet timer resets on every
		// event, but a deadline set when the burst began caps the total
		// delay so a steady stream of writes still produces updates.
		var pending bool
		var deadline time.Time
		var timer *time.Timer
		var timerC <-chan time.Time
		flush := func() {
			if !pending {
				return
			}
			pending = false
			select {
			case w.events <- "skills":
			default:
			}
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				// Atomic saves go through dot-prefixed temp files; only the
				// final .md names matter.
				base := filepath.Base(ev.Name)
				if strings.HasPrefix(base, ".") || !strings.HasSuffix(base, ".md") {
					continue
				}

				if !pending {
					pending = true
					deadline = time.Now().Add(debounceMaxWait)
				}
				wait := debounceQuiet
				if remaining := time.Until(deadline); remaining < wait {
					wait = remaining
				}
				if timer != nil && !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				if wait <= 0 {
					timerC = nil
					flush()
					continue
				}
				if timer == nil {
					timer = time.NewTimer(wait)
				} else {
					timer.Reset(wait)
				}
				timerC = timer.C

			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Warn("skills watcher error", "error", err)
			case <-timerC:
				flush()
				timerC = nil
			}
		}
	}()

	return nil
}
