package config

import (
	"context"
	"log/slog"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

type ReloadEvent struct {
	Path string
	Op   fsnotify.Op
}

// Watcher raises a ReloadEvent when the panel config or the gateway config
// document changes on disk, so out-of-band edits show up without a restart.
type Watcher struct {
	homeDir     string
	gatewayPath string
	logger      *slog.Logger
	events      chan ReloadEvent
}

func NewWatcher(homeDir, gatewayPath string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		homeDir:     homeDir,
		gatewayPath: gatewayPath,
		logger:      logger,
		events:      make(chan ReloadEvent, 16),
	}
}

func (w *Watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	files := []string{
		filepath.Join(w.homeDir, "config.yaml"),
	}
	if w.gatewayPath != "" {
		files = append(files, w.gatewayPath)
		// Atomic saves rename a temp file into place, which fsnotify only
		// sees when the parent directory is watched.
		files = append(files, filepath.Dir(w.gatewayPath))
	}
	for _, file := range files {
		_ = fsw.Add(file)
	}

	go func() {
		defer fsw.Close()
		defer close(w.events)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !w.relevant(ev.Name) {
					continue
				}
				select {
				case w.events <- ReloadEvent{Path: ev.Name, Op: ev.Op}:
				default:
				}
				w.logger.Info("config file changed", "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				w.logger.Error("config watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (w *Watcher) relevant(name string) bool {
	if filepath.Base(name) == "config.yaml" {
		return true
	}
	return w.gatewayPath != "" && name == w.gatewayPath
}
