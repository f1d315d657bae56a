package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce coalesces the burst of events an editor produces on save.
const WatchDebounce = 250 * time.Millisecond

// Watcher reports changes to one config file. The parent directory is
// watched so that atomic replacement keeps working.
type Watcher struct {
	w      *fsnotify.Watcher
	target string
	logger *slog.Logger
}

// NewWatcher registers a watch for path. Changes made after it returns are
// reported by Run.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create config watcher: %w", err)
	}

	target := filepath.Clean(path)
	if err := w.Add(filepath.Dir(target)); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	return &Watcher{
		w:      w,
		target: target,
		logger: logger.With(slog.String("component", "config.watch"), slog.String("path", target)),
	}, nil
}

// Run calls onChange once per burst of writes, creates or renames of the
// file, after WatchDebounce of quiet. It blocks until ctx is cancelled and
// closes the watcher on return.
func (cw *Watcher) Run(ctx context.Context, onChange func()) error {
	defer cw.w.Close()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-cw.w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != cw.target || ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			cw.logger.Debug("config file changed", slog.String("op", ev.Op.String()))
			if timer == nil {
				timer = time.NewTimer(WatchDebounce)
			} else {
				timer.Reset(WatchDebounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			onChange()

		case err, ok := <-cw.w.Errors:
			if !ok {
				return nil
			}
			cw.logger.Warn("config watcher error", slog.String("error", err.Error()))
		}
	}
}

// Watch registers a Watcher for path and runs it until ctx is cancelled.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func()) error {
	cw, err := NewWatcher(path, logger)
	if err != nil {
		return err
	}
	return cw.Run(ctx, onChange)
}
