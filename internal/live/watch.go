// Package live re-runs the conversion pipeline whenever an export file
// changes on disk. Events are debounced because exporters rewrite files in
// bursts.
package live

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Options configures a watch session.
type Options struct {
	// Paths are the export files to watch (CSV, chat.db). Their parent
	// directories are registered with the watcher since exporters often
	// replace files wholesale.
	Paths    []string
	Debounce time.Duration
}

// Watch blocks until ctx is done, invoking run after each debounced change
// to any watched path. run is also invoked once at startup.
func Watch(ctx context.Context, opts Options, log *zap.SugaredLogger, run func() error) error {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if len(opts.Paths) == 0 {
		return fmt.Errorf("nothing to watch")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	watched := make(map[string]bool)
	dirs := make(map[string]bool)
	for _, p := range opts.Paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", p, err)
		}
		watched[abs] = true
		dirs[filepath.Dir(abs)] = true
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	log.Infow("watching for export changes", "paths", opts.Paths, "debounce", opts.Debounce)

	runOnce := func() {
		if err := run(); err != nil {
			log.Warnw("watch run failed", "error", err)
		}
	}

	log.Info("running initial conversion")
	runOnce()

	var debounceTimer *time.Timer
	triggerRun := func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		debounceTimer = time.AfterFunc(opts.Debounce, runOnce)
	}
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			abs, err := filepath.Abs(event.Name)
			if err != nil || !watched[abs] {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debugw("export changed", "path", event.Name, "op", event.Op.String())
			triggerRun()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnw("watcher error", "error", err)
		}
	}
}
