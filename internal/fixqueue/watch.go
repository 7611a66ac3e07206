package fixqueue

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces the burst of events a single rewrite produces.
const watchDebounce = 200 * time.Millisecond

// Watch processes pending tasks whenever the queue file changes, one task
// per change notification, until ctx is cancelled. Pending tasks present at
// start are processed first. onResult, if set, receives every outcome.
func (q *Queue) Watch(ctx context.Context, executor string, onResult func(*Outcome)) error {
	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating queue dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// The queue is replaced by rename, so watch the directory.
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	process := func() bool {
		out, err := q.ProcessOne(ctx, executor)
		if err != nil {
			q.logger.Warn("fix watch: processing failed", "error", err)
			return false
		}
		if onResult != nil {
			onResult(out)
		}
		return out.Status != NoPendingTask
	}

	for process() {
		if ctx.Err() != nil {
			return nil
		}
	}

	base := filepath.Base(q.path)
	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				pending = time.After(watchDebounce)
			}
		case <-pending:
			pending = nil
			process()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			q.logger.Warn("fix watch: watcher error", "error", err)
		}
	}
}
