// Package policywatch keeps the policy store in step with its file: a
// debounced filesystem watcher and an optional cron re-read.
package policywatch

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"notechart/domain/policy"
	"notechart/internal/logger"
)

// DefaultDebounce batches the bursts of events editors produce on save
const DefaultDebounce = 300 * time.Millisecond

// Reloader re-reads one policy file into a store
type Reloader struct {
	store   *policy.Store
	path    string
	log     *logger.Logger
	reloads atomic.Int64
	failed  atomic.Int64
}

// NewReloader creates a reloader for path
func NewReloader(store *policy.Store, path string, log *logger.Logger) *Reloader {
	if log == nil {
		log = logger.Nop()
	}
	return &Reloader{store: store, path: path, log: log.Component("policy")}
}

// Path returns the watched file
func (r *Reloader) Path() string { return r.path }

// Reload parses the file and swaps it in. A broken file leaves the
// current policy active.
func (r *Reloader) Reload() (*policy.Policy, error) {
	prev := r.store.Current()
	p, err := r.store.ReloadFile(r.path)
	if err != nil {
		r.failed.Add(1)
		r.log.Warn("policy reload failed, keeping current", "path", r.path, "version", prev.Version, "error", err)
		return nil, err
	}
	r.reloads.Add(1)
	r.log.Info("policy reloaded", "path", r.path, "from", prev.Version, "to", p.Version)
	return p, nil
}

// Reloads returns the number of successful reloads
func (r *Reloader) Reloads() int64 { return r.reloads.Load() }

// Failures returns the number of rejected reloads
func (r *Reloader) Failures() int64 { return r.failed.Load() }

// Watcher reloads the policy when its file changes
type Watcher struct {
	mu       sync.Mutex
	reloader *Reloader
	watcher  *fsnotify.Watcher
	debounce time.Duration
	pending  time.Time
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
}

// NewWatcher creates a watcher. A zero debounce uses DefaultDebounce.
func NewWatcher(reloader *Reloader, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create policy watcher: %w", err)
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		reloader: reloader,
		watcher:  fw,
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches the directory holding the policy file; editors often replace
// the file rather than write it in place. Start does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}
	dir := filepath.Dir(w.reloader.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.running = true
	go w.run(ctx)
	w.reloader.log.Info("watching policy file", "path", w.reloader.Path())
	return nil
}

// Stop ends the watch loop and releases the watcher
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	if err := w.watcher.Close(); err != nil {
		w.reloader.log.Warn("close policy watcher", "error", err)
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	target := filepath.Clean(w.reloader.Path())
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.pending = time.Now()
			w.mu.Unlock()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reloader.log.Warn("policy watcher error", "error", err)
		case now := <-ticker.C:
			w.mu.Lock()
			due := !w.pending.IsZero() && now.Sub(w.pending) >= w.debounce
			if due {
				w.pending = time.Time{}
			}
			w.mu.Unlock()
			if due {
				_, _ = w.reloader.Reload()
			}
		}
	}
}
