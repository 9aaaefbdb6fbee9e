package feed

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	appLog "actualcal/internal/log"
)

const (
	refreshTimeout = 2 * time.Minute
	watchDebounce  = 500 * time.Millisecond
)

// Refresher keeps the most recent Snapshot and rebuilds it on demand, on a
// cron schedule, or when the source file changes.
type Refresher struct {
	builder *Builder

	// buildMu serializes builds.
	buildMu sync.Mutex

	mu      sync.RWMutex
	snap    *Snapshot
	lastErr error

	cron *cron.Cron
}

// NewRefresher wraps b. No build happens until Refresh or Start.
func NewRefresher(b *Builder) *Refresher {
	return &Refresher{builder: b}
}

// Snapshot returns the latest successful snapshot, or nil before the first
// successful build.
func (r *Refresher) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap
}

// LastError returns the error of the most recent build, if it failed.
func (r *Refresher) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// Refresh rebuilds the feed. On failure the previous snapshot is kept.
func (r *Refresher) Refresh(ctx context.Context) (*Snapshot, error) {
	r.buildMu.Lock()
	defer r.buildMu.Unlock()

	snap, err := r.builder.Build(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
	if err != nil {
		return r.snap, err
	}
	r.snap = snap
	return snap, nil
}

// Start schedules periodic refreshes using a standard 5-field cron spec
// evaluated in loc.
func (r *Refresher) Start(spec string, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, r.refreshInBackground("cron")); err != nil {
		return err
	}
	c.Start()

	r.mu.Lock()
	r.cron = c
	r.mu.Unlock()

	appLog.Info("feed refresh scheduled", "cron", spec, "timezone", loc.String())
	return nil
}

// Stop halts the cron scheduler and waits for a running refresh to finish.
func (r *Refresher) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
}

// Watch rebuilds the feed whenever path (or a sibling sharing its name
// prefix, such as a SQLite -wal file) changes. It blocks until ctx is done.
func (r *Refresher) Watch(ctx context.Context, path string) error {
	dir := filepath.Dir(path)
	file := filepath.Base(path)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return err
	}
	appLog.Info("watching schedule source", "path", path)

	// Debounce to avoid rebuilding on partial writes.
	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	refresh := r.refreshInBackground("watch")
	debounce := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(watchDebounce, refresh)
	}
	defer func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasPrefix(filepath.Base(ev.Name), file) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				debounce()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			// keep watching
			appLog.Error("schedule source watch error", err, "path", path)
		}
	}
}

func (r *Refresher) refreshInBackground(trigger string) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if _, err := r.Refresh(ctx); err != nil {
			appLog.Error("feed refresh failed", err, "trigger", trigger)
		}
	}
}
