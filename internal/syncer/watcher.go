package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/savesync/internal/cloud"
)

// DefaultDebounce is the quiet period after the last write to a file
// before it is uploaded.
const DefaultDebounce = 2 * time.Second

const (
	watchErrInitBackoff = time.Second
	watchErrMaxBackoff  = 30 * time.Second
	watchErrBackoffMult = 2
)

// Uploader accepts upload requests. *Queue implements it.
type Uploader interface {
	Upload(role cloud.Role, name string) error
}

// Watcher turns filesystem writes in the role directories into uploads.
// Bursts of events on one file collapse into a single upload once the file
// has been quiet for the debounce period.
type Watcher struct {
	roles    map[cloud.Role]string
	filter   *Filter
	debounce time.Duration
	uploader Uploader
	logger   *slog.Logger

	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewWatcher watches the role directories of s and feeds up. A debounce
// of zero uses DefaultDebounce.
func NewWatcher(s *Syncer, up Uploader, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	return &Watcher{
		roles:    s.roles,
		filter:   s.filter,
		debounce: debounce,
		uploader: up,
		logger:   s.logger,
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches until ctx is canceled. Missing role directories are created.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("syncer: creating watcher: %w", err)
	}
	defer fw.Close()

	byDir := make(map[string]cloud.Role, len(w.roles))

	for role, dir := range w.roles {
		if err := os.MkdirAll(dir, localDirPerms); err != nil {
			return fmt.Errorf("syncer: creating %s: %w", dir, err)
		}

		if err := fw.Add(dir); err != nil {
			return fmt.Errorf("syncer: watching %s: %w", dir, err)
		}

		byDir[dir] = role

		w.logger.Debug("watching role directory",
			slog.String("role", string(role)), slog.String("dir", dir))
	}

	defer w.stopTimers()

	errBackoff := watchErrInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			w.handle(ev, byDir)

			errBackoff = watchErrInitBackoff

		case watchErr, ok := <-fw.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			if sleepErr := timeSleep(ctx, errBackoff); sleepErr != nil {
				return nil
			}

			errBackoff = min(errBackoff*watchErrBackoffMult, watchErrMaxBackoff)
		}
	}
}

func (w *Watcher) handle(ev fsnotify.Event, byDir map[string]cloud.Role) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return
	}

	role, ok := byDir[filepath.Dir(ev.Name)]
	if !ok {
		return
	}

	name := filepath.Base(ev.Name)
	if !w.filter.Match(name) {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil || !info.Mode().IsRegular() {
		return
	}

	w.schedule(role, name)
}

// schedule (re)arms the debounce timer for one file.
func (w *Watcher) schedule(role cloud.Role, name string) {
	key := string(role) + "/" + name

	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[key]; ok {
		t.Reset(w.debounce)
		return
	}

	w.timers[key] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.timers, key)
		w.mu.Unlock()

		if err := w.uploader.Upload(role, name); err != nil {
			w.logger.Warn("enqueueing upload failed",
				slog.String("role", string(role)),
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
		}
	})
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for key, t := range w.timers {
		t.Stop()
		delete(w.timers, key)
	}
}

// timeSleep waits for d or until ctx is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
