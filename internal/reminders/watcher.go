package reminders

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-runs OnChange after the local database file changes. Writes
// are debounced, and OnChange only runs when Fingerprint reports a new
// value, so the jobs written by a reconcile do not trigger another one.
type Watcher struct {
	Path        string
	Debounce    time.Duration
	Fingerprint func(ctx context.Context) (string, error)
	OnChange    func(ctx context.Context) error
	Logger      *log.Logger
}

func NewWatcher(path string, fingerprint func(context.Context) (string, error), onChange func(context.Context) error, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{
		Path:        path,
		Debounce:    500 * time.Millisecond,
		Fingerprint: fingerprint,
		OnChange:    onChange,
		Logger:      logger,
	}
}

// Run blocks until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	dir := filepath.Dir(w.Path)
	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	last, err := w.Fingerprint(ctx)
	if err != nil {
		w.Logger.Printf("[reminders] fingerprint: %v", err)
	}

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	base := filepath.Base(w.Path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			// local.db, local.db-wal, local.db-journal
			if !strings.HasPrefix(filepath.Base(ev.Name), base) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			timer.Reset(w.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.Logger.Printf("[reminders] watch error: %v", err)

		case <-timer.C:
			fp, err := w.Fingerprint(ctx)
			if err != nil {
				w.Logger.Printf("[reminders] fingerprint: %v", err)
				continue
			}
			if fp == last {
				continue
			}
			last = fp
			if err := w.OnChange(ctx); err != nil {
				w.Logger.Printf("[reminders] reconcile after change: %v", err)
			}
		}
	}
}
