package reminders

import (
	"context"
	"log"
	"time"
)

// Notifier shows a fired reminder.
type Notifier interface {
	Notify(ctx context.Context, job Job) error
}

type NotifierFunc func(ctx context.Context, job Job) error

func (f NotifierFunc) Notify(ctx context.Context, job Job) error { return f(ctx, job) }

// Runner polls the job store and fires due jobs.
type Runner struct {
	Store    *Store
	Notifier Notifier
	Interval time.Duration
	Now      func() time.Time
	Logger   *log.Logger
}

func NewRunner(store *Store, n Notifier, interval time.Duration, logger *log.Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Runner{Store: store, Notifier: n, Interval: interval, Now: time.Now, Logger: logger}
}

// Run fires due jobs every Interval until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil {
			r.Logger.Printf("[reminders] tick: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Tick fires every due job once and re-arms it. A job whose delivery
// fails stays due for the next tick.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	now := r.Now()
	due, err := r.Store.Due(ctx, now)
	if err != nil {
		return 0, err
	}

	fired := 0
	for _, job := range due {
		if err := r.Notifier.Notify(ctx, job); err != nil {
			r.Logger.Printf("[reminders] notify %s: %v", job.ID, err)
			continue
		}
		fired++
		next, err := r.Store.Rearm(ctx, job, now)
		if err != nil {
			return fired, err
		}
		r.Logger.Printf("[reminders] fired %s, next at %s", job.ID, next.Local().Format(time.RFC1123))
	}
	return fired, nil
}
