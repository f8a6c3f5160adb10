package account

import (
	"context"
	"fmt"
	"log"
	"time"

	"chaptertrack/internal/auth"
	"chaptertrack/internal/cloud"
	"chaptertrack/internal/sync"
)

// Purger deletes accounts whose scheduled deletion time has passed:
// their titles, their covers and the user row.
type Purger struct {
	Users    *auth.Repo
	Titles   *cloud.Repo
	Covers   cloud.CoverStore
	Events   cloud.Publisher
	Interval time.Duration
	Now      func() time.Time
	Logger   *log.Logger
}

func NewPurger(users *auth.Repo, titles *cloud.Repo, covers cloud.CoverStore, events cloud.Publisher, interval time.Duration, logger *log.Logger) *Purger {
	if logger == nil {
		logger = log.Default()
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Purger{
		Users:    users,
		Titles:   titles,
		Covers:   covers,
		Events:   events,
		Interval: interval,
		Now:      time.Now,
		Logger:   logger,
	}
}

// Run purges once immediately and then every Interval until ctx ends.
func (p *Purger) Run(ctx context.Context) {
	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		if n, err := p.PurgeDue(ctx); err != nil {
			p.Logger.Printf("[account] purge: %v", err)
		} else if n > 0 {
			p.Logger.Printf("[account] purged %d account(s)", n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PurgeDue removes every due account. One failing account does not stop
// the others; the first error is returned.
func (p *Purger) PurgeDue(ctx context.Context) (int, error) {
	now := p.Now()
	due, err := p.Users.DueDeletions(ctx, now)
	if err != nil {
		return 0, err
	}

	var firstErr error
	purged := 0
	for _, u := range due {
		if err := p.purge(ctx, u.ID); err != nil {
			p.Logger.Printf("[account] purge %s: %v", u.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		purged++
		if p.Events != nil {
			p.Events.Publish(sync.TitlesEvent{Type: sync.AccountDeleteType, UserID: u.ID, At: now.UTC()})
		}
	}
	return purged, firstErr
}

func (p *Purger) purge(ctx context.Context, userID string) error {
	if err := p.Titles.DeleteUserData(ctx, userID); err != nil {
		return fmt.Errorf("delete titles: %w", err)
	}
	if p.Covers.Dir != "" {
		if err := p.Covers.RemoveUser(userID); err != nil {
			return fmt.Errorf("remove covers: %w", err)
		}
	}
	if err := p.Users.DeleteUser(ctx, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}
