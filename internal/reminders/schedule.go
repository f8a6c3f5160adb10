// Package reminders keeps the weekly release reminders in line with the
// collection and the reminder preference.
//
// Every reconcile cancels all reminder jobs and rebuilds one job per
// weekday that has at least one title releasing on it.
package reminders

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"chaptertrack/internal/apperr"
	"chaptertrack/pkg/models"
)

const (
	// JobPrefix marks the jobs owned by the reconciler.
	JobPrefix = "daily-release-notification-weekday-"

	JobTitle    = "New releases!"
	JobDataType = "release_notification"

	Week = 7 * 24 * time.Hour

	// interval slots closer than this are skipped to the following week
	minIntervalLead = time.Minute
)

// TriggerKind selects the repeat primitive of a job.
type TriggerKind string

const (
	// Calendar fires on (weekday, hour, minute) wall-clock time.
	Calendar TriggerKind = "calendar"
	// Interval fires at First, then every Every.
	Interval TriggerKind = "interval"
)

func ParseTriggerKind(s string) (TriggerKind, error) {
	switch k := TriggerKind(strings.ToLower(strings.TrimSpace(s))); k {
	case Calendar, Interval:
		return k, nil
	default:
		return "", fmt.Errorf("unknown trigger kind %q", s)
	}
}

type Trigger struct {
	Kind    TriggerKind
	Weekday int // 1 = Sunday ... 7 = Saturday
	Hour    int
	Minute  int
	First   time.Time
	Every   time.Duration
}

type JobSpec struct {
	ID      string
	Title   string
	Body    string
	Data    map[string]any
	Trigger Trigger
}

// HostScheduler is the notification facility the jobs live in.
type HostScheduler interface {
	ListScheduled(ctx context.Context) ([]string, error)
	Cancel(ctx context.Context, id string) error
	Schedule(ctx context.Context, job JobSpec) (string, error)
}

// Permissions reports and requests the right to show notifications.
type Permissions interface {
	Granted(ctx context.Context) (bool, error)
	Request(ctx context.Context) (bool, error)
}

// Preferences is satisfied by *localstore.Settings.
type Preferences interface {
	Preference(ctx context.Context) models.NotificationPreference
	SetPreference(ctx context.Context, p models.NotificationPreference) error
}

// JobID is the job key of a release day (0 = Sunday).
func JobID(releaseDay int) string {
	return JobPrefix + strconv.Itoa(releaseDay+1)
}

// ReleaseDayOf parses a job id back to its release day.
func ReleaseDayOf(id string) (int, bool) {
	if !strings.HasPrefix(id, JobPrefix) {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(id, JobPrefix))
	if err != nil || n < 1 || n > 7 {
		return 0, false
	}
	return n - 1, true
}

// NextOccurrence is the next (weekday, hour, minute) in now's location
// strictly after now. Today counts only while its slot is still ahead.
func NextOccurrence(now time.Time, weekday, hour, minute int) time.Time {
	days := (weekday - int(now.Weekday()) + 7) % 7
	if days == 0 && (now.Hour() > hour || (now.Hour() == hour && now.Minute() >= minute)) {
		days = 7
	}
	y, m, d := now.Date()
	return time.Date(y, m, d+days, hour, minute, 0, 0, now.Location())
}

// Body is the consolidated message for count titles.
func Body(count int) string {
	return fmt.Sprintf("%d title(s) have new chapter(s) today.", count)
}

type Scheduler struct {
	Host   HostScheduler
	Perms  Permissions
	Prefs  Preferences
	Kind   TriggerKind
	Now    func() time.Time
	Logger *log.Logger

	mu sync.Mutex
}

func NewScheduler(host HostScheduler, perms Permissions, prefs Preferences, kind TriggerKind, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	if kind == "" {
		kind = Calendar
	}
	return &Scheduler{Host: host, Perms: perms, Prefs: prefs, Kind: kind, Now: time.Now, Logger: logger}
}

// Plan returns the jobs a reconcile would schedule, without touching
// the host.
func (s *Scheduler) Plan(titles []models.Title, pref models.NotificationPreference) []JobSpec {
	if !pref.Enabled {
		return nil
	}

	counts := make(map[int]int)
	for _, t := range titles {
		if t.Deleted() || !t.HasReleaseDay() {
			continue
		}
		counts[*t.ReleaseDay]++
	}

	days := make([]int, 0, len(counts))
	for d := range counts {
		days = append(days, d)
	}
	sort.Ints(days)

	now := s.Now()
	jobs := make([]JobSpec, 0, len(days))
	for _, d := range days {
		next := NextOccurrence(now, d, pref.Hour, pref.Minute)
		tr := Trigger{Kind: s.Kind, Weekday: d + 1, Hour: pref.Hour, Minute: pref.Minute, First: next, Every: Week}
		if s.Kind == Interval && next.Sub(now) < minIntervalLead {
			tr.First = next.Add(Week)
		}
		jobs = append(jobs, JobSpec{
			ID:      JobID(d),
			Title:   JobTitle,
			Body:    Body(counts[d]),
			Data:    map[string]any{"type": JobDataType, "weekday": d + 1, "count": counts[d]},
			Trigger: tr,
		})
	}
	return jobs
}

// Reconcile cancels every reminder job and schedules the plan for
// titles and pref.
func (s *Scheduler) Reconcile(ctx context.Context, titles []models.Title, pref models.NotificationPreference) ([]JobSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids, err := s.Host.ListScheduled(ctx)
	if err != nil {
		return nil, fmt.Errorf("list scheduled: %w", err)
	}
	for _, id := range ids {
		if !strings.HasPrefix(id, JobPrefix) {
			continue
		}
		if err := s.Host.Cancel(ctx, id); err != nil {
			return nil, fmt.Errorf("cancel %s: %w", id, err)
		}
	}

	jobs := s.Plan(titles, pref)
	for _, job := range jobs {
		if _, err := s.Host.Schedule(ctx, job); err != nil {
			return nil, fmt.Errorf("schedule %s: %w", job.ID, err)
		}
	}

	s.Logger.Printf("[reminders] cancelled %d, scheduled %d (enabled=%v %02d:%02d)",
		countPrefixed(ids), len(jobs), pref.Enabled, pref.Hour, pref.Minute)
	return jobs, nil
}

// Apply stores pref and reconciles. Enabling first makes sure the
// permission is granted; a refusal stores the preference as disabled,
// clears the jobs and returns ErrPermissionDenied.
func (s *Scheduler) Apply(ctx context.Context, titles []models.Title, pref models.NotificationPreference) ([]JobSpec, error) {
	if !pref.Valid() {
		return nil, apperr.Validation(fmt.Sprintf("invalid reminder time %02d:%02d", pref.Hour, pref.Minute))
	}

	if pref.Enabled {
		granted, err := s.ensurePermission(ctx)
		if err != nil {
			return nil, err
		}
		if !granted {
			pref.Enabled = false
			if err := s.Prefs.SetPreference(ctx, pref); err != nil {
				return nil, err
			}
			if _, err := s.Reconcile(ctx, titles, pref); err != nil {
				return nil, err
			}
			return nil, apperr.Wrap(apperr.CodePermissionDenied,
				"notifications are not allowed; grant the permission in your system settings and enable reminders again", nil)
		}
	}

	if err := s.Prefs.SetPreference(ctx, pref); err != nil {
		return nil, err
	}
	return s.Reconcile(ctx, titles, pref)
}

// Refresh reconciles with the stored preference, e.g. after the
// collection changed. A revoked permission turns reminders off.
func (s *Scheduler) Refresh(ctx context.Context, titles []models.Title) ([]JobSpec, error) {
	pref := s.Prefs.Preference(ctx)
	if pref.Enabled {
		granted, err := s.Perms.Granted(ctx)
		if err != nil {
			return nil, err
		}
		if !granted {
			return s.Apply(ctx, titles, pref)
		}
	}
	return s.Reconcile(ctx, titles, pref)
}

func (s *Scheduler) ensurePermission(ctx context.Context) (bool, error) {
	granted, err := s.Perms.Granted(ctx)
	if err != nil {
		return false, err
	}
	if granted {
		return true, nil
	}
	return s.Perms.Request(ctx)
}

// Fingerprint summarizes what a reconcile depends on: the preference and
// the number of live titles per release day.
func Fingerprint(titles []models.Title, pref models.NotificationPreference) string {
	var counts [7]int
	for _, t := range titles {
		if t.Deleted() || !t.HasReleaseDay() {
			continue
		}
		counts[*t.ReleaseDay]++
	}
	return fmt.Sprintf("%v %02d:%02d %v", pref.Enabled, pref.Hour, pref.Minute, counts)
}

func countPrefixed(ids []string) int {
	n := 0
	for _, id := range ids {
		if strings.HasPrefix(id, JobPrefix) {
			n++
		}
	}
	return n
}
