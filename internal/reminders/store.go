package reminders

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Job is a scheduled_jobs row.
type Job struct {
	JobSpec
	NextFire time.Time
}

// Store is the HostScheduler of the CLI: jobs live in the scheduled_jobs
// table of the client database and the Runner fires them.
type Store struct {
	DB *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{DB: db}
}

func (s *Store) ListScheduled(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM scheduled_jobs ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) Cancel(ctx context.Context, id string) error {
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("cancel job %s: %w", id, err)
	}
	return nil
}

// Schedule stores the job, replacing one with the same id.
func (s *Store) Schedule(ctx context.Context, job JobSpec) (string, error) {
	data, err := json.Marshal(job.Data)
	if err != nil {
		return "", fmt.Errorf("encode job data: %w", err)
	}
	tr := job.Trigger
	if tr.Every <= 0 {
		tr.Every = Week
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, title, body, data, trigger_kind, weekday, hour, minute, next_fire, interval_s)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			data = excluded.data,
			trigger_kind = excluded.trigger_kind,
			weekday = excluded.weekday,
			hour = excluded.hour,
			minute = excluded.minute,
			next_fire = excluded.next_fire,
			interval_s = excluded.interval_s
	`, job.ID, job.Title, job.Body, string(data), string(tr.Kind), tr.Weekday, tr.Hour, tr.Minute,
		dbTime(tr.First), int64(tr.Every/time.Second))
	if err != nil {
		return "", fmt.Errorf("schedule job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// Jobs returns every stored job ordered by next fire time.
func (s *Store) Jobs(ctx context.Context) ([]Job, error) {
	return s.query(ctx, `SELECT id, title, body, data, trigger_kind, weekday, hour, minute, next_fire, interval_s
		FROM scheduled_jobs ORDER BY next_fire, id`)
}

// Due returns the jobs whose next fire time is not after now.
func (s *Store) Due(ctx context.Context, now time.Time) ([]Job, error) {
	return s.query(ctx, `SELECT id, title, body, data, trigger_kind, weekday, hour, minute, next_fire, interval_s
		FROM scheduled_jobs WHERE next_fire <= ? ORDER BY next_fire, id`, dbTime(now))
}

// Rearm moves a fired job to its next occurrence after now.
func (s *Store) Rearm(ctx context.Context, job Job, now time.Time) (time.Time, error) {
	next := job.nextAfter(now)
	res, err := s.DB.ExecContext(ctx, `UPDATE scheduled_jobs SET next_fire = ? WHERE id = ?`, dbTime(next), job.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("rearm job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// cancelled while firing
		return time.Time{}, nil
	}
	return next, nil
}

// nextAfter steps the job forward until it lies after now. Calendar
// jobs follow the wall clock of now's location.
func (j Job) nextAfter(now time.Time) time.Time {
	if j.Trigger.Kind == Calendar {
		return NextOccurrence(now, j.Trigger.Weekday-1, j.Trigger.Hour, j.Trigger.Minute)
	}
	every := j.Trigger.Every
	if every <= 0 {
		every = Week
	}
	next := j.NextFire
	for !next.After(now) {
		next = next.Add(every)
	}
	return next
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Job, error) {
	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j        Job
			data     string
			kind     string
			interval int64
		)
		if err := rows.Scan(&j.ID, &j.Title, &j.Body, &data, &kind,
			&j.Trigger.Weekday, &j.Trigger.Hour, &j.Trigger.Minute, &j.NextFire, &interval); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &j.Data); err != nil {
			return nil, fmt.Errorf("decode job %s data: %w", j.ID, err)
		}
		j.Trigger.Kind = TriggerKind(kind)
		j.Trigger.Every = time.Duration(interval) * time.Second
		j.Trigger.First = j.NextFire
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// dbTime keeps stored timestamps comparable as text.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
