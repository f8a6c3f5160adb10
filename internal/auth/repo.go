package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"chaptertrack/pkg/models"
)

var ErrUserNotFound = errors.New("user not found")

type User struct {
	ID                  string
	Username            string
	Email               string
	PasswordHash        string
	TokenVersion        int
	PendingDeletion     bool
	DeletionScheduledAt *time.Time
	CreatedAt           time.Time
}

// Profile is the public view of the account.
func (u User) Profile() models.UserProfile {
	return models.UserProfile{
		ID:                    u.ID,
		Username:              u.Username,
		Email:                 u.Email,
		PendingDeletion:       u.PendingDeletion,
		DeletionScheduledDate: u.DeletionScheduledAt,
	}
}

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

const userColumns = `id, username, email, password_hash, token_version,
	pending_deletion, deletion_scheduled_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var (
		u         User
		scheduled sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.TokenVersion,
		&u.PendingDeletion, &scheduled, &u.CreatedAt); err != nil {
		return nil, err
	}
	if scheduled.Valid {
		t := scheduled.Time.UTC()
		u.DeletionScheduledAt = &t
	}
	return &u, nil
}

func (r *Repo) CreateUser(ctx context.Context, u User) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO users (id, username, email, password_hash)
		VALUES (?, ?, ?, ?)
	`, u.ID, u.Username, u.Email, u.PasswordHash)

	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (r *Repo) GetByEmail(ctx context.Context, email string) (*User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = ?`, email)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get by email: %w", err)
	}
	return u, nil
}

func (r *Repo) GetByUsername(ctx context.Context, username string) (*User, error) {
	username = strings.TrimSpace(username)
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = ?`, username)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get by username: %w", err)
	}
	return u, nil
}

func (r *Repo) GetByID(ctx context.Context, id string) (*User, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)

	u, err := scanUser(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get by id: %w", err)
	}
	return u, nil
}

// GetTokenVersion fails with ErrUserNotFound for unknown ids so tokens
// of purged accounts stop working.
func (r *Repo) GetTokenVersion(ctx context.Context, id string) (int, error) {
	row := r.DB.QueryRowContext(ctx, `
		SELECT token_version
		FROM users
		WHERE id = ?
	`, id)

	var version int
	if err := row.Scan(&version); err != nil {
		if err == sql.ErrNoRows {
			return 0, ErrUserNotFound
		}
		return 0, fmt.Errorf("get token version: %w", err)
	}
	return version, nil
}

func (r *Repo) UpdatePasswordAndBumpTokenVersion(ctx context.Context, id string, passwordHash string) error {
	return r.execOne(ctx, "update password", `
		UPDATE users
		SET password_hash = ?, token_version = token_version + 1
		WHERE id = ?
	`, passwordHash, id)
}

func (r *Repo) BumpTokenVersion(ctx context.Context, id string) error {
	return r.execOne(ctx, "bump token version", `
		UPDATE users
		SET token_version = token_version + 1
		WHERE id = ?
	`, id)
}

// ScheduleDeletion flags the account and revokes every issued token.
func (r *Repo) ScheduleDeletion(ctx context.Context, id string, at time.Time) error {
	return r.execOne(ctx, "schedule deletion", `
		UPDATE users
		SET pending_deletion = 1,
		    deletion_scheduled_at = ?,
		    token_version = token_version + 1
		WHERE id = ?
	`, at.UTC(), id)
}

func (r *Repo) CancelDeletion(ctx context.Context, id string) error {
	return r.execOne(ctx, "cancel deletion", `
		UPDATE users
		SET pending_deletion = 0, deletion_scheduled_at = NULL
		WHERE id = ?
	`, id)
}

// DueDeletions lists accounts whose grace period ended before now.
func (r *Repo) DueDeletions(ctx context.Context, now time.Time) ([]User, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE pending_deletion = 1
		  AND deletion_scheduled_at IS NOT NULL
		  AND deletion_scheduled_at <= ?
		ORDER BY deletion_scheduled_at
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due deletions: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan due deletion: %w", err)
		}
		out = append(out, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list due deletions: %w", err)
	}
	return out, nil
}

// DeleteUser removes the account row; title documents cascade.
func (r *Repo) DeleteUser(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete user", `DELETE FROM users WHERE id = ?`, id)
}

func (r *Repo) execOne(ctx context.Context, op, query string, args ...any) error {
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	return nil
}
