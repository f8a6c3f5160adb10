// Package localstore persists the device copy of the collection and the
// small per-device settings in the client SQLite database.
package localstore

import (
	"context"
	"database/sql"
	"fmt"
)

// Keys of the kv table. The titles key keeps the name the mobile app
// used so imported device dumps line up.
const (
	TitlesKey      = "@mL:titles"
	PreferencesKey = "notificationPreferences"
	LastSyncKey    = "sync:lastSync"
	SyncedIDsKey   = "sync:syncedIds"
	PermissionKey  = "notificationPermission"
)

type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// Get returns the stored value and whether the key exists.
func (r *Repo) Get(ctx context.Context, key string) (string, bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key)

	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Repo) Put(ctx context.Context, key, value string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO kv (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

func (r *Repo) Delete(ctx context.Context, key string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
