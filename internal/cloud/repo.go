package cloud

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"chaptertrack/pkg/models"
)

// Repo stores each user's titles one row per record. The whole-document
// view is assembled from those rows plus the last_sync bookkeeping row.
type Repo struct {
	DB *sql.DB
}

func NewRepo(db *sql.DB) *Repo {
	return &Repo{DB: db}
}

// GetDocument returns nil when the user never synced.
func (r *Repo) GetDocument(ctx context.Context, userID string) (*models.TitlesDocument, error) {
	var lastSync sql.NullTime
	err := r.DB.QueryRowContext(ctx, `
		SELECT last_sync FROM user_documents WHERE user_id = ?
	`, userID).Scan(&lastSync)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("get document: %w", err)
	}

	titles, err := r.ListRecords(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !lastSync.Valid && len(titles) == 0 {
		return nil, nil
	}

	doc := &models.TitlesDocument{UserID: userID, Titles: titles}
	if lastSync.Valid {
		doc.LastSync = lastSync.Time.UTC()
	}
	return doc, nil
}

// ReplaceDocument swaps the whole collection in one transaction.
func (r *Repo) ReplaceDocument(ctx context.Context, doc models.TitlesDocument) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace document: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_title_records WHERE user_id = ?`, doc.UserID); err != nil {
		return fmt.Errorf("clear records: %w", err)
	}
	for i, t := range doc.Titles {
		if err = insertRecord(ctx, tx, doc.UserID, t, i); err != nil {
			return err
		}
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO user_documents (user_id, last_sync)
		VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET last_sync = excluded.last_sync
	`, doc.UserID, doc.LastSync.UTC()); err != nil {
		return fmt.Errorf("touch document: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace document: %w", err)
	}
	return nil
}

func (r *Repo) ListRecords(ctx context.Context, userID string) ([]models.Title, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT body
		FROM user_title_records
		WHERE user_id = ?
		ORDER BY position, title_id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	out := []models.Title{}
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		var t models.Title
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return out, nil
}

func (r *Repo) GetRecord(ctx context.Context, userID, titleID string) (*models.Title, error) {
	var body string
	err := r.DB.QueryRowContext(ctx, `
		SELECT body FROM user_title_records WHERE user_id = ? AND title_id = ?
	`, userID, titleID).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get record: %w", err)
	}
	var t models.Title
	if err := json.Unmarshal([]byte(body), &t); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return &t, nil
}

// UpsertRecord stores t only when it is strictly newer than the stored
// copy; on a tie the stored copy stays. It reports whether t was written.
func (r *Repo) UpsertRecord(ctx context.Context, userID string, t models.Title) (applied bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin upsert record: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var (
		body string
		pos  int
	)
	err = tx.QueryRowContext(ctx, `
		SELECT body, position FROM user_title_records WHERE user_id = ? AND title_id = ?
	`, userID, t.ID).Scan(&body, &pos)
	switch {
	case err == sql.ErrNoRows:
		if err = tx.QueryRowContext(ctx, `
			SELECT COALESCE(MAX(position) + 1, 0) FROM user_title_records WHERE user_id = ?
		`, userID).Scan(&pos); err != nil {
			return false, fmt.Errorf("next position: %w", err)
		}
	case err != nil:
		return false, fmt.Errorf("get record: %w", err)
	default:
		var stored models.Title
		if jerr := json.Unmarshal([]byte(body), &stored); jerr == nil && !t.UpdatedAt().After(stored.UpdatedAt()) {
			_ = tx.Rollback()
			return false, nil
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_title_records WHERE user_id = ? AND title_id = ?`, userID, t.ID); err != nil {
		return false, fmt.Errorf("replace record: %w", err)
	}
	if err = insertRecord(ctx, tx, userID, t, pos); err != nil {
		return false, err
	}
	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("commit upsert record: %w", err)
	}
	return true, nil
}

// DeleteRecord reports whether a row was removed.
func (r *Repo) DeleteRecord(ctx context.Context, userID, titleID string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `
		DELETE FROM user_title_records WHERE user_id = ? AND title_id = ?
	`, userID, titleID)
	if err != nil {
		return false, fmt.Errorf("delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete record rows: %w", err)
	}
	return n > 0, nil
}

// DeleteUserData drops the document and every record of userID.
func (r *Repo) DeleteUserData(ctx context.Context, userID string) error {
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM user_title_records WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete records: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, `DELETE FROM user_documents WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

func insertRecord(ctx context.Context, tx *sql.Tx, userID string, t models.Title, pos int) error {
	body, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("encode record %s: %w", t.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO user_title_records (user_id, title_id, body, last_update, position)
		VALUES (?, ?, ?, ?, ?)
	`, userID, t.ID, string(body), nullIfEmpty(t.LastUpdate), pos); err != nil {
		return fmt.Errorf("insert record %s: %w", t.ID, err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
