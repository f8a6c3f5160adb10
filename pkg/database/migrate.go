package database

import (
	"database/sql"
	"embed"
	"fmt"
)

//go:embed schema/*.sql
var schemas embed.FS

// Schema names one of the embedded schema files.
type Schema string

const (
	// Server holds accounts and per-user title documents.
	Server Schema = "server"
	// Client holds the local key-value blobs and scheduled reminders.
	Client Schema = "client"
)

func Migrate(db *sql.DB, schema Schema) error {
	path := "schema/" + string(schema) + ".sql"
	b, err := schemas.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	if _, err := db.Exec(string(b)); err != nil {
		return fmt.Errorf("apply %s schema: %w", schema, err)
	}
	return nil
}
