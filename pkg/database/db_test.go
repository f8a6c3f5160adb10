package database

import (
	"path/filepath"
	"testing"
)

func TestOpenAndMigrate(t *testing.T) {
	for _, schema := range []Schema{Server, Client} {
		t.Run(string(schema), func(t *testing.T) {
			cfg := Config{Path: filepath.Join(t.TempDir(), "nested", "data.db")}
			db, err := Open(cfg)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer db.Close()

			if err := Migrate(db, schema); err != nil {
				t.Fatalf("Migrate: %v", err)
			}
			// schemas are idempotent
			if err := Migrate(db, schema); err != nil {
				t.Fatalf("second Migrate: %v", err)
			}
		})
	}
}

func TestMigrateUnknownSchema(t *testing.T) {
	db, err := Open(Config{Path: filepath.Join(t.TempDir(), "data.db")})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := Migrate(db, Schema("nope")); err == nil {
		t.Fatal("expected error for unknown schema")
	}
}
