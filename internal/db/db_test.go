package db

import (
	"path/filepath"
	"testing"
)

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.sqlite3")

	database, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer database.Close()

	if err := Migrate(database); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	// Running it again must be a no-op.
	if err := Migrate(database); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	var fk int
	if err := database.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("reading foreign_keys pragma: %v", err)
	}
	if fk != 1 {
		t.Errorf("expected foreign_keys=1, got %d", fk)
	}
}

func TestSchemaRejectsNegativePoints(t *testing.T) {
	database := NewTestDB(t)

	_, err := database.Exec(
		`INSERT INTO members (id, email, display_name, password_hash, points, created_at)
		 VALUES ('m1', 'a@example.com', 'A', 'x', -1, CURRENT_TIMESTAMP)`)
	if err == nil {
		t.Error("expected CHECK constraint to reject negative points")
	}
}
