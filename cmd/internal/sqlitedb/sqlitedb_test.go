package sqlitedb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestOpenFileAndExec(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Open(ctx, filepath.Join(t.TempDir(), "nested", "jam.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `CREATE TABLE t (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO t (id) VALUES (?)`, "a"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO t (id) VALUES (?)`, "a")
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestOpenEnforcesForeignKeys(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	db, err := Open(ctx, MemoryPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.ExecContext(ctx, `
CREATE TABLE parent (id TEXT PRIMARY KEY);
CREATE TABLE child (id TEXT PRIMARY KEY, parent_id TEXT NOT NULL REFERENCES parent(id));`); err != nil {
		t.Fatalf("create: %v", err)
	}

	_, err = db.ExecContext(ctx, `INSERT INTO child (id, parent_id) VALUES ('c', 'missing')`)
	if !IsForeignKeyViolation(err) {
		t.Fatalf("expected foreign key violation, got %v", err)
	}
}

func TestTimeRoundTripSortsLexically(t *testing.T) {
	t.Parallel()

	a := time.Date(2026, 5, 1, 10, 0, 5, 0, time.UTC)
	b := a.Add(500 * time.Millisecond)

	sa, sb := FormatTime(a), FormatTime(b)
	if !(sa < sb) {
		t.Fatalf("expected %q < %q", sa, sb)
	}

	got, err := ParseTime(sb)
	if err != nil {
		t.Fatalf("ParseTime: %v", err)
	}
	if !got.Equal(b) {
		t.Fatalf("got %v want %v", got, b)
	}

	if _, err := ParseTime("yesterday"); err == nil || errors.Unwrap(err) == nil {
		t.Fatalf("expected wrapped parse error, got %v", err)
	}
}
