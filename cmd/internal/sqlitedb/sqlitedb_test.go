package sqlitedb

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen_EnforcesForeignKeys(t *testing.T) {
	t.Parallel()

	db, err := Open(filepath.Join(t.TempDir(), "fk.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = db.Close() }()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE parent (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatalf("create parent: %v", err)
	}
	if _, err := db.ExecContext(ctx, `CREATE TABLE child (id TEXT PRIMARY KEY, parent_id TEXT NOT NULL REFERENCES parent(id))`); err != nil {
		t.Fatalf("create child: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO child (id, parent_id) VALUES ('c1', 'missing')`)
	if !IsForeignKeyViolation(err) {
		t.Fatalf("expected foreign key violation, got %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO parent (id) VALUES ('p1')`); err != nil {
		t.Fatalf("insert parent: %v", err)
	}
	_, err = db.ExecContext(ctx, `INSERT INTO parent (id) VALUES ('p1')`)
	if !IsUniqueViolation(err) {
		t.Fatalf("expected unique violation, got %v", err)
	}
}

func TestOpen_RejectsBlankPath(t *testing.T) {
	t.Parallel()

	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for blank path")
	}
}

func TestMicrosRoundTripKeepsMicrosecondPrecision(t *testing.T) {
	t.Parallel()

	in := time.Date(2024, 1, 1, 12, 30, 0, 123456000, time.FixedZone("BRT", -3*3600))
	got := FromMicros(ToMicros(in))
	if !got.Equal(in) {
		t.Fatalf("FromMicros(ToMicros(%v))=%v", in, got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}

	if TimePtr(NullMicros(nil)) != nil {
		t.Fatalf("expected nil time for NULL")
	}
	if IntPtr(NullInt(nil)) != nil {
		t.Fatalf("expected nil int for NULL")
	}
	n := 30
	if got := IntPtr(NullInt(&n)); got == nil || *got != 30 {
		t.Fatalf("IntPtr(NullInt(30))=%v", got)
	}
}
