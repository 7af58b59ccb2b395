package invite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"humaniq/cmd/internal/sqlitedb"
)

func newTestSQLiteLedger(t *testing.T) *SQLiteLedger {
	t.Helper()
	db, err := sqlitedb.Open(filepath.Join(t.TempDir(), "convites.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	l, err := NewSQLiteLedger(db)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if err := l.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return l
}

func TestSQLiteLedger_Contract(t *testing.T) {
	t.Parallel()
	runLedgerContract(t, func(t *testing.T) Ledger { return newTestSQLiteLedger(t) })
}

func TestSQLiteLedger_TerminalRowsAreFrozen(t *testing.T) {
	t.Parallel()

	l := newTestSQLiteLedger(t)
	ctx := context.Background()
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mustCreate(t, l, "tok-frozen", t0, time.Hour)
	if _, ok, err := l.MarkUsed(ctx, testHash("tok-frozen"), t0); err != nil || !ok {
		t.Fatalf("mark used = (%v,%v)", ok, err)
	}

	_, err := l.db.ExecContext(ctx,
		`UPDATE convites SET status = 'pendente', usado_at = NULL WHERE token_hash = ?`,
		testHash("tok-frozen"),
	)
	if err == nil {
		t.Fatalf("expected a terminal row update to be rejected")
	}
}

func TestSQLiteLedger_ServiceRoundTrip(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newTestSQLiteLedger(t))
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 12, 0, 0, 123456789, time.UTC)

	inv, plain, err := svc.Issue(ctx, IssueInput{Payload: colaboradorPayload(), TTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := svc.Validate(ctx, plain, now)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !got.CreatedAt.Equal(inv.CreatedAt) || !got.ValidadeAt.Equal(inv.ValidadeAt) {
		t.Fatalf("timestamps drifted: issued %+v stored %+v", inv, got)
	}
	if _, err := svc.Consume(ctx, plain, now.Add(time.Minute)); err != nil {
		t.Fatalf("consume: %v", err)
	}
}
