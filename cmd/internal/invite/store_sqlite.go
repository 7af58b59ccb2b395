package invite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"humaniq/cmd/internal/sqlitedb"
)

const sqliteInviteColumns = `id, status, payload, created_at, validade_at, usado_at, expirado_at`

const sqliteLedgerSchema = `
CREATE TABLE IF NOT EXISTS convites (
  id TEXT PRIMARY KEY CHECK (length(id) = 26),
  token_hash TEXT NOT NULL UNIQUE CHECK (length(token_hash) = 64),
  status TEXT NOT NULL DEFAULT 'pendente' CHECK (status IN ('pendente', 'usado', 'expirado')),
  tipo TEXT NOT NULL CHECK (tipo IN ('empresa', 'colaborador')),
  payload TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  validade_at INTEGER NOT NULL,
  usado_at INTEGER NULL,
  expirado_at INTEGER NULL,
  CHECK ((status = 'usado') = (usado_at IS NOT NULL)),
  CHECK ((status = 'expirado') = (expirado_at IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_convites_pendentes ON convites (validade_at) WHERE status = 'pendente';

CREATE TRIGGER IF NOT EXISTS trg_convites_estado_terminal
  BEFORE UPDATE ON convites
  WHEN OLD.status <> 'pendente'
BEGIN
  SELECT RAISE(ABORT, 'convite is terminal');
END;
`

// SQLiteLedger persists invitations in a single-node SQLite database.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLiteLedger constructs a SQLiteLedger on an already opened database.
func NewSQLiteLedger(db *sql.DB) (*SQLiteLedger, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	return &SQLiteLedger{db: db}, nil
}

// EnsureSchema creates the convites table when missing.
func (l *SQLiteLedger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.db == nil {
		return ErrInvalidInput
	}
	_, err := l.db.ExecContext(ctx, sqliteLedgerSchema)
	return err
}

// Create inserts a pendente invitation.
func (l *SQLiteLedger) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if l == nil || l.db == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Invite{}, ErrInvalidInput
	}
	payload, err := json.Marshal(in.Payload)
	if err != nil {
		return Invite{}, err
	}

	inv, err := sqliteScanInvite(l.db.QueryRowContext(ctx,
		`INSERT INTO convites (id, token_hash, status, tipo, payload, created_at, validade_at)
		 VALUES (?, ?, 'pendente', ?, ?, ?, ?)
		 RETURNING `+sqliteInviteColumns,
		in.ID,
		in.TokenHash,
		string(in.Payload.Tipo),
		string(payload),
		sqlitedb.ToMicros(in.CreatedAt),
		sqlitedb.ToMicros(in.ValidadeAt),
	))
	if err != nil {
		if sqlitedb.IsUniqueViolation(err) {
			return Invite{}, ErrConflict
		}
		return Invite{}, err
	}
	return inv, nil
}

// GetByTokenHash fetches an invitation by token hash.
func (l *SQLiteLedger) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if l == nil || l.db == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	inv, err := sqliteScanInvite(l.db.QueryRowContext(ctx,
		`SELECT `+sqliteInviteColumns+` FROM convites WHERE token_hash = ?`,
		tokenHash,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	return inv, nil
}

// MarkExpired moves pendente -> expirado when validade_at < now.
func (l *SQLiteLedger) MarkExpired(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error) {
	return l.transition(ctx, tokenHash,
		`UPDATE convites
		    SET status = 'expirado', expirado_at = ?2
		  WHERE token_hash = ?1
		    AND status = 'pendente'
		    AND validade_at < ?2
		RETURNING `+sqliteInviteColumns,
		now,
	)
}

// MarkUsed moves pendente -> usado when validade_at >= now.
func (l *SQLiteLedger) MarkUsed(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error) {
	return l.transition(ctx, tokenHash,
		`UPDATE convites
		    SET status = 'usado', usado_at = ?2
		  WHERE token_hash = ?1
		    AND status = 'pendente'
		    AND validade_at >= ?2
		RETURNING `+sqliteInviteColumns,
		now,
	)
}

// ExpireOverdue moves up to limit overdue pendente rows to expirado.
func (l *SQLiteLedger) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	if l == nil || l.db == nil || limit <= 0 {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE convites
		    SET status = 'expirado', expirado_at = ?1
		  WHERE status = 'pendente'
		    AND id IN (
		      SELECT id FROM convites
		       WHERE status = 'pendente' AND validade_at < ?1
		       ORDER BY validade_at
		       LIMIT ?2
		    )`,
		sqlitedb.ToMicros(now),
		limit,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (l *SQLiteLedger) transition(ctx context.Context, tokenHash, query string, now time.Time) (Invite, bool, error) {
	if l == nil || l.db == nil {
		return Invite{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, false, err
	}
	inv, err := sqliteScanInvite(l.db.QueryRowContext(ctx, query, tokenHash, sqlitedb.ToMicros(now)))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Invite{}, false, err
	}

	cur, err := l.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return Invite{}, false, err
	}
	return cur, false, nil
}

type sqliteRow interface {
	Scan(dest ...any) error
}

func sqliteScanInvite(row sqliteRow) (Invite, error) {
	var (
		inv                 Invite
		status, payload     string
		createdAt, validade int64
		usadoAt, expiradoAt sql.NullInt64
	)
	if err := row.Scan(&inv.ID, &status, &payload, &createdAt, &validade, &usadoAt, &expiradoAt); err != nil {
		return Invite{}, err
	}
	if err := json.Unmarshal([]byte(payload), &inv.Payload); err != nil {
		return Invite{}, fmt.Errorf("decode convite payload: %w", err)
	}
	inv.Status = Status(status)
	inv.CreatedAt = sqlitedb.FromMicros(createdAt)
	inv.ValidadeAt = sqlitedb.FromMicros(validade)
	inv.UsadoAt = sqlitedb.TimePtr(usadoAt)
	inv.ExpiradoAt = sqlitedb.TimePtr(expiradoAt)
	return inv, nil
}
