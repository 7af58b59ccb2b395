package invite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgInviteColumns = `id, status, payload, created_at, validade_at, usado_at, expirado_at`

// PostgresLedger persists invitations in PostgreSQL.
type PostgresLedger struct {
	pool   *pgxpool.Pool
	schema string
}

// LedgerOption configures PostgresLedger.
type LedgerOption func(*PostgresLedger) error

// WithSchema sets the DB schema used by the ledger (default: "humaniq").
func WithSchema(schema string) LedgerOption {
	return func(l *PostgresLedger) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		l.schema = schema
		return nil
	}
}

// NewPostgresLedger constructs a PostgresLedger.
func NewPostgresLedger(pool *pgxpool.Pool, opts ...LedgerOption) (*PostgresLedger, error) {
	l := &PostgresLedger{pool: pool, schema: "humaniq"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(l); err != nil {
			return nil, err
		}
	}
	if l.pool == nil {
		return nil, ErrInvalidInput
	}
	return l, nil
}

// EnsureSchema creates the convites relation when missing. A trigger rejects any
// update of a row that already left pendente.
func (l *PostgresLedger) EnsureSchema(ctx context.Context) error {
	if l == nil || l.pool == nil {
		return ErrInvalidInput
	}
	schema := pgx.Identifier{l.schema}.Sanitize()
	convites := pgIdent(l.schema, "convites")
	guard := pgIdent(l.schema, "convites_estado_terminal")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id TEXT PRIMARY KEY,
  token_hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pendente',
  tipo TEXT NOT NULL,
  payload JSONB NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  validade_at TIMESTAMPTZ NOT NULL,
  usado_at TIMESTAMPTZ NULL,
  expirado_at TIMESTAMPTZ NULL,
  CONSTRAINT chk_convites_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT chk_convites_token_hash_len CHECK (char_length(token_hash) = 64),
  CONSTRAINT chk_convites_status CHECK (status IN ('pendente', 'usado', 'expirado')),
  CONSTRAINT chk_convites_tipo CHECK (tipo IN ('empresa', 'colaborador')),
  CONSTRAINT chk_convites_usado CHECK ((status = 'usado') = (usado_at IS NOT NULL)),
  CONSTRAINT chk_convites_expirado CHECK ((status = 'expirado') = (expirado_at IS NOT NULL))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_convites_token_hash ON %[2]s (token_hash);
CREATE INDEX IF NOT EXISTS idx_convites_pendentes ON %[2]s (validade_at) WHERE status = 'pendente';

CREATE OR REPLACE FUNCTION %[3]s() RETURNS trigger AS $$
BEGIN
  IF OLD.status <> 'pendente' THEN
    RAISE EXCEPTION 'convite %% is terminal (%%)', OLD.id, OLD.status;
  END IF;
  RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_convites_estado_terminal ON %[2]s;
CREATE TRIGGER trg_convites_estado_terminal
  BEFORE UPDATE ON %[2]s
  FOR EACH ROW EXECUTE FUNCTION %[3]s();
`, schema, convites, guard)

	_, err := l.pool.Exec(ctx, ddl)
	return err
}

// Create inserts a pendente invitation.
func (l *PostgresLedger) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if l == nil || l.pool == nil {
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

	inv, err := pgScanInvite(l.pool.QueryRow(ctx,
		`INSERT INTO `+pgIdent(l.schema, "convites")+` (
		   id, token_hash, status, tipo, payload, created_at, validade_at
		 ) VALUES ($1, $2, 'pendente', $3, $4, $5, $6)
		 RETURNING `+pgInviteColumns,
		in.ID,
		in.TokenHash,
		string(in.Payload.Tipo),
		payload,
		in.CreatedAt,
		in.ValidadeAt,
	))
	if err != nil {
		if pgIsUniqueViolation(err) {
			return Invite{}, ErrConflict
		}
		return Invite{}, err
	}
	return inv, nil
}

// GetByTokenHash fetches an invitation by token hash.
func (l *PostgresLedger) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if l == nil || l.pool == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	inv, err := pgScanInvite(l.pool.QueryRow(ctx,
		`SELECT `+pgInviteColumns+`
		   FROM `+pgIdent(l.schema, "convites")+`
		  WHERE token_hash = $1`,
		tokenHash,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	return inv, nil
}

// MarkExpired moves pendente -> expirado when validade_at < now.
func (l *PostgresLedger) MarkExpired(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error) {
	return l.transition(ctx, tokenHash,
		`UPDATE `+pgIdent(l.schema, "convites")+`
		    SET status = 'expirado', expirado_at = $2
		  WHERE token_hash = $1
		    AND status = 'pendente'
		    AND validade_at < $2
		RETURNING `+pgInviteColumns,
		now,
	)
}

// MarkUsed moves pendente -> usado when validade_at >= now.
func (l *PostgresLedger) MarkUsed(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error) {
	return l.transition(ctx, tokenHash,
		`UPDATE `+pgIdent(l.schema, "convites")+`
		    SET status = 'usado', usado_at = $2
		  WHERE token_hash = $1
		    AND status = 'pendente'
		    AND validade_at >= $2
		RETURNING `+pgInviteColumns,
		now,
	)
}

// ExpireOverdue moves up to limit overdue pendente rows to expirado. Rows locked by
// a concurrent consume are skipped and picked up by a later sweep.
func (l *PostgresLedger) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	if l == nil || l.pool == nil || limit <= 0 {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	convites := pgIdent(l.schema, "convites")
	tag, err := l.pool.Exec(ctx,
		`UPDATE `+convites+`
		    SET status = 'expirado', expirado_at = $1
		  WHERE status = 'pendente'
		    AND id IN (
		      SELECT id FROM `+convites+`
		       WHERE status = 'pendente' AND validade_at < $1
		       ORDER BY validade_at
		       LIMIT $2
		       FOR UPDATE SKIP LOCKED
		    )`,
		now,
		limit,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (l *PostgresLedger) transition(ctx context.Context, tokenHash, query string, now time.Time) (Invite, bool, error) {
	if l == nil || l.pool == nil {
		return Invite{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, false, err
	}
	inv, err := pgScanInvite(l.pool.QueryRow(ctx, query, tokenHash, now))
	if err == nil {
		return inv, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Invite{}, false, err
	}

	// Lost the CAS or unknown hash.
	cur, err := l.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return Invite{}, false, err
	}
	return cur, false, nil
}

func pgScanInvite(row pgx.Row) (Invite, error) {
	var (
		inv     Invite
		status  string
		payload []byte
	)
	err := row.Scan(
		&inv.ID,
		&status,
		&payload,
		&inv.CreatedAt,
		&inv.ValidadeAt,
		&inv.UsadoAt,
		&inv.ExpiradoAt,
	)
	if err != nil {
		return Invite{}, err
	}
	if err := json.Unmarshal(payload, &inv.Payload); err != nil {
		return Invite{}, fmt.Errorf("decode convite payload: %w", err)
	}
	inv.Status = Status(status)
	inv.CreatedAt = inv.CreatedAt.UTC()
	inv.ValidadeAt = inv.ValidadeAt.UTC()
	return cloneInvite(inv), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgIsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" // unique_violation
}
