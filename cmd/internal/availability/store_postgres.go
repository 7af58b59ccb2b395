package availability

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgRecordColumns = `colaborador_id, teste_id, blocked_by_company, periodicidade_dias,
		        ultima_liberacao, ultima_conclusao, proxima_disponibilidade, updated_at`

// PostgresStore persists availability records, the liberation audit trail and reads the
// colaborador/teste directory in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "humaniq").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "humaniq"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the availability relations when they do not exist yet.
// colaboradores and testes are owned by the CRUD side; they are created here only so
// that foreign keys resolve on a fresh database.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	schema := pgx.Identifier{s.schema}.Sanitize()
	colaboradores := pgIdent(s.schema, "colaboradores")
	testes := pgIdent(s.schema, "testes")
	disp := pgIdent(s.schema, "disponibilidade_testes")
	audit := pgIdent(s.schema, "liberacoes_auditoria")
	guard := pgIdent(s.schema, "liberacoes_auditoria_imutavel")

	ddl := fmt.Sprintf(`
CREATE SCHEMA IF NOT EXISTS %[1]s;

CREATE TABLE IF NOT EXISTS %[2]s (
  id TEXT PRIMARY KEY,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[3]s (
  id TEXT PRIMARY KEY,
  ativo BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS %[4]s (
  colaborador_id TEXT NOT NULL REFERENCES %[2]s(id),
  teste_id TEXT NOT NULL REFERENCES %[3]s(id),
  blocked_by_company BOOLEAN NOT NULL DEFAULT false,
  periodicidade_dias INT NULL,
  ultima_liberacao TIMESTAMPTZ NULL,
  ultima_conclusao TIMESTAMPTZ NULL,
  proxima_disponibilidade TIMESTAMPTZ NULL,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (colaborador_id, teste_id),
  CONSTRAINT chk_disponibilidade_periodicidade CHECK (periodicidade_dias IS NULL OR periodicidade_dias > 0)
);

CREATE TABLE IF NOT EXISTS %[5]s (
  id TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  colaborador_id TEXT NOT NULL,
  teste_id TEXT NOT NULL,
  action TEXT NOT NULL,
  periodicidade_dias INT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  CONSTRAINT chk_liberacoes_action CHECK (action IN ('liberar', 'bloquear', 'periodicidade'))
);

CREATE INDEX IF NOT EXISTS idx_liberacoes_auditoria_key ON %[5]s (colaborador_id, teste_id, created_at);

CREATE OR REPLACE FUNCTION %[6]s() RETURNS trigger AS $$
BEGIN
  RAISE EXCEPTION 'liberacoes_auditoria is append-only';
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_liberacoes_auditoria_imutavel ON %[5]s;
CREATE TRIGGER trg_liberacoes_auditoria_imutavel
  BEFORE UPDATE OR DELETE ON %[5]s
  FOR EACH ROW EXECUTE FUNCTION %[6]s();
`, schema, colaboradores, testes, disp, audit, guard)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// UpsertColaborador registers a colaborador in the directory tables.
func (s *PostgresStore) UpsertColaborador(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if s == nil || s.pool == nil || id == "" {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "colaboradores")+` (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		id,
	)
	return err
}

// UpsertTeste registers a teste in the directory tables.
func (s *PostgresStore) UpsertTeste(ctx context.Context, id string, ativo bool) error {
	id = strings.TrimSpace(id)
	if s == nil || s.pool == nil || id == "" {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgIdent(s.schema, "testes")+` (id, ativo) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET ativo = EXCLUDED.ativo`,
		id, ativo,
	)
	return err
}

// Get loads one record.
func (s *PostgresStore) Get(ctx context.Context, key Key) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	disp := pgIdent(s.schema, "disponibilidade_testes")
	rec, err := pgScanRecord(s.pool.QueryRow(ctx,
		`SELECT `+pgRecordColumns+`
		   FROM `+disp+`
		  WHERE colaborador_id = $1 AND teste_id = $2`,
		key.ColaboradorID, key.TesteID,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListByColaborador loads every record for a colaborador ordered by teste id.
func (s *PostgresStore) ListByColaborador(ctx context.Context, colaboradorID string) ([]Record, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	disp := pgIdent(s.schema, "disponibilidade_testes")
	rows, err := s.pool.Query(ctx,
		`SELECT `+pgRecordColumns+`
		   FROM `+disp+`
		  WHERE colaborador_id = $1
		  ORDER BY teste_id`,
		colaboradorID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := pgScanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ApplyAction upserts the record and appends the audit fact in one transaction.
func (s *PostgresStore) ApplyAction(ctx context.Context, a Action) (Record, error) {
	if s == nil || s.pool == nil {
		return Record{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if !a.Key.valid() || !a.Kind.valid() || strings.TrimSpace(a.ID) == "" {
		return Record{}, ErrInvalidInput
	}
	upsertSQL, args := s.actionUpsert(a)
	audit := pgIdent(s.schema, "liberacoes_auditoria")

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rec, err := pgScanRecord(tx.QueryRow(ctx, upsertSQL, args...))
	if err != nil {
		if pgIsForeignKeyViolation(err) {
			return Record{}, notFound("availability.ApplyAction", "colaborador or teste")
		}
		return Record{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+audit+` (
		     id, actor_id, colaborador_id, teste_id, action, periodicidade_dias, created_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID,
		a.ActorID,
		a.Key.ColaboradorID,
		a.Key.TesteID,
		string(a.Kind),
		a.PeriodicidadeDias,
		a.At,
	)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *PostgresStore) actionUpsert(a Action) (string, []any) {
	disp := pgIdent(s.schema, "disponibilidade_testes")
	switch a.Kind {
	case ActionLiberar:
		return `INSERT INTO ` + disp + ` AS d (
		            colaborador_id, teste_id, blocked_by_company, ultima_liberacao, updated_at
		          ) VALUES ($1, $2, false, $3, $3)
		        ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		           SET blocked_by_company = false,
		               ultima_liberacao = GREATEST(d.ultima_liberacao, EXCLUDED.ultima_liberacao, d.ultima_conclusao),
		               updated_at = EXCLUDED.updated_at
		        RETURNING ` + pgRecordColumns,
			[]any{a.Key.ColaboradorID, a.Key.TesteID, a.At}
	case ActionBloquear:
		return `INSERT INTO ` + disp + ` AS d (
		            colaborador_id, teste_id, blocked_by_company, updated_at
		          ) VALUES ($1, $2, true, $3)
		        ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		           SET blocked_by_company = true,
		               updated_at = EXCLUDED.updated_at
		        RETURNING ` + pgRecordColumns,
			[]any{a.Key.ColaboradorID, a.Key.TesteID, a.At}
	default:
		return `INSERT INTO ` + disp + ` AS d (
		            colaborador_id, teste_id, periodicidade_dias, updated_at
		          ) VALUES ($1, $2, $3, $4)
		        ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		           SET periodicidade_dias = EXCLUDED.periodicidade_dias,
		               updated_at = EXCLUDED.updated_at
		        RETURNING ` + pgRecordColumns,
			[]any{a.Key.ColaboradorID, a.Key.TesteID, a.PeriodicidadeDias, a.At}
	}
}

// MergeCompletion advances ultima_conclusao with a single conditional upsert. When the
// stored completion is equal or newer the upsert touches nothing and the current row
// is returned with applied=false.
func (s *PostgresStore) MergeCompletion(ctx context.Context, in CompletionRecord) (Record, bool, error) {
	if s == nil || s.pool == nil {
		return Record{}, false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	if !in.Key.valid() || in.ConcludedAt.IsZero() {
		return Record{}, false, ErrInvalidInput
	}
	if in.Now.IsZero() {
		in.Now = time.Now().UTC()
	}

	disp := pgIdent(s.schema, "disponibilidade_testes")
	rec, err := pgScanRecord(s.pool.QueryRow(ctx,
		`INSERT INTO `+disp+` AS d (
		     colaborador_id, teste_id, ultima_conclusao, updated_at
		   ) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		    SET ultima_conclusao = EXCLUDED.ultima_conclusao,
		        proxima_disponibilidade = CASE
		            WHEN d.periodicidade_dias IS NULL THEN NULL
		            ELSE EXCLUDED.ultima_conclusao + make_interval(hours => d.periodicidade_dias * 24)
		        END,
		        updated_at = EXCLUDED.updated_at
		  WHERE d.ultima_conclusao IS NULL OR d.ultima_conclusao < EXCLUDED.ultima_conclusao
		RETURNING `+pgRecordColumns,
		in.Key.ColaboradorID,
		in.Key.TesteID,
		in.ConcludedAt,
		in.Now,
	))
	if err == nil {
		return rec, true, nil
	}
	if pgIsForeignKeyViolation(err) {
		return Record{}, false, notFound("availability.MergeCompletion", "colaborador or teste")
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, err
	}

	// Stale or duplicate: report the stored row unchanged.
	cur, err := s.Get(ctx, in.Key)
	if err != nil {
		return Record{}, false, err
	}
	return cur, false, nil
}

// ListActions returns the audit trail for key, oldest first.
func (s *PostgresStore) ListActions(ctx context.Context, key Key) ([]Action, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	audit := pgIdent(s.schema, "liberacoes_auditoria")
	rows, err := s.pool.Query(ctx,
		`SELECT id, actor_id, colaborador_id, teste_id, action, periodicidade_dias, created_at
		   FROM `+audit+`
		  WHERE colaborador_id = $1 AND teste_id = $2
		  ORDER BY created_at, id`,
		key.ColaboradorID, key.TesteID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Action
	for rows.Next() {
		var (
			a    Action
			kind string
		)
		if err := rows.Scan(
			&a.ID,
			&a.ActorID,
			&a.Key.ColaboradorID,
			&a.Key.TesteID,
			&kind,
			&a.PeriodicidadeDias,
			&a.At,
		); err != nil {
			return nil, err
		}
		a.Kind = ActionKind(kind)
		a.At = a.At.UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

// ColaboradorExists implements Directory.
func (s *PostgresStore) ColaboradorExists(ctx context.Context, colaboradorID string) (bool, error) {
	return s.exists(ctx, "colaboradores", colaboradorID)
}

// TesteExists implements Directory.
func (s *PostgresStore) TesteExists(ctx context.Context, testeID string) (bool, error) {
	return s.exists(ctx, "testes", testeID)
}

// ListTestesAtivos implements Directory.
func (s *PostgresStore) ListTestesAtivos(ctx context.Context) ([]string, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	testes := pgIdent(s.schema, "testes")
	rows, err := s.pool.Query(ctx, `SELECT id FROM `+testes+` WHERE ativo ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *PostgresStore) exists(ctx context.Context, table, id string) (bool, error) {
	if s == nil || s.pool == nil {
		return false, ErrInvalidInput
	}
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM `+pgIdent(s.schema, table)+` WHERE id = $1)`,
		id,
	).Scan(&ok)
	return ok, err
}

func pgScanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ColaboradorID,
		&rec.TesteID,
		&rec.BlockedByCompany,
		&rec.PeriodicidadeDias,
		&rec.UltimaLiberacao,
		&rec.UltimaConclusao,
		&rec.ProximaDisponibilidade,
		&rec.UpdatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec.clone(), nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}
