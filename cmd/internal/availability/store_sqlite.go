package availability

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"humaniq/cmd/internal/sqlitedb"
)

const sqliteRecordColumns = `colaborador_id, teste_id, blocked_by_company, periodicidade_dias,
		       ultima_liberacao, ultima_conclusao, proxima_disponibilidade, updated_at`

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS colaboradores (
  id TEXT PRIMARY KEY,
  created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS testes (
  id TEXT PRIMARY KEY,
  ativo INTEGER NOT NULL DEFAULT 1,
  created_at INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS disponibilidade_testes (
  colaborador_id TEXT NOT NULL REFERENCES colaboradores(id),
  teste_id TEXT NOT NULL REFERENCES testes(id),
  blocked_by_company INTEGER NOT NULL DEFAULT 0,
  periodicidade_dias INTEGER NULL CHECK (periodicidade_dias IS NULL OR periodicidade_dias > 0),
  ultima_liberacao INTEGER NULL,
  ultima_conclusao INTEGER NULL,
  proxima_disponibilidade INTEGER NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (colaborador_id, teste_id)
);

CREATE TABLE IF NOT EXISTS liberacoes_auditoria (
  id TEXT PRIMARY KEY,
  actor_id TEXT NOT NULL,
  colaborador_id TEXT NOT NULL,
  teste_id TEXT NOT NULL,
  action TEXT NOT NULL CHECK (action IN ('liberar', 'bloquear', 'periodicidade')),
  periodicidade_dias INTEGER NULL,
  created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_liberacoes_auditoria_key
  ON liberacoes_auditoria (colaborador_id, teste_id, created_at);

CREATE TRIGGER IF NOT EXISTS trg_liberacoes_auditoria_no_update
  BEFORE UPDATE ON liberacoes_auditoria
BEGIN
  SELECT RAISE(ABORT, 'liberacoes_auditoria is append-only');
END;

CREATE TRIGGER IF NOT EXISTS trg_liberacoes_auditoria_no_delete
  BEFORE DELETE ON liberacoes_auditoria
BEGIN
  SELECT RAISE(ABORT, 'liberacoes_auditoria is append-only');
END;
`

// SQLiteStore persists availability records in a single-node SQLite database.
// Timestamps are stored as UTC unix microseconds.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore constructs a SQLiteStore on an already opened database.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if db == nil {
		return nil, ErrInvalidInput
	}
	return &SQLiteStore{db: db}, nil
}

// EnsureSchema creates the availability tables when missing.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.db == nil {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx, sqliteSchema)
	return err
}

// UpsertColaborador registers a colaborador in the directory tables.
func (s *SQLiteStore) UpsertColaborador(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if s == nil || s.db == nil || id == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO colaboradores (id, created_at) VALUES (?, ?) ON CONFLICT (id) DO NOTHING`,
		id, sqlitedb.ToMicros(time.Now()),
	)
	return err
}

// UpsertTeste registers a teste in the directory tables.
func (s *SQLiteStore) UpsertTeste(ctx context.Context, id string, ativo bool) error {
	id = strings.TrimSpace(id)
	if s == nil || s.db == nil || id == "" {
		return ErrInvalidInput
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO testes (id, ativo, created_at) VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET ativo = excluded.ativo`,
		id, ativo, sqlitedb.ToMicros(time.Now()),
	)
	return err
}

// Get loads one record.
func (s *SQLiteStore) Get(ctx context.Context, key Key) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec, err := sqliteScanRecord(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteRecordColumns+`
		   FROM disponibilidade_testes
		  WHERE colaborador_id = ? AND teste_id = ?`,
		key.ColaboradorID, key.TesteID,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// ListByColaborador loads every record for a colaborador ordered by teste id.
func (s *SQLiteStore) ListByColaborador(ctx context.Context, colaboradorID string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteRecordColumns+`
		   FROM disponibilidade_testes
		  WHERE colaborador_id = ?
		  ORDER BY teste_id`,
		colaboradorID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := sqliteScanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ApplyAction upserts the record and appends the audit fact in one transaction.
func (s *SQLiteStore) ApplyAction(ctx context.Context, a Action) (Record, error) {
	if s == nil || s.db == nil {
		return Record{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if !a.Key.valid() || !a.Kind.valid() || strings.TrimSpace(a.ID) == "" {
		return Record{}, ErrInvalidInput
	}
	upsertSQL, args := sqliteActionUpsert(a)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, err
	}
	defer func() { _ = tx.Rollback() }()

	rec, err := sqliteScanRecord(tx.QueryRowContext(ctx, upsertSQL, args...))
	if err != nil {
		if sqlitedb.IsForeignKeyViolation(err) {
			return Record{}, notFound("availability.ApplyAction", "colaborador or teste")
		}
		return Record{}, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO liberacoes_auditoria (
		   id, actor_id, colaborador_id, teste_id, action, periodicidade_dias, created_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.ActorID,
		a.Key.ColaboradorID,
		a.Key.TesteID,
		string(a.Kind),
		sqlitedb.NullInt(a.PeriodicidadeDias),
		sqlitedb.ToMicros(a.At),
	)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func sqliteActionUpsert(a Action) (string, []any) {
	at := sqlitedb.ToMicros(a.At)
	switch a.Kind {
	case ActionLiberar:
		return `INSERT INTO disponibilidade_testes (
		          colaborador_id, teste_id, blocked_by_company, ultima_liberacao, updated_at
		        ) VALUES (?, ?, 0, ?, ?)
		        ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		           SET blocked_by_company = 0,
		               ultima_liberacao = max(
		                   excluded.ultima_liberacao,
		                   COALESCE(disponibilidade_testes.ultima_liberacao, excluded.ultima_liberacao),
		                   COALESCE(disponibilidade_testes.ultima_conclusao, excluded.ultima_liberacao)
		               ),
		               updated_at = excluded.updated_at
		        RETURNING ` + sqliteRecordColumns,
			[]any{a.Key.ColaboradorID, a.Key.TesteID, at, at}
	case ActionBloquear:
		return `INSERT INTO disponibilidade_testes (
		          colaborador_id, teste_id, blocked_by_company, updated_at
		        ) VALUES (?, ?, 1, ?)
		        ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		           SET blocked_by_company = 1,
		               updated_at = excluded.updated_at
		        RETURNING ` + sqliteRecordColumns,
			[]any{a.Key.ColaboradorID, a.Key.TesteID, at}
	default:
		return `INSERT INTO disponibilidade_testes (
		          colaborador_id, teste_id, periodicidade_dias, updated_at
		        ) VALUES (?, ?, ?, ?)
		        ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		           SET periodicidade_dias = excluded.periodicidade_dias,
		               updated_at = excluded.updated_at
		        RETURNING ` + sqliteRecordColumns,
			[]any{a.Key.ColaboradorID, a.Key.TesteID, sqlitedb.NullInt(a.PeriodicidadeDias), at}
	}
}

// MergeCompletion advances ultima_conclusao with one conditional upsert.
func (s *SQLiteStore) MergeCompletion(ctx context.Context, in CompletionRecord) (Record, bool, error) {
	if s == nil || s.db == nil {
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

	rec, err := sqliteScanRecord(s.db.QueryRowContext(ctx,
		`INSERT INTO disponibilidade_testes (
		   colaborador_id, teste_id, ultima_conclusao, updated_at
		 ) VALUES (?, ?, ?, ?)
		 ON CONFLICT (colaborador_id, teste_id) DO UPDATE
		    SET ultima_conclusao = excluded.ultima_conclusao,
		        proxima_disponibilidade = CASE
		            WHEN disponibilidade_testes.periodicidade_dias IS NULL THEN NULL
		            ELSE excluded.ultima_conclusao + disponibilidade_testes.periodicidade_dias * ?
		        END,
		        updated_at = excluded.updated_at
		  WHERE disponibilidade_testes.ultima_conclusao IS NULL
		     OR disponibilidade_testes.ultima_conclusao < excluded.ultima_conclusao
		 RETURNING `+sqliteRecordColumns,
		in.Key.ColaboradorID,
		in.Key.TesteID,
		sqlitedb.ToMicros(in.ConcludedAt),
		sqlitedb.ToMicros(in.Now),
		int64(24*time.Hour/time.Microsecond),
	))
	if err == nil {
		return rec, true, nil
	}
	if sqlitedb.IsForeignKeyViolation(err) {
		return Record{}, false, notFound("availability.MergeCompletion", "colaborador or teste")
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, err
	}

	cur, err := s.Get(ctx, in.Key)
	if err != nil {
		return Record{}, false, err
	}
	return cur, false, nil
}

// ListActions returns the audit trail for key, oldest first.
func (s *SQLiteStore) ListActions(ctx context.Context, key Key) ([]Action, error) {
	if s == nil || s.db == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, actor_id, colaborador_id, teste_id, action, periodicidade_dias, created_at
		   FROM liberacoes_auditoria
		  WHERE colaborador_id = ? AND teste_id = ?
		  ORDER BY created_at, id`,
		key.ColaboradorID, key.TesteID,
	)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Action
	for rows.Next() {
		var (
			a    Action
			kind string
			dias sql.NullInt64
			at   int64
		)
		if err := rows.Scan(&a.ID, &a.ActorID, &a.Key.ColaboradorID, &a.Key.TesteID, &kind, &dias, &at); err != nil {
			return nil, err
		}
		a.Kind = ActionKind(kind)
		a.PeriodicidadeDias = sqlitedb.IntPtr(dias)
		a.At = sqlitedb.FromMicros(at)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ColaboradorExists implements Directory.
func (s *SQLiteStore) ColaboradorExists(ctx context.Context, colaboradorID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM colaboradores WHERE id = ?)`, colaboradorID)
}

// TesteExists implements Directory.
func (s *SQLiteStore) TesteExists(ctx context.Context, testeID string) (bool, error) {
	return s.exists(ctx, `SELECT EXISTS (SELECT 1 FROM testes WHERE id = ?)`, testeID)
}

// ListTestesAtivos implements Directory.
func (s *SQLiteStore) ListTestesAtivos(ctx context.Context) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, ErrInvalidInput
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM testes WHERE ativo = 1 ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func (s *SQLiteStore) exists(ctx context.Context, query, id string) (bool, error) {
	if s == nil || s.db == nil {
		return false, ErrInvalidInput
	}
	var ok bool
	if err := s.db.QueryRowContext(ctx, query, id).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

type sqliteRow interface {
	Scan(dest ...any) error
}

func sqliteScanRecord(row sqliteRow) (Record, error) {
	var (
		rec       Record
		dias      sql.NullInt64
		liberacao sql.NullInt64
		conclusao sql.NullInt64
		proxima   sql.NullInt64
		updatedAt int64
	)
	err := row.Scan(
		&rec.ColaboradorID,
		&rec.TesteID,
		&rec.BlockedByCompany,
		&dias,
		&liberacao,
		&conclusao,
		&proxima,
		&updatedAt,
	)
	if err != nil {
		return Record{}, err
	}
	rec.PeriodicidadeDias = sqlitedb.IntPtr(dias)
	rec.UltimaLiberacao = sqlitedb.TimePtr(liberacao)
	rec.UltimaConclusao = sqlitedb.TimePtr(conclusao)
	rec.ProximaDisponibilidade = sqlitedb.TimePtr(proxima)
	rec.UpdatedAt = sqlitedb.FromMicros(updatedAt)
	return rec, nil
}
