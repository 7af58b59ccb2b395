package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"humaniq/cmd/internal/availability"
	"humaniq/cmd/internal/invite"

	"github.com/jackc/pgx/v5/pgxpool"
)

// availabilityStore is what the runtime needs from an availability backend: the
// records, the directory lookup and the directory seed.
type availabilityStore interface {
	availability.Store
	availability.Directory
	availability.DirectoryWriter
}

type migrator interface {
	EnsureSchema(ctx context.Context) error
}

// backend bundles the stores of one storage mode with its lifecycle.
type backend struct {
	kind   string
	store  availabilityStore
	ledger invite.Ledger

	pool *pgxpool.Pool
	db   *sql.DB
}

// Ping reports whether the underlying database answers within timeout. The
// in-memory backend is always ready.
func (b *backend) Ping(ctx context.Context, timeout time.Duration) error {
	switch {
	case b.pool != nil:
		return PingDB(ctx, b.pool, timeout)
	case b.db != nil:
		return PingSQLite(ctx, b.db, timeout)
	default:
		return nil
	}
}

func (b *backend) Close() error {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// newBackend picks Postgres when HUMANIQ_DATABASE_URL is set, SQLite when
// HUMANIQ_SQLITE_PATH is set, and in-memory stores otherwise.
func newBackend(ctx context.Context, cfg Config, log Logger) (*backend, error) {
	var (
		b   *backend
		err error
	)
	switch {
	case cfg.DatabaseURL != "":
		b, err = newPostgresBackend(ctx, cfg)
	case cfg.SQLitePath != "":
		b, err = newSQLiteBackend(cfg)
	default:
		b = &backend{kind: "memory", store: availability.NewMemoryStore(), ledger: invite.NewMemoryLedger()}
	}
	if err != nil {
		return nil, err
	}

	// SQLite files belong to this process, so their schema is always ensured.
	if b.kind == "sqlite" || (b.kind == "postgres" && cfg.DBAutoMigrate) {
		for _, m := range []any{b.store, b.ledger} {
			mg, ok := m.(migrator)
			if !ok {
				continue
			}
			if err := mg.EnsureSchema(ctx); err != nil {
				_ = b.Close()
				return nil, fmt.Errorf("ensure %s schema: %w", b.kind, err)
			}
		}
		log.Info("db.schema.ensured", "backend", b.kind)
	}

	if len(cfg.DevColaboradores) > 0 || len(cfg.DevTestes) > 0 {
		if err := availability.SeedDirectory(ctx, b.store, cfg.DevColaboradores, cfg.DevTestes); err != nil {
			_ = b.Close()
			return nil, err
		}
		log.Info("directory.seeded",
			"backend", b.kind,
			"colaboradores", len(cfg.DevColaboradores),
			"testes", len(cfg.DevTestes),
		)
	}

	log.Info("db.backend.selected", "backend", b.kind)
	return b, nil
}

func newPostgresBackend(ctx context.Context, cfg Config) (*backend, error) {
	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// The app owns the pool; the stores only borrow it.
	store, err := availability.NewPostgresStore(pool, availability.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}
	ledger, err := invite.NewPostgresLedger(pool, invite.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &backend{kind: "postgres", store: store, ledger: ledger, pool: pool}, nil
}

func newSQLiteBackend(cfg Config) (*backend, error) {
	db, err := OpenSQLite(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	store, err := availability.NewSQLiteStore(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	ledger, err := invite.NewSQLiteLedger(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &backend{kind: "sqlite", store: store, ledger: ledger, db: db}, nil
}
