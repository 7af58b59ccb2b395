package availability

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when HUMANIQ_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresStore_Contract(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	runStoreContract(t, func(t *testing.T) contractBackend {
		return mustNewTestPostgresStore(t, pool)
	})
}

func TestPostgresStore_AuditIsAppendOnly(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)
	st := mustNewTestPostgresStore(t, pool)

	ctx := context.Background()
	if err := SeedDirectory(ctx, st, []string{"colab-1"}, []string{"teste-a"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	key := Key{ColaboradorID: "colab-1", TesteID: "teste-a"}
	if _, err := st.ApplyAction(ctx, Action{ID: newTestActionID(t, time.Now()), ActorID: "admin", Key: key, Kind: ActionLiberar, At: time.Now().UTC()}); err != nil {
		t.Fatalf("liberar: %v", err)
	}

	audit := pgIdent(st.schema, "liberacoes_auditoria")
	if _, err := pool.Exec(ctx, `UPDATE `+audit+` SET actor_id = 'x'`); err == nil {
		t.Fatalf("expected update on audit table to fail")
	}
	if _, err := pool.Exec(ctx, `DELETE FROM `+audit); err == nil {
		t.Fatalf("expected delete on audit table to fail")
	}
}

func TestPostgresStore_UnknownKeyIsNotFound(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)
	st := mustNewTestPostgresStore(t, pool)

	_, _, err := st.MergeCompletion(context.Background(), CompletionRecord{
		Key:         Key{ColaboradorID: "ghost", TesteID: "ghost"},
		ConcludedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
}

func mustNewTestPostgresStore(t *testing.T, pool *pgxpool.Pool) *PostgresStore {
	t.Helper()

	schema := "humaniq_disp_it_" + strings.ToLower(newTestULID(t))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := st.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("HUMANIQ_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: HUMANIQ_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse HUMANIQ_DATABASE_URL: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable (HUMANIQ_DATABASE_URL set): %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()
	return pool
}

func shouldSkipIntegration(err error) bool {
	if err == nil || os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection refused", "context deadline exceeded", "timeout", "dial tcp", "no such host"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func newTestULID(t *testing.T) string {
	t.Helper()
	return ulid.MustNew(ulid.Timestamp(time.Now().UTC()), ulid.Monotonic(rand.Reader, 0)).String()
}
