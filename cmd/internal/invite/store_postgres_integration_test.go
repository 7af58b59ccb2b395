package invite

import (
	"context"
	"crypto/rand"
	"errors"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
)

// Integration tests are enabled when HUMANIQ_DATABASE_URL is set.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresLedger_Contract(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	runLedgerContract(t, func(t *testing.T) Ledger {
		return mustNewTestPostgresLedger(t, pool)
	})
}

func TestService_Postgres_IssueValidateConsume(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)
	svc := newTestService(t, mustNewTestPostgresLedger(t, pool))

	ctx := context.Background()
	now := time.Now().UTC()

	inv, plain, err := svc.Issue(ctx, IssueInput{Payload: colaboradorPayload(), TTL: 24 * time.Hour, Now: now})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if inv.ID == "" || plain == "" {
		t.Fatalf("expected invite id and token")
	}
	if _, err := svc.Validate(ctx, plain, now); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := svc.Consume(ctx, plain, now.Add(time.Second)); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if _, err := svc.Validate(ctx, plain, now.Add(2*time.Second)); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("validate after consume: got %v", err)
	}
}

func TestService_Postgres_ConcurrentConsume(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)
	svc := newTestService(t, mustNewTestPostgresLedger(t, pool))

	ctx := context.Background()
	now := time.Now().UTC()
	_, plain, err := svc.Issue(ctx, IssueInput{Payload: Payload{Tipo: TipoEmpresa}, TTL: time.Hour, Now: now})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const callers = 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func() {
			defer wg.Done()
			_, err := svc.Consume(ctx, plain, now.Add(time.Second))
			switch {
			case err == nil:
				mu.Lock()
				wins++
				mu.Unlock()
			case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidState):
			default:
				t.Errorf("consume: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one successful consume, got %d", wins)
	}
}

func mustNewTestPostgresLedger(t *testing.T, pool *pgxpool.Pool) *PostgresLedger {
	t.Helper()

	schema := "humaniq_convite_it_" + strings.ToLower(newTestULID(t))
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	l, err := NewPostgresLedger(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := l.EnsureSchema(ctx); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return l
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
