package invite

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func TestSweeper_ExpiresOverdueAndStops(t *testing.T) {
	t.Parallel()

	l := NewMemoryLedger()
	svc := newTestService(t, l)
	ctx := context.Background()

	past := time.Now().Add(-2 * time.Hour)
	for i := 0; i < 3; i++ {
		if _, _, err := svc.Issue(ctx, IssueInput{Payload: Payload{Tipo: TipoEmpresa}, TTL: time.Minute, Now: past}); err != nil {
			t.Fatalf("issue: %v", err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	var moved atomic.Int64
	sw := &Sweeper{
		Service:  svc,
		Interval: 5 * time.Millisecond,
		Limit:    2,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		OnSweep:  func(n int) { moved.Add(int64(n)) },
	}
	done := make(chan struct{})
	go func() {
		sw.Run(runCtx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for moved.Load() < 3 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("sweeper moved %d of 3 overdue invites", moved.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if moved.Load() != 3 {
		t.Fatalf("moved = %d want 3", moved.Load())
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("sweeper did not stop after cancel")
	}
}
