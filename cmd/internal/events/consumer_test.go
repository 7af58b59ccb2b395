package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"humaniq/cmd/internal/availability"

	"github.com/segmentio/kafka-go"
)

// fakeReader hands out queued messages, then blocks until ctx is done.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	fetchErrs int
	drained   chan struct{}
	once      sync.Once
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	return &fakeReader{queue: msgs, drained: make(chan struct{})}
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if r.fetchErrs > 0 {
		r.fetchErrs--
		r.mu.Unlock()
		return kafka.Message{}, errors.New("broker unavailable")
	}
	if len(r.queue) > 0 {
		m := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	r.once.Do(func() { close(r.drained) })
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

// scriptedApplier returns queued errors before delegating to a real handler.
type scriptedApplier struct {
	mu     sync.Mutex
	errs   []error
	calls  int
	target Applier
}

func (a *scriptedApplier) Apply(ctx context.Context, ev availability.CompletionEvent) (availability.CompletionResult, error) {
	a.mu.Lock()
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		a.mu.Unlock()
		return availability.CompletionResult{}, err
	}
	a.mu.Unlock()
	return a.target.Apply(ctx, ev)
}

func newTestHandler(t *testing.T) (*availability.CompletionHandler, *availability.MemoryStore) {
	t.Helper()
	st := availability.NewMemoryStore()
	h, err := availability.NewCompletionHandler(st)
	if err != nil {
		t.Fatalf("new completion handler: %v", err)
	}
	return h, st
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatalf("consumer did not drain the queue")
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func msg(offset int64, value string) kafka.Message {
	return kafka.Message{Topic: "conclusoes", Partition: 0, Offset: offset, Value: []byte(value)}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestConsumer_AppliesAndCommitsInOrder(t *testing.T) {
	t.Parallel()

	h, st := newTestHandler(t)
	r := newFakeReader(
		msg(1, `{"colaborador_id":"colab-1","teste_id":"teste-a","concluded_at":"2024-03-01T10:00:00Z"}`),
		msg(2, `{"colaborador_id":"colab-1","teste_id":"teste-a","concluded_at":"2024-01-01T10:00:00Z"}`),
		msg(3, `{"colaborador_id":"colab-1","teste_id":"teste-a","concluded_at":"2024-03-01T10:00:00Z"}`),
	)
	c, err := NewConsumer(r, h, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	runUntilDrained(t, c, r)

	got := r.commits()
	if len(got) != 3 || got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("commits = %v want [1 2 3]", got)
	}
	rec, err := st.Get(context.Background(), availability.Key{ColaboradorID: "colab-1", TesteID: "teste-a"})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	want := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if !rec.UltimaConclusao.Equal(want) {
		t.Fatalf("ultima_conclusao = %v want %v", rec.UltimaConclusao, want)
	}
}

func TestConsumer_CommitsPoisonMessages(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t)
	r := newFakeReader(
		msg(10, `not json`),
		msg(11, `{"colaborador_id":"","teste_id":"teste-a","concluded_at":"2024-03-01T10:00:00Z"}`),
		msg(12, `{"colaborador_id":"colab-1","teste_id":"teste-a"}`),
	)
	app := &scriptedApplier{target: h}
	c, err := NewConsumer(r, app, WithLogger(quietLogger()))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	runUntilDrained(t, c, r)

	if got := r.commits(); len(got) != 3 {
		t.Fatalf("poison messages must be committed, got %v", got)
	}
	if app.calls != 2 {
		t.Fatalf("undecodable message must not reach the applier, calls = %d", app.calls)
	}
}

func TestConsumer_RetriesTransientFailureBeforeCommit(t *testing.T) {
	t.Parallel()

	h, st := newTestHandler(t)
	r := newFakeReader(
		msg(5, `{"colaborador_id":"colab-1","teste_id":"teste-a","concluded_at":"2024-03-01T10:00:00Z"}`),
	)
	r.fetchErrs = 1
	app := &scriptedApplier{
		target: h,
		errs:   []error{errors.New("db down"), errors.New("db still down")},
	}
	c, err := NewConsumer(r, app, WithLogger(quietLogger()), WithBackoff(time.Millisecond, 4*time.Millisecond))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	runUntilDrained(t, c, r)

	if app.calls != 3 {
		t.Fatalf("expected 2 failures then success, calls = %d", app.calls)
	}
	if got := r.commits(); len(got) != 1 || got[0] != 5 {
		t.Fatalf("commits = %v want [5]", got)
	}
	if _, err := st.Get(context.Background(), availability.Key{ColaboradorID: "colab-1", TesteID: "teste-a"}); err != nil {
		t.Fatalf("event not applied: %v", err)
	}
}

func TestConsumer_StopsWhileRetrying(t *testing.T) {
	t.Parallel()

	r := newFakeReader(msg(1, `{"colaborador_id":"c","teste_id":"t","concluded_at":"2024-03-01T10:00:00Z"}`))
	app := &scriptedApplier{errs: make([]error, 1000)}
	for i := range app.errs {
		app.errs[i] = errors.New("db down")
	}
	c, err := NewConsumer(r, app, WithLogger(quietLogger()), WithBackoff(time.Millisecond, 2*time.Millisecond))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := r.commits(); len(got) != 0 {
		t.Fatalf("failed message must not be committed, got %v", got)
	}
}

func TestNewKafkaReader_RequiresConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewKafkaReader(ReaderConfig{Topic: "t", GroupID: "g"}); err == nil {
		t.Fatalf("expected error without brokers")
	}
	rd, err := NewKafkaReader(ReaderConfig{Brokers: []string{"localhost:9092"}, Topic: "conclusoes", GroupID: "humaniq"})
	if err != nil {
		t.Fatalf("new reader: %v", err)
	}
	defer func() { _ = rd.Close() }()
	if rd.Config().GroupID != "humaniq" || rd.Config().Topic != "conclusoes" {
		t.Fatalf("config = %+v", rd.Config())
	}
}
