package availability

import (
	"context"
	"errors"
	"testing"
)

func TestReader_AvailabilityListsActiveTestes(t *testing.T) {
	t.Parallel()

	st := newSeededMemoryStore(t)
	lib, completions, reader := newTestServices(t, st)
	ctx := context.Background()

	if _, err := lib.Bloquear(ctx, LiberationInput{ColaboradorID: "colab-1", TesteID: "teste-b", ActorID: "admin", Now: day(2024, 1, 1)}); err != nil {
		t.Fatalf("bloquear: %v", err)
	}
	if _, err := completions.Apply(ctx, CompletionEvent{ColaboradorID: "colab-1", TesteID: "teste-a", ConcludedAt: day(2024, 1, 2)}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	// Another colaborador's records must not leak into the listing.
	if _, err := lib.Bloquear(ctx, LiberationInput{ColaboradorID: "colab-2", TesteID: "teste-a", ActorID: "admin"}); err != nil {
		t.Fatalf("bloquear colab-2: %v", err)
	}

	got, err := reader.Availability(ctx, "colab-1", day(2024, 2, 1))
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 active testes, got %d: %+v", len(got), got)
	}
	if got[0].TesteID != "teste-a" || got[0].Available || got[0].Reason != ReasonConcluidoSemPeriodicidade {
		t.Fatalf("teste-a: %+v", got[0])
	}
	if got[0].DataConclusao == nil || !got[0].DataConclusao.Equal(day(2024, 1, 2)) {
		t.Fatalf("teste-a data_conclusao: %v", got[0].DataConclusao)
	}
	if got[1].TesteID != "teste-b" || got[1].Available || got[1].Reason != ReasonBloqueadoEmpresa {
		t.Fatalf("teste-b: %+v", got[1])
	}

	fresh, err := reader.Availability(ctx, "colab-2", day(2024, 2, 1))
	if err != nil {
		t.Fatalf("availability colab-2: %v", err)
	}
	if fresh[1].TesteID != "teste-b" || !fresh[1].Available || fresh[1].Reason != ReasonPrimeiraTentativa {
		t.Fatalf("colab-2 teste-b: %+v", fresh[1])
	}
}

func TestReader_UnknownColaborador(t *testing.T) {
	t.Parallel()

	st := newSeededMemoryStore(t)
	_, _, reader := newTestServices(t, st)

	if _, err := reader.Availability(context.Background(), "ghost", day(2024, 1, 1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("got %v want ErrNotFound", err)
	}
	if _, err := reader.Availability(context.Background(), "", day(2024, 1, 1)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("got %v want ErrInvalidInput", err)
	}
}

func TestConstructorsRejectNilDependencies(t *testing.T) {
	t.Parallel()

	st := NewMemoryStore()
	if _, err := NewLiberationService(nil, st); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("NewLiberationService(nil store): %v", err)
	}
	if _, err := NewLiberationService(st, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("NewLiberationService(nil dir): %v", err)
	}
	if _, err := NewCompletionHandler(nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("NewCompletionHandler(nil): %v", err)
	}
	if _, err := NewReader(st, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("NewReader(nil dir): %v", err)
	}
}
