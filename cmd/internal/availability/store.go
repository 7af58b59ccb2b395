package availability

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// CompletionRecord is a normalized completion merge request.
type CompletionRecord struct {
	Key         Key
	ConcludedAt time.Time
	Now         time.Time
}

// Store is the persistence boundary for availability records and their audit trail.
//
// Implementations must make every mutation a single atomic step at the storage layer:
// ApplyAction upserts the record and appends the audit fact together, and
// MergeCompletion advances UltimaConclusao only when the incoming instant is strictly
// newer than the stored one.
type Store interface {
	// Get loads one record. Missing records return ErrNotFound.
	Get(ctx context.Context, key Key) (Record, error)

	// ListByColaborador loads every stored record for a colaborador.
	ListByColaborador(ctx context.Context, colaboradorID string) ([]Record, error)

	// ApplyAction upserts the record for a.Key and appends a to the audit trail.
	ApplyAction(ctx context.Context, a Action) (Record, error)

	// MergeCompletion performs the monotonic max-merge of UltimaConclusao.
	// applied is false when the stored completion is equal or newer.
	MergeCompletion(ctx context.Context, in CompletionRecord) (rec Record, applied bool, err error)

	// ListActions returns the audit trail for one key, oldest first.
	ListActions(ctx context.Context, key Key) ([]Action, error)
}

// Directory answers existence questions about records owned by the CRUD side.
type Directory interface {
	ColaboradorExists(ctx context.Context, colaboradorID string) (bool, error)
	TesteExists(ctx context.Context, testeID string) (bool, error)
	// ListTestesAtivos returns the ids of every active teste, sorted.
	ListTestesAtivos(ctx context.Context) ([]string, error)
}

// DirectoryWriter registers directory entries. The SQL backends write the
// colaboradores/testes relations; it is used to seed dev and single-node runs.
type DirectoryWriter interface {
	UpsertColaborador(ctx context.Context, id string) error
	UpsertTeste(ctx context.Context, id string, ativo bool) error
}

// SeedDirectory registers every colaborador and marks every teste active.
func SeedDirectory(ctx context.Context, w DirectoryWriter, colaboradores, testes []string) error {
	if w == nil {
		return ErrInvalidInput
	}
	for _, id := range colaboradores {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := w.UpsertColaborador(ctx, id); err != nil {
			return fmt.Errorf("seed colaborador %q: %w", id, err)
		}
	}
	for _, id := range testes {
		if strings.TrimSpace(id) == "" {
			continue
		}
		if err := w.UpsertTeste(ctx, id, true); err != nil {
			return fmt.Errorf("seed teste %q: %w", id, err)
		}
	}
	return nil
}
