package availability

import (
	"context"
	"strings"
	"time"

	"humaniq/cmd/internal/ids"
)

// SystemActor is recorded when a periodicity change carries no actor.
const SystemActor = "sistema"

// LiberationInput describes a liberar or bloquear request.
type LiberationInput struct {
	ColaboradorID string
	TesteID       string
	ActorID       string
	Now           time.Time
}

// PeriodicidadeInput describes a periodicity change. A nil Dias clears the periodicity,
// turning the teste into a one-shot for future completions.
type PeriodicidadeInput struct {
	ColaboradorID string
	TesteID       string
	ActorID       string
	Dias          *int
	Now           time.Time
}

// LiberationService applies administrative overrides to availability records.
type LiberationService struct {
	store Store
	dir   Directory
}

// NewLiberationService constructs a LiberationService.
func NewLiberationService(store Store, dir Directory) (*LiberationService, error) {
	if store == nil || dir == nil {
		return nil, ErrInvalidInput
	}
	return &LiberationService{store: store, dir: dir}, nil
}

// Liberar clears the company block and records a liberation at in.Now. A liberation
// at or after the last completion makes the teste available until the next completion.
func (s *LiberationService) Liberar(ctx context.Context, in LiberationInput) (Record, error) {
	const op = "availability.Liberar"
	actor := strings.TrimSpace(in.ActorID)
	if actor == "" {
		return Record{}, invalid(op, "actor id is required")
	}
	return s.apply(ctx, op, Action{
		ActorID: actor,
		Key:     Key{ColaboradorID: in.ColaboradorID, TesteID: in.TesteID},
		Kind:    ActionLiberar,
		At:      in.Now,
	})
}

// Bloquear sets the company block.
func (s *LiberationService) Bloquear(ctx context.Context, in LiberationInput) (Record, error) {
	const op = "availability.Bloquear"
	actor := strings.TrimSpace(in.ActorID)
	if actor == "" {
		return Record{}, invalid(op, "actor id is required")
	}
	return s.apply(ctx, op, Action{
		ActorID: actor,
		Key:     Key{ColaboradorID: in.ColaboradorID, TesteID: in.TesteID},
		Kind:    ActionBloquear,
		At:      in.Now,
	})
}

// SetPeriodicidade changes the periodicity used by future completions. A wait window
// already captured by an earlier completion keeps its end.
func (s *LiberationService) SetPeriodicidade(ctx context.Context, in PeriodicidadeInput) (Record, error) {
	const op = "availability.SetPeriodicidade"
	if in.Dias != nil && *in.Dias <= 0 {
		return Record{}, invalid(op, "dias must be greater than zero")
	}
	actor := strings.TrimSpace(in.ActorID)
	if actor == "" {
		actor = SystemActor
	}
	return s.apply(ctx, op, Action{
		ActorID:           actor,
		Key:               Key{ColaboradorID: in.ColaboradorID, TesteID: in.TesteID},
		Kind:              ActionPeriodicidade,
		PeriodicidadeDias: cloneInt(in.Dias),
		At:                in.Now,
	})
}

// History returns the audit trail of one (colaborador, teste) pair, oldest first.
func (s *LiberationService) History(ctx context.Context, key Key) ([]Action, error) {
	const op = "availability.History"
	if s == nil || s.store == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key = key.normalize()
	if !key.valid() {
		return nil, invalid(op, "colaborador id and teste id are required")
	}
	return s.store.ListActions(ctx, key)
}

func (s *LiberationService) apply(ctx context.Context, op string, a Action) (Record, error) {
	if s == nil || s.store == nil || s.dir == nil {
		return Record{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	a.Key = a.Key.normalize()
	if !a.Key.valid() {
		return Record{}, invalid(op, "colaborador id and teste id are required")
	}
	if a.At.IsZero() {
		a.At = time.Now()
	}
	a.At = normalizeTime(a.At)

	if err := ensureKnown(ctx, op, s.dir, a.Key); err != nil {
		return Record{}, err
	}

	id, err := newActionID(a.At)
	if err != nil {
		return Record{}, err
	}
	a.ID = id

	return s.store.ApplyAction(ctx, a)
}

func ensureKnown(ctx context.Context, op string, dir Directory, key Key) error {
	ok, err := dir.ColaboradorExists(ctx, key.ColaboradorID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(op, "colaborador "+key.ColaboradorID)
	}
	ok, err = dir.TesteExists(ctx, key.TesteID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(op, "teste "+key.TesteID)
	}
	return nil
}

func newActionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
