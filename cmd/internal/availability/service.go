package availability

import (
	"context"
	"sort"
	"strings"
	"time"
)

// Reader answers "which testes may this colaborador start right now".
type Reader struct {
	store Store
	dir   Directory
}

// NewReader constructs a Reader.
func NewReader(store Store, dir Directory) (*Reader, error) {
	if store == nil || dir == nil {
		return nil, ErrInvalidInput
	}
	return &Reader{store: store, dir: dir}, nil
}

// Availability lists every active teste with its status for colaboradorID at now.
// Testes without a stored record are reported as a first attempt.
func (r *Reader) Availability(ctx context.Context, colaboradorID string, now time.Time) ([]TesteStatus, error) {
	const op = "availability.Availability"
	if r == nil || r.store == nil || r.dir == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	colaboradorID = strings.TrimSpace(colaboradorID)
	if colaboradorID == "" {
		return nil, invalid(op, "colaborador id is required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ok, err := r.dir.ColaboradorExists(ctx, colaboradorID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound(op, "colaborador "+colaboradorID)
	}

	testes, err := r.dir.ListTestesAtivos(ctx)
	if err != nil {
		return nil, err
	}
	recs, err := r.store.ListByColaborador(ctx, colaboradorID)
	if err != nil {
		return nil, err
	}
	byTeste := make(map[string]Record, len(recs))
	for _, rec := range recs {
		byTeste[rec.TesteID] = rec
	}

	out := make([]TesteStatus, 0, len(testes))
	for _, testeID := range testes {
		rec, found := byTeste[testeID]
		if !found {
			rec = Record{Key: Key{ColaboradorID: colaboradorID, TesteID: testeID}}
		}
		out = append(out, TesteStatus{TesteID: testeID, Status: ComputeStatus(rec, now)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TesteID < out[j].TesteID })
	return out, nil
}

// Status computes the status of a single pair at now.
func (r *Reader) Status(ctx context.Context, key Key, now time.Time) (Status, error) {
	const op = "availability.Status"
	if r == nil || r.store == nil || r.dir == nil {
		return Status{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Status{}, err
	}
	key = key.normalize()
	if !key.valid() {
		return Status{}, invalid(op, "colaborador id and teste id are required")
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if err := ensureKnown(ctx, op, r.dir, key); err != nil {
		return Status{}, err
	}

	rec, err := r.store.Get(ctx, key)
	if err != nil {
		if !IsNotFound(err) {
			return Status{}, err
		}
		rec = Record{Key: key}
	}
	return ComputeStatus(rec, now), nil
}
