package availability

import (
	"context"
	"time"
)

// CompletionResult reports the outcome of folding one event into the store.
type CompletionResult struct {
	Record Record
	// Applied is false when the event was a duplicate or older than the stored completion.
	Applied bool
}

// CompletionHandler folds completion events into availability records.
//
// Apply is idempotent and order tolerant: UltimaConclusao only moves forward, so
// redelivered or late events have no visible effect.
type CompletionHandler struct {
	store Store
}

// NewCompletionHandler constructs a CompletionHandler.
func NewCompletionHandler(store Store) (*CompletionHandler, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	return &CompletionHandler{store: store}, nil
}

// Apply merges ev into the record for its key, creating the record on first completion.
func (h *CompletionHandler) Apply(ctx context.Context, ev CompletionEvent) (CompletionResult, error) {
	const op = "availability.ApplyCompletion"
	if h == nil || h.store == nil {
		return CompletionResult{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return CompletionResult{}, err
	}
	key := Key{ColaboradorID: ev.ColaboradorID, TesteID: ev.TesteID}.normalize()
	if !key.valid() {
		return CompletionResult{}, invalid(op, "colaborador id and teste id are required")
	}
	if ev.ConcludedAt.IsZero() {
		return CompletionResult{}, invalid(op, "concluded_at is required")
	}

	rec, applied, err := h.store.MergeCompletion(ctx, CompletionRecord{
		Key:         key,
		ConcludedAt: normalizeTime(ev.ConcludedAt),
		Now:         time.Now().UTC(),
	})
	if err != nil {
		return CompletionResult{}, err
	}
	return CompletionResult{Record: rec, Applied: applied}, nil
}
