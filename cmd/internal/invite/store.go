package invite

import (
	"context"
	"time"
)

// CreateRecord is a normalized ledger insert payload.
type CreateRecord struct {
	ID         string
	TokenHash  string
	Payload    Payload
	CreatedAt  time.Time
	ValidadeAt time.Time
}

// Ledger is the persistence boundary for invitation tokens, keyed by token hash.
//
// Every transition is a single compare-and-set on status = 'pendente'; the bool
// result reports whether this call won it. A lost CAS returns the current row.
type Ledger interface {
	Create(ctx context.Context, in CreateRecord) (Invite, error)

	// GetByTokenHash returns ErrNotFound for unknown hashes.
	GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error)

	// MarkExpired moves pendente -> expirado iff validade_at < now.
	MarkExpired(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error)

	// MarkUsed moves pendente -> usado iff validade_at >= now.
	MarkUsed(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error)

	// ExpireOverdue moves up to limit overdue pendente invites to expirado and
	// returns how many it moved.
	ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error)
}
