package invite

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryLedger is the single-process Ledger used for dev runs and tests.
type MemoryLedger struct {
	mu     sync.Mutex
	byHash map[string]Invite
}

// NewMemoryLedger constructs an empty MemoryLedger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{byHash: make(map[string]Invite)}
}

// Create implements Ledger.
func (l *MemoryLedger) Create(ctx context.Context, in CreateRecord) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	if strings.TrimSpace(in.ID) == "" || strings.TrimSpace(in.TokenHash) == "" {
		return Invite{}, ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byHash[in.TokenHash]; exists {
		return Invite{}, ErrConflict
	}
	inv := Invite{
		ID:         in.ID,
		Status:     StatusPendente,
		Payload:    in.Payload,
		CreatedAt:  in.CreatedAt.UTC(),
		ValidadeAt: in.ValidadeAt.UTC(),
	}
	l.byHash[in.TokenHash] = inv
	return inv, nil
}

// GetByTokenHash implements Ledger.
func (l *MemoryLedger) GetByTokenHash(ctx context.Context, tokenHash string) (Invite, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	inv, ok := l.byHash[tokenHash]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return cloneInvite(inv), nil
}

// MarkExpired implements Ledger.
func (l *MemoryLedger) MarkExpired(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error) {
	return l.transition(ctx, tokenHash, func(inv *Invite) bool {
		if !inv.overdue(now) {
			return false
		}
		at := now.UTC()
		inv.Status = StatusExpirado
		inv.ExpiradoAt = &at
		return true
	})
}

// MarkUsed implements Ledger.
func (l *MemoryLedger) MarkUsed(ctx context.Context, tokenHash string, now time.Time) (Invite, bool, error) {
	return l.transition(ctx, tokenHash, func(inv *Invite) bool {
		if inv.overdue(now) {
			return false
		}
		at := now.UTC()
		inv.Status = StatusUsado
		inv.UsadoAt = &at
		return true
	})
}

// ExpireOverdue implements Ledger. Oldest validity first.
func (l *MemoryLedger) ExpireOverdue(ctx context.Context, now time.Time, limit int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if limit <= 0 {
		return 0, ErrInvalidInput
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var due []string
	for hash, inv := range l.byHash {
		if inv.Status == StatusPendente && inv.overdue(now) {
			due = append(due, hash)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return l.byHash[due[i]].ValidadeAt.Before(l.byHash[due[j]].ValidadeAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}
	at := now.UTC()
	for _, hash := range due {
		inv := l.byHash[hash]
		inv.Status = StatusExpirado
		inv.ExpiradoAt = &at
		l.byHash[hash] = inv
	}
	return len(due), nil
}

func (l *MemoryLedger) transition(ctx context.Context, tokenHash string, apply func(*Invite) bool) (Invite, bool, error) {
	if err := ctx.Err(); err != nil {
		return Invite{}, false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	inv, ok := l.byHash[tokenHash]
	if !ok {
		return Invite{}, false, ErrNotFound
	}
	if inv.Status != StatusPendente || !apply(&inv) {
		return cloneInvite(inv), false, nil
	}
	l.byHash[tokenHash] = inv
	return cloneInvite(inv), true, nil
}

func cloneInvite(inv Invite) Invite {
	if inv.UsadoAt != nil {
		t := *inv.UsadoAt
		inv.UsadoAt = &t
	}
	if inv.ExpiradoAt != nil {
		t := *inv.ExpiradoAt
		inv.ExpiradoAt = &t
	}
	return inv
}
