package invite

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"humaniq/cmd/internal/ids"
	"humaniq/cmd/security/token"
)

const (
	defaultTokenBytes = 32
	defaultTTL        = 7 * 24 * time.Hour
	defaultMaxTTL     = 30 * 24 * time.Hour
	defaultSweepLimit = 500
)

// IssueInput describes invitation creation. A zero TTL selects the service default.
type IssueInput struct {
	Payload Payload
	TTL     time.Duration
	Now     time.Time
}

// Service issues, validates and redeems invitation tokens.
type Service struct {
	ledger     Ledger
	hasher     token.Hasher
	tokenBytes int
	defaultTTL time.Duration
	maxTTL     time.Duration
}

// Option configures the Service.
type Option func(*Service) error

// WithTokenBytes sets the length of generated tokens in bytes.
func WithTokenBytes(n int) Option {
	return func(s *Service) error {
		if n < 16 {
			return ErrInvalidInput
		}
		s.tokenBytes = n
		return nil
	}
}

// WithHasher sets how plain tokens are digested before they reach the ledger.
func WithHasher(h token.Hasher) Option {
	return func(s *Service) error {
		s.hasher = h
		return nil
	}
}

// WithTTL sets the default and maximum validity of issued tokens.
func WithTTL(def, max time.Duration) Option {
	return func(s *Service) error {
		if def <= 0 || max <= 0 || def > max {
			return ErrInvalidInput
		}
		s.defaultTTL = def
		s.maxTTL = max
		return nil
	}
}

// NewService constructs a Service with safe defaults.
func NewService(ledger Ledger, opts ...Option) (*Service, error) {
	if ledger == nil {
		return nil, ErrInvalidInput
	}
	s := &Service{
		ledger:     ledger,
		tokenBytes: defaultTokenBytes,
		defaultTTL: defaultTTL,
		maxTTL:     defaultMaxTTL,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MaxTTL is the longest lifetime Issue grants.
func (s *Service) MaxTTL() time.Duration {
	if s == nil {
		return 0
	}
	return s.maxTTL
}

// Issue creates a pendente invitation and returns it with its plain token. The
// token is returned only here; the ledger keeps its digest.
func (s *Service) Issue(ctx context.Context, in IssueInput) (Invite, string, error) {
	const op = "invite.Issue"
	if s == nil || s.ledger == nil {
		return Invite{}, "", ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, "", err
	}

	payload := in.Payload.normalize()
	if reason := payload.validate(); reason != "" {
		return Invite{}, "", invalid(op, reason)
	}
	if in.TTL < 0 {
		return Invite{}, "", invalid(op, "ttl must not be negative")
	}
	ttl := in.TTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}
	if ttl > s.maxTTL {
		ttl = s.maxTTL
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = normalizeTime(now)

	plain, err := newOpaqueToken(s.tokenBytes)
	if err != nil {
		return Invite{}, "", err
	}
	id, err := newULID(now)
	if err != nil {
		return Invite{}, "", err
	}

	inv, err := s.ledger.Create(ctx, CreateRecord{
		ID:         id,
		TokenHash:  s.hasher.HashHex(plain),
		Payload:    payload,
		CreatedAt:  now,
		ValidadeAt: now.Add(ttl),
	})
	if err != nil {
		return Invite{}, "", err
	}
	return inv, plain, nil
}

// Validate reports whether tokenStr may be redeemed at now and returns its invite.
// It never marks the token used. An overdue pendente token is persisted as
// expirado as a side effect.
func (s *Service) Validate(ctx context.Context, tokenStr string, now time.Time) (Invite, error) {
	return s.validate(ctx, "invite.Validate", tokenStr, now)
}

// Consume validates tokenStr and then atomically moves it to usado. When another
// caller redeems the same token between the two steps, Consume returns ErrConflict.
func (s *Service) Consume(ctx context.Context, tokenStr string, now time.Time) (Invite, error) {
	const op = "invite.Consume"
	if now.IsZero() {
		now = time.Now()
	}
	now = normalizeTime(now)

	if _, err := s.validate(ctx, op, tokenStr, now); err != nil {
		return Invite{}, err
	}

	inv, ok, err := s.ledger.MarkUsed(ctx, s.hasher.HashHex(strings.TrimSpace(tokenStr)), now)
	if err != nil {
		return Invite{}, err
	}
	if !ok {
		return Invite{}, lostRace(op)
	}
	return inv, nil
}

// SweepExpired persists expirado for up to limit overdue pendente invites.
func (s *Service) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if s == nil || s.ledger == nil {
		return 0, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if now.IsZero() {
		now = time.Now()
	}
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	return s.ledger.ExpireOverdue(ctx, normalizeTime(now), limit)
}

func (s *Service) validate(ctx context.Context, op, tokenStr string, now time.Time) (Invite, error) {
	if s == nil || s.ledger == nil {
		return Invite{}, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return Invite{}, err
	}
	tokenStr = strings.TrimSpace(tokenStr)
	if tokenStr == "" {
		return Invite{}, invalid(op, "token is required")
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = normalizeTime(now)

	tokenHash := s.hasher.HashHex(tokenStr)
	inv, err := s.ledger.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Invite{}, notFound(op)
		}
		return Invite{}, err
	}

	if inv.Status != StatusPendente {
		return Invite{}, notPendente(op)
	}
	if inv.overdue(now) {
		// Whoever wins the CAS, the token is no longer redeemable.
		if _, _, err := s.ledger.MarkExpired(ctx, tokenHash, now); err != nil {
			return Invite{}, err
		}
		return Invite{}, notPendente(op)
	}
	return inv, nil
}

func newOpaqueToken(nBytes int) (string, error) {
	if nBytes <= 0 {
		nBytes = defaultTokenBytes
	}
	b := make([]byte, nBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func newULID(now time.Time) (string, error) {
	return ids.NewULID(now)
}
