package availability

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the dev-only fallback used when no database is configured, and the
// backend for unit tests. It provides the same atomicity as the SQL stores within a
// single process and also acts as the Directory.
type MemoryStore struct {
	mu      sync.Mutex
	records map[Key]Record
	actions map[Key][]Action

	colaboradores map[string]struct{}
	testes        map[string]bool // id -> ativo
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:       make(map[Key]Record),
		actions:       make(map[Key][]Action),
		colaboradores: make(map[string]struct{}),
		testes:        make(map[string]bool),
	}
}

// AddColaborador registers a known colaborador.
func (s *MemoryStore) AddColaborador(id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.colaboradores[id] = struct{}{}
}

// AddTeste registers a known teste.
func (s *MemoryStore) AddTeste(id string, ativo bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.testes[id] = ativo
}

// UpsertColaborador implements DirectoryWriter.
func (s *MemoryStore) UpsertColaborador(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	s.AddColaborador(id)
	return nil
}

// UpsertTeste implements DirectoryWriter.
func (s *MemoryStore) UpsertTeste(ctx context.Context, id string, ativo bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return ErrInvalidInput
	}
	s.AddTeste(id, ativo)
	return nil
}

// ColaboradorExists implements Directory.
func (s *MemoryStore) ColaboradorExists(ctx context.Context, colaboradorID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.colaboradores[colaboradorID]
	return ok, nil
}

// TesteExists implements Directory.
func (s *MemoryStore) TesteExists(ctx context.Context, testeID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.testes[testeID]
	return ok, nil
}

// ListTestesAtivos implements Directory.
func (s *MemoryStore) ListTestesAtivos(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	out := make([]string, 0, len(s.testes))
	for id, ativo := range s.testes {
		if ativo {
			out = append(out, id)
		}
	}
	s.mu.Unlock()
	sort.Strings(out)
	return out, nil
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, key Key) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec.clone(), nil
}

// ListByColaborador implements Store.
func (s *MemoryStore) ListByColaborador(ctx context.Context, colaboradorID string) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	var out []Record
	for key, rec := range s.records {
		if key.ColaboradorID == colaboradorID {
			out = append(out, rec.clone())
		}
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TesteID < out[j].TesteID })
	return out, nil
}

// ApplyAction implements Store.
func (s *MemoryStore) ApplyAction(ctx context.Context, a Action) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if !a.Key.valid() || !a.Kind.valid() || a.ID == "" {
		return Record{}, ErrInvalidInput
	}
	at := a.At.UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[a.Key]
	if !ok {
		rec = Record{Key: a.Key}
	}
	switch a.Kind {
	case ActionLiberar:
		rec.BlockedByCompany = false
		lib := at
		// A completion stamped ahead of the admin clock must not outrank the liberation.
		if rec.UltimaConclusao != nil && rec.UltimaConclusao.After(lib) {
			lib = *rec.UltimaConclusao
		}
		if rec.UltimaLiberacao == nil || rec.UltimaLiberacao.Before(lib) {
			rec.UltimaLiberacao = &lib
		}
	case ActionBloquear:
		rec.BlockedByCompany = true
	case ActionPeriodicidade:
		rec.PeriodicidadeDias = cloneInt(a.PeriodicidadeDias)
	}
	rec.UpdatedAt = at
	s.records[a.Key] = rec.clone()

	stored := a
	stored.At = at
	stored.PeriodicidadeDias = cloneInt(a.PeriodicidadeDias)
	s.actions[a.Key] = append(s.actions[a.Key], stored)

	return rec.clone(), nil
}

// MergeCompletion implements Store.
func (s *MemoryStore) MergeCompletion(ctx context.Context, in CompletionRecord) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, false, err
	}
	if !in.Key.valid() || in.ConcludedAt.IsZero() {
		return Record{}, false, ErrInvalidInput
	}
	concluded := in.ConcludedAt.UTC()
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[in.Key]
	if !ok {
		rec = Record{Key: in.Key}
	}
	if rec.UltimaConclusao != nil && !rec.UltimaConclusao.Before(concluded) {
		return rec.clone(), false, nil
	}
	rec.UltimaConclusao = &concluded
	rec.ProximaDisponibilidade = windowEnd(concluded, rec.PeriodicidadeDias)
	rec.UpdatedAt = now.UTC()
	s.records[in.Key] = rec.clone()
	return rec.clone(), true, nil
}

// ListActions implements Store.
func (s *MemoryStore) ListActions(ctx context.Context, key Key) ([]Action, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.actions[key]
	out := make([]Action, 0, len(src))
	for _, a := range src {
		a.PeriodicidadeDias = cloneInt(a.PeriodicidadeDias)
		out = append(out, a)
	}
	return out, nil
}
