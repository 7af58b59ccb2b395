package availability

import (
	"strings"
	"time"
)

// Key identifies one (colaborador, teste) pair.
type Key struct {
	ColaboradorID string
	TesteID       string
}

func (k Key) normalize() Key {
	return Key{
		ColaboradorID: strings.TrimSpace(k.ColaboradorID),
		TesteID:       strings.TrimSpace(k.TesteID),
	}
}

func (k Key) valid() bool {
	return k.ColaboradorID != "" && k.TesteID != ""
}

// Record is the persisted TestAvailabilityRecord.
//
// ProximaDisponibilidade is written only when UltimaConclusao advances and captures the
// wait-window end under the periodicity in force at that moment.
//
// A liberation stamps UltimaLiberacao no earlier than the stored UltimaConclusao, so a
// completion dated ahead of the admin clock cannot cancel it.
type Record struct {
	Key
	BlockedByCompany       bool
	PeriodicidadeDias      *int
	UltimaLiberacao        *time.Time
	UltimaConclusao        *time.Time
	ProximaDisponibilidade *time.Time
	UpdatedAt              time.Time
}

// Reason explains an availability decision.
type Reason string

const (
	ReasonBloqueadoEmpresa          Reason = "bloqueado_empresa"
	ReasonPrimeiraTentativa         Reason = "primeira_tentativa"
	ReasonConcluidoSemPeriodicidade Reason = "concluido_sem_periodicidade"
	ReasonPeriodicidadeAtingida     Reason = "periodicidade_atingida"
	ReasonAguardandoPeriodicidade   Reason = "aguardando_periodicidade"
)

// Status is the derived availability of a record at one instant.
type Status struct {
	Available              bool
	Reason                 Reason
	ProximaDisponibilidade *time.Time
	DataConclusao          *time.Time
}

// TesteStatus is one row of a colaborador's availability listing.
type TesteStatus struct {
	TesteID string
	Status
}

// ActionKind names an administrative action recorded in the audit trail.
type ActionKind string

const (
	ActionLiberar       ActionKind = "liberar"
	ActionBloquear      ActionKind = "bloquear"
	ActionPeriodicidade ActionKind = "periodicidade"
)

func (k ActionKind) valid() bool {
	switch k {
	case ActionLiberar, ActionBloquear, ActionPeriodicidade:
		return true
	default:
		return false
	}
}

// Action is an append-only audit fact. It is written together with the record upsert
// it describes and never updated afterwards.
type Action struct {
	ID                string
	ActorID           string
	Key               Key
	Kind              ActionKind
	PeriodicidadeDias *int
	At                time.Time
}

// CompletionEvent is emitted by the scoring subsystem whenever a submission is scored.
// Delivery is at-least-once and unordered.
type CompletionEvent struct {
	ColaboradorID string    `json:"colaborador_id"`
	TesteID       string    `json:"teste_id"`
	ConcludedAt   time.Time `json:"concluded_at"`
}

// normalizeTime converts t to UTC at microsecond precision, the finest resolution every
// backend stores. Comparisons on merged timestamps rely on this.
func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	v := *n
	return &v
}

func (r Record) clone() Record {
	out := r
	out.PeriodicidadeDias = cloneInt(r.PeriodicidadeDias)
	out.UltimaLiberacao = cloneTime(r.UltimaLiberacao)
	out.UltimaConclusao = cloneTime(r.UltimaConclusao)
	out.ProximaDisponibilidade = cloneTime(r.ProximaDisponibilidade)
	return out
}

// windowEnd returns the end of the wait window that follows a completion made at
// concludedAt under the given periodicity. Days are fixed 24h spans in UTC so every
// backend computes the same instant.
func windowEnd(concludedAt time.Time, dias *int) *time.Time {
	if dias == nil {
		return nil
	}
	end := concludedAt.UTC().Add(time.Duration(*dias) * 24 * time.Hour)
	return &end
}
