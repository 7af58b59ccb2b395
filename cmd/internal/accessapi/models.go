package accessapi

import (
	"time"

	"humaniq/cmd/internal/availability"
	"humaniq/cmd/internal/invite"
)

type liberacaoRequest struct {
	ColaboradorID string `json:"colaborador_id"`
	TesteID       string `json:"teste_id"`
	ActorID       string `json:"actor_id"`
}

// Dias null or omitted clears the periodicity.
type periodicidadeRequest struct {
	ColaboradorID string `json:"colaborador_id"`
	TesteID       string `json:"teste_id"`
	ActorID       string `json:"actor_id"`
	Dias          *int   `json:"dias"`
}

type conviteCreateRequest struct {
	Tipo       string `json:"tipo"`
	EmpresaID  string `json:"empresa_id"`
	Email      string `json:"email"`
	Nome       string `json:"nome"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

type conviteTokenRequest struct {
	Token string `json:"token"`
}

type testeStatusResponse struct {
	TesteID                string     `json:"teste_id"`
	Available              bool       `json:"available"`
	Reason                 string     `json:"reason"`
	ProximaDisponibilidade *time.Time `json:"proxima_disponibilidade,omitempty"`
	DataConclusao          *time.Time `json:"data_conclusao,omitempty"`
}

type disponibilidadeResponse struct {
	ColaboradorID string                `json:"colaborador_id"`
	Testes        []testeStatusResponse `json:"testes"`
}

type recordResponse struct {
	ColaboradorID          string     `json:"colaborador_id"`
	TesteID                string     `json:"teste_id"`
	BlockedByCompany       bool       `json:"blocked_by_company"`
	PeriodicidadeDias      *int       `json:"periodicidade_dias"`
	UltimaLiberacao        *time.Time `json:"ultima_liberacao"`
	UltimaConclusao        *time.Time `json:"ultima_conclusao"`
	ProximaDisponibilidade *time.Time `json:"proxima_disponibilidade"`
	UpdatedAt              time.Time  `json:"updated_at"`
}

type actionResponse struct {
	ID                string    `json:"id"`
	ActorID           string    `json:"actor_id"`
	Action            string    `json:"action"`
	PeriodicidadeDias *int      `json:"periodicidade_dias,omitempty"`
	At                time.Time `json:"at"`
}

type historicoResponse struct {
	ColaboradorID string           `json:"colaborador_id"`
	TesteID       string           `json:"teste_id"`
	Acoes         []actionResponse `json:"acoes"`
}

type conclusaoResponse struct {
	Applied bool           `json:"applied"`
	Record  recordResponse `json:"record"`
}

type conviteResponse struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Payload    invite.Payload `json:"payload"`
	ValidadeAt time.Time      `json:"validade_at"`
	UsadoAt    *time.Time     `json:"usado_at,omitempty"`
}

type conviteCreateResponse struct {
	Convite conviteResponse `json:"convite"`
	Token   string          `json:"token"`
}

type conviteResultResponse struct {
	Success bool            `json:"success"`
	Convite conviteResponse `json:"convite"`
}

func toTesteStatus(ts availability.TesteStatus) testeStatusResponse {
	return testeStatusResponse{
		TesteID:                ts.TesteID,
		Available:              ts.Available,
		Reason:                 string(ts.Reason),
		ProximaDisponibilidade: ts.ProximaDisponibilidade,
		DataConclusao:          ts.DataConclusao,
	}
}

func toRecord(rec availability.Record) recordResponse {
	return recordResponse{
		ColaboradorID:          rec.ColaboradorID,
		TesteID:                rec.TesteID,
		BlockedByCompany:       rec.BlockedByCompany,
		PeriodicidadeDias:      rec.PeriodicidadeDias,
		UltimaLiberacao:        rec.UltimaLiberacao,
		UltimaConclusao:        rec.UltimaConclusao,
		ProximaDisponibilidade: rec.ProximaDisponibilidade,
		UpdatedAt:              rec.UpdatedAt,
	}
}

func toAction(a availability.Action) actionResponse {
	return actionResponse{
		ID:                a.ID,
		ActorID:           a.ActorID,
		Action:            string(a.Kind),
		PeriodicidadeDias: a.PeriodicidadeDias,
		At:                a.At,
	}
}

func toConvite(inv invite.Invite) conviteResponse {
	return conviteResponse{
		ID:         inv.ID,
		Status:     string(inv.Status),
		Payload:    inv.Payload,
		ValidadeAt: inv.ValidadeAt,
		UsadoAt:    inv.UsadoAt,
	}
}
