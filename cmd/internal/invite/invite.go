package invite

import (
	"net/mail"
	"strings"
	"time"
)

// Status is the lifecycle state of an invitation token. pendente is the only
// non-terminal state.
type Status string

const (
	StatusPendente Status = "pendente"
	StatusUsado    Status = "usado"
	StatusExpirado Status = "expirado"
)

// Tipo says what the invitation onboards.
type Tipo string

const (
	TipoEmpresa     Tipo = "empresa"
	TipoColaborador Tipo = "colaborador"
)

const (
	maxEmailLen = 254
	maxNomeLen  = 200
	maxIDLen    = 128
)

// Payload is the data an invitation carries to the onboarding flow.
type Payload struct {
	Tipo      Tipo   `json:"tipo"`
	EmpresaID string `json:"empresa_id,omitempty"`
	Email     string `json:"email,omitempty"`
	Nome      string `json:"nome,omitempty"`
}

func (p Payload) normalize() Payload {
	p.Tipo = Tipo(strings.ToLower(strings.TrimSpace(string(p.Tipo))))
	p.EmpresaID = strings.TrimSpace(p.EmpresaID)
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Nome = strings.TrimSpace(p.Nome)
	return p
}

// validate returns a short reason when p is unusable, "" otherwise.
// Colaborador invitations always belong to a company.
func (p Payload) validate() string {
	switch p.Tipo {
	case TipoEmpresa:
	case TipoColaborador:
		if p.EmpresaID == "" {
			return "empresa_id is required for colaborador invitations"
		}
	default:
		return "tipo must be empresa or colaborador"
	}
	if len(p.EmpresaID) > maxIDLen {
		return "empresa_id is too long"
	}
	if p.Email != "" {
		if len(p.Email) > maxEmailLen {
			return "email is too long"
		}
		if a, err := mail.ParseAddress(p.Email); err != nil || a.Address != p.Email {
			return "email is invalid"
		}
	}
	if len(p.Nome) > maxNomeLen {
		return "nome is too long"
	}
	return ""
}

// Invite is one invitation as stored in the ledger. The plain token is never part of it.
type Invite struct {
	ID         string
	Status     Status
	Payload    Payload
	CreatedAt  time.Time
	ValidadeAt time.Time
	UsadoAt    *time.Time
	ExpiradoAt *time.Time
}

// overdue reports whether a pendente invite has passed its validity at now.
// validadeAt itself is still valid.
func (inv Invite) overdue(now time.Time) bool {
	return inv.ValidadeAt.Before(now)
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
