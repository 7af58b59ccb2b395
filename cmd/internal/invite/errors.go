package invite

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("invite not found")
	ErrInvalidState = errors.New("invite not pendente")
	ErrConflict     = errors.New("invite consumed concurrently")
)

// User-facing messages. Expired and used tokens share one message so a caller cannot
// learn a token's history by probing it.
const (
	MsgNotFound        = "Convite não encontrado."
	MsgExpiradoOuUsado = "Convite expirado ou já utilizado."
)

// OpError is a typed error that wraps a sentinel Kind.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op + ": " + e.Msg
}

func (e OpError) Unwrap() error { return e.Kind }

// Message returns the user-facing text carried by err, or "" when there is none.
func Message(err error) string {
	var op OpError
	if errors.As(err, &op) {
		return op.Msg
	}
	return ""
}

func notFound(op string) error {
	return OpError{Op: op, Kind: ErrNotFound, Msg: MsgNotFound}
}

func notPendente(op string) error {
	return OpError{Op: op, Kind: ErrInvalidState, Msg: MsgExpiradoOuUsado}
}

func lostRace(op string) error {
	return OpError{Op: op, Kind: ErrConflict, Msg: MsgExpiradoOuUsado}
}

func invalid(op, msg string) error {
	return OpError{Op: op, Kind: ErrInvalidInput, Msg: msg}
}
