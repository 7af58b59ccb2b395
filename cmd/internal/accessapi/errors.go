package accessapi

import (
	"errors"
	"net/http"

	"humaniq/cmd/internal/availability"
	"humaniq/cmd/internal/invite"
)

func (h *Handler) writeAvailabilityError(w http.ResponseWriter, event string, err error) {
	var op availability.OpError
	msg := ""
	if errors.As(err, &op) {
		msg = op.Msg
	}
	switch {
	case errors.Is(err, availability.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", orDefault(msg, "not found"))
	case errors.Is(err, availability.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", orDefault(msg, "invalid request"))
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (h *Handler) writeInviteError(w http.ResponseWriter, event string, err error) {
	msg := invite.Message(err)
	switch {
	case errors.Is(err, invite.ErrNotFound):
		writeError(w, http.StatusNotFound, "convite_nao_encontrado", orDefault(msg, invite.MsgNotFound))
	case errors.Is(err, invite.ErrInvalidState):
		writeError(w, http.StatusGone, "convite_invalido", orDefault(msg, invite.MsgExpiradoOuUsado))
	case errors.Is(err, invite.ErrConflict):
		writeError(w, http.StatusConflict, "convite_conflito", orDefault(msg, invite.MsgExpiradoOuUsado))
	case errors.Is(err, invite.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_request", orDefault(msg, "invalid request"))
	default:
		h.log.Error(event, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, invite.ErrNotFound):
		return "not_found"
	case errors.Is(err, invite.ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, invite.ErrConflict):
		return "conflict"
	case errors.Is(err, invite.ErrInvalidInput):
		return "invalid_input"
	default:
		return "error"
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
