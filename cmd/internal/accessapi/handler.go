package accessapi

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"humaniq/cmd/internal/availability"
	"humaniq/cmd/internal/invite"
	"humaniq/cmd/internal/metrics"
)

// Config controls request limits and admin access.
type Config struct {
	MaxBodyBytes int64
	// AdminToken, when set, is required as a bearer token on every mutating route
	// except invitation validate and consume.
	AdminToken string

	// InviteIPMax failed validate or consume calls from one IP within
	// InviteIPWindow throttle that IP with 429. Zero disables the limit.
	InviteIPMax    int
	InviteIPWindow time.Duration
	// TrustProxy takes the client IP from X-Forwarded-For or X-Real-IP.
	TrustProxy bool
}

// Services are the domain services the API exposes.
type Services struct {
	Reader      *availability.Reader
	Liberations *availability.LiberationService
	Completions *availability.CompletionHandler
	Invites     *invite.Service
}

// Handler wires HTTP routes to the availability and invitation services.
type Handler struct {
	log     *slog.Logger
	cfg     Config
	svc     Services
	metrics *metrics.Metrics
	limiter *failureLimiter
	now     func() time.Time
}

// HandlerOption configures optional handler dependencies.
type HandlerOption func(*Handler)

func WithMetrics(m *metrics.Metrics) HandlerOption {
	return func(h *Handler) { h.metrics = m }
}

// WithClock overrides the clock used for availability and invitation decisions.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs a Handler. Every service is required.
func NewHandler(log *slog.Logger, cfg Config, svc Services, opts ...HandlerOption) (*Handler, error) {
	if svc.Reader == nil || svc.Liberations == nil || svc.Completions == nil || svc.Invites == nil {
		return nil, errors.New("accessapi: missing service")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	cfg.AdminToken = strings.TrimSpace(cfg.AdminToken)
	if cfg.InviteIPMax > 0 && cfg.InviteIPWindow <= 0 {
		cfg.InviteIPWindow = 15 * time.Minute
	}

	h := &Handler{
		log:     log,
		cfg:     cfg,
		svc:     svc,
		limiter: newFailureLimiter(cfg.InviteIPMax, cfg.InviteIPWindow),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires the API routes onto mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("GET /v1/colaboradores/{colaboradorID}/disponibilidade", h.handleDisponibilidade)
	mux.HandleFunc("POST /v1/liberacoes/liberar", h.admin(h.handleLiberar))
	mux.HandleFunc("POST /v1/liberacoes/bloquear", h.admin(h.handleBloquear))
	mux.HandleFunc("POST /v1/liberacoes/periodicidade", h.admin(h.handlePeriodicidade))
	mux.HandleFunc("GET /v1/liberacoes/historico", h.admin(h.handleHistorico))
	mux.HandleFunc("POST /v1/conclusoes", h.admin(h.handleConclusao))
	mux.HandleFunc("POST /v1/convites", h.admin(h.handleConviteCreate))
	mux.HandleFunc("POST /v1/convites/validar", h.handleConviteValidar)
	mux.HandleFunc("POST /v1/convites/consumir", h.handleConviteConsumir)
}

func (h *Handler) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.cfg.AdminToken != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(h.cfg.AdminToken)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "admin token required")
				return
			}
		}
		next(w, r)
	}
}

// ---- availability ----

func (h *Handler) handleDisponibilidade(w http.ResponseWriter, r *http.Request) {
	colaboradorID := r.PathValue("colaboradorID")
	statuses, err := h.svc.Reader.Availability(r.Context(), colaboradorID, h.now())
	if err != nil {
		h.writeAvailabilityError(w, "access.disponibilidade.fail", err)
		return
	}

	out := disponibilidadeResponse{ColaboradorID: strings.TrimSpace(colaboradorID), Testes: make([]testeStatusResponse, 0, len(statuses))}
	for _, st := range statuses {
		h.metrics.Decision(string(st.Reason))
		out.Testes = append(out.Testes, toTesteStatus(st))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleLiberar(w http.ResponseWriter, r *http.Request) {
	var req liberacaoRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	rec, err := h.svc.Liberations.Liberar(r.Context(), availability.LiberationInput{
		ColaboradorID: req.ColaboradorID,
		TesteID:       req.TesteID,
		ActorID:       req.ActorID,
		Now:           h.now(),
	})
	if err != nil {
		h.writeAvailabilityError(w, "access.liberar.fail", err)
		return
	}
	h.metrics.Liberation(string(availability.ActionLiberar))
	h.log.Info("access.liberar", "colaborador_id", rec.ColaboradorID, "teste_id", rec.TesteID, "actor_id", strings.TrimSpace(req.ActorID))
	writeJSON(w, http.StatusOK, toRecord(rec))
}

func (h *Handler) handleBloquear(w http.ResponseWriter, r *http.Request) {
	var req liberacaoRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	rec, err := h.svc.Liberations.Bloquear(r.Context(), availability.LiberationInput{
		ColaboradorID: req.ColaboradorID,
		TesteID:       req.TesteID,
		ActorID:       req.ActorID,
		Now:           h.now(),
	})
	if err != nil {
		h.writeAvailabilityError(w, "access.bloquear.fail", err)
		return
	}
	h.metrics.Liberation(string(availability.ActionBloquear))
	h.log.Info("access.bloquear", "colaborador_id", rec.ColaboradorID, "teste_id", rec.TesteID, "actor_id", strings.TrimSpace(req.ActorID))
	writeJSON(w, http.StatusOK, toRecord(rec))
}

func (h *Handler) handlePeriodicidade(w http.ResponseWriter, r *http.Request) {
	var req periodicidadeRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	rec, err := h.svc.Liberations.SetPeriodicidade(r.Context(), availability.PeriodicidadeInput{
		ColaboradorID: req.ColaboradorID,
		TesteID:       req.TesteID,
		ActorID:       req.ActorID,
		Dias:          req.Dias,
		Now:           h.now(),
	})
	if err != nil {
		h.writeAvailabilityError(w, "access.periodicidade.fail", err)
		return
	}
	h.metrics.Liberation(string(availability.ActionPeriodicidade))
	h.log.Info("access.periodicidade", "colaborador_id", rec.ColaboradorID, "teste_id", rec.TesteID, "dias", req.Dias)
	writeJSON(w, http.StatusOK, toRecord(rec))
}

func (h *Handler) handleHistorico(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key := availability.Key{ColaboradorID: q.Get("colaborador_id"), TesteID: q.Get("teste_id")}
	actions, err := h.svc.Liberations.History(r.Context(), key)
	if err != nil {
		h.writeAvailabilityError(w, "access.historico.fail", err)
		return
	}
	out := historicoResponse{
		ColaboradorID: strings.TrimSpace(key.ColaboradorID),
		TesteID:       strings.TrimSpace(key.TesteID),
		Acoes:         make([]actionResponse, 0, len(actions)),
	}
	for _, a := range actions {
		out.Acoes = append(out.Acoes, toAction(a))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleConclusao(w http.ResponseWriter, r *http.Request) {
	var ev availability.CompletionEvent
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	res, err := h.svc.Completions.Apply(r.Context(), ev)
	if err != nil {
		if availability.IsInvalidInput(err) || availability.IsNotFound(err) {
			h.metrics.Completion("http", "rejected")
		} else {
			h.metrics.Completion("http", "error")
		}
		h.writeAvailabilityError(w, "access.conclusao.fail", err)
		return
	}
	outcome := "duplicate"
	if res.Applied {
		outcome = "applied"
	}
	h.metrics.Completion("http", outcome)
	writeJSON(w, http.StatusOK, conclusaoResponse{Applied: res.Applied, Record: toRecord(res.Record)})
}

// ---- invitations ----

func (h *Handler) handleConviteCreate(w http.ResponseWriter, r *http.Request) {
	var req conviteCreateRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if req.TTLSeconds < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "ttl_seconds must not be negative")
		return
	}
	// Clamp before converting so huge values cannot overflow time.Duration.
	ttl := h.svc.Invites.MaxTTL()
	if req.TTLSeconds <= int64(ttl/time.Second) {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}
	inv, plain, err := h.svc.Invites.Issue(r.Context(), invite.IssueInput{
		Payload: invite.Payload{
			Tipo:      invite.Tipo(req.Tipo),
			EmpresaID: req.EmpresaID,
			Email:     req.Email,
			Nome:      req.Nome,
		},
		TTL: ttl,
		Now: h.now(),
	})
	if err != nil {
		h.metrics.Invite("issue", outcomeOf(err))
		h.writeInviteError(w, "access.convite.create.fail", err)
		return
	}
	h.metrics.Invite("issue", "ok")
	h.log.Info("access.convite.create", "convite_id", inv.ID, "tipo", string(inv.Payload.Tipo))
	writeJSON(w, http.StatusCreated, conviteCreateResponse{Convite: toConvite(inv), Token: plain})
}

func (h *Handler) handleConviteValidar(w http.ResponseWriter, r *http.Request) {
	var req conviteTokenRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	key, ok := h.throttleInvite(w, r, "validate")
	if !ok {
		return
	}
	inv, err := h.svc.Invites.Validate(r.Context(), req.Token, h.now())
	h.metrics.Invite("validate", outcomeOf(err))
	if err != nil {
		h.recordInviteFailure(key, err)
		h.writeInviteError(w, "access.convite.validate.fail", err)
		return
	}
	writeJSON(w, http.StatusOK, conviteResultResponse{Success: true, Convite: toConvite(inv)})
}

func (h *Handler) handleConviteConsumir(w http.ResponseWriter, r *http.Request) {
	var req conviteTokenRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	key, ok := h.throttleInvite(w, r, "consume")
	if !ok {
		return
	}
	inv, err := h.svc.Invites.Consume(r.Context(), req.Token, h.now())
	h.metrics.Invite("consume", outcomeOf(err))
	if err != nil {
		h.recordInviteFailure(key, err)
		h.writeInviteError(w, "access.convite.consume.fail", err)
		return
	}
	h.log.Info("access.convite.consume", "convite_id", inv.ID)
	writeJSON(w, http.StatusOK, conviteResultResponse{Success: true, Convite: toConvite(inv)})
}
