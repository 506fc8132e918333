package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/ariefcatur/go-realtime-tables/internal/booking"
	"github.com/ariefcatur/go-realtime-tables/internal/hold"
	"github.com/ariefcatur/go-realtime-tables/internal/tables"
)

// HeaderIdentity lets a caller act as another identity than the session default.
const HeaderIdentity = "X-User-Email"

// AgentHandler exposes one floor-plan session over HTTP.
type AgentHandler struct {
	Board    *hold.Board
	Booking  *booking.Coordinator
	Identity string
	Log      zerolog.Logger
	Now      func() time.Time

	// Reconnect retries the channel after it went offline.
	Reconnect func(ctx context.Context) error

	// ToggleRate caps toggles per identity per second; zero disables it.
	ToggleRate  float64
	ToggleBurst int
	limiter     *identityLimiter
}

type toggleResp struct {
	TableID string        `json:"tableId"`
	Status  tables.Status `json:"status"`
}

type handoffReq struct {
	Type booking.Type `json:"type"`
}

type resumeResp struct {
	Draft   booking.Draft `json:"draft"`
	Expired []string      `json:"expired,omitempty"`
}

func (h *AgentHandler) Register(r chi.Router) {
	if h.ToggleRate > 0 {
		burst := h.ToggleBurst
		if burst <= 0 {
			burst = 1
		}
		h.limiter = newIdentityLimiter(h.ToggleRate, burst)
	}
	r.Get("/tables", h.listTables)
	r.Get("/tables/layout", h.layout)
	r.Post("/tables/{id}/toggle", h.toggle)
	r.Get("/notices", h.notices)
	r.Post("/handoff", h.proceed)
	r.Post("/handoff/resume", h.resume)
	r.Post("/bookings", h.book)
	r.Post("/channel/connect", h.reconnect)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// statusFor maps domain errors to HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, hold.ErrHeldByOther), errors.Is(err, hold.ErrNotToggleable):
		return http.StatusConflict
	case errors.Is(err, hold.ErrChannelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, hold.ErrUnknownTable):
		return http.StatusNotFound
	case errors.Is(err, hold.ErrNoIdentity):
		return http.StatusUnauthorized
	case errors.Is(err, booking.ErrForeignHandoff):
		return http.StatusForbidden
	case errors.Is(err, booking.ErrNoTableSelected),
		errors.Is(err, booking.ErrNoDrinkSelected),
		errors.Is(err, booking.ErrNoMenuSelected),
		errors.Is(err, booking.ErrUnknownItem),
		errors.Is(err, booking.ErrUnknownBookingType),
		errors.Is(err, booking.ErrInvalidSelection):
		return http.StatusUnprocessableEntity
	case errors.Is(err, booking.ErrSubmitFailed), errors.Is(err, booking.ErrNoPaymentLink):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *AgentHandler) who(r *http.Request) string {
	if v := r.Header.Get(HeaderIdentity); v != "" {
		return v
	}
	return h.Identity
}

func (h *AgentHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *AgentHandler) listTables(w http.ResponseWriter, r *http.Request) {
	cat := tables.Category(r.URL.Query().Get("category"))
	writeJSON(w, http.StatusOK, h.Board.View(h.who(r), cat))
}

func (h *AgentHandler) layout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, tables.GroupByCategory(h.Board.Tables()))
}

func (h *AgentHandler) toggle(w http.ResponseWriter, r *http.Request) {
	id, who := chi.URLParam(r, "id"), h.who(r)
	if h.limiter != nil && !h.limiter.allow(who) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many toggles, slow down"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	st, err := h.Board.ToggleHold(ctx, who, id)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, toggleResp{TableID: id, Status: st})
}

func (h *AgentHandler) notices(w http.ResponseWriter, r *http.Request) {
	ns := h.Board.DrainNotices()
	if ns == nil {
		ns = []hold.Notice{}
	}
	writeJSON(w, http.StatusOK, ns)
}

func (h *AgentHandler) proceed(w http.ResponseWriter, r *http.Request) {
	var req handoffReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ho, err := h.Booking.Proceed(h.who(r), req.Type, h.now())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, ho)
}

func (h *AgentHandler) resume(w http.ResponseWriter, r *http.Request) {
	var ho booking.Handoff
	if err := json.NewDecoder(r.Body).Decode(&ho); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	d, expired, err := h.Booking.Resume(h.who(r), ho, h.now())
	if err != nil {
		writeJSON(w, statusFor(err), map[string]any{"error": err.Error(), "expired": expired})
		return
	}
	writeJSON(w, http.StatusOK, resumeResp{Draft: d, Expired: expired})
}

func (h *AgentHandler) book(w http.ResponseWriter, r *http.Request) {
	var sel booking.Selection
	if err := json.NewDecoder(r.Body).Decode(&sel); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	rc, err := h.Booking.Book(ctx, h.who(r), sel)
	if err != nil {
		h.Log.Warn().Err(err).Str("type", string(sel.Type)).Msg("booking rejected")
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, rc)
}

func (h *AgentHandler) reconnect(w http.ResponseWriter, r *http.Request) {
	if h.Reconnect == nil {
		writeJSON(w, http.StatusNotImplemented, map[string]string{"error": "reconnect not available"})
		return
	}
	if err := h.Reconnect(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "connected"})
}
