package remote

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/airoxlab/bizposcash-sub002/internal/domain"
)

// Handler serves any Remote over the REST contract HTTPClient speaks.
// Used to expose a Memory store in demos and tests.
type Handler struct {
	remote Remote
	logger *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(r Remote, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{remote: r, logger: logger}
}

// RegisterRoutes mounts the contract on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/tenants/{tenant}/snapshot", h.Snapshot)
	r.Post("/tenants/{tenant}/mutations", h.Apply)
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.remote.Probe(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Snapshot handles GET /tenants/{tenant}/snapshot.
func (h *Handler) Snapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.remote.FetchSnapshot(r.Context(), chi.URLParam(r, "tenant"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// Apply handles POST /tenants/{tenant}/mutations.
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var m domain.Mutation
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		h.writeError(w, NewBusinessError(CodeInvalidPayload, "decode mutation: %v", err))
		return
	}
	if key := r.Header.Get(IdempotencyHeader); key != "" {
		m.ID = key
	}
	m.TenantID = chi.URLParam(r, "tenant")

	ack, err := h.remote.Apply(r.Context(), m)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var be *BusinessError
	switch {
	case errors.As(err, &be):
		status := http.StatusUnprocessableEntity
		switch be.Code {
		case CodeVersionConflict:
			status = http.StatusConflict
		case CodeNotFound:
			status = http.StatusNotFound
		}
		writeJSON(w, status, be)
	case errors.Is(err, ErrUnreachable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
	default:
		h.logger.Error("remote handler failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}
