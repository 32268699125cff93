// Package httpapi exposes the quota tracker over HTTP: availability checks
// and usage recording for the call-initiation flow, plus the secret-gated
// administrative surface for the exemption list and counter resets.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ajiwo/callquota"
	"github.com/ajiwo/callquota/backends"
	"github.com/ajiwo/callquota/exemption"
	"github.com/ajiwo/callquota/identity"
)

// Handler serves the quota and administrative endpoints.
type Handler struct {
	tracker  *callquota.Tracker
	registry *exemption.Registry
	resolver *identity.Resolver
	secret   string
	logger   *slog.Logger
}

// NewHandler creates a handler. An empty adminSecret disables the
// administrative endpoints (they fail closed with 503).
func NewHandler(tracker *callquota.Tracker, registry *exemption.Registry, adminSecret string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		tracker:  tracker,
		registry: registry,
		resolver: identity.NewResolver(registry),
		secret:   adminSecret,
		logger:   logger,
	}
}

// RegisterRoutes attaches all endpoints to mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/address", h.handleAddress)
	mux.HandleFunc("GET /api/quota", h.handleCheck)
	mux.HandleFunc("POST /api/quota", h.handleRecord)
	mux.HandleFunc("GET /api/exempt", h.handleExemptList)
	mux.HandleFunc("POST /api/exempt", h.handleExemptAdd)
	mux.HandleFunc("DELETE /api/exempt", h.handleExemptRemove)
	mux.HandleFunc("POST /api/reset", h.handleReset)
}

// handleAddress echoes the resolved client address, mainly for operators
// filling in the exemption list.
func (h *Handler) handleAddress(w http.ResponseWriter, r *http.Request) {
	address := identity.ClientAddress(identity.FromRequest(r))
	h.respondJSON(w, http.StatusOK, map[string]string{"address": address})
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	id := h.resolver.Resolve(identity.FromRequest(r))

	decision, err := h.tracker.CheckAvailable(r.Context(), id)
	if err != nil {
		h.respondTrackerError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"allowed":   decision.Allowed,
		"remaining": decision.Remaining,
	})
}

func (h *Handler) handleRecord(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Amount *int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	amount := int64(1)
	if body.Amount != nil {
		amount = *body.Amount
	}

	id := h.resolver.Resolve(identity.FromRequest(r))

	result, err := h.tracker.RecordUsage(r.Context(), id, amount)
	if err != nil {
		if errors.Is(err, callquota.ErrInvalidAmount) {
			h.respondError(w, http.StatusBadRequest, "amount must be non-negative")
			return
		}
		h.respondTrackerError(w, err)
		return
	}

	if !result.Recorded {
		// Exhausted budget is a distinct, friendly condition; it must never
		// look like an infrastructure failure
		h.respondJSON(w, http.StatusTooManyRequests, map[string]any{
			"recorded":  false,
			"remaining": result.Remaining,
			"error":     "no calls remaining",
		})
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{
		"recorded":  true,
		"remaining": result.Remaining,
	})
}

func (h *Handler) handleExemptList(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	addresses, err := h.registry.List(r.Context())
	if err != nil {
		h.logger.Error("exemption list read failed", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "exemption store unavailable")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"addresses": addresses})
}

func (h *Handler) handleExemptAdd(w http.ResponseWriter, r *http.Request) {
	h.mutateExemptions(w, r, h.registry.Add)
}

func (h *Handler) handleExemptRemove(w http.ResponseWriter, r *http.Request) {
	h.mutateExemptions(w, r, h.registry.Remove)
}

func (h *Handler) mutateExemptions(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, address string) ([]string, error)) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	addresses, err := op(r.Context(), body.Address)
	if err != nil {
		if backends.IsHealthError(err) || errors.Is(err, exemption.ErrContention) {
			h.logger.Error("exemption list update failed", "address", body.Address, "error", err)
			h.respondError(w, http.StatusServiceUnavailable, "exemption store unavailable")
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"addresses": addresses})
}

// handleReset clears a counter. The identity comes from the request body, or
// from the caller's own resolved identity when omitted (the development
// workflow for re-testing the demo call).
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}

	var body struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id := body.Identity
	if id == "" {
		id = h.resolver.Resolve(identity.FromRequest(r))
	}

	if err := h.tracker.Reset(r.Context(), id); err != nil {
		h.respondTrackerError(w, err)
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]any{"reset": true, "identity": id})
}

func (h *Handler) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	switch err := h.authorize(r); {
	case errors.Is(err, ErrNoAdminSecret):
		h.logger.Error("administrative call rejected: no secret configured")
		h.respondError(w, http.StatusServiceUnavailable, "administrative interface not configured")
		return false
	case errors.Is(err, ErrUnauthorized):
		h.respondError(w, http.StatusUnauthorized, "unauthorized")
		return false
	}
	return true
}

// respondTrackerError distinguishes infrastructure failures from caller
// mistakes; collapsing them would hide outages behind 4xx noise.
func (h *Handler) respondTrackerError(w http.ResponseWriter, err error) {
	if errors.Is(err, callquota.ErrStoreUnavailable) {
		h.logger.Error("quota store unavailable", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "quota service unavailable, try again later")
		return
	}
	h.respondError(w, http.StatusBadRequest, err.Error())
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("response encoding failed", "error", err)
	}
}

func (h *Handler) respondError(w http.ResponseWriter, code int, message string) {
	h.respondJSON(w, code, map[string]string{"error": message})
}
