package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/netops-governor/internal/console/service"
	"github.com/xela07ax/netops-governor/internal/domain"
)

type AgentHandler struct {
	service *service.AgentService
}

func NewAgentHandler(s *service.AgentService) *AgentHandler {
	return &AgentHandler{service: s}
}

func restrictionKind(r *http.Request) (domain.RestrictionKind, bool) {
	switch k := domain.RestrictionKind(chi.URLParam(r, "kind")); k {
	case domain.RestrictionKillSwitch, domain.RestrictionQuarantine:
		return k, true
	default:
		return "", false
	}
}

type RestrictionRequest struct {
	Enabled bool   `json:"enabled"`
	Reason  string `json:"reason"`
}

// SetRestriction — PUT /v1/agents/{id}/restrictions/{kind}, kind: kill_switch | quarantine
func (h *AgentHandler) SetRestriction(w http.ResponseWriter, r *http.Request) {
	kind, ok := restrictionKind(r)
	if !ok {
		http.Error(w, "unknown restriction kind", http.StatusBadRequest)
		return
	}
	var req RestrictionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	// Ждем и БД, и сигнала: иначе блокировка может не дойти до движка
	if err := h.service.SetRestriction(r.Context(), chi.URLParam(r, "id"), kind, req.Enabled, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListRestricted: GET /v1/restrictions/{kind}
func (h *AgentHandler) ListRestricted(w http.ResponseWriter, r *http.Request) {
	kind, ok := restrictionKind(r)
	if !ok {
		http.Error(w, "unknown restriction kind", http.StatusBadRequest)
		return
	}
	ids, err := h.service.ListRestricted(r.Context(), kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *AgentHandler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.ListOverrides(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if list == nil {
		list = []domain.AgentPolicyOverride{}
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateOverride — POST /v1/agents/{id}/overrides
func (h *AgentHandler) CreateOverride(w http.ResponseWriter, r *http.Request) {
	var in service.OverrideInput
	if err := decodeJSON(w, r, &in); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	o, err := h.service.CreateOverride(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// DeactivateOverride: DELETE /v1/overrides/{id}
func (h *AgentHandler) DeactivateOverride(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeactivateOverride(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reputation — GET /v1/agents/{id}/reputation
func (h *AgentHandler) Reputation(w http.ResponseWriter, r *http.Request) {
	score, err := h.service.Reputation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}
