package handler

import (
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/console/service"
	"github.com/xela07ax/netops-governor/internal/infra/auth"
)

type PolicyHandler struct {
	service *service.PolicyService
	logger  *zap.Logger
}

func NewPolicyHandler(s *service.PolicyService, logger *zap.Logger) *PolicyHandler {
	return &PolicyHandler{service: s, logger: logger.Named("policy-api")}
}

// Reload — POST /v1/policy/reload. Тело — YAML документ; пустое тело перечитывает файл.
// Невалидный документ дает 400, активная политика не меняется.
func (h *PolicyHandler) Reload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	actor := auth.Actor(r.Context())
	v, err := h.service.Reload(r.Context(), body, actor)
	if err != nil {
		h.logger.Warn("policy reload rejected", zap.String("actor", actor), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// Rollback: POST /v1/policy/rollback/{id}
func (h *PolicyHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	actor := auth.Actor(r.Context())
	v, err := h.service.Rollback(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		h.logger.Warn("policy rollback rejected", zap.String("actor", actor), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

// Versions — GET /v1/policy/versions?limit=20, новые первыми
func (h *PolicyHandler) Versions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	list, err := h.service.Versions(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Active: GET /v1/policy/active
func (h *PolicyHandler) Active(w http.ResponseWriter, r *http.Request) {
	info, ok := h.service.Active()
	if !ok {
		http.Error(w, "no active policy", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, info)
}
