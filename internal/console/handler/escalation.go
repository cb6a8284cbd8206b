package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xela07ax/netops-governor/internal/batch"
	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/infra/auth"
)

// EscalationService Описываем, что нам нужно от сервиса
type EscalationService interface {
	Get(ctx context.Context, id string) (*domain.EscalationRecord, error)
	List(ctx context.Context, status domain.EscalationStatus) ([]*domain.EscalationRecord, error)
	Decide(ctx context.Context, id string, approved bool, decider, reason string) (*domain.EscalationRecord, error)
	ExecuteApproved(ctx context.Context, id, actor string, opts batch.Options) (*domain.BatchResult, error)
}

type EscalationHandler struct {
	service         EscalationService
	defaultRollback bool
}

func NewEscalationHandler(s EscalationService, defaultRollback bool) *EscalationHandler {
	return &EscalationHandler{service: s, defaultRollback: defaultRollback}
}

// List: GET /v1/escalations?status=PENDING. Без фильтра — все записи.
func (h *EscalationHandler) List(w http.ResponseWriter, r *http.Request) {
	status := domain.EscalationStatus(strings.ToUpper(r.URL.Query().Get("status")))
	list, err := h.service.List(r.Context(), status)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *EscalationHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type DecideRequest struct {
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// Decide — POST /v1/escalations/{id}/decide. Повторное решение — 409.
func (h *EscalationHandler) Decide(w http.ResponseWriter, r *http.Request) {
	var req DecideRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	rec, err := h.service.Decide(r.Context(), chi.URLParam(r, "id"), req.Approved, auth.Actor(r.Context()), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type ExecuteRequest struct {
	RollbackOnFailure *bool `json:"rollback_on_failure,omitempty"`
	FailFast          bool  `json:"fail_fast"`
}

// Execute: POST /v1/escalations/{id}/execute. Тело необязательно.
func (h *EscalationHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	opts := batch.Options{RollbackOnFailure: h.defaultRollback, FailFast: req.FailFast}
	if req.RollbackOnFailure != nil {
		opts.RollbackOnFailure = *req.RollbackOnFailure
	}

	res, err := h.service.ExecuteApproved(r.Context(), chi.URLParam(r, "id"), auth.Actor(r.Context()), opts)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
