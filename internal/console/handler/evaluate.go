package handler

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/infra/auth"
	"github.com/xela07ax/netops-governor/internal/notify"
)

// Evaluator — то, что нужно HTTP-слою от Decision Engine.
type Evaluator interface {
	Evaluate(ctx context.Context, req domain.EvaluationRequest) *domain.EvaluationResult
	SetEAS(ctx context.Context, value float64, actor, reason string) error
	GetEAS() float64
	AgentScope() string
}

type EvaluateHandler struct {
	engine   Evaluator
	notifier notify.Notifier
	logger   *zap.Logger
}

func NewEvaluateHandler(e Evaluator, n notify.Notifier, logger *zap.Logger) *EvaluateHandler {
	return &EvaluateHandler{engine: e, notifier: n, logger: logger.Named("evaluate")}
}

// Evaluate: POST /v1/evaluate. Вердикт всегда в теле ответа со статусом 200.
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req domain.EvaluationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	res := h.engine.Evaluate(r.Context(), req)
	notifyAsync(r.Context(), h.notifier, req, res)
	writeJSON(w, http.StatusOK, res)
}

// notifyAsync не задерживает ответ агенту; канал получает собственный таймаут
func notifyAsync(ctx context.Context, n notify.Notifier, req domain.EvaluationRequest, res *domain.EvaluationResult) {
	if n == nil || !notify.ShouldNotify(res.Verdict) {
		return
	}
	ev := notify.FromResult(req, res)
	go func() {
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = n.Notify(nctx, ev)
	}()
}

type easResponse struct {
	AgentScope string  `json:"agent_scope"`
	EAS        float64 `json:"eas"`
}

type setEASRequest struct {
	Value  float64 `json:"value"`
	Reason string  `json:"reason"`
}

// GetEAS — GET /v1/eas
func (h *EvaluateHandler) GetEAS(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, easResponse{AgentScope: h.engine.AgentScope(), EAS: h.engine.GetEAS()})
}

// SetEAS: PUT /v1/eas. Значение вне [0,1] отклоняется без изменения состояния.
func (h *EvaluateHandler) SetEAS(w http.ResponseWriter, r *http.Request) {
	var req setEASRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	actor := auth.Actor(r.Context())
	if err := h.engine.SetEAS(r.Context(), req.Value, actor, req.Reason); err != nil {
		h.logger.Warn("eas update rejected", zap.String("actor", actor), zap.Float64("value", req.Value), zap.Error(err))
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, easResponse{AgentScope: h.engine.AgentScope(), EAS: h.engine.GetEAS()})
}
