package handler

import (
	"net/http"
	"reflect"

	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/batch"
	"github.com/xela07ax/netops-governor/internal/console/service"
	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/notify"
)

// BatchRequest — пачка действий одного инструмента по нескольким устройствам.
// Доказательство авторизации сервер получает сам, оценкой через движок.
type BatchRequest struct {
	Items             []domain.BatchItem `json:"items"`
	ConfidenceScore   float64            `json:"confidence_score"`
	AgentID           string             `json:"agent_id,omitempty"`
	Context           map[string]any     `json:"context,omitempty"`
	Parameters        map[string]any     `json:"parameters,omitempty"`
	RollbackOnFailure *bool              `json:"rollback_on_failure,omitempty"`
	FailFast          bool               `json:"fail_fast"`
}

type BatchResponse struct {
	Evaluation *domain.EvaluationResult `json:"evaluation"`
	Batch      *domain.BatchResult      `json:"batch,omitempty"`
	Error      string                   `json:"error,omitempty"`
}

type BatchHandler struct {
	engine          Evaluator
	runner          service.BatchRunner
	notifier        notify.Notifier
	defaultRollback bool
	logger          *zap.Logger
}

func NewBatchHandler(e Evaluator, runner service.BatchRunner, n notify.Notifier, defaultRollback bool, logger *zap.Logger) *BatchHandler {
	return &BatchHandler{engine: e, runner: runner, notifier: n, defaultRollback: defaultRollback, logger: logger.Named("batch-api")}
}

// Execute: POST /v1/batch. Выполнение только при PERMIT, иначе 403 с результатом оценки.
func (h *BatchHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := decodeJSON(w, r, &req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 {
		http.Error(w, "items are required", http.StatusBadRequest)
		return
	}

	// 1. Одна оценка на всю пачку: инструмент и параметры общие, устройства: все цели.
	// На устройства уходят ровно те параметры, что попали в аудит
	tool := req.Items[0].ToolName
	devices := make([]string, 0, len(req.Items))
	for i, it := range req.Items {
		if it.ToolName != tool {
			writeError(w, batch.ErrToolMismatch)
			return
		}
		if len(it.Parameters) > 0 && !reflect.DeepEqual(it.Parameters, req.Parameters) {
			writeError(w, batch.ErrParametersMismatch)
			return
		}
		req.Items[i].Parameters = req.Parameters
		devices = append(devices, it.DeviceTarget)
	}
	evalReq := domain.EvaluationRequest{
		ToolName:        tool,
		Parameters:      req.Parameters,
		DeviceTargets:   devices,
		ConfidenceScore: req.ConfidenceScore,
		Context:         req.Context,
		AgentID:         req.AgentID,
		Batch:           req.Items,
	}
	proof := h.engine.Evaluate(r.Context(), evalReq)
	notifyAsync(r.Context(), h.notifier, evalReq, proof)

	if proof.Verdict != domain.VerdictPermit {
		writeJSON(w, http.StatusForbidden, BatchResponse{Evaluation: proof, Error: "batch not permitted: " + proof.Reason})
		return
	}

	// 2. Выполнение через оркестратор
	opts := batch.Options{RollbackOnFailure: h.defaultRollback, FailFast: req.FailFast}
	if req.RollbackOnFailure != nil {
		opts.RollbackOnFailure = *req.RollbackOnFailure
	}
	res, err := h.runner.ExecuteBatch(r.Context(), req.Items, proof, opts)
	if err != nil {
		h.logger.Warn("batch rejected", zap.String("audit_id", proof.AuditID), zap.Error(err))
		writeJSON(w, statusFor(err), BatchResponse{Evaluation: proof, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, BatchResponse{Evaluation: proof, Batch: res})
}
