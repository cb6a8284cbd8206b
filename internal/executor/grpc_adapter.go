package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// Методы сервиса исполнителя на стороне device-агента. Полезная нагрузка: google.protobuf.Struct.
const (
	MethodExecute  = "/netops.device.v1.DeviceExecutor/Execute"
	MethodRollback = "/netops.device.v1.DeviceExecutor/Rollback"
)

type GRPCAdapter struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

// NewGRPCAdapter создает экземпляр адаптера
func NewGRPCAdapter(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCAdapter {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GRPCAdapter{conn: conn, timeout: timeout}
}

func (a *GRPCAdapter) Execute(ctx context.Context, tool, device string, params map[string]any, proof *domain.EvaluationResult) (*domain.ExecutionResult, error) {
	// 1. Конвертируем запрос в Protobuf Struct
	body := map[string]any{
		"tool":   tool,
		"device": device,
	}
	if params != nil {
		body["params"] = params
	}
	if proof != nil {
		body["audit_id"] = proof.AuditID
		body["agent_id"] = proof.AgentID
		body["policy_version"] = proof.PolicyVersion
	}
	req, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("failed to create proto struct: %w", err)
	}

	// 2. Устанавливаем защитный таймаут на уровне вызова
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, "source", "netops-governor")

	// 3. Выполняем gRPC вызов
	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, MethodExecute, req, resp); err != nil {
		return nil, mapStatus(device, err)
	}

	// 4. Разбираем ответ
	return decodeResult(resp.AsMap()), nil
}

func (a *GRPCAdapter) Rollback(ctx context.Context, device string, rollbackData map[string]any) error {
	req, err := structpb.NewStruct(map[string]any{"device": device, "rollback_data": rollbackData})
	if err != nil {
		return fmt.Errorf("failed to create proto struct: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := a.conn.Invoke(ctx, MethodRollback, req, resp); err != nil {
		return mapStatus(device, err)
	}
	out := resp.AsMap()
	if ok, _ := out["success"].(bool); !ok {
		msg, _ := out["error"].(string)
		return fmt.Errorf("device %s rollback failed: %s", device, msg)
	}
	return nil
}

// mapStatus отделяет сетевые сбои от прикладных ошибок устройства.
func mapStatus(device string, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return &ConnectivityError{Device: device, Cause: err}
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded:
		return &ConnectivityError{Device: device, Cause: err}
	case codes.ResourceExhausted:
		return &ThrottleError{RetryAfter: retryAfter(st), Cause: err}
	case codes.Unimplemented:
		return fmt.Errorf("%w: %s", ErrUnsupportedTool, st.Message())
	}
	return fmt.Errorf("device %s: %s: %s", device, st.Code(), st.Message())
}

// retryAfter читает подсказку из сообщения вида "retry_after=2s"; иначе секунда.
func retryAfter(st *status.Status) time.Duration {
	_, rest, ok := strings.Cut(st.Message(), "retry_after=")
	if !ok {
		return time.Second
	}
	tokens := strings.FieldsFunc(rest, func(r rune) bool { return r == ' ' || r == ',' })
	if len(tokens) > 0 {
		if d, err := time.ParseDuration(tokens[0]); err == nil {
			return d
		}
	}
	return time.Second
}

func decodeResult(m map[string]any) *domain.ExecutionResult {
	res := &domain.ExecutionResult{}
	res.Success, _ = m["success"].(bool)
	res.Output, _ = m["output"].(string)
	res.Error, _ = m["error"].(string)
	res.RollbackData, _ = m["rollback_data"].(map[string]any)
	if list, ok := m["validation_results"].([]any); ok {
		for _, item := range list {
			v, ok := item.(map[string]any)
			if !ok {
				continue
			}
			vr := domain.ValidationResult{}
			vr.Name, _ = v["name"].(string)
			vr.Passed, _ = v["passed"].(bool)
			vr.Detail, _ = v["detail"].(string)
			res.ValidationResults = append(res.ValidationResults, vr)
		}
	}
	return res
}
