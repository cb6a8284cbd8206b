// Package notify рассылает уведомления о вердиктах ESCALATE/BLOCK операторам.
package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// Event — уведомление о принятом решении.
type Event struct {
	AuditID      string          `json:"audit_id"`
	EscalationID string          `json:"escalation_id,omitempty"`
	AgentID      string          `json:"agent_id,omitempty"`
	ToolName     string          `json:"tool_name"`
	Devices      []string        `json:"devices,omitempty"`
	Verdict      domain.Verdict  `json:"verdict"`
	RiskTier     domain.RiskTier `json:"risk_tier"`
	Reason       string          `json:"reason"`
	Timestamp    time.Time       `json:"timestamp"`
}

// FromResult собирает событие из результата оценки и исходного запроса.
func FromResult(req domain.EvaluationRequest, res *domain.EvaluationResult) Event {
	return Event{
		AuditID:      res.AuditID,
		EscalationID: res.EscalationID,
		AgentID:      req.AgentID,
		ToolName:     req.ToolName,
		Devices:      req.DeviceTargets,
		Verdict:      res.Verdict,
		RiskTier:     res.RiskTier,
		Reason:       res.Reason,
		Timestamp:    time.Now().UTC(),
	}
}

type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// Fanout вызывает все каналы; ошибки только логируются.
type Fanout struct {
	sinks  []Notifier
	logger *zap.Logger
}

func NewFanout(logger *zap.Logger, sinks ...Notifier) *Fanout {
	active := make([]Notifier, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			active = append(active, s)
		}
	}
	return &Fanout{sinks: active, logger: logger.Named("notify")}
}

// Notify всегда возвращает nil: сбой канала не влияет на вердикт.
func (f *Fanout) Notify(ctx context.Context, ev Event) error {
	for _, s := range f.sinks {
		if err := s.Notify(ctx, ev); err != nil {
			f.logger.Warn("notification failed",
				zap.Error(err),
				zap.String("audit_id", ev.AuditID),
				zap.String("verdict", string(ev.Verdict)))
		}
	}
	return nil
}

// ShouldNotify: PERMIT не требует внимания оператора.
func ShouldNotify(v domain.Verdict) bool {
	return v == domain.VerdictEscalate || v == domain.VerdictBlock
}
