// Package reputation считает показатели доверия агента по его истории.
//
// HistoryFactor — простая доля PERMIT среди вердиктов окна, используется на Hot Path Evaluate.
// Composite: составной балл с экспоненциальным затуханием (half-life), считается по запросу для отчетов.
package reputation

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/xela07ax/netops-governor/internal/domain"
)

// HistoryFactor — доля PERMIT среди всех вердиктов. 0 для агента без истории.
func HistoryFactor(verdicts []domain.VerdictRecord) float64 {
	if len(verdicts) == 0 {
		return 0
	}
	permits := 0
	for _, v := range verdicts {
		if v.Verdict == domain.VerdictPermit {
			permits++
		}
	}
	return float64(permits) / float64(len(verdicts))
}

type Weights struct {
	EAS       float64 `mapstructure:"eas" json:"eas"`
	Verdicts  float64 `mapstructure:"verdicts" json:"verdicts"`
	Execution float64 `mapstructure:"execution" json:"execution"`
}

var DefaultWeights = Weights{EAS: 0.4, Verdicts: 0.3, Execution: 0.3}

type Inputs struct {
	EAS        []domain.EASHistoryEntry
	Verdicts   []domain.VerdictRecord
	Executions []domain.ExecutionRecord
}

// Score: составной балл и его компоненты. Компонент без данных не участвует в смеси,
// веса остальных перенормируются.
type Score struct {
	AgentID    string  `json:"agent_id"`
	Composite  float64 `json:"composite"`
	EAS        float64 `json:"eas"`
	Verdicts   float64 `json:"verdicts"`
	Execution  float64 `json:"execution"`
	Samples    int     `json:"samples"`
	HalfLifeHr float64 `json:"half_life_hours"`
}

// decay — вес наблюдения возраста age: 0.5^(age/halfLife).
func decay(age, halfLife time.Duration) float64 {
	if halfLife <= 0 {
		return 1
	}
	if age < 0 {
		age = 0
	}
	return math.Pow(0.5, float64(age)/float64(halfLife))
}

type sample struct {
	value float64
	at    time.Time
}

func decayedMean(now time.Time, samples []sample, halfLife time.Duration) (float64, bool) {
	var sum, weights float64
	for _, s := range samples {
		w := decay(now.Sub(s.at), halfLife)
		sum += w * s.value
		weights += w
	}
	if weights == 0 {
		return 0, false
	}
	return sum / weights, true
}

func verdictValue(v domain.Verdict) float64 {
	switch v {
	case domain.VerdictPermit:
		return 1
	case domain.VerdictEscalate:
		return 0.5
	}
	return 0
}

// Composite смешивает историю EAS, вердиктов и успешности выполнения.
func Composite(now time.Time, in Inputs, w Weights, halfLife time.Duration) Score {
	easSamples := make([]sample, 0, len(in.EAS))
	for _, e := range in.EAS {
		easSamples = append(easSamples, sample{value: math.Max(0, math.Min(1, e.Value)), at: e.CreatedAt})
	}
	verdictSamples := make([]sample, 0, len(in.Verdicts))
	for _, v := range in.Verdicts {
		verdictSamples = append(verdictSamples, sample{value: verdictValue(v.Verdict), at: v.Timestamp})
	}
	execSamples := make([]sample, 0, len(in.Executions))
	for _, x := range in.Executions {
		val := 0.0
		if x.Success {
			val = 1
		}
		execSamples = append(execSamples, sample{value: val, at: x.Timestamp})
	}

	score := Score{
		Samples:    len(easSamples) + len(verdictSamples) + len(execSamples),
		HalfLifeHr: halfLife.Hours(),
	}

	var blend, total float64
	add := func(val float64, ok bool, weight float64, dst *float64) {
		if !ok {
			return
		}
		*dst = val
		blend += val * weight
		total += weight
	}
	v, ok := decayedMean(now, easSamples, halfLife)
	add(v, ok, w.EAS, &score.EAS)
	v, ok = decayedMean(now, verdictSamples, halfLife)
	add(v, ok, w.Verdicts, &score.Verdicts)
	v, ok = decayedMean(now, execSamples, halfLife)
	add(v, ok, w.Execution, &score.Execution)

	if total > 0 {
		score.Composite = blend / total
	}
	return score
}

// HistoryProvider: чтение истории агента за окно.
type HistoryProvider interface {
	RecentVerdicts(ctx context.Context, agentID string, since time.Time) ([]domain.VerdictRecord, error)
	EASHistory(ctx context.Context, agentID string, since time.Time) ([]domain.EASHistoryEntry, error)
	RecentExecutions(ctx context.Context, agentID string, since time.Time) ([]domain.ExecutionRecord, error)
}

// Calculator считает составной балл на запрос отчета.
type Calculator struct {
	repo     HistoryProvider
	weights  Weights
	halfLife time.Duration
	window   time.Duration
	clock    func() time.Time
}

func NewCalculator(repo HistoryProvider, w Weights, halfLife, window time.Duration) *Calculator {
	if w.EAS+w.Verdicts+w.Execution <= 0 {
		w = DefaultWeights
	}
	if halfLife <= 0 {
		halfLife = 7 * 24 * time.Hour
	}
	if window <= 0 {
		window = 8 * halfLife
	}
	return &Calculator{repo: repo, weights: w, halfLife: halfLife, window: window, clock: time.Now}
}

func (c *Calculator) Score(ctx context.Context, agentID string) (Score, error) {
	now := c.clock()
	since := now.Add(-c.window)

	var in Inputs
	var err error
	if in.EAS, err = c.repo.EASHistory(ctx, agentID, since); err != nil {
		return Score{}, fmt.Errorf("reputation: eas history: %w", err)
	}
	if in.Verdicts, err = c.repo.RecentVerdicts(ctx, agentID, since); err != nil {
		return Score{}, fmt.Errorf("reputation: verdicts: %w", err)
	}
	if in.Executions, err = c.repo.RecentExecutions(ctx, agentID, since); err != nil {
		return Score{}, fmt.Errorf("reputation: executions: %w", err)
	}

	score := Composite(now, in, c.weights, c.halfLife)
	score.AgentID = agentID
	return score, nil
}
