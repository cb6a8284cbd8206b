package reputation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/netops-governor/internal/domain"
)

func TestHistoryFactor(t *testing.T) {
	assert.Equal(t, 0.0, HistoryFactor(nil))

	got := HistoryFactor([]domain.VerdictRecord{
		{Verdict: domain.VerdictPermit},
		{Verdict: domain.VerdictPermit},
		{Verdict: domain.VerdictEscalate},
		{Verdict: domain.VerdictBlock},
	})
	assert.Equal(t, 0.5, got)
}

func TestDecayHalvesEveryHalfLife(t *testing.T) {
	day := 24 * time.Hour
	assert.InDelta(t, 1.0, decay(0, day), 1e-12)
	assert.InDelta(t, 0.5, decay(day, day), 1e-12)
	assert.InDelta(t, 0.25, decay(2*day, day), 1e-12)
}

func TestCompositeWeightsRecentSamplesHigher(t *testing.T) {
	now := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	halfLife := 24 * time.Hour

	in := Inputs{
		Executions: []domain.ExecutionRecord{
			{Success: true, Timestamp: now},                       // вес 1
			{Success: false, Timestamp: now.Add(-48 * time.Hour)}, // вес 0.25
		},
	}
	s := Composite(now, in, DefaultWeights, halfLife)

	assert.InDelta(t, 1/1.25, s.Execution, 1e-9)
	// Остальные компоненты пусты: итог равен единственному компоненту
	assert.InDelta(t, s.Execution, s.Composite, 1e-9)
	assert.Equal(t, 2, s.Samples)
}

func TestCompositeBlendsComponents(t *testing.T) {
	now := time.Now()
	in := Inputs{
		EAS:        []domain.EASHistoryEntry{{Value: 1, CreatedAt: now}},
		Verdicts:   []domain.VerdictRecord{{Verdict: domain.VerdictBlock, Timestamp: now}},
		Executions: []domain.ExecutionRecord{{Success: true, Timestamp: now}},
	}
	s := Composite(now, in, Weights{EAS: 0.5, Verdicts: 0.25, Execution: 0.25}, time.Hour)
	assert.InDelta(t, 0.75, s.Composite, 1e-9)
}

func TestCompositeEmpty(t *testing.T) {
	s := Composite(time.Now(), Inputs{}, DefaultWeights, time.Hour)
	assert.Equal(t, 0.0, s.Composite)
}

type fakeHistory struct {
	verdictErr error
}

func (f *fakeHistory) RecentVerdicts(context.Context, string, time.Time) ([]domain.VerdictRecord, error) {
	return []domain.VerdictRecord{{Verdict: domain.VerdictPermit, Timestamp: time.Now()}}, f.verdictErr
}

func (f *fakeHistory) EASHistory(context.Context, string, time.Time) ([]domain.EASHistoryEntry, error) {
	return nil, nil
}

func (f *fakeHistory) RecentExecutions(context.Context, string, time.Time) ([]domain.ExecutionRecord, error) {
	return nil, nil
}

func TestCalculatorScore(t *testing.T) {
	c := NewCalculator(&fakeHistory{}, Weights{}, 0, 0)

	s, err := c.Score(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", s.AgentID)
	assert.InDelta(t, 1.0, s.Composite, 1e-9)

	c = NewCalculator(&fakeHistory{verdictErr: errors.New("boom")}, DefaultWeights, time.Hour, time.Hour)
	_, err = c.Score(context.Background(), "agent-1")
	assert.Error(t, err)
}
