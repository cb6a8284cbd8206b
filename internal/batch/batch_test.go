package batch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/executor"
)

func item(device string, deps ...string) domain.BatchItem {
	return domain.BatchItem{DeviceTarget: device, ToolName: "configure_vlan", DependsOn: deps}
}

func permit(n int) *domain.EvaluationResult {
	return &domain.EvaluationResult{Verdict: domain.VerdictPermit, ToolName: "configure_vlan", DeviceCount: n, AgentID: "agent-1"}
}

func devices(stage []domain.BatchItem) []string {
	out := make([]string, len(stage))
	for i, it := range stage {
		out[i] = it.DeviceTarget
	}
	return out
}

func TestBuildExecutionOrderTwoStages(t *testing.T) {
	stages, err := BuildExecutionOrder([]domain.BatchItem{item("B", "A"), item("A")})
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, []string{"A"}, devices(stages[0]))
	assert.Equal(t, []string{"B"}, devices(stages[1]))
}

func TestBuildExecutionOrderMutualCycle(t *testing.T) {
	stages, err := BuildExecutionOrder([]domain.BatchItem{item("A", "B"), item("B", "A")})
	var cycle *CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Equal(t, []string{"A", "B"}, cycle.Devices)
	assert.Empty(t, stages)
}

func TestBuildExecutionOrderSelfDependencyIsCycle(t *testing.T) {
	_, err := BuildExecutionOrder([]domain.BatchItem{item("A", "A")})
	var cycle *CircularDependencyError
	require.ErrorAs(t, err, &cycle)
}

func TestBuildExecutionOrderTieBreak(t *testing.T) {
	items := []domain.BatchItem{
		{DeviceTarget: "leaf-2"},
		{DeviceTarget: "leaf-1"},
		{DeviceTarget: "spine-1", Priority: 10},
		{DeviceTarget: "edge", DependsOn: []string{"spine-1", "leaf-1", "outside"}},
	}
	stages, err := BuildExecutionOrder(items)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, []string{"spine-1", "leaf-1", "leaf-2"}, devices(stages[0]))
	assert.Equal(t, []string{"edge"}, devices(stages[1]))

	assert.Equal(t, map[string][]string{"edge": {"outside"}}, UnknownDependencies(items))
}

func TestBuildExecutionOrderDuplicateDevice(t *testing.T) {
	_, err := BuildExecutionOrder([]domain.BatchItem{item("A"), item("A")})
	var dup *DuplicateDeviceError
	require.ErrorAs(t, err, &dup)
}

func TestDependentsClosure(t *testing.T) {
	items := []domain.BatchItem{item("A"), item("B", "A"), item("C", "B"), item("D")}
	closure := dependentsClosure(items, map[string]bool{"A": true, "B": true})
	assert.Equal(t, map[string]bool{"B": true, "C": true}, closure)
}

func newSim() *executor.Simulator {
	sim := executor.NewSimulator()
	sim.Latency = func() time.Duration { return 5 * time.Millisecond }
	return sim
}

type memRecorder struct {
	mu      sync.Mutex
	records []domain.ExecutionRecord
}

func (m *memRecorder) Record(records ...domain.ExecutionRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
}

func TestExecuteBatchSkipsDependentsOfFailedDevice(t *testing.T) {
	sim := newSim()
	sim.Fail["A"] = true
	rec := &memRecorder{}
	o := NewOrchestrator(sim, Config{MaxParallel: 2}, rec, nil, zap.NewNop())

	res, err := o.ExecuteBatch(context.Background(), []domain.BatchItem{item("A"), item("B", "A"), item("C")}, permit(3), Options{})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"A", "C"}, sim.Executed())
	b := res.Results["B"]
	assert.True(t, b.Skipped)
	assert.False(t, b.Executed)
	assert.False(t, b.Success)
	assert.Contains(t, b.Error, "dependency A failed")
	assert.False(t, b.RolledBack)

	assert.Equal(t, 3, res.Total)
	assert.Equal(t, 1, res.Succeeded)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, rec.records, 3)
	assert.NotEmpty(t, res.BatchID)
}

func TestExecuteBatchTransitiveSkipAndCascadeRollback(t *testing.T) {
	sim := newSim()
	sim.Unreachable["A"] = true
	o := NewOrchestrator(sim, Config{MaxParallel: 4}, nil, nil, zap.NewNop())

	items := []domain.BatchItem{item("A"), item("B", "A"), item("C", "B"), item("D")}
	res, err := o.ExecuteBatch(context.Background(), items, permit(4), Options{RollbackOnFailure: true})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"A", "D"}, sim.Executed())
	assert.True(t, res.Results["C"].Skipped)
	assert.False(t, res.Results["A"].RolledBack)
	assert.True(t, res.Results["B"].RolledBack)
	assert.True(t, res.Results["C"].RolledBack)
	assert.False(t, res.Results["D"].RolledBack)
	assert.Equal(t, 2, res.RolledBack)
	// пропущенные устройства не выполнялись, поэтому реальных откатов нет
	assert.Empty(t, sim.RolledBack())
	assert.Contains(t, res.Results["A"].Error, "unreachable")
}

func TestExecuteBatchCycleRunsNothing(t *testing.T) {
	sim := newSim()
	o := NewOrchestrator(sim, Config{}, nil, nil, zap.NewNop())

	res, err := o.ExecuteBatch(context.Background(), []domain.BatchItem{item("X"), item("A", "B"), item("B", "A")}, permit(3), Options{})
	var cycle *CircularDependencyError
	require.ErrorAs(t, err, &cycle)
	assert.Nil(t, res)
	assert.Empty(t, sim.Executed())
}

func TestExecuteBatchRequiresPermitProof(t *testing.T) {
	o := NewOrchestrator(newSim(), Config{}, nil, nil, zap.NewNop())
	items := []domain.BatchItem{item("A")}

	_, err := o.ExecuteBatch(context.Background(), items, nil, Options{})
	require.ErrorIs(t, err, ErrProofRequired)

	esc := permit(1)
	esc.Verdict = domain.VerdictEscalate
	_, err = o.ExecuteBatch(context.Background(), items, esc, Options{})
	require.ErrorIs(t, err, ErrProofRequired)

	other := []domain.BatchItem{{DeviceTarget: "A", ToolName: "reload_device"}}
	_, err = o.ExecuteBatch(context.Background(), other, permit(1), Options{})
	require.ErrorIs(t, err, ErrToolMismatch)

	_, err = o.ExecuteBatch(context.Background(), []domain.BatchItem{item("A"), item("B")}, permit(1), Options{})
	require.ErrorIs(t, err, ErrScopeExceeded)
}

func TestExecuteBatchBoundsParallelism(t *testing.T) {
	sim := executor.NewSimulator()
	sim.Latency = func() time.Duration { return 20 * time.Millisecond }
	o := NewOrchestrator(sim, Config{MaxParallel: 2}, nil, nil, zap.NewNop())

	var items []domain.BatchItem
	for _, d := range []string{"a", "b", "c", "d", "e", "f"} {
		items = append(items, item(d))
	}
	res, err := o.ExecuteBatch(context.Background(), items, permit(len(items)), Options{})
	require.NoError(t, err)
	assert.Equal(t, 6, res.Succeeded)
	assert.LessOrEqual(t, sim.MaxInFlight(), 2)
	assert.Len(t, res.Stages, 1)
}

func TestExecuteBatchFailFast(t *testing.T) {
	sim := newSim()
	sim.Fail["A"] = true
	o := NewOrchestrator(sim, Config{}, nil, nil, zap.NewNop())

	// C не зависит от A, но стоит в следующей стадии
	items := []domain.BatchItem{item("A"), item("B"), item("C", "B")}
	res, err := o.ExecuteBatch(context.Background(), items, permit(3), Options{FailFast: true})
	require.NoError(t, err)
	assert.True(t, res.Results["C"].Skipped)
	assert.ElementsMatch(t, []string{"A", "B"}, sim.Executed())
}

func TestExecuteBatchRevertsAppliedFailedDevice(t *testing.T) {
	sim := newSim()
	sim.Fail["B"] = true
	o := NewOrchestrator(sim, Config{MaxParallel: 4}, nil, nil, zap.NewNop())

	items := []domain.BatchItem{item("A"), item("B", "A"), item("C", "B"), item("D", "A")}
	res, err := o.ExecuteBatch(context.Background(), items, permit(4), Options{RollbackOnFailure: true})
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"A"}, {"B", "D"}, {"C"}}, res.Stages)
	assert.ElementsMatch(t, []string{"A", "B", "D"}, sim.Executed())

	// B применил изменение и не прошел проверку: откат через исполнитель
	assert.Equal(t, []string{"B"}, sim.RolledBack())
	assert.True(t, res.Results["B"].RolledBack)
	// C не выполнялся, только помечен
	assert.True(t, res.Results["C"].Skipped)
	assert.True(t, res.Results["C"].RolledBack)
	assert.False(t, res.Results["A"].RolledBack)
	assert.False(t, res.Results["D"].RolledBack)
	assert.Equal(t, 2, res.RolledBack)
	assert.Equal(t, 2, res.Succeeded)
}

func TestExecuteBatchRollbackFailureIsReported(t *testing.T) {
	sim := newSim()
	sim.Fail["A"] = true
	sim.FailRollback["A"] = true
	o := NewOrchestrator(sim, Config{}, nil, nil, zap.NewNop())

	res, err := o.ExecuteBatch(context.Background(), []domain.BatchItem{item("A"), item("B", "A")}, permit(2), Options{RollbackOnFailure: true})
	require.NoError(t, err)

	a := res.Results["A"]
	assert.False(t, a.RolledBack)
	assert.Contains(t, a.Error, "rollback failed")
	assert.Empty(t, sim.RolledBack())
	assert.True(t, res.Results["B"].RolledBack)
	assert.Equal(t, 1, res.RolledBack)
}

func TestExecuteBatchWithoutRollbackOption(t *testing.T) {
	sim := newSim()
	sim.Fail["A"] = true
	o := NewOrchestrator(sim, Config{}, nil, nil, zap.NewNop())

	res, err := o.ExecuteBatch(context.Background(), []domain.BatchItem{item("A"), item("B", "A")}, permit(2), Options{})
	require.NoError(t, err)
	assert.Empty(t, sim.RolledBack())
	assert.Zero(t, res.RolledBack)
}

func TestExecuteBatchValidationFailureMarksDeviceFailed(t *testing.T) {
	sim := newSim()
	sim.Fail["A"] = true
	o := NewOrchestrator(sim, Config{}, nil, nil, zap.NewNop())

	res, err := o.ExecuteBatch(context.Background(), []domain.BatchItem{item("A")}, permit(1), Options{})
	require.NoError(t, err)
	a := res.Results["A"]
	assert.True(t, a.Executed)
	assert.False(t, a.Success)
	require.Len(t, a.ValidationResults, 1)
	assert.False(t, a.ValidationResults[0].Passed)
}
