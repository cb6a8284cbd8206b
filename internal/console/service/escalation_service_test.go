package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/batch"
	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/store"
)

type fakeRunner struct {
	err    error
	calls  int
	items  []domain.BatchItem
	proofs []*domain.EvaluationResult
}

func (f *fakeRunner) ExecuteBatch(_ context.Context, items []domain.BatchItem, proof *domain.EvaluationResult, _ batch.Options) (*domain.BatchResult, error) {
	f.calls++
	f.items = items
	f.proofs = append(f.proofs, proof)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.BatchResult{BatchID: "b1", Total: len(items), Succeeded: len(items)}, nil
}

func seedEscalation(t *testing.T, st *store.MemoryStore, status domain.EscalationStatus) string {
	t.Helper()
	ctx := context.Background()
	err := st.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.InsertAuditEntry(ctx, &domain.AuditLogEntry{ID: "a1", Timestamp: time.Now()}); err != nil {
			return err
		}
		return tx.CreateEscalation(ctx, &domain.EscalationRecord{
			ID:         "e1", AuditID: "a1", AgentID: "agent-1", ToolName: "configure_vlan",
			Parameters: map[string]any{"vlan": 10}, DeviceTargets: []string{"sw1", "sw2"},
			RiskTier:   domain.TierMediumRiskWrite, Status: domain.StatusPending, CreatedAt: time.Now(),
		})
	})
	require.NoError(t, err)
	if status != domain.StatusPending {
		_, err = st.DecideEscalation(ctx, "e1", status, "alice", "ok")
		require.NoError(t, err)
	}
	return "e1"
}

func TestExecuteApprovedBuildsProofFromApproval(t *testing.T) {
	st := store.NewMemoryStore()
	id := seedEscalation(t, st, domain.StatusApproved)
	runner := &fakeRunner{}
	svc := NewEscalationService(st, runner, nil, zap.NewNop())

	res, err := svc.ExecuteApproved(context.Background(), id, "bob", batch.Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Succeeded)

	require.Len(t, runner.items, 2)
	assert.Equal(t, "configure_vlan", runner.items[0].ToolName)
	assert.EqualValues(t, 10, runner.items[1].Parameters["vlan"])

	proof := runner.proofs[0]
	assert.Equal(t, domain.VerdictPermit, proof.Verdict)
	assert.Equal(t, 2, proof.DeviceCount)
	assert.Equal(t, "e1", proof.EscalationID)
	assert.Equal(t, "a1", proof.AuditID)
	assert.Equal(t, "approved by alice", proof.Reason)

	_, err = svc.ExecuteApproved(context.Background(), id, "bob", batch.Options{})
	assert.ErrorIs(t, err, ErrExecutionClaimed)
	assert.Equal(t, 1, runner.calls)
}

func TestReplayItemsKeepsStoredGraph(t *testing.T) {
	rec := &domain.EscalationRecord{
		ToolName:      "configure_vlan",
		Parameters:    map[string]any{"vlan": 20},
		DeviceTargets: []string{"core1", "dist1"},
		BatchItems: []domain.BatchItem{
			{DeviceTarget: "core1", ToolName: "configure_vlan", Priority: 5},
			{DeviceTarget: "dist1", ToolName: "CONFIGURE_VLAN", DependsOn: []string{"core1"}},
		},
	}

	items := replayItems(rec)
	require.Len(t, items, 2)
	assert.Equal(t, 5, items[0].Priority)
	assert.Equal(t, []string{"core1"}, items[1].DependsOn)
	for _, it := range items {
		assert.Equal(t, "configure_vlan", it.ToolName)
		assert.EqualValues(t, 20, it.Parameters["vlan"])
	}
	// сохраненный граф не меняется
	assert.Equal(t, "CONFIGURE_VLAN", rec.BatchItems[1].ToolName)

	rec.BatchItems = nil
	flat := replayItems(rec)
	require.Len(t, flat, 2)
	assert.Empty(t, flat[1].DependsOn)
}

func TestExecuteApprovedReleasesClaimWhenNothingRan(t *testing.T) {
	st := store.NewMemoryStore()
	id := seedEscalation(t, st, domain.StatusApproved)
	runner := &fakeRunner{err: &batch.CircularDependencyError{Devices: []string{"sw1"}}}
	svc := NewEscalationService(st, runner, nil, zap.NewNop())

	_, err := svc.ExecuteApproved(context.Background(), id, "bob", batch.Options{})
	var cycle *batch.CircularDependencyError
	require.True(t, errors.As(err, &cycle))

	runner.err = nil
	_, err = svc.ExecuteApproved(context.Background(), id, "bob", batch.Options{})
	assert.NoError(t, err)
}

func TestExecuteRequiresApproval(t *testing.T) {
	for _, status := range []domain.EscalationStatus{domain.StatusPending, domain.StatusRejected} {
		st := store.NewMemoryStore()
		id := seedEscalation(t, st, status)
		svc := NewEscalationService(st, &fakeRunner{}, nil, zap.NewNop())

		_, err := svc.ExecuteApproved(context.Background(), id, "bob", batch.Options{})
		assert.ErrorIs(t, err, domain.ErrNotApproved, status)
	}
}

func TestDecideOnce(t *testing.T) {
	st := store.NewMemoryStore()
	id := seedEscalation(t, st, domain.StatusPending)
	svc := NewEscalationService(st, &fakeRunner{}, nil, zap.NewNop())

	rec, err := svc.Decide(context.Background(), id, false, "carol", "too risky")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusRejected, rec.Status)

	_, err = svc.Decide(context.Background(), id, true, "dave", "")
	assert.ErrorIs(t, err, domain.ErrAlreadyProcessed)

	_, err = svc.List(context.Background(), "SOMETIMES")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}
