package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
	"github.com/xela07ax/netops-governor/internal/policy"
	"github.com/xela07ax/netops-governor/internal/store"
)

const basePolicy = `
version: "2026.1"
risk_tiers:
  read:
    description: read only
    default_verdict: PERMIT
    examples: [show_version, show_interfaces]
  low_risk_write:
    description: cosmetic
    default_verdict: PERMIT
    requires_audit: true
    examples: [set_description]
  medium_risk_write:
    description: service affecting
    default_verdict: PERMIT
    requires_audit: true
    examples: [configure_vlan]
  high_risk_write:
    description: routing
    default_verdict: ESCALATE
    requires_audit: true
    requires_senior_approval: true
    examples: [configure_bgp]
  critical:
    description: outage risk
    default_verdict: BLOCK
    requires_audit: true
    requires_senior_approval: true
    examples: [reload_device]
confidence_thresholds:
  read: 0.1
  low_risk_write: 0.6
  medium_risk_write: 0.75
  high_risk_write: 0.9
  critical: 0.99
eas_modulation:
  enabled: true
  max_threshold_reduction: 0.1
  min_eas_for_modulation: 0.2
scope_limits:
  max_devices: 20
  escalate_above: 3
hard_rules:
  blocked_tools: [factory_reset, delete_all_vlans]
tag_rules:
  - match: frozen
    verdict: BLOCK
    applies_to: all
    reason: change freeze in effect
dynamic_confidence:
  max_criticality_increase: 0.2
  max_history_bonus: 0.05
  history_window_days: 30
default_tier_for_unknown: high_risk_write
`

func newTestEngine(t *testing.T, eas float64, opts ...Option) (*Engine, *store.MemoryStore) {
	t.Helper()
	ms := store.NewMemoryStore()
	e, err := New(Config{AgentScope: "agent-1", InitialEAS: eas}, ms, zap.NewNop(), opts...)
	require.NoError(t, err)
	_, err = e.Reload(context.Background(), []byte(basePolicy), "test")
	require.NoError(t, err)
	return e, ms
}

func readRequest(confidence float64) domain.EvaluationRequest {
	return domain.EvaluationRequest{
		ToolName:        "show_version",
		DeviceTargets:   []string{"r1"},
		ConfidenceScore: confidence,
	}
}

func TestEvaluateHardBlockIgnoresConfidenceAndEAS(t *testing.T) {
	e, ms := newTestEngine(t, 1.0)

	for _, tool := range []string{"factory_reset", "  FACTORY_RESET ", "delete_all_vlans"} {
		res := e.Evaluate(context.Background(), domain.EvaluationRequest{
			ToolName:        tool,
			DeviceTargets:   []string{"r1"},
			ConfidenceScore: 1.0,
		})
		assert.Equal(t, domain.VerdictBlock, res.Verdict, tool)
		assert.Equal(t, policy.ReasonHardBlocked, res.Reason)
		assert.NotEmpty(t, res.AuditID)
	}
	assert.Len(t, ms.AuditEntries(), 3)
}

func TestEvaluateScopeEscalatesEvenAtHighConfidence(t *testing.T) {
	e, ms := newTestEngine(t, 0)

	req := readRequest(0.99)
	req.DeviceTargets = []string{"r1", "r2", "r3", "r4", "r5"}
	res := e.Evaluate(context.Background(), req)

	assert.Equal(t, domain.VerdictEscalate, res.Verdict)
	assert.Contains(t, res.Reason, "scope")
	assert.Equal(t, 5, res.DeviceCount)
	require.NotEmpty(t, res.EscalationID)

	esc, err := ms.GetEscalation(context.Background(), res.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, res.AuditID, esc.AuditID)
	assert.Equal(t, domain.StatusPending, esc.Status)
	assert.Equal(t, req.DeviceTargets, esc.DeviceTargets)
}

func TestEvaluateMaxDevicesBlocks(t *testing.T) {
	e, _ := newTestEngine(t, 0)

	req := readRequest(1)
	for i := 0; i < 21; i++ {
		req.DeviceTargets = append(req.DeviceTargets, "sw"+string(rune('a'+i)))
	}
	res := e.Evaluate(context.Background(), req)
	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Contains(t, res.Reason, "max_devices")
	assert.Empty(t, res.EscalationID)
}

func TestEvaluateAuditFailureForcesBlock(t *testing.T) {
	e, ms := newTestEngine(t, 0)

	// без сбоя тот же запрос разрешен
	require.Equal(t, domain.VerdictPermit, e.Evaluate(context.Background(), readRequest(1)).Verdict)

	ms.FailWrites = errors.New("connection refused")
	res := e.Evaluate(context.Background(), readRequest(1))

	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Equal(t, ReasonAuditFailure, res.Reason)
	assert.Empty(t, res.AuditID)
	last := res.MatchedRules[len(res.MatchedRules)-1]
	assert.Equal(t, "fail_safe", last.Source)
	assert.Contains(t, last.Value, "connection refused")
}

func TestEvaluateAuditFailureDropsEscalation(t *testing.T) {
	e, ms := newTestEngine(t, 0)
	ms.FailWrites = errors.New("tx aborted")

	req := readRequest(1)
	req.DeviceTargets = []string{"a", "b", "c", "d"}
	res := e.Evaluate(context.Background(), req)

	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Empty(t, res.EscalationID)
	list, err := ms.ListEscalations(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestEvaluateEASModulatedReadThreshold(t *testing.T) {
	e, _ := newTestEngine(t, 0.5)

	res := e.Evaluate(context.Background(), readRequest(0.05))
	assert.Equal(t, domain.VerdictPermit, res.Verdict)
	assert.InDelta(t, 0.05, res.Threshold, 1e-12)

	res = e.Evaluate(context.Background(), readRequest(0.04))
	assert.Equal(t, domain.VerdictEscalate, res.Verdict)
	assert.Contains(t, res.Reason, "below threshold")
	assert.NotEmpty(t, res.EscalationID)
}

func TestEvaluateTierDefaults(t *testing.T) {
	e, _ := newTestEngine(t, 0)

	cases := []struct {
		tool    string
		tier    domain.RiskTier
		verdict domain.Verdict
	}{
		{"set_description", domain.TierLowRiskWrite, domain.VerdictPermit},
		{"configure_bgp", domain.TierHighRiskWrite, domain.VerdictEscalate},
		{"reload_device", domain.TierCritical, domain.VerdictBlock},
		{"unknown_tool", domain.TierHighRiskWrite, domain.VerdictEscalate},
	}
	for _, tc := range cases {
		res := e.Evaluate(context.Background(), domain.EvaluationRequest{
			ToolName:        tc.tool,
			DeviceTargets:   []string{"r1"},
			ConfidenceScore: 1.0,
		})
		assert.Equal(t, tc.tier, res.RiskTier, tc.tool)
		assert.Equal(t, tc.verdict, res.Verdict, tc.tool)
	}
}

func TestEvaluateContextRuleShortCircuits(t *testing.T) {
	e, _ := newTestEngine(t, 0)

	req := readRequest(1)
	req.Context = map[string]any{domain.ContextDeviceTags: []any{"core", "FROZEN"}}
	res := e.Evaluate(context.Background(), req)

	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Equal(t, "change freeze in effect", res.Reason)
	require.NotEmpty(t, res.MatchedRules)
	assert.Equal(t, "tag", res.MatchedRules[0].Source)
}

func TestEvaluateMalformedContextFailsSafe(t *testing.T) {
	e, _ := newTestEngine(t, 0)

	req := readRequest(1)
	req.Context = map[string]any{domain.ContextDeviceTags: 42}
	res := e.Evaluate(context.Background(), req)

	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Equal(t, policy.ReasonEvalFailure, res.Reason)
}

func TestEvaluateInvalidRequestIsAuditedBlock(t *testing.T) {
	e, ms := newTestEngine(t, 0)

	res := e.Evaluate(context.Background(), domain.EvaluationRequest{ToolName: "show_version", ConfidenceScore: 1.5})
	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Contains(t, res.Reason, "confidence_score")
	assert.Len(t, ms.AuditEntries(), 1)
}

func TestEvaluateBatchGraphMustMatchTargets(t *testing.T) {
	e, ms := newTestEngine(t, 0)

	req := readRequest(1)
	req.Batch = []domain.BatchItem{{DeviceTarget: "r9", ToolName: "show_version"}}
	res := e.Evaluate(context.Background(), req)
	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Contains(t, res.Reason, "r9")
	assert.Len(t, ms.AuditEntries(), 1)
}

func TestEvaluateEscalationStoresBatchGraph(t *testing.T) {
	e, ms := newTestEngine(t, 0)

	req := readRequest(0.99)
	req.DeviceTargets = []string{"r1", "r2", "r3", "r4", "r5"}
	for i, d := range req.DeviceTargets {
		it := domain.BatchItem{DeviceTarget: d, ToolName: req.ToolName}
		if i > 0 {
			it.DependsOn = []string{"r1"}
		}
		req.Batch = append(req.Batch, it)
	}
	res := e.Evaluate(context.Background(), req)
	require.Equal(t, domain.VerdictEscalate, res.Verdict)

	esc, err := ms.GetEscalation(context.Background(), res.EscalationID)
	require.NoError(t, err)
	require.Len(t, esc.BatchItems, 5)
	assert.Equal(t, []string{"r1"}, esc.BatchItems[4].DependsOn)
}

func TestEvaluateWithoutPolicyBlocks(t *testing.T) {
	ms := store.NewMemoryStore()
	e, err := New(Config{}, ms, zap.NewNop())
	require.NoError(t, err)

	res := e.Evaluate(context.Background(), readRequest(1))
	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Equal(t, ReasonNoPolicy, res.Reason)
	assert.Len(t, ms.AuditEntries(), 1)
}

type failingOverrides struct{}

func (failingOverrides) ListActiveOverrides(context.Context, string) ([]domain.AgentPolicyOverride, error) {
	return nil, policy.ErrOverrideCacheCold
}

func TestEvaluateOverrideReadFailureFailsSafe(t *testing.T) {
	e, _ := newTestEngine(t, 0, WithOverrides(failingOverrides{}))

	req := readRequest(1)
	req.AgentID = "agent-7"
	res := e.Evaluate(context.Background(), req)
	assert.Equal(t, domain.VerdictBlock, res.Verdict)
	assert.Equal(t, policy.ReasonEvalFailure, res.Reason)

	// без агента overrides не читаются
	assert.Equal(t, domain.VerdictPermit, e.Evaluate(context.Background(), readRequest(1)).Verdict)
}

func TestEvaluateAgentOverrideTightens(t *testing.T) {
	e, ms := newTestEngine(t, 0)
	require.NoError(t, ms.CreateOverride(context.Background(), &domain.AgentPolicyOverride{
		ID:       "o1",
		AgentID:  "agent-7",
		RuleType: domain.OverrideTool,
		Rule:     []byte(`{"value":"show_version","verdict":"ESCALATE","reason":"agent-7 reads need review"}`),
		Active:   true,
	}))

	req := readRequest(1)
	req.AgentID = "agent-7"
	res := e.Evaluate(context.Background(), req)
	assert.Equal(t, domain.VerdictEscalate, res.Verdict)
	assert.Equal(t, "agent-7 reads need review", res.Reason)
}

func TestEvaluateRestrictions(t *testing.T) {
	ks := NewKillSwitchManager(nil, nil, zap.NewNop())
	qm := NewQuarantineManager(nil, nil, zap.NewNop())
	e, _ := newTestEngine(t, 1, WithRestrictions(ks, qm))

	ks.Set("rogue", true)
	qm.Set("suspect", true)

	req := readRequest(1)
	req.AgentID = "rogue"
	assert.Equal(t, domain.VerdictBlock, e.Evaluate(context.Background(), req).Verdict)

	req.AgentID = "suspect"
	res := e.Evaluate(context.Background(), req)
	assert.Equal(t, domain.VerdictEscalate, res.Verdict)
	assert.Contains(t, res.Reason, "quarantined")

	qm.Set("suspect", false)
	assert.Equal(t, domain.VerdictPermit, e.Evaluate(context.Background(), req).Verdict)
}

type stubEnricher struct {
	facts map[string]any
	err   error
}

func (s stubEnricher) Enrich(context.Context, domain.EvaluationRequest) (map[string]any, error) {
	return s.facts, s.err
}

func TestEvaluateEnrichmentFailureIsConservative(t *testing.T) {
	ok, _ := newTestEngine(t, 0, WithEnricher(stubEnricher{facts: map[string]any{}}))
	res := ok.Evaluate(context.Background(), readRequest(0.2))
	assert.Equal(t, domain.VerdictPermit, res.Verdict)
	assert.InDelta(t, 0.1, res.Threshold, 1e-12)

	down, _ := newTestEngine(t, 0, WithEnricher(stubEnricher{err: errors.New("inventory timeout")}))
	res = down.Evaluate(context.Background(), readRequest(0.2))
	assert.Equal(t, domain.VerdictEscalate, res.Verdict)
	assert.InDelta(t, 0.3, res.Threshold, 1e-12)
}

func TestDeviceCriticality(t *testing.T) {
	assert.Equal(t, 0.0, deviceCriticality(map[string]any{}, nil))
	assert.Equal(t, 0.5, deviceCriticality(map[string]any{domain.ContextDeviceCriticality: 0.5}, nil))
	assert.Equal(t, 1.0, deviceCriticality(map[string]any{domain.ContextDeviceCriticality: 7}, nil))
	assert.Equal(t, 0.0, deviceCriticality(map[string]any{domain.ContextDeviceCriticality: -3.0}, nil))
	assert.Equal(t, 0.25, deviceCriticality(map[string]any{domain.ContextDeviceCriticality: "0.25"}, nil))
	assert.Equal(t, 1.0, deviceCriticality(map[string]any{domain.ContextDeviceCriticality: "high"}, nil))
	assert.Equal(t, 1.0, deviceCriticality(map[string]any{domain.ContextDeviceCriticality: true}, nil))
	assert.Equal(t, 1.0, deviceCriticality(nil, errors.New("down")))
}

func TestHistoryFactorLowersThreshold(t *testing.T) {
	e, _ := newTestEngine(t, 0)

	req := readRequest(1)
	req.AgentID = "agent-9"
	for i := 0; i < 3; i++ {
		require.Equal(t, domain.VerdictPermit, e.Evaluate(context.Background(), req).Verdict)
	}
	res := e.Evaluate(context.Background(), req)
	assert.InDelta(t, 0.05, res.Threshold, 1e-12)
}

func TestSetEAS(t *testing.T) {
	e, ms := newTestEngine(t, 0.3)

	err := e.SetEAS(context.Background(), 1.5, "ops", "too much")
	require.ErrorIs(t, err, domain.ErrInvalidEAS)
	assert.Equal(t, 0.3, e.GetEAS())

	require.NoError(t, e.SetEAS(context.Background(), 0.8, "ops", "promotion"))
	assert.Equal(t, 0.8, e.GetEAS())

	hist, err := ms.EASHistory(context.Background(), "agent-1", e.clock().AddDate(0, 0, -1))
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, 0.8, hist[0].Value)
	assert.Equal(t, "ops", hist[0].Actor)

	ms.FailWrites = errors.New("down")
	require.Error(t, e.SetEAS(context.Background(), 0.1, "ops", "demotion"))
	assert.Equal(t, 0.8, e.GetEAS())
}

func TestNewRejectsInvalidInitialEAS(t *testing.T) {
	_, err := New(Config{InitialEAS: -0.1}, store.NewMemoryStore(), zap.NewNop())
	require.ErrorIs(t, err, domain.ErrInvalidEAS)
}

func TestReloadRollbackRoundTrip(t *testing.T) {
	e, ms := newTestEngine(t, 0)
	ctx := context.Background()

	original, _, ok := e.ActivePolicy()
	require.True(t, ok)
	versions, err := ms.ListPolicyVersions(ctx, 0)
	require.NoError(t, err)
	require.Len(t, versions, 1)
	first := versions[0]
	assert.Empty(t, first.Diff)

	next := strings.Replace(basePolicy, "escalate_above: 3", "escalate_above: 10", 1)
	v2, err := e.Reload(ctx, []byte(next), "alice")
	require.NoError(t, err)
	assert.Contains(t, v2.Diff, "-  escalate_above: 3")
	assert.Contains(t, v2.Diff, "+  escalate_above: 10")
	assert.NotEqual(t, first.ContentHash, v2.ContentHash)

	v3, err := e.Rollback(ctx, first.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, original.Hash, v3.ContentHash)
	require.NotNil(t, v3.RolledBackFrom)
	assert.Equal(t, first.ID, *v3.RolledBackFrom)
	assert.NotEqual(t, first.ID, v3.ID)

	active, activeID, _ := e.ActivePolicy()
	assert.Equal(t, original.Hash, active.Hash)
	assert.Equal(t, v3.ID, activeID)

	versions, err = ms.ListPolicyVersions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, versions, 3)
}

func TestReloadInvalidKeepsActive(t *testing.T) {
	e, ms := newTestEngine(t, 0)
	before, beforeID, _ := e.ActivePolicy()

	broken := strings.Replace(basePolicy, "  critical:\n    description: outage risk", "  bogus:\n    description: outage risk", 1)
	_, err := e.Reload(context.Background(), []byte(broken), "alice")
	require.Error(t, err)

	after, afterID, _ := e.ActivePolicy()
	assert.Same(t, before, after)
	assert.Equal(t, beforeID, afterID)

	ms.FailWrites = errors.New("down")
	_, err = e.Reload(context.Background(), []byte(strings.Replace(basePolicy, `"2026.1"`, `"2026.2"`, 1)), "alice")
	require.Error(t, err)
	after, _, _ = e.ActivePolicy()
	assert.Same(t, before, after)
}

func TestRollbackUnknownVersion(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	_, err := e.Rollback(context.Background(), "missing", "bob")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

type recordingPublisher struct {
	mu  sync.Mutex
	ids []string
}

func (p *recordingPublisher) PublishPolicyVersion(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ids = append(p.ids, id)
	return errors.New("redis unavailable")
}

func TestReloadPublishesAndIgnoresBroadcastErrors(t *testing.T) {
	pub := &recordingPublisher{}
	e, _ := newTestEngine(t, 0, WithPublisher(pub))
	_, id, _ := e.ActivePolicy()
	assert.Equal(t, []string{id}, pub.ids)
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(basePolicy), 0o600))

	ms := store.NewMemoryStore()
	e, err := New(Config{}, ms, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, e.Bootstrap(ctx, path))
	_, firstID, ok := e.ActivePolicy()
	require.True(t, ok)

	// второй инстанс поднимает ту же версию без новой строки
	other, err := New(Config{}, ms, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, other.Bootstrap(ctx, path))
	_, otherID, _ := other.ActivePolicy()
	assert.Equal(t, firstID, otherID)

	versions, err := ms.ListPolicyVersions(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestEvaluateConcurrentWithReload(t *testing.T) {
	e, _ := newTestEngine(t, 0)
	ctx := context.Background()
	next := strings.Replace(basePolicy, "escalate_above: 3", "escalate_above: 10", 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				res := e.Evaluate(ctx, readRequest(1))
				assert.Equal(t, domain.VerdictPermit, res.Verdict)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		src := basePolicy
		if i%2 == 0 {
			src = next
		}
		_, err := e.Reload(ctx, []byte(src), "loop")
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestParseStateSignal(t *testing.T) {
	id, on, ok := ParseStateSignal("team:agent-1:on")
	assert.True(t, ok)
	assert.True(t, on)
	assert.Equal(t, "team:agent-1", id)

	id, on, ok = ParseStateSignal(StateSignal("a2", false))
	assert.True(t, ok)
	assert.False(t, on)
	assert.Equal(t, "a2", id)

	for _, bad := range []string{"", "a2", ":on", "a2:", "a2:maybe"} {
		_, _, ok := ParseStateSignal(bad)
		assert.False(t, ok, bad)
	}
}

func TestParsePolicyUpdate(t *testing.T) {
	origin, id, ok := parsePolicyUpdate("node-a:1234")
	assert.True(t, ok)
	assert.Equal(t, "node-a", origin)
	assert.Equal(t, "1234", id)

	_, _, ok = parsePolicyUpdate("garbage")
	assert.False(t, ok)
}

func TestActivateVersion(t *testing.T) {
	e, ms := newTestEngine(t, 0)
	ctx := context.Background()
	_, firstID, _ := e.ActivePolicy()
	_, err := e.Reload(ctx, []byte(strings.Replace(basePolicy, `"2026.1"`, `"2026.2"`, 1)), "alice")
	require.NoError(t, err)

	require.NoError(t, e.ActivateVersion(ctx, firstID))
	active, id, _ := e.ActivePolicy()
	assert.Equal(t, firstID, id)
	assert.Equal(t, "2026.1", active.Document.Version)

	versions, _ := ms.ListPolicyVersions(ctx, 0)
	assert.Len(t, versions, 2)
	require.Error(t, e.ActivateVersion(ctx, "missing"))
}

func TestSetDiff(t *testing.T) {
	stale, missing := setDiff([]string{"a", "b", "x"}, []string{"a", "b", "c"})
	assert.Equal(t, []string{"x"}, stale)
	assert.Equal(t, []string{"c"}, missing)

	stale, missing = setDiff(nil, nil)
	assert.Empty(t, stale)
	assert.Empty(t, missing)
}

func TestRestrictionInitWithoutRedis(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.SetAgentRestriction(context.Background(), "rogue", domain.RestrictionKillSwitch, true, "test"))

	ks := NewKillSwitchManager(nil, st, zap.NewNop())
	require.NoError(t, ks.Init(context.Background()))
	assert.True(t, ks.Contains("rogue"))
	assert.False(t, ks.Contains("other"))
}
