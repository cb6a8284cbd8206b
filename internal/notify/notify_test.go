package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/netops-governor/internal/domain"
)

type recordingNotifier struct {
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestSlack_PostsWebhook(t *testing.T) {
	var got slackMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := NewSlack(srv.URL, 0).Notify(context.Background(), Event{
		ToolName: "set_vlan", Verdict: domain.VerdictEscalate, RiskTier: domain.TierMediumRiskWrite,
		Devices:  []string{"sw1", "sw2"}, Reason: "device count 4 exceeds escalate threshold 3", EscalationID: "e1",
	})
	require.NoError(t, err)
	assert.Contains(t, got.Text, "*ESCALATE* `set_vlan`")
	assert.Contains(t, got.Text, "devices=sw1,sw2")
	assert.Contains(t, got.Text, "escalation: e1")
}

func TestSlack_Non2xxIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewSlack(srv.URL, 0).Notify(context.Background(), Event{Verdict: domain.VerdictBlock})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestFanout_SwallowsErrors(t *testing.T) {
	failing := &recordingNotifier{err: errors.New("down")}
	ok := &recordingNotifier{}
	f := NewFanout(zap.NewNop(), failing, nil, ok)

	assert.NoError(t, f.Notify(context.Background(), Event{AuditID: "a1"}))
	assert.Len(t, failing.events, 1)
	assert.Len(t, ok.events, 1)
}

func TestRedis_NilClientIsNoop(t *testing.T) {
	assert.NoError(t, NewRedis(nil).Notify(context.Background(), Event{}))
}

func TestFromResult(t *testing.T) {
	ev := FromResult(
		domain.EvaluationRequest{ToolName: "set_vlan", AgentID: "agent-1", DeviceTargets: []string{"sw1"}},
		&domain.EvaluationResult{Verdict: domain.VerdictEscalate, AuditID: "a1", EscalationID: "e1"},
	)
	assert.Equal(t, "agent-1", ev.AgentID)
	assert.Equal(t, "a1", ev.AuditID)
	assert.Equal(t, "e1", ev.EscalationID)
	assert.True(t, ShouldNotify(ev.Verdict))
	assert.False(t, ShouldNotify(domain.VerdictPermit))
}
