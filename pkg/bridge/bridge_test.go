package bridge

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-agents/lighthouse/pkg/auth"
	"github.com/lighthouse-agents/lighthouse/pkg/config"
	"github.com/lighthouse-agents/lighthouse/pkg/elicitation"
	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/eventstore"
	"github.com/lighthouse-agents/lighthouse/pkg/validation"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func newTestBridge(t *testing.T, mutate func(*config.Config)) *Bridge {
	t.Helper()
	cfg, err := config.Parse([]byte("auth_secret: " + testSecret + "\n"))
	require.NoError(t, err)
	cfg.DataDir = t.TempDir()
	cfg.ExpertTimeoutS = 1
	if mutate != nil {
		mutate(cfg)
	}
	b, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func newSession(t *testing.T, b *Bridge, agentID string, role auth.Role) *auth.Session {
	t.Helper()
	require.NoError(t, b.RegisterAgent(agentID, role))
	sess, err := b.CreateSession(context.Background(), agentID, "127.0.0.1", "test")
	require.NoError(t, err)
	return sess
}

// serveExpert answers every routed escalation with a fixed ruling until
// ctx ends.
func serveExpert(ctx context.Context, b *Bridge, token, agentID string, decision validation.Decision, reason string) {
	for {
		esc, err := b.NextEscalation(ctx, token, agentID)
		if err != nil {
			return
		}
		_ = b.SubmitDecision(ctx, token, agentID, esc.EscalationID, decision, validation.ConfidenceHigh, reason)
	}
}

func commandEvents(t *testing.T, b *Bridge, token, agentID string) []*event.Event {
	t.Helper()
	res, err := b.QueryEvents(context.Background(), token, agentID, eventstore.Query{
		Filter: eventstore.Filter{EventTypes: []event.Type{
			event.TypeCommandReceived,
			event.TypeCommandValidated,
			event.TypeCommandBlocked,
		}},
		Limit: 100,
	})
	require.NoError(t, err)
	return res.Events
}

func TestSafeReadCommand(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()
	sess := newSession(t, b, "alice", auth.RoleAgent)

	res, err := b.ValidateCommand(ctx, sess.Token, "alice", "Read",
		map[string]any{"file_path": "/tmp/notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, validation.DecisionApproved, res.Decision)
	assert.Equal(t, "policy", res.Tier)
	assert.False(t, res.ExpertRequired)

	events := commandEvents(t, b, sess.Token, "alice")
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeCommandReceived, events[0].EventType)
	assert.Equal(t, event.TypeCommandValidated, events[1].EventType)
	assert.Less(t, events[0].Sequence, events[1].Sequence)
}

func TestDestructiveCommandBlocked(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()
	sess := newSession(t, b, "alice", auth.RoleAgent)

	res, err := b.ValidateCommand(ctx, sess.Token, "alice", "Bash",
		map[string]any{"command": "rm -rf /"})
	require.NoError(t, err)
	assert.Equal(t, validation.DecisionBlocked, res.Decision)
	assert.Equal(t, validation.RiskCritical, res.RiskLevel)

	events := commandEvents(t, b, sess.Token, "alice")
	require.Len(t, events, 2)
	assert.Equal(t, event.TypeCommandBlocked, events[1].EventType)
	assert.Equal(t, "critical", events[1].Data["risk_level"])
}

func TestEscalationServedAndCached(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	expertSess := newSession(t, b, "bob", auth.RoleExpert)
	_, err := b.RegisterExpert(ctx, expertSess.Token, "bob", []string{"validation"}, 4)
	require.NoError(t, err)
	go serveExpert(ctx, b, expertSess.Token, "bob", validation.DecisionApproved, "reviewed by bob")

	alice := newSession(t, b, "alice", auth.RoleAgent)
	input := map[string]any{"command": "ssh host rm file"}
	res, err := b.ValidateCommand(ctx, alice.Token, "alice", "Bash", input)
	require.NoError(t, err)
	assert.Equal(t, validation.DecisionApproved, res.Decision)
	assert.Equal(t, "expert", res.Tier)
	assert.True(t, res.ExpertRequired)
	assert.Contains(t, res.ExpertIDs, "bob")

	// Another agent with the same role shares the fingerprint and hits
	// the cached ruling without a second escalation.
	carol := newSession(t, b, "carol", auth.RoleAgent)
	res2, err := b.ValidateCommand(ctx, carol.Token, "carol", "Bash", input)
	require.NoError(t, err)
	assert.Equal(t, validation.DecisionApproved, res2.Decision)
	assert.True(t, res2.CacheHit)
}

func TestExpertTimeoutBlocksAndIsNotCached(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()

	expertSess := newSession(t, b, "bob", auth.RoleExpert)
	_, err := b.RegisterExpert(ctx, expertSess.Token, "bob", []string{"validation"}, 4)
	require.NoError(t, err)
	// bob never polls, so the escalation times out.

	alice := newSession(t, b, "alice", auth.RoleAgent)
	input := map[string]any{"command": "ssh host rm file"}
	res, err := b.ValidateCommand(ctx, alice.Token, "alice", "Bash", input)
	require.NoError(t, err)
	assert.Equal(t, validation.DecisionBlocked, res.Decision)
	assert.Contains(t, res.Reason, "expert timeout")

	// Fail-closed rulings are never cached; the next attempt escalates
	// again instead of replaying the block.
	res2, err := b.ValidateCommand(ctx, alice.Token, "alice", "Bash", input)
	require.NoError(t, err)
	assert.False(t, res2.CacheHit)
}

func TestElicitationRoundTrip(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()
	alice := newSession(t, b, "alice", auth.RoleAgent)
	bob := newSession(t, b, "bob", auth.RoleAgent)

	schema := map[string]any{"type": "object", "required": []any{"answer"}}
	el, err := b.CreateElicitation(ctx, alice.Token, "alice", "bob",
		"what is the answer?", schema, time.Minute)
	require.NoError(t, err)

	done := make(chan *elicitation.Elicitation, 1)
	go func() {
		res, aerr := b.AwaitElicitation(ctx, alice.Token, "alice", el.ElicitationID)
		assert.NoError(t, aerr)
		done <- res
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, b.RespondToElicitation(ctx, bob.Token, "bob", el.ElicitationID,
		elicitation.ResponseAccept, map[string]any{"answer": "42"}))

	res := <-done
	assert.Equal(t, elicitation.StatusAccepted, res.Status)
	assert.Equal(t, "42", res.ResponseData["answer"])

	page, err := b.QueryEvents(ctx, alice.Token, "alice", eventstore.Query{
		Filter: eventstore.Filter{EventTypes: []event.Type{
			event.TypeElicitationCreated,
			event.TypeElicitationResponded,
		}},
		Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, page.Events, 2)
	assert.Equal(t, event.TypeElicitationCreated, page.Events[0].EventType)
	assert.Equal(t, event.TypeElicitationResponded, page.Events[1].EventType)
}

func TestElicitationImpersonationRejected(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()
	alice := newSession(t, b, "alice", auth.RoleAgent)
	newSession(t, b, "bob", auth.RoleAgent)
	mallory := newSession(t, b, "mallory", auth.RoleAgent)

	el, err := b.CreateElicitation(ctx, alice.Token, "alice", "bob", "q", nil, time.Minute)
	require.NoError(t, err)

	before := b.SecurityIncidents()
	err = b.RespondToElicitation(ctx, mallory.Token, "mallory", el.ElicitationID,
		elicitation.ResponseAccept, nil)
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))
	assert.Equal(t, before+1, b.SecurityIncidents())
	assert.Equal(t, before+1, b.GetHealth().SecurityIncidents)

	got, err := b.GetElicitation(ctx, alice.Token, "alice", el.ElicitationID)
	require.NoError(t, err)
	assert.Equal(t, elicitation.StatusPending, got.Status)

	page, err := b.QueryEvents(ctx, alice.Token, "alice", eventstore.Query{
		Filter: eventstore.Filter{EventTypes: []event.Type{event.TypeElicitationResponded}},
		Limit:  10,
	})
	require.NoError(t, err)
	assert.Empty(t, page.Events)
}

func TestAwaitCancellationCancelsElicitation(t *testing.T) {
	b := newTestBridge(t, nil)
	alice := newSession(t, b, "alice", auth.RoleAgent)
	newSession(t, b, "bob", auth.RoleAgent)

	el, err := b.CreateElicitation(context.Background(), alice.Token, "alice", "bob",
		"q", nil, time.Minute)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	res, err := b.AwaitElicitation(ctx, alice.Token, "alice", el.ElicitationID)
	require.Error(t, err)
	assert.Equal(t, KindCancellation, KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, elicitation.StatusCancelled, res.Status)
}

func TestOnlyCreatorMayAwait(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()
	alice := newSession(t, b, "alice", auth.RoleAgent)
	bob := newSession(t, b, "bob", auth.RoleAgent)

	el, err := b.CreateElicitation(ctx, alice.Token, "alice", "bob", "q", nil, time.Minute)
	require.NoError(t, err)

	_, err = b.AwaitElicitation(ctx, bob.Token, "bob", el.ElicitationID)
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))
}

func TestAuthErrorKinds(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()

	// Forged token.
	_, err := b.ValidateCommand(ctx, "a:b:1:forged", "alice", "Read", nil)
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))

	// Guests are read-only.
	guest := newSession(t, b, "peek", auth.RoleGuest)
	_, err = b.AppendEvent(ctx, guest.Token, "peek", &event.Event{
		EventType:   event.TypeShadowUpdated,
		AggregateID: "project:x",
		SourceAgent: "peek",
	})
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))

	// Guests cannot elicit.
	_, err = b.CreateElicitation(ctx, guest.Token, "peek", "bob", "q", nil, time.Minute)
	require.Error(t, err)
	assert.Equal(t, KindAuthorization, KindOf(err))

	// Token bound to another agent.
	alice := newSession(t, b, "alice", auth.RoleAgent)
	_, err = b.ValidateCommand(ctx, alice.Token, "mallory", "Read", nil)
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestEndSessionRevokes(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()
	alice := newSession(t, b, "alice", auth.RoleAgent)

	require.NoError(t, b.EndSession(ctx, alice.Token, "alice"))
	_, err := b.ValidateCommand(ctx, alice.Token, "alice", "Read", nil)
	require.Error(t, err)
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestHealthReport(t *testing.T) {
	b := newTestBridge(t, nil)
	ctx := context.Background()
	alice := newSession(t, b, "alice", auth.RoleAgent)
	expertSess := newSession(t, b, "bob", auth.RoleExpert)
	_, err := b.RegisterExpert(ctx, expertSess.Token, "bob", []string{"validation"}, 4)
	require.NoError(t, err)

	_, err = b.ValidateCommand(ctx, alice.Token, "alice", "Read",
		map[string]any{"file_path": "/tmp/a"})
	require.NoError(t, err)

	h := b.GetHealth()
	assert.Equal(t, "healthy", h.Status)
	assert.Greater(t, h.Store.CurrentSequence, int64(0))
	assert.Equal(t, 2, h.ActiveSessions)
	assert.Equal(t, 1, h.ExpertsByStatus["available"])
	assert.Equal(t, 0, h.PendingElicitations)
}

func TestSQLiteBackendEndToEnd(t *testing.T) {
	b := newTestBridge(t, func(cfg *config.Config) {
		cfg.StorageBackend = config.BackendSQLiteWAL
	})
	ctx := context.Background()
	sess := newSession(t, b, "alice", auth.RoleAgent)

	res, err := b.ValidateCommand(ctx, sess.Token, "alice", "Read",
		map[string]any{"file_path": "/tmp/notes.txt"})
	require.NoError(t, err)
	assert.Equal(t, validation.DecisionApproved, res.Decision)

	events := commandEvents(t, b, sess.Token, "alice")
	assert.Len(t, events, 2)
}
