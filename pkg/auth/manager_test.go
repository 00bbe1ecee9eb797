package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/ratelimit"
)

func newTestManager(t *testing.T, cfg *Config) *Manager {
	t.Helper()
	signer, err := event.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	limiter, err := ratelimit.NewLimiter(&ratelimit.Config{Enabled: true}, ratelimit.NewMemoryStore(100))
	require.NoError(t, err)
	m, err := NewManager(cfg, signer, limiter)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateAndValidateSession(t *testing.T) {
	m := newTestManager(t, nil)
	require.NoError(t, m.RegisterAgent("alice", RoleAgent))

	sess, err := m.CreateSession("alice", "10.0.0.1", "lighthouse-cli/1.0")
	require.NoError(t, err)
	assert.Equal(t, SessionActive, sess.State)
	assert.Equal(t, RoleAgent, sess.Role)
	assert.Len(t, strings.Split(sess.Token, ":"), 4)

	got, err := m.Validate(sess.Token, "alice")
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)
	assert.Equal(t, int64(1), got.CommandCount)
}

func TestTokenBindingRejectsOtherAgent(t *testing.T) {
	m := newTestManager(t, nil)
	sess, err := m.CreateSession("alice", "", "")
	require.NoError(t, err)

	_, err = m.Validate(sess.Token, "mallory")
	assert.ErrorIs(t, err, ErrAgentMismatch)
}

func TestTamperedTokenRejected(t *testing.T) {
	m := newTestManager(t, nil)
	sess, err := m.CreateSession("alice", "", "")
	require.NoError(t, err)

	parts := strings.Split(sess.Token, ":")

	// Forged agent id with the original tag.
	forged := strings.Join([]string{parts[0], "mallory", parts[2], parts[3]}, ":")
	_, err = m.Validate(forged, "mallory")
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Corrupted tag.
	bad := strings.Join([]string{parts[0], parts[1], parts[2], strings.Repeat("0", len(parts[3]))}, ":")
	_, err = m.Validate(bad, "alice")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.Validate("not-a-token", "alice")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestSessionExpiry(t *testing.T) {
	m := newTestManager(t, &Config{SessionTimeout: time.Hour})
	base := time.Now()
	m.now = func() time.Time { return base }

	sess, err := m.CreateSession("alice", "", "")
	require.NoError(t, err)

	base = base.Add(2 * time.Hour)
	_, err = m.Validate(sess.Token, "alice")
	assert.ErrorIs(t, err, ErrSessionExpired)
	assert.Equal(t, 0, m.ActiveSessions())
}

func TestRestartInvalidatesSessions(t *testing.T) {
	m := newTestManager(t, nil)
	sess, err := m.CreateSession("alice", "", "")
	require.NoError(t, err)

	// A second manager with the same secret never accepts the first
	// manager's sessions: the table is process local.
	m2 := newTestManager(t, nil)
	_, err = m2.Validate(sess.Token, "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRevoke(t *testing.T) {
	m := newTestManager(t, nil)
	sess, err := m.CreateSession("alice", "", "")
	require.NoError(t, err)

	require.NoError(t, m.Revoke(sess.SessionID))
	_, err = m.Validate(sess.Token, "alice")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.ErrorIs(t, m.Revoke("missing"), ErrSessionNotFound)
}

func TestMaxConcurrentSessions(t *testing.T) {
	m := newTestManager(t, &Config{MaxSessionsPerAgent: 2})
	_, err := m.CreateSession("alice", "", "")
	require.NoError(t, err)
	_, err = m.CreateSession("alice", "", "")
	require.NoError(t, err)

	_, err = m.CreateSession("alice", "", "")
	assert.ErrorIs(t, err, ErrTooManySessions)

	// Other agents are unaffected.
	_, err = m.CreateSession("bob", "", "")
	require.NoError(t, err)
}

func TestAuthorizeAppendByRole(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	require.NoError(t, m.RegisterAgent("worker", RoleAgent))
	require.NoError(t, m.RegisterAgent("ops", RoleAdmin))

	// Guests cannot write.
	err := m.AuthorizeAppend(ctx, "stranger", 1)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	// Agents write within their batch cap.
	assert.NoError(t, m.AuthorizeAppend(ctx, "worker", 100))
	err = m.AuthorizeAppend(ctx, "worker", 101)
	assert.ErrorIs(t, err, ErrBatchTooLarge)

	// Admin is unthrottled.
	for i := 0; i < 50; i++ {
		require.NoError(t, m.AuthorizeAppend(ctx, "ops", 1000))
	}
}

func TestAuthorizeAppendRateLimit(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()
	require.NoError(t, m.RegisterAgent("worker", RoleAgent))

	// The agent role allows 1000 events per minute.
	for i := 0; i < 10; i++ {
		require.NoError(t, m.AuthorizeAppend(ctx, "worker", 100))
	}
	err := m.AuthorizeAppend(ctx, "worker", 1)
	assert.ErrorIs(t, err, ratelimit.ErrLimited)
}

func TestAuthorizeRead(t *testing.T) {
	m := newTestManager(t, nil)
	ctx := context.Background()

	// Guests may read.
	assert.NoError(t, m.AuthorizeRead(ctx, "stranger"))

	// Permission checks for other operations follow the role table.
	assert.NoError(t, m.CheckPermission("stranger", PermReadEvents))
	assert.ErrorIs(t, m.CheckPermission("stranger", PermElicit), ErrPermissionDenied)

	require.NoError(t, m.RegisterAgent("helper", RoleExpert))
	assert.NoError(t, m.CheckPermission("helper", PermActAsExpert))
}

func TestRegisterAgentValidation(t *testing.T) {
	m := newTestManager(t, nil)
	assert.Error(t, m.RegisterAgent("", RoleAgent))
	assert.Error(t, m.RegisterAgent("a:b", RoleAgent))
	assert.Error(t, m.RegisterAgent("alice", Role("superuser")))
}

func TestSweepMarksIdle(t *testing.T) {
	m := newTestManager(t, &Config{IdleTimeout: time.Minute, SessionTimeout: time.Hour})
	base := time.Now()
	m.now = func() time.Time { return base }

	sess, err := m.CreateSession("alice", "", "")
	require.NoError(t, err)

	base = base.Add(5 * time.Minute)
	m.sweep()

	m.mu.RLock()
	state := m.sessions[sess.SessionID].State
	m.mu.RUnlock()
	assert.Equal(t, SessionIdle, state)
}
