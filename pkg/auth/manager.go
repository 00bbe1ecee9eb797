// Copyright 2025 The Lighthouse Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth implements agent identity, HMAC-bound session tokens, role
// based permissions, and per-agent rate limiting. The session table is
// process local: a restart invalidates every outstanding session and agents
// must re-authenticate.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/ratelimit"
)

// Config configures the session manager.
type Config struct {
	// SessionTimeout bounds a session's total lifetime from issue.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// IdleTimeout marks a session idle after this much inactivity. Idle
	// sessions still validate; it is a reporting state, not a rejection.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// MaxSessionsPerAgent caps concurrent sessions per agent.
	MaxSessionsPerAgent int `yaml:"max_sessions_per_agent"`

	// SweepInterval controls how often expired sessions are collected.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.SessionTimeout == 0 {
		c.SessionTimeout = 30 * time.Minute
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.MaxSessionsPerAgent == 0 {
		c.MaxSessionsPerAgent = 5
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Minute
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.SessionTimeout < 0 || c.IdleTimeout < 0 || c.SweepInterval < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.MaxSessionsPerAgent < 0 {
		return fmt.Errorf("max_sessions_per_agent cannot be negative")
	}
	return nil
}

// Manager owns the session table, the agent role registry, and the rate
// limiter. It implements the authorization contract the event store and the
// coordinator depend on.
type Manager struct {
	config  *Config
	signer  *event.Signer
	limiter *ratelimit.Limiter

	mu       sync.RWMutex
	sessions map[string]*Session
	byAgent  map[string]map[string]struct{}
	roles    map[string]Role

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a session manager. Both signer and limiter are
// required; the signer key is the server secret the tokens bind to.
func NewManager(cfg *Config, signer *event.Signer, limiter *ratelimit.Limiter) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid auth config: %w", err)
	}
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}

	m := &Manager{
		config:   cfg,
		signer:   signer,
		limiter:  limiter,
		sessions: make(map[string]*Session),
		byAgent:  make(map[string]map[string]struct{}),
		roles:    make(map[string]Role),
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go m.sweepLoop()
	return m, nil
}

// RegisterAgent binds an agent id to a role. Unregistered agents
// authenticate as guests.
func (m *Manager) RegisterAgent(agentID string, role Role) error {
	if agentID == "" {
		return fmt.Errorf("agent id is required")
	}
	if strings.Contains(agentID, ":") {
		return fmt.Errorf("agent id cannot contain ':'")
	}
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", role)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[agentID] = role
	return nil
}

// RoleOf returns the agent's registered role, guest when unregistered.
func (m *Manager) RoleOf(agentID string) Role {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.roles[agentID]; ok {
		return r
	}
	return RoleGuest
}

// CreateSession issues a new session for the agent. The returned session
// carries the four-part token whose last part is the HMAC tag over the
// first three.
func (m *Manager) CreateSession(agentID, ipAddress, userAgent string) (*Session, error) {
	if agentID == "" {
		return nil, fmt.Errorf("agent id is required")
	}
	if strings.Contains(agentID, ":") {
		return nil, fmt.Errorf("agent id cannot contain ':'")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if live := len(m.byAgent[agentID]); live >= m.config.MaxSessionsPerAgent {
		return nil, fmt.Errorf("%w: %d active for %s", ErrTooManySessions, live, agentID)
	}

	now := m.now()
	parts := tokenParts{
		SessionID:  uuid.NewString(),
		AgentID:    agentID,
		IssuedAtNS: now.UnixNano(),
	}
	tag := m.signer.SignToken(parts.payload())

	role := RoleGuest
	if r, ok := m.roles[agentID]; ok {
		role = r
	}

	sess := &Session{
		SessionID:    parts.SessionID,
		AgentID:      agentID,
		Token:        parts.token(tag),
		Role:         role,
		CreatedAt:    now,
		LastActivity: now,
		IPAddress:    ipAddress,
		UserAgent:    userAgent,
		State:        SessionActive,
		issuedAtNS:   parts.IssuedAtNS,
	}

	m.sessions[sess.SessionID] = sess
	if m.byAgent[agentID] == nil {
		m.byAgent[agentID] = make(map[string]struct{})
	}
	m.byAgent[agentID][sess.SessionID] = struct{}{}

	slog.Info("Session created",
		"session_id", sess.SessionID, "agent_id", agentID, "role", role, "ip", ipAddress)
	return sess, nil
}

// Validate checks a token presented by agentID and returns the live
// session. The token must verify, match the presented agent, be within the
// session timeout, and still exist in the table. Successful validation
// refreshes the session's activity.
func (m *Manager) Validate(token, agentID string) (*Session, error) {
	parts, err := parseToken(token)
	if err != nil {
		m.logDenied(agentID, "malformed token")
		return nil, err
	}
	if !m.signer.VerifyToken(parts.payload(), parts.Tag) {
		m.logDenied(agentID, "hmac mismatch")
		return nil, ErrInvalidToken
	}
	// Token binding: a valid token for some other agent is still a denial.
	if parts.AgentID != agentID {
		m.logDenied(agentID, "agent mismatch")
		return nil, ErrAgentMismatch
	}

	now := m.now()
	if now.UnixNano() >= parts.IssuedAtNS+m.config.SessionTimeout.Nanoseconds() {
		m.expireSession(parts.SessionID)
		m.logDenied(agentID, "session expired")
		return nil, ErrSessionExpired
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[parts.SessionID]
	if !ok {
		m.logDenied(agentID, "session not in table")
		return nil, ErrSessionNotFound
	}
	if sess.State == SessionRevoked {
		m.logDenied(agentID, "session revoked")
		return nil, ErrSessionRevoked
	}

	sess.LastActivity = now
	sess.CommandCount++
	sess.State = SessionActive
	return sess, nil
}

// Revoke invalidates a session immediately.
func (m *Manager) Revoke(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.State = SessionRevoked
	m.removeLocked(sess)
	slog.Info("Session revoked", "session_id", sessionID, "agent_id", sess.AgentID)
	return nil
}

// ActiveSessions returns the number of live sessions.
func (m *Manager) ActiveSessions() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CheckPermission verifies that the agent's role holds the permission.
func (m *Manager) CheckPermission(agentID string, p Permission) error {
	role := m.RoleOf(agentID)
	if !PolicyFor(role).Permissions[p] {
		m.logDenied(agentID, fmt.Sprintf("role %s lacks %s", role, p))
		return fmt.Errorf("%w: role %s lacks %s", ErrPermissionDenied, role, p)
	}
	return nil
}

// AuthorizeAppend gates event store writes: the role must hold
// write-events, the batch must fit the role's cap, and the agent must be
// within its rate limit. Each event in the batch consumes one rate token.
func (m *Manager) AuthorizeAppend(ctx context.Context, agentID string, batchSize int) error {
	role := m.RoleOf(agentID)
	policy := PolicyFor(role)

	if !policy.Permissions[PermWriteEvents] {
		m.logDenied(agentID, "write-events not granted")
		return fmt.Errorf("%w: role %s cannot write events", ErrPermissionDenied, role)
	}
	if batchSize > policy.MaxBatchSize {
		m.logDenied(agentID, "batch cap exceeded")
		return fmt.Errorf("%w: %d exceeds role cap %d", ErrBatchTooLarge, batchSize, policy.MaxBatchSize)
	}
	if _, err := m.limiter.Allow(ctx, agentID, policy.RateLimit, int64(batchSize)); err != nil {
		m.logDenied(agentID, "rate limited")
		return err
	}
	return nil
}

// AuthorizeRead gates queries and consumes one rate token.
func (m *Manager) AuthorizeRead(ctx context.Context, agentID string) error {
	role := m.RoleOf(agentID)
	policy := PolicyFor(role)

	if !policy.Permissions[PermReadEvents] {
		m.logDenied(agentID, "read-events not granted")
		return fmt.Errorf("%w: role %s cannot read events", ErrPermissionDenied, role)
	}
	if _, err := m.limiter.Allow(ctx, agentID, policy.RateLimit, 1); err != nil {
		m.logDenied(agentID, "rate limited")
		return err
	}
	return nil
}

func (m *Manager) logDenied(agentID, reason string) {
	slog.Warn("Authorization denied", "agent_id", agentID, "reason", reason)
}

func (m *Manager) expireSession(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[sessionID]; ok {
		sess.State = SessionExpired
		m.removeLocked(sess)
	}
}

// removeLocked drops a session from both indices. Caller holds mu.
func (m *Manager) removeLocked(sess *Session) {
	delete(m.sessions, sess.SessionID)
	if set := m.byAgent[sess.AgentID]; set != nil {
		delete(set, sess.SessionID)
		if len(set) == 0 {
			delete(m.byAgent, sess.AgentID)
		}
	}
}

// sweepLoop periodically expires timed-out sessions and flags idle ones.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.sessions {
		age := now.UnixNano() - sess.issuedAtNS
		switch {
		case age >= m.config.SessionTimeout.Nanoseconds():
			sess.State = SessionExpired
			m.removeLocked(sess)
			slog.Debug("Session expired", "session_id", sess.SessionID, "agent_id", sess.AgentID)
		case now.Sub(sess.LastActivity) >= m.config.IdleTimeout:
			sess.State = SessionIdle
		}
	}
}

// Close stops the background sweeper.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}
