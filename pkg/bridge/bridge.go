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

// Package bridge is the single entry point agents talk to. It owns the
// lifetimes of the event store, the session manager, the speed layer, the
// expert coordinator, and the elicitation manager, and threads agent
// identity through every operation.
package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/lighthouse-agents/lighthouse/pkg/auth"
	"github.com/lighthouse-agents/lighthouse/pkg/cache"
	"github.com/lighthouse-agents/lighthouse/pkg/config"
	"github.com/lighthouse-agents/lighthouse/pkg/elicitation"
	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/eventid"
	"github.com/lighthouse-agents/lighthouse/pkg/eventstore"
	"github.com/lighthouse-agents/lighthouse/pkg/expert"
	"github.com/lighthouse-agents/lighthouse/pkg/observability"
	"github.com/lighthouse-agents/lighthouse/pkg/ratelimit"
	"github.com/lighthouse-agents/lighthouse/pkg/validation"
)

// SystemAgent is the identity internal lifecycle events are appended
// under.
const SystemAgent = "system"

// Bridge composes the platform's components behind one facade.
type Bridge struct {
	config *config.Config

	store        *eventstore.Store
	sessions     *auth.Manager
	cache        *cache.Cache
	dispatcher   *validation.Dispatcher
	coordinator  *expert.Coordinator
	elicitations *elicitation.Manager
	metrics      *observability.Metrics

	securityIncidents atomic.Int64
}

// New builds every component from cfg and wires them together. The
// returned bridge owns their lifetimes; Close tears them down.
func New(cfg *config.Config, metrics *observability.Metrics) (*Bridge, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if metrics == nil {
		metrics = &observability.Metrics{}
	}

	signer, err := event.NewSigner([]byte(cfg.AuthSecret))
	if err != nil {
		return nil, fmt.Errorf("signer: %w", err)
	}
	idgen, err := eventid.NewGenerator(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("id generator: %w", err)
	}

	limiter, err := ratelimit.NewLimiter(cfg.RateLimitConfig(), ratelimit.NewMemoryStore(0))
	if err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	sessions, err := auth.NewManager(cfg.AuthConfig(), signer, limiter)
	if err != nil {
		return nil, fmt.Errorf("session manager: %w", err)
	}
	if err := sessions.RegisterAgent(SystemAgent, auth.RoleSystem); err != nil {
		return nil, fmt.Errorf("register system agent: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	var backend eventstore.Backend
	switch cfg.StorageBackend {
	case config.BackendSQLiteWAL:
		backend, err = eventstore.NewSQLiteBackend(cfg.SQLitePath())
	default:
		backend, err = eventstore.NewSegmentBackend(cfg.SegmentOptions())
	}
	if err != nil {
		return nil, fmt.Errorf("storage backend: %w", err)
	}
	snapshots, err := eventstore.NewSnapshotStore(cfg.SnapshotDir())
	if err != nil {
		return nil, fmt.Errorf("snapshot store: %w", err)
	}
	store, err := eventstore.New(eventstore.Options{
		Backend:   backend,
		Signer:    signer,
		IDGen:     idgen,
		Auth:      sessions,
		Snapshots: snapshots,
	})
	if err != nil {
		return nil, fmt.Errorf("event store: %w", err)
	}

	remoteCfg, err := cfg.RemoteCacheConfig()
	if err != nil {
		return nil, err
	}
	remote, err := cache.NewRemote(remoteCfg)
	if err != nil {
		return nil, fmt.Errorf("remote cache: %w", err)
	}
	cch, err := cache.New(cfg.CacheConfig(), remote)
	if err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}

	coordinator := expert.NewCoordinator(cfg.ExpertConfig())
	dispatcher, err := validation.NewDispatcher(cfg.ValidationConfig(), cch, coordinator)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	elicitations, err := elicitation.NewManager(cfg.ElicitationConfig(), signer, store)
	if err != nil {
		return nil, fmt.Errorf("elicitation manager: %w", err)
	}

	b := &Bridge{
		config:       cfg,
		store:        store,
		sessions:     sessions,
		cache:        cch,
		dispatcher:   dispatcher,
		coordinator:  coordinator,
		elicitations: elicitations,
		metrics:      metrics,
	}

	b.recordSystem(context.Background(), event.TypeSystemStarted, SystemAgent, map[string]any{
		"storage_backend": cfg.StorageBackend,
		"node_id":         cfg.NodeID,
	})
	slog.Info("Bridge started",
		"storage_backend", cfg.StorageBackend,
		"tail_sequence", store.Tail())
	return b, nil
}

// Close shuts the components down in dependency order.
func (b *Bridge) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	b.recordSystem(ctx, event.TypeSystemStopped, SystemAgent, nil)

	b.elicitations.Close()
	b.coordinator.Close()
	b.cache.Close()
	b.sessions.Close()
	return b.store.Close()
}

// RegisterAgent binds an agent id to a role before it can hold sessions.
func (b *Bridge) RegisterAgent(agentID string, role auth.Role) error {
	if err := b.sessions.RegisterAgent(agentID, role); err != nil {
		return wrap("register_agent", err, KindValidation)
	}
	return nil
}

// CreateSession authenticates an agent and issues a signed session token.
func (b *Bridge) CreateSession(ctx context.Context, agentID, ipAddress, userAgent string) (*auth.Session, error) {
	sess, err := b.sessions.CreateSession(agentID, ipAddress, userAgent)
	if err != nil {
		return nil, wrap("create_session", err, KindAuth)
	}

	b.recordSystem(ctx, event.TypeSessionStarted, agentID, map[string]any{
		"session_id": sess.SessionID,
		"role":       string(sess.Role),
	})
	b.metrics.RecordSessionCreated(ctx)
	return sess, nil
}

// EndSession revokes the caller's session and records the end of life.
func (b *Bridge) EndSession(ctx context.Context, token, agentID string) error {
	sess, err := b.authenticate(token, agentID)
	if err != nil {
		return err
	}
	if err := b.sessions.Revoke(sess.SessionID); err != nil {
		return wrap("end_session", err, KindAuth)
	}
	b.recordSystem(ctx, event.TypeSessionEnded, agentID, map[string]any{
		"session_id": sess.SessionID,
	})
	return nil
}

// ValidateCommand runs one tool invocation through the speed layer and
// journals the outcome.
func (b *Bridge) ValidateCommand(ctx context.Context, token, agentID, toolName string, toolInput map[string]any) (*validation.Result, error) {
	start := time.Now()
	sess, err := b.authenticate(token, agentID)
	if err != nil {
		return nil, err
	}

	req := &validation.Request{
		RequestID: uuid.NewString(),
		ToolName:  toolName,
		ToolInput: toolInput,
		AgentID:   agentID,
		SessionID: sess.SessionID,
		AgentRole: string(sess.Role),
	}

	b.recordSystem(ctx, event.TypeCommandReceived, agentID, map[string]any{
		"request_id": req.RequestID,
		"session_id": sess.SessionID,
		"tool_name":  toolName,
	})

	res, err := b.dispatcher.Validate(ctx, req)
	if err != nil {
		return nil, wrap("validate_command", err, KindValidation)
	}

	outcome := event.TypeCommandValidated
	if res.Decision == validation.DecisionBlocked {
		outcome = event.TypeCommandBlocked
	}
	data := map[string]any{
		"request_id": req.RequestID,
		"session_id": sess.SessionID,
		"tool_name":  toolName,
		"decision":   string(res.Decision),
		"confidence": string(res.Confidence),
		"tier":       res.Tier,
	}
	if res.RiskLevel != "" {
		data["risk_level"] = string(res.RiskLevel)
	}
	if res.Reason != "" {
		data["reason"] = res.Reason
	}
	b.recordSystem(ctx, outcome, agentID, data)

	b.metrics.RecordValidation(ctx, string(res.Decision), string(res.CacheLayer), time.Since(start))
	if res.ExpertRequired {
		b.metrics.RecordEscalation(ctx)
	}
	return res, nil
}

// AppendEvent appends one event under the caller's identity.
func (b *Bridge) AppendEvent(ctx context.Context, token, agentID string, e *event.Event) (int64, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return 0, err
	}
	if e != nil && e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixNano()
	}
	start := time.Now()
	seq, err := b.store.Append(ctx, agentID, e)
	if err != nil {
		return 0, wrap("append_event", err, KindStorage)
	}
	b.metrics.RecordAppend(ctx, 1, time.Since(start))
	return seq, nil
}

// AppendBatch appends a batch atomically under the caller's identity.
func (b *Bridge) AppendBatch(ctx context.Context, token, agentID string, events []*event.Event) ([]int64, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return nil, err
	}
	start := time.Now()
	for _, e := range events {
		if e != nil && e.Timestamp == 0 {
			e.Timestamp = time.Now().UnixNano()
		}
	}
	seqs, err := b.store.AppendBatch(ctx, agentID, events)
	if err != nil {
		return nil, wrap("append_event", err, KindStorage)
	}
	b.metrics.RecordAppend(ctx, len(seqs), time.Since(start))
	return seqs, nil
}

// QueryEvents returns a verified page of events.
func (b *Bridge) QueryEvents(ctx context.Context, token, agentID string, q eventstore.Query) (*eventstore.Result, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return nil, err
	}
	if err := b.sessions.AuthorizeRead(ctx, agentID); err != nil {
		b.recordDenied("permission_denied")
		return nil, wrap("query_events", err, KindAuthorization)
	}
	res, err := b.store.QueryEvents(ctx, q)
	if err != nil {
		return nil, wrap("query_events", err, KindStorage)
	}
	return res, nil
}

// SecurityIncidents returns the count of rejected authentication and
// authorization attempts.
func (b *Bridge) SecurityIncidents() int64 { return b.securityIncidents.Load() }

// recordDenied counts one rejected auth attempt. The caller's context is
// deliberately not used: a denial is worth counting even when the caller
// is already gone.
func (b *Bridge) recordDenied(reason string) {
	b.securityIncidents.Add(1)
	b.metrics.RecordAuthDenial(context.Background(), reason)
}

// authenticate validates the token and its binding to the presented
// agent.
func (b *Bridge) authenticate(token, agentID string) (*auth.Session, error) {
	sess, err := b.sessions.Validate(token, agentID)
	if err != nil {
		b.recordDenied("invalid_token")
		return nil, wrap("authenticate", err, KindAuth)
	}
	return sess, nil
}

// recordSystem journals a lifecycle event under the system identity.
// Journal failures are logged, never fatal to the caller's operation.
func (b *Bridge) recordSystem(ctx context.Context, t event.Type, aggregateID string, data map[string]any) {
	e := &event.Event{
		EventType:   t,
		AggregateID: aggregateID,
		SourceAgent: SystemAgent,
		Timestamp:   time.Now().UnixNano(),
		Data:        data,
	}
	if _, err := b.store.Append(ctx, SystemAgent, e); err != nil {
		slog.Warn("Failed to journal lifecycle event", "event_type", t, "error", err)
	}
}
