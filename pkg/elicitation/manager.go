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

package elicitation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/lighthouse-agents/lighthouse/pkg/event"
)

// Appender records elicitation lifecycle events. The event store provides
// the implementation.
type Appender interface {
	Append(ctx context.Context, agentID string, e *event.Event) (int64, error)
}

// Config configures the manager.
type Config struct {
	// DefaultTimeout applies when Create is called with zero timeout.
	DefaultTimeout time.Duration `yaml:"default_timeout"`

	// RetentionHorizon keeps terminal elicitations queryable for audit
	// before the sweep prunes them.
	RetentionHorizon time.Duration `yaml:"retention_horizon"`

	// SweepInterval controls expiry and pruning cadence.
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.DefaultTimeout == 0 {
		c.DefaultTimeout = 30 * time.Second
	}
	if c.RetentionHorizon == 0 {
		c.RetentionHorizon = time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = time.Second
	}
}

// Manager owns the elicitation table and the waiters.
type Manager struct {
	config   *Config
	signer   *event.Signer
	appender Appender

	mu           sync.Mutex
	elicitations map[string]*Elicitation
	schemas      map[string]*jsonschema.Schema
	waiters      map[string]chan *Elicitation

	now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a manager. appender may be nil in tests; lifecycle
// events are then skipped.
func NewManager(cfg *Config, signer *event.Signer, appender Appender) (*Manager, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if signer == nil {
		return nil, fmt.Errorf("signer is required")
	}

	m := &Manager{
		config:       cfg,
		signer:       signer,
		appender:     appender,
		elicitations: make(map[string]*Elicitation),
		schemas:      make(map[string]*jsonschema.Schema),
		waiters:      make(map[string]chan *Elicitation),
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
	go m.sweepLoop()
	return m, nil
}

// Create registers a pending elicitation from one agent to another and
// records it. The schema, when present, is compiled now so a malformed
// schema fails the creator, not the responder.
func (m *Manager) Create(ctx context.Context, from, to, message string, schema map[string]any, timeout time.Duration) (*Elicitation, error) {
	if from == "" || to == "" {
		return nil, fmt.Errorf("from and to agents are required")
	}
	if timeout <= 0 {
		timeout = m.config.DefaultTimeout
	}

	var compiled *jsonschema.Schema
	if schema != nil {
		var err error
		compiled, err = compileSchema(schema)
		if err != nil {
			return nil, fmt.Errorf("invalid elicitation schema: %w", err)
		}
	}

	now := m.now()
	el := &Elicitation{
		ElicitationID: uuid.NewString(),
		FromAgent:     from,
		ToAgent:       to,
		Message:       message,
		Schema:        schema,
		CreatedAt:     now,
		ExpiresAt:     now.Add(timeout),
		Status:        StatusPending,
	}

	m.mu.Lock()
	m.elicitations[el.ElicitationID] = el
	if compiled != nil {
		m.schemas[el.ElicitationID] = compiled
	}
	ch := make(chan *Elicitation, 1)
	m.waiters[el.ElicitationID] = ch
	m.mu.Unlock()

	m.record(ctx, from, event.TypeElicitationCreated, el)
	slog.Debug("Elicitation created",
		"elicitation_id", el.ElicitationID, "from", from, "to", to, "timeout", timeout)

	cp := *el
	return &cp, nil
}

// Respond settles a pending elicitation. Accept and decline are only valid
// from the declared recipient; cancel only from the creator. Accepted data
// must conform to the stored schema. An elicitation id is single use, so a
// second response fails with ErrNotPending.
func (m *Manager) Respond(ctx context.Context, elicitationID, respondingAgent string, responseType ResponseType, data map[string]any) error {
	m.mu.Lock()

	el, ok := m.elicitations[elicitationID]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if el.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: already %s", ErrNotPending, el.Status)
	}

	switch responseType {
	case ResponseCancel:
		if respondingAgent != el.FromAgent {
			m.mu.Unlock()
			m.logDenied(elicitationID, respondingAgent, "cancel by non-creator")
			return ErrWrongResponder
		}
	case ResponseAccept, ResponseDecline:
		if respondingAgent != el.ToAgent {
			m.mu.Unlock()
			m.logDenied(elicitationID, respondingAgent, "response by non-recipient")
			return ErrWrongResponder
		}
	default:
		m.mu.Unlock()
		return fmt.Errorf("unknown response type %q", responseType)
	}

	if responseType == ResponseAccept {
		if schema, ok := m.schemas[elicitationID]; ok {
			if err := validateAgainst(schema, data); err != nil {
				m.mu.Unlock()
				return fmt.Errorf("%w: %v", ErrSchemaViolation, err)
			}
		}
	}

	now := m.now()
	switch responseType {
	case ResponseAccept:
		el.Status = StatusAccepted
		el.ResponseData = data
	case ResponseDecline:
		el.Status = StatusDeclined
	case ResponseCancel:
		el.Status = StatusCancelled
	}
	el.RespondedBy = respondingAgent
	el.RespondedAt = now
	el.ResponseSignature = m.responseSignature(elicitationID, respondingAgent, data)

	ch := m.waiters[elicitationID]
	cp := *el
	m.mu.Unlock()

	m.record(ctx, respondingAgent, event.TypeElicitationResponded, &cp)
	if responseType == ResponseCancel {
		m.record(ctx, respondingAgent, event.TypeElicitationCancelled, &cp)
	}

	if ch != nil {
		select {
		case ch <- &cp:
		default:
		}
	}
	return nil
}

// Await blocks until the elicitation reaches a terminal state or its
// deadline passes. On expiry the state transitions to expired and the
// waiter gets ErrTimeout.
func (m *Manager) Await(ctx context.Context, elicitationID string) (*Elicitation, error) {
	m.mu.Lock()
	el, ok := m.elicitations[elicitationID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	if el.Status.Terminal() {
		cp := *el
		m.mu.Unlock()
		if cp.Status == StatusExpired {
			return &cp, ErrTimeout
		}
		return &cp, nil
	}
	ch := m.waiters[elicitationID]
	deadline := el.ExpiresAt
	m.mu.Unlock()

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		cp := m.expire(elicitationID)
		return cp, ErrTimeout
	case res := <-ch:
		return res, nil
	}
}

// Get returns a copy of the elicitation.
func (m *Manager) Get(elicitationID string) (*Elicitation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	el, ok := m.elicitations[elicitationID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *el
	return &cp, nil
}

// Pending returns the number of pending elicitations.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, el := range m.elicitations {
		if el.Status == StatusPending {
			n++
		}
	}
	return n
}

// VerifyResponse lets auditors confirm the stored signature binds the
// responder, the elicitation id, and the payload.
func (m *Manager) VerifyResponse(el *Elicitation) bool {
	if el.ResponseSignature == "" {
		return false
	}
	want := m.responseSignature(el.ElicitationID, el.RespondedBy, el.ResponseData)
	return want == el.ResponseSignature
}

func (m *Manager) responseSignature(elicitationID, agent string, data map[string]any) string {
	payload, _ := json.Marshal(data)
	return m.signer.SignToken(elicitationID + ":" + agent + ":" + string(payload))
}

// expire transitions a pending elicitation to expired, records the event,
// and returns a copy.
func (m *Manager) expire(elicitationID string) *Elicitation {
	m.mu.Lock()
	el, ok := m.elicitations[elicitationID]
	if !ok || el.Status.Terminal() {
		var cp *Elicitation
		if ok {
			c := *el
			cp = &c
		}
		m.mu.Unlock()
		return cp
	}
	el.Status = StatusExpired
	cp := *el
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	m.record(ctx, el.FromAgent, event.TypeElicitationExpired, &cp)
	slog.Debug("Elicitation expired", "elicitation_id", elicitationID)
	return &cp
}

// record appends a lifecycle event, best effort.
func (m *Manager) record(ctx context.Context, agentID string, t event.Type, el *Elicitation) {
	if m.appender == nil {
		return
	}
	e := &event.Event{
		EventType:   t,
		AggregateID: "elicitation:" + el.ElicitationID,
		SourceAgent: agentID,
		Timestamp:   m.now().UnixNano(),
		Data: map[string]any{
			"elicitation_id":     el.ElicitationID,
			"from_agent":         el.FromAgent,
			"to_agent":           el.ToAgent,
			"status":             string(el.Status),
			"response_signature": el.ResponseSignature,
		},
	}
	if _, err := m.appender.Append(ctx, agentID, e); err != nil {
		slog.Warn("Failed to record elicitation event",
			"elicitation_id", el.ElicitationID, "event_type", t, "error", err)
	}
}

func (m *Manager) logDenied(elicitationID, agent, reason string) {
	slog.Warn("Elicitation response denied",
		"elicitation_id", elicitationID, "agent", agent, "reason", reason)
}

// sweepLoop expires overdue pending elicitations even when nobody awaits
// them, and prunes terminal ones past the retention horizon.
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
	var overdue []string
	for id, el := range m.elicitations {
		switch {
		case el.Status == StatusPending && now.After(el.ExpiresAt):
			overdue = append(overdue, id)
		case el.Status.Terminal() && now.Sub(terminalAt(el)) > m.config.RetentionHorizon:
			delete(m.elicitations, id)
			delete(m.schemas, id)
			delete(m.waiters, id)
		}
	}
	m.mu.Unlock()

	for _, id := range overdue {
		m.expire(id)
	}
}

// terminalAt is when the elicitation reached its terminal state: the
// response time for answered ones, the deadline for expired ones.
func terminalAt(el *Elicitation) time.Time {
	if !el.RespondedAt.IsZero() {
		return el.RespondedAt
	}
	return el.ExpiresAt
}

// Close stops the sweeper.
func (m *Manager) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

// compileSchema turns a schema document into a validator.
func compileSchema(schema map[string]any) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("elicitation://schema.json", schema); err != nil {
		return nil, err
	}
	return compiler.Compile("elicitation://schema.json")
}

// validateAgainst round-trips data through JSON so validation sees exactly
// what will be stored.
func validateAgainst(schema *jsonschema.Schema, data map[string]any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	return schema.Validate(doc)
}
