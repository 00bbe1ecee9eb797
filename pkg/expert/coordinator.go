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

// Package expert implements the expert coordinator: a registry of remote
// expert agents, per-expert bounded request queues, decision await with
// timeout, and optional multi-expert consensus.
package expert

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/lighthouse-agents/lighthouse/pkg/validation"
)

// Escalation is one request handed to an expert.
type Escalation struct {
	EscalationID string              `json:"escalation_id"`
	Request      *validation.Request `json:"request"`
	Concerns     []string            `json:"security_concerns,omitempty"`
	Capabilities []string            `json:"required_capabilities"`
	Priority     int                 `json:"priority"`
	CreatedAt    time.Time           `json:"created_at"`
}

// Decision is one expert's answer.
type Decision struct {
	EscalationID string                `json:"escalation_id"`
	ExpertID     string                `json:"expert_id"`
	Decision     validation.Decision   `json:"decision"`
	Confidence   validation.Confidence `json:"confidence"`
	Reasoning    string                `json:"reasoning"`
}

// Config configures the coordinator.
type Config struct {
	// DecisionTimeout bounds one expert's answer.
	DecisionTimeout time.Duration `yaml:"decision_timeout"`

	// QueueDepth bounds each expert's pending queue. Overflow is
	// backpressure, answered as blocked.
	QueueDepth int `yaml:"queue_depth"`

	// HeartbeatGrace is how long an expert may go silent before it is
	// marked offline.
	HeartbeatGrace time.Duration `yaml:"heartbeat_grace"`

	// SweepInterval controls the offline sweep cadence.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	// DefaultConsensus is how many experts rule on an escalation when the
	// caller does not say. Majority wins; ties block.
	DefaultConsensus int `yaml:"default_consensus"`

	// ValidationCapability is the capability escalated validations require.
	ValidationCapability string `yaml:"validation_capability"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.DecisionTimeout == 0 {
		c.DecisionTimeout = 30 * time.Second
	}
	if c.QueueDepth == 0 {
		c.QueueDepth = 32
	}
	if c.HeartbeatGrace == 0 {
		c.HeartbeatGrace = 30 * time.Second
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 10 * time.Second
	}
	if c.DefaultConsensus == 0 {
		c.DefaultConsensus = 1
	}
	if c.ValidationCapability == "" {
		c.ValidationCapability = "validation"
	}
}

// Coordinator routes escalations to experts and collects their decisions.
type Coordinator struct {
	config   *Config
	registry *Registry

	mu      sync.RWMutex
	queues  map[string]chan *Escalation
	waiters map[string]chan *Decision

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewCoordinator creates a coordinator and starts the offline sweep.
func NewCoordinator(cfg *Config) *Coordinator {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()

	c := &Coordinator{
		config:   cfg,
		registry: NewRegistry(cfg.HeartbeatGrace),
		queues:   make(map[string]chan *Escalation),
		waiters:  make(map[string]chan *Decision),
		stopCh:   make(chan struct{}),
	}
	go c.sweepLoop()
	return c
}

// Registry exposes the expert registry.
func (c *Coordinator) Registry() *Registry { return c.registry }

// Register adds an expert and allocates its queue.
func (c *Coordinator) Register(expertID string, capabilities []string, maxInFlight int) (*Registration, error) {
	reg, err := c.registry.Register(expertID, capabilities, maxInFlight)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if _, ok := c.queues[expertID]; !ok {
		c.queues[expertID] = make(chan *Escalation, c.config.QueueDepth)
	}
	c.mu.Unlock()
	return reg, nil
}

// Deregister removes an expert and its queue. Queued escalations time out
// at their waiters.
func (c *Coordinator) Deregister(expertID string) error {
	if err := c.registry.Deregister(expertID); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.queues, expertID)
	c.mu.Unlock()
	return nil
}

// Heartbeat keeps an expert registered.
func (c *Coordinator) Heartbeat(expertID string) error {
	return c.registry.Heartbeat(expertID)
}

// NextRequest blocks until the expert has a pending escalation or the
// context ends. Transport long-polls this on behalf of remote experts.
func (c *Coordinator) NextRequest(ctx context.Context, expertID string) (*Escalation, error) {
	c.mu.RLock()
	q, ok := c.queues[expertID]
	c.mu.RUnlock()
	if !ok {
		return nil, ErrUnknownExpert
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case esc := <-q:
		return esc, nil
	}
}

// Respond delivers an expert's decision and wakes the awaiting caller.
func (c *Coordinator) Respond(expertID, escalationID string, decision validation.Decision, confidence validation.Confidence, reasoning string) error {
	if _, err := c.registry.Get(expertID); err != nil {
		return err
	}

	c.mu.RLock()
	ch, ok := c.waiters[escalationID]
	c.mu.RUnlock()
	if !ok {
		return ErrNoPending
	}

	select {
	case ch <- &Decision{
		EscalationID: escalationID,
		ExpertID:     expertID,
		Decision:     decision,
		Confidence:   confidence,
		Reasoning:    reasoning,
	}:
		return nil
	default:
		return ErrNoPending
	}
}

// Decide routes the escalation to consensus experts and returns the
// aggregate ruling.
func (c *Coordinator) Decide(ctx context.Context, esc *Escalation, consensus int) (*validation.Result, error) {
	if consensus <= 0 {
		consensus = c.config.DefaultConsensus
	}
	if esc.EscalationID == "" {
		esc.EscalationID = uuid.NewString()
	}
	esc.CreatedAt = time.Now()

	selected, err := c.registry.Select(esc.Capabilities, consensus)
	if err != nil {
		return nil, err
	}

	var (
		mu        sync.Mutex
		decisions []*Decision
		firstErr  error
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, reg := range selected {
		expertID := reg.ExpertID
		g.Go(func() error {
			d, err := c.askExpert(gctx, expertID, esc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				}
				return nil
			}
			decisions = append(decisions, d)
			return nil
		})
	}
	_ = g.Wait()

	if len(decisions) == 0 {
		return nil, firstErr
	}
	return tally(decisions, consensus), nil
}

// askExpert enqueues one copy of the escalation and awaits that expert's
// decision. Each fan-out copy gets its own escalation id so responses
// cannot cross.
func (c *Coordinator) askExpert(ctx context.Context, expertID string, esc *Escalation) (*Decision, error) {
	copyEsc := *esc
	copyEsc.EscalationID = esc.EscalationID + ":" + expertID

	c.mu.Lock()
	q, ok := c.queues[expertID]
	if !ok {
		c.mu.Unlock()
		return nil, ErrUnknownExpert
	}
	ch := make(chan *Decision, 1)
	c.waiters[copyEsc.EscalationID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, copyEsc.EscalationID)
		c.mu.Unlock()
	}()

	select {
	case q <- &copyEsc:
	default:
		slog.Warn("Expert queue full", "expert_id", expertID, "escalation_id", esc.EscalationID)
		return nil, ErrBackpressure
	}

	c.registry.acquire(expertID)
	defer c.registry.release(expertID)

	timer := time.NewTimer(c.config.DecisionTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		c.registry.penalize(expertID)
		slog.Warn("Expert decision timed out",
			"expert_id", expertID, "escalation_id", esc.EscalationID)
		return nil, ErrTimeout
	case d := <-ch:
		return d, nil
	}
}

// tally aggregates decisions: majority wins, ties and non-majorities
// block.
func tally(decisions []*Decision, consensus int) *validation.Result {
	approvals, blocks := 0, 0
	var expertIDs []string
	var reasons []string
	best := validation.ConfidenceLow

	for _, d := range decisions {
		expertIDs = append(expertIDs, d.ExpertID)
		if d.Reasoning != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", d.ExpertID, d.Reasoning))
		}
		if d.Confidence.AtLeast(best) {
			best = d.Confidence
		}
		switch d.Decision {
		case validation.DecisionApproved:
			approvals++
		default:
			blocks++
		}
	}

	decision := validation.DecisionBlocked
	reason := "expert consensus: blocked"
	if approvals > blocks && approvals > consensus/2 {
		decision = validation.DecisionApproved
		reason = "expert consensus: approved"
	}
	if len(reasons) > 0 {
		reason = reasons[0]
	}

	return &validation.Result{
		Decision:       decision,
		Confidence:     best,
		Reason:         reason,
		ExpertRequired: true,
		ExpertIDs:      expertIDs,
	}
}

// Escalate implements validation.Escalator with the default consensus.
func (c *Coordinator) Escalate(ctx context.Context, req *validation.Request, concerns []string) (*validation.Result, error) {
	esc := &Escalation{
		Request:      req,
		Concerns:     concerns,
		Capabilities: []string{c.config.ValidationCapability},
	}
	return c.Decide(ctx, esc, c.config.DefaultConsensus)
}

func (c *Coordinator) sweepLoop() {
	ticker := time.NewTicker(c.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.registry.Sweep()
		}
	}
}

// Close stops the background sweep.
func (c *Coordinator) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	return nil
}

var _ validation.Escalator = (*Coordinator)(nil)
