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

package bridge

import (
	"context"

	"github.com/lighthouse-agents/lighthouse/pkg/auth"
	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/expert"
	"github.com/lighthouse-agents/lighthouse/pkg/validation"
)

// RegisterExpert enrolls the caller as an expert for the given
// capabilities.
func (b *Bridge) RegisterExpert(ctx context.Context, token, agentID string, capabilities []string, maxInFlight int) (*expert.Registration, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return nil, err
	}
	if err := b.sessions.CheckPermission(agentID, auth.PermActAsExpert); err != nil {
		b.recordDenied("permission_denied")
		return nil, wrap("register_expert", err, KindAuthorization)
	}
	reg, err := b.coordinator.Register(agentID, capabilities, maxInFlight)
	if err != nil {
		return nil, wrap("register_expert", err, KindCoordination)
	}
	b.recordSystem(ctx, event.TypeExpertRegistered, agentID, map[string]any{
		"capabilities": toAnySlice(capabilities),
	})
	return reg, nil
}

// DeregisterExpert withdraws the caller from the expert pool.
func (b *Bridge) DeregisterExpert(ctx context.Context, token, agentID string) error {
	if _, err := b.authenticate(token, agentID); err != nil {
		return err
	}
	if err := b.coordinator.Deregister(agentID); err != nil {
		return wrap("deregister_expert", err, KindCoordination)
	}
	b.recordSystem(ctx, event.TypeExpertOffline, agentID, nil)
	return nil
}

// ExpertHeartbeat keeps the caller's expert registration alive.
func (b *Bridge) ExpertHeartbeat(ctx context.Context, token, agentID string) error {
	if _, err := b.authenticate(token, agentID); err != nil {
		return err
	}
	return wrap("expert_heartbeat", b.coordinator.Heartbeat(agentID), KindCoordination)
}

// NextEscalation blocks until an escalation is routed to the calling
// expert or ctx ends. This is the long-poll the expert loop drives.
func (b *Bridge) NextEscalation(ctx context.Context, token, agentID string) (*expert.Escalation, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return nil, err
	}
	esc, err := b.coordinator.NextRequest(ctx, agentID)
	if err != nil {
		return nil, wrap("next_escalation", err, KindCoordination)
	}
	return esc, nil
}

// SubmitDecision delivers the calling expert's ruling on an escalation.
func (b *Bridge) SubmitDecision(ctx context.Context, token, agentID, escalationID string, decision validation.Decision, confidence validation.Confidence, reasoning string) error {
	if _, err := b.authenticate(token, agentID); err != nil {
		return err
	}
	if err := b.coordinator.Respond(agentID, escalationID, decision, confidence, reasoning); err != nil {
		return wrap("submit_decision", err, KindCoordination)
	}
	return nil
}

func toAnySlice(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
