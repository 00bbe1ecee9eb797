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
	"errors"
	"time"

	"github.com/lighthouse-agents/lighthouse/pkg/auth"
	"github.com/lighthouse-agents/lighthouse/pkg/elicitation"
)

// CreateElicitation asks another agent a schema-typed question.
func (b *Bridge) CreateElicitation(ctx context.Context, token, agentID, toAgent, message string, schema map[string]any, timeout time.Duration) (*elicitation.Elicitation, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return nil, err
	}
	if err := b.sessions.CheckPermission(agentID, auth.PermElicit); err != nil {
		b.recordDenied("permission_denied")
		return nil, wrap("create_elicitation", err, KindAuthorization)
	}
	el, err := b.elicitations.Create(ctx, agentID, toAgent, message, schema, timeout)
	if err != nil {
		return nil, wrap("create_elicitation", err, KindValidation)
	}
	return el, nil
}

// RespondToElicitation accepts, declines, or cancels a pending
// elicitation on behalf of the caller.
func (b *Bridge) RespondToElicitation(ctx context.Context, token, agentID, elicitationID string, responseType elicitation.ResponseType, data map[string]any) error {
	if _, err := b.authenticate(token, agentID); err != nil {
		return err
	}
	if err := b.sessions.CheckPermission(agentID, auth.PermRespond); err != nil {
		b.recordDenied("permission_denied")
		return wrap("respond_to_elicitation", err, KindAuthorization)
	}
	if err := b.elicitations.Respond(ctx, elicitationID, agentID, responseType, data); err != nil {
		if errors.Is(err, elicitation.ErrWrongResponder) {
			b.recordDenied("responder_binding")
		}
		return wrap("respond_to_elicitation", err, KindValidation)
	}
	b.metrics.RecordElicitation(ctx, outcomeOf(responseType))
	return nil
}

// AwaitElicitation blocks the creator until the elicitation resolves.
// Cancelling the context cancels the elicitation itself.
func (b *Bridge) AwaitElicitation(ctx context.Context, token, agentID, elicitationID string) (*elicitation.Elicitation, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return nil, err
	}
	el, err := b.elicitations.Get(elicitationID)
	if err != nil {
		return nil, wrap("await_elicitation", err, KindValidation)
	}
	if el.FromAgent != agentID {
		b.recordDenied("responder_binding")
		return nil, wrap("await_elicitation", elicitation.ErrWrongResponder, KindAuthorization)
	}

	res, err := b.elicitations.Await(ctx, elicitationID)
	if err == nil {
		b.metrics.RecordElicitation(ctx, string(res.Status))
		return res, nil
	}

	// The caller walking away withdraws the question.
	if errors.Is(err, context.Canceled) {
		cctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if cerr := b.elicitations.Respond(cctx, elicitationID, agentID, elicitation.ResponseCancel, nil); cerr == nil {
			if cancelled, gerr := b.elicitations.Get(elicitationID); gerr == nil {
				b.metrics.RecordElicitation(cctx, string(cancelled.Status))
				return cancelled, wrap("await_elicitation", err, KindCancellation)
			}
		}
	}
	if errors.Is(err, elicitation.ErrTimeout) {
		b.metrics.RecordElicitation(ctx, string(elicitation.StatusExpired))
	}
	return res, wrap("await_elicitation", err, KindCoordination)
}

// GetElicitation returns the current state of an elicitation visible to
// its creator or recipient.
func (b *Bridge) GetElicitation(ctx context.Context, token, agentID, elicitationID string) (*elicitation.Elicitation, error) {
	if _, err := b.authenticate(token, agentID); err != nil {
		return nil, err
	}
	el, err := b.elicitations.Get(elicitationID)
	if err != nil {
		return nil, wrap("get_elicitation", err, KindValidation)
	}
	if el.FromAgent != agentID && el.ToAgent != agentID {
		b.recordDenied("responder_binding")
		return nil, wrap("get_elicitation", elicitation.ErrWrongResponder, KindAuthorization)
	}
	return el, nil
}

func outcomeOf(rt elicitation.ResponseType) string {
	switch rt {
	case elicitation.ResponseAccept:
		return string(elicitation.StatusAccepted)
	case elicitation.ResponseDecline:
		return string(elicitation.StatusDeclined)
	case elicitation.ResponseCancel:
		return string(elicitation.StatusCancelled)
	}
	return string(rt)
}
