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
	"fmt"

	"github.com/lighthouse-agents/lighthouse/pkg/auth"
	"github.com/lighthouse-agents/lighthouse/pkg/elicitation"
	"github.com/lighthouse-agents/lighthouse/pkg/eventstore"
	"github.com/lighthouse-agents/lighthouse/pkg/expert"
	"github.com/lighthouse-agents/lighthouse/pkg/ratelimit"
)

// Kind classifies a failure for callers and for transport status mapping.
type Kind string

const (
	// KindAuth covers unauthenticated callers: bad tokens, dead sessions.
	KindAuth Kind = "auth"

	// KindAuthorization covers authenticated callers lacking rights,
	// including rate limits and batch caps.
	KindAuthorization Kind = "authorization"

	// KindValidation covers malformed or out-of-contract input.
	KindValidation Kind = "validation"

	// KindIntegrity covers tamper and signature failures.
	KindIntegrity Kind = "integrity"

	// KindStorage covers durable-write and read failures.
	KindStorage Kind = "storage"

	// KindCoordination covers expert and elicitation routing failures.
	KindCoordination Kind = "coordination"

	// KindCache covers shared cache tier failures. The cache degrades
	// rather than fails requests, so this kind is rare.
	KindCache Kind = "cache"

	// KindCancellation covers caller-initiated cancellation and expired
	// deadlines.
	KindCancellation Kind = "cancellation"
)

// Error is a classified operation failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the classification of err, or "" for nil and foreign
// errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// classify maps component sentinels onto the taxonomy. fallback applies
// when no sentinel matches.
func classify(err error, fallback Kind) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancellation

	case errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrSessionNotFound),
		errors.Is(err, auth.ErrSessionExpired),
		errors.Is(err, auth.ErrSessionRevoked),
		errors.Is(err, auth.ErrAgentMismatch):
		return KindAuth

	case errors.Is(err, auth.ErrPermissionDenied),
		errors.Is(err, auth.ErrBatchTooLarge),
		errors.Is(err, auth.ErrTooManySessions),
		errors.Is(err, ratelimit.ErrLimited),
		errors.Is(err, elicitation.ErrWrongResponder):
		return KindAuthorization

	case errors.Is(err, eventstore.ErrBatchTooLarge),
		errors.Is(err, eventstore.ErrPayloadTooLarge),
		errors.Is(err, eventstore.ErrLimitTooLarge),
		errors.Is(err, elicitation.ErrNotFound),
		errors.Is(err, elicitation.ErrNotPending),
		errors.Is(err, elicitation.ErrSchemaViolation):
		return KindValidation

	case errors.Is(err, eventstore.ErrReadOnly),
		errors.Is(err, eventstore.ErrClosed),
		isStorageError(err):
		return KindStorage

	case errors.Is(err, expert.ErrNoEligibleExpert),
		errors.Is(err, expert.ErrTimeout),
		errors.Is(err, expert.ErrBackpressure),
		errors.Is(err, expert.ErrUnknownExpert),
		errors.Is(err, expert.ErrNoPending),
		errors.Is(err, elicitation.ErrTimeout):
		return KindCoordination
	}
	return fallback
}

func isStorageError(err error) bool {
	var se *eventstore.StorageError
	return errors.As(err, &se)
}

// wrap classifies and wraps err for the named operation. Returns nil for
// nil.
func wrap(op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: classify(err, fallback), Op: op, Err: err}
}
