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

package eventstore

import (
	"context"
	"log/slog"

	"github.com/lighthouse-agents/lighthouse/pkg/event"
)

// Reducer folds one event into caller-held state.
type Reducer func(e *event.Event) error

// HandlerTable maps event types to reducers. Types without an entry are
// skipped during replay, which is how state objects ignore event kinds they
// do not care about.
type HandlerTable map[event.Type]Reducer

// Replay streams events with sequence > after in order through the handler
// table. Replay is deterministic for a fixed event prefix: the same events
// applied in the same order produce the same state.
//
// Events that fail HMAC verification are skipped and counted exactly as on
// the query path.
func (s *Store) Replay(ctx context.Context, after int64, handlers HandlerTable) (int64, error) {
	var applied, last int64
	err := s.backend.Scan(ctx, after, func(e *event.Event) error {
		if !s.signer.Verify(e) {
			s.integrityIncidents.Add(1)
			slog.Error("Integrity violation: event skipped during replay",
				"sequence", e.Sequence, "event_id", e.EventID)
			return nil
		}
		last = e.Sequence
		reducer, ok := handlers[e.EventType]
		if !ok {
			return nil
		}
		if err := reducer(e); err != nil {
			return err
		}
		applied++
		return nil
	})
	if err != nil {
		return last, err
	}
	slog.Debug("Replay complete", "after", after, "applied", applied, "tail", last)
	return last, nil
}

// ReplayFromSnapshot loads the snapshot, hands its state to restore, then
// replays the tail past the snapshot's sequence. Snapshots only accelerate
// replay; the log remains the source of truth.
func (s *Store) ReplayFromSnapshot(ctx context.Context, snapshotID string, restore func(state map[string]any) error, handlers HandlerTable) (int64, error) {
	if s.snapshots == nil {
		return 0, ErrSnapshotNotFound
	}
	snap, err := s.snapshots.Load(snapshotID)
	if err != nil {
		return 0, err
	}
	if err := restore(snap.State); err != nil {
		return 0, err
	}
	return s.Replay(ctx, snap.Sequence, handlers)
}
