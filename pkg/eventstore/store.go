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

// Package eventstore implements the durable append-only event log: sequence
// assignment, HMAC signing, pluggable storage backends, range queries with
// integrity verification, replay, and snapshots.
package eventstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/eventid"
)

// Backend persists pre-sequenced, signed events. Implementations must make
// Append atomic: either every event in the slice is durable or none is.
type Backend interface {
	// Append durably writes the events. Events arrive with contiguous
	// sequences and valid HMACs.
	Append(ctx context.Context, events []*event.Event) error

	// Query returns matching events without HMAC verification, plus the
	// total match count before pagination.
	Query(ctx context.Context, q Query) ([]*event.Event, int64, error)

	// LastSequence returns the highest durable sequence, 0 when empty.
	LastSequence() (int64, error)

	// Scan streams events with sequence > after in sequence order.
	Scan(ctx context.Context, after int64, fn func(*event.Event) error) error

	Close() error
}

// Authorizer gates appends. The auth package provides the implementation;
// the store only knows the contract.
type Authorizer interface {
	// AuthorizeAppend checks that the agent may write batchSize events now.
	AuthorizeAppend(ctx context.Context, agentID string, batchSize int) error
}

// Filter selects events for a query. Zero fields match everything.
type Filter struct {
	EventTypes      []event.Type
	AggregateIDs    []string
	SourceAgents    []string
	AfterSequence   int64
	BeforeSequence  int64
	AfterTimestamp  int64
	BeforeTimestamp int64
}

// SortField selects the ordering column.
type SortField string

const (
	SortBySequence  SortField = "sequence"
	SortByTimestamp SortField = "timestamp"
)

// Query combines filter, pagination, and sort.
type Query struct {
	Filter     Filter
	Offset     int
	Limit      int
	SortBy     SortField
	Descending bool
}

// MaxQueryLimit caps a single page.
const MaxQueryLimit = 10000

// Result is a page of verified events.
type Result struct {
	Events          []*event.Event `json:"events"`
	TotalCount      int64          `json:"total_count"`
	HasMore         bool           `json:"has_more"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
}

// Matches reports whether e satisfies the filter.
func (f *Filter) Matches(e *event.Event) bool {
	if len(f.EventTypes) > 0 && !containsType(f.EventTypes, e.EventType) {
		return false
	}
	if len(f.AggregateIDs) > 0 && !containsString(f.AggregateIDs, e.AggregateID) {
		return false
	}
	if len(f.SourceAgents) > 0 && !containsString(f.SourceAgents, e.SourceAgent) {
		return false
	}
	if f.AfterSequence > 0 && e.Sequence <= f.AfterSequence {
		return false
	}
	if f.BeforeSequence > 0 && e.Sequence >= f.BeforeSequence {
		return false
	}
	if f.AfterTimestamp > 0 && e.Timestamp <= f.AfterTimestamp {
		return false
	}
	if f.BeforeTimestamp > 0 && e.Timestamp >= f.BeforeTimestamp {
		return false
	}
	return true
}

func containsType(ts []event.Type, t event.Type) bool {
	for _, v := range ts {
		if v == t {
			return true
		}
	}
	return false
}

func containsString(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// Store is the authenticated append-only log.
//
// The append path is a single critical section: exactly one appender at a
// time assigns sequences, signs, and writes. Readers never take the append
// lock; they observe only already-durable events.
type Store struct {
	backend Backend
	signer  *event.Signer
	idgen   *eventid.Generator
	auth    Authorizer

	appendMu sync.Mutex
	tail     atomic.Int64

	readOnly atomic.Bool
	closed   atomic.Bool

	snapshots *SnapshotStore

	integrityIncidents atomic.Int64
	appendLat          *latencyWindow
	queryLat           *latencyWindow
	appendedTotal      atomic.Int64
}

// Options configures a Store.
type Options struct {
	Backend   Backend
	Signer    *event.Signer
	IDGen     *eventid.Generator
	Auth      Authorizer
	Snapshots *SnapshotStore
}

// New creates a Store over the given backend and recovers the tail cursor.
func New(opts Options) (*Store, error) {
	if opts.Backend == nil {
		return nil, fmt.Errorf("backend is required")
	}
	if opts.Signer == nil {
		return nil, fmt.Errorf("signer is required")
	}
	if opts.IDGen == nil {
		return nil, fmt.Errorf("id generator is required")
	}

	s := &Store{
		backend:   opts.Backend,
		signer:    opts.Signer,
		idgen:     opts.IDGen,
		auth:      opts.Auth,
		snapshots: opts.Snapshots,
		appendLat: newLatencyWindow(1024),
		queryLat:  newLatencyWindow(1024),
	}

	last, err := opts.Backend.LastSequence()
	if err != nil {
		return nil, fmt.Errorf("recover tail: %w", err)
	}
	s.tail.Store(last)

	slog.Info("Event store opened", "tail_sequence", last)
	return s, nil
}

// Tail returns the highest durable sequence.
func (s *Store) Tail() int64 {
	return s.tail.Load()
}

// IntegrityIncidents returns the count of HMAC verification failures
// observed on reads.
func (s *Store) IntegrityIncidents() int64 {
	return s.integrityIncidents.Load()
}

// ReadOnly reports whether the store has degraded to read-only.
func (s *Store) ReadOnly() bool {
	return s.readOnly.Load()
}

// Append validates, signs, sequences, and durably writes one event,
// returning the assigned sequence.
func (s *Store) Append(ctx context.Context, agentID string, e *event.Event) (int64, error) {
	seqs, err := s.AppendBatch(ctx, agentID, []*event.Event{e})
	if err != nil {
		return 0, err
	}
	return seqs[0], nil
}

// AppendBatch appends up to event.MaxBatchEvents atomically: either every
// event receives a contiguous sequence or none does.
func (s *Store) AppendBatch(ctx context.Context, agentID string, events []*event.Event) ([]int64, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if s.readOnly.Load() {
		return nil, ErrReadOnly
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("empty batch")
	}
	if len(events) > event.MaxBatchEvents {
		return nil, fmt.Errorf("%w: %d events exceeds %d", ErrBatchTooLarge, len(events), event.MaxBatchEvents)
	}

	if s.auth != nil {
		if err := s.auth.AuthorizeAppend(ctx, agentID, len(events)); err != nil {
			return nil, err
		}
	}

	start := time.Now()

	// Validate and pre-size outside the lock; the canonical encode inside
	// the lock is cheap by comparison to the fsync.
	totalBytes := 0
	for _, e := range events {
		if err := event.Validate(e); err != nil {
			return nil, err
		}
		b, err := event.CanonicalBytes(e)
		if err != nil {
			return nil, err
		}
		if len(b) > event.MaxEventBytes {
			return nil, fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(b))
		}
		totalBytes += len(b)
	}
	if totalBytes > event.MaxBatchBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrBatchTooLarge, totalBytes, event.MaxBatchBytes)
	}

	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	tail := s.tail.Load()
	prepared := make([]*event.Event, len(events))
	seqs := make([]int64, len(events))
	for i, e := range events {
		cp := e.Clone()
		cp.Sequence = tail + int64(i) + 1
		cp.EventID = s.idgen.Next().String()
		cp.SchemaVersion = event.SchemaVersion
		if cp.SourceAgent == "" {
			cp.SourceAgent = agentID
		}
		if err := s.signer.Sign(cp); err != nil {
			return nil, fmt.Errorf("sign event: %w", err)
		}
		prepared[i] = cp
		seqs[i] = cp.Sequence
	}

	if err := s.backend.Append(ctx, prepared); err != nil {
		// The cursor does not advance on failure; a fatal backend error
		// degrades the store to read-only rather than risking corruption.
		var se *StorageError
		if errors.As(err, &se) {
			s.readOnly.Store(true)
			slog.Error("Event store degraded to read-only", "op", se.Op, "error", se.Err)
		}
		return nil, err
	}

	s.tail.Store(tail + int64(len(prepared)))
	s.appendedTotal.Add(int64(len(prepared)))
	s.appendLat.observe(time.Since(start))
	return seqs, nil
}

// QueryEvents returns the matching page with HMACs verified. Events that
// fail verification are omitted, counted, and logged; they are never served.
func (s *Store) QueryEvents(ctx context.Context, q Query) (*Result, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
	if q.Limit > MaxQueryLimit {
		return nil, fmt.Errorf("%w: %d exceeds %d", ErrLimitTooLarge, q.Limit, MaxQueryLimit)
	}
	if q.SortBy == "" {
		q.SortBy = SortBySequence
	}

	start := time.Now()
	events, total, err := s.backend.Query(ctx, q)
	if err != nil {
		return nil, err
	}

	verified := make([]*event.Event, 0, len(events))
	for _, e := range events {
		if !s.signer.Verify(e) {
			s.integrityIncidents.Add(1)
			slog.Error("Integrity violation: event failed HMAC verification, omitted from results",
				"sequence", e.Sequence, "event_id", e.EventID, "aggregate_id", e.AggregateID)
			continue
		}
		verified = append(verified, e)
	}

	elapsed := time.Since(start)
	s.queryLat.observe(elapsed)

	return &Result{
		Events:          verified,
		TotalCount:      total,
		HasMore:         int64(q.Offset+len(events)) < total,
		ExecutionTimeMS: float64(elapsed.Microseconds()) / 1000.0,
	}, nil
}

// Close closes the store and its backend.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.backend.Close()
}
