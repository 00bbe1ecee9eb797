package eventstore

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lighthouse-agents/lighthouse/pkg/event"
	"github.com/lighthouse-agents/lighthouse/pkg/eventid"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestStore(t *testing.T, backend Backend) *Store {
	t.Helper()
	signer, err := event.NewSigner(testKey)
	require.NoError(t, err)
	idgen, err := eventid.NewGenerator("test-node")
	require.NoError(t, err)

	s, err := New(Options{Backend: backend, Signer: signer, IDGen: idgen})
	require.NoError(t, err)
	return s
}

func newSegmentStore(t *testing.T, dir string) *Store {
	t.Helper()
	backend, err := NewSegmentBackend(SegmentOptions{Dir: dir})
	require.NoError(t, err)
	return newTestStore(t, backend)
}

func newSQLiteStore(t *testing.T, dir string) *Store {
	t.Helper()
	backend, err := NewSQLiteBackend(filepath.Join(dir, "events.db"))
	require.NoError(t, err)
	return newTestStore(t, backend)
}

func testEvent(agg string) *event.Event {
	return &event.Event{
		EventType:   event.TypeCommandReceived,
		AggregateID: agg,
		SourceAgent: "alice",
		Timestamp:   time.Now().UnixNano(),
		Data:        map[string]any{"tool": "Read"},
	}
}

func TestSequenceDensity(t *testing.T) {
	for _, tc := range []struct {
		name string
		open func(t *testing.T, dir string) *Store
	}{
		{"segmented_log", newSegmentStore},
		{"sqlite_wal", newSQLiteStore},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t, t.TempDir())
			defer s.Close()

			ctx := context.Background()
			for i := 1; i <= 50; i++ {
				seq, err := s.Append(ctx, "alice", testEvent("project:x"))
				require.NoError(t, err)
				assert.Equal(t, int64(i), seq)
			}
			assert.Equal(t, int64(50), s.Tail())
		})
	}
}

func TestDurabilityAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newSegmentStore(t, dir)
	for i := 0; i < 20; i++ {
		_, err := s.Append(ctx, "alice", testEvent("project:x"))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	s2 := newSegmentStore(t, dir)
	defer s2.Close()
	assert.Equal(t, int64(20), s2.Tail())

	res, err := s2.QueryEvents(ctx, Query{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, res.Events, 20)
	assert.Equal(t, int64(20), res.TotalCount)

	// New appends continue the sequence.
	seq, err := s2.Append(ctx, "alice", testEvent("project:x"))
	require.NoError(t, err)
	assert.Equal(t, int64(21), seq)
}

func TestLargeIntegerPayloadReadableOnBothBackends(t *testing.T) {
	for _, tc := range []struct {
		name string
		open func(t *testing.T, dir string) *Store
	}{
		{"segmented_log", newSegmentStore},
		{"sqlite_wal", newSQLiteStore},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t, t.TempDir())
			defer s.Close()

			ctx := context.Background()
			e := testEvent("project:x")
			e.Data["offset"] = int64(1)<<62 + 1
			_, err := s.Append(ctx, "alice", e)
			require.NoError(t, err)

			res, err := s.QueryEvents(ctx, Query{Limit: 10})
			require.NoError(t, err)
			require.Len(t, res.Events, 1, "event must stay readable after the disk round-trip")
			assert.Equal(t, int64(0), s.IntegrityIncidents())
		})
	}
}

func TestCrashRecoveryTruncatesTornTail(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newSegmentStore(t, dir)
	for i := 0; i < 10; i++ {
		_, err := s.Append(ctx, "alice", testEvent("project:x"))
		require.NoError(t, err)
	}
	require.NoError(t, s.Close())

	// Simulate a crash mid-write: a frame header promising more bytes than
	// are present.
	active := findActiveSegment(t, dir)
	f, err := os.OpenFile(active, os.O_WRONLY|os.O_APPEND, 0o644)
	require.NoError(t, err)
	_, err = f.Write([]byte{0x00, 0x00, 0x01, 0x00, 'p', 'a', 'r', 't'})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	s2 := newSegmentStore(t, dir)
	defer s2.Close()
	assert.Equal(t, int64(10), s2.Tail(), "torn record must be discarded")

	seq, err := s2.Append(ctx, "alice", testEvent("project:x"))
	require.NoError(t, err)
	assert.Equal(t, int64(11), seq)

	res, err := s2.QueryEvents(ctx, Query{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, res.Events, 11, "all earlier events remain intact")
}

func findActiveSegment(t *testing.T, dir string) string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, ent := range entries {
		if segmentNameRe.MatchString(ent.Name()) && bytes.Contains([]byte(ent.Name()), []byte("current")) {
			return filepath.Join(dir, ent.Name())
		}
	}
	t.Fatal("no active segment found")
	return ""
}

func TestTamperedEventFilteredFromQueries(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s := newSegmentStore(t, dir)
	_, err := s.Append(ctx, "alice", testEvent("project:x"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "alice", testEvent("project:y"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Flip payload bytes of the first record without breaking the framing:
	// same-length substitution inside the JSON body.
	active := findActiveSegment(t, dir)
	raw, err := os.ReadFile(active)
	require.NoError(t, err)
	tampered := bytes.Replace(raw, []byte(`"project:x"`), []byte(`"project:z"`), 1)
	require.NotEqual(t, raw, tampered, "substitution must hit")
	require.NoError(t, os.WriteFile(active, tampered, 0o644))

	s2 := newSegmentStore(t, dir)
	defer s2.Close()

	res, err := s2.QueryEvents(ctx, Query{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, res.Events, 1, "tampered event must be omitted")
	assert.Equal(t, "project:y", res.Events[0].AggregateID)
	assert.Equal(t, int64(1), s2.IntegrityIncidents())
}

func TestBatchAppendAtomicAndContiguous(t *testing.T) {
	for _, tc := range []struct {
		name string
		open func(t *testing.T, dir string) *Store
	}{
		{"segmented_log", newSegmentStore},
		{"sqlite_wal", newSQLiteStore},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t, t.TempDir())
			defer s.Close()
			ctx := context.Background()

			batch := make([]*event.Event, 10)
			for i := range batch {
				batch[i] = testEvent(fmt.Sprintf("project:%d", i))
			}
			seqs, err := s.AppendBatch(ctx, "alice", batch)
			require.NoError(t, err)
			require.Len(t, seqs, 10)
			for i, seq := range seqs {
				assert.Equal(t, int64(i+1), seq)
			}

			// A batch containing an invalid event appends nothing.
			bad := []*event.Event{testEvent("project:ok"), {EventType: "nope"}}
			_, err = s.AppendBatch(ctx, "alice", bad)
			require.Error(t, err)
			assert.Equal(t, int64(10), s.Tail())
		})
	}
}

func TestBatchCaps(t *testing.T) {
	s := newSegmentStore(t, t.TempDir())
	defer s.Close()

	over := make([]*event.Event, event.MaxBatchEvents+1)
	for i := range over {
		over[i] = testEvent("project:x")
	}
	_, err := s.AppendBatch(context.Background(), "alice", over)
	assert.ErrorIs(t, err, ErrBatchTooLarge)
}

func TestQueryFiltersAndPagination(t *testing.T) {
	for _, tc := range []struct {
		name string
		open func(t *testing.T, dir string) *Store
	}{
		{"segmented_log", newSegmentStore},
		{"sqlite_wal", newSQLiteStore},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := tc.open(t, t.TempDir())
			defer s.Close()
			ctx := context.Background()

			for i := 0; i < 10; i++ {
				e := testEvent("agent:alice")
				if i%2 == 0 {
					e.EventType = event.TypeCommandBlocked
					e.AggregateID = "agent:bob"
				}
				_, err := s.Append(ctx, "alice", e)
				require.NoError(t, err)
			}

			res, err := s.QueryEvents(ctx, Query{
				Filter: Filter{EventTypes: []event.Type{event.TypeCommandBlocked}},
				Limit:  3,
			})
			require.NoError(t, err)
			assert.Len(t, res.Events, 3)
			assert.Equal(t, int64(5), res.TotalCount)
			assert.True(t, res.HasMore)

			res, err = s.QueryEvents(ctx, Query{
				Filter: Filter{AggregateIDs: []string{"agent:bob"}, AfterSequence: 3},
				Limit:  100,
			})
			require.NoError(t, err)
			for _, e := range res.Events {
				assert.Equal(t, "agent:bob", e.AggregateID)
				assert.Greater(t, e.Sequence, int64(3))
			}

			// Descending sequence sort.
			res, err = s.QueryEvents(ctx, Query{Limit: 100, Descending: true})
			require.NoError(t, err)
			for i := 1; i < len(res.Events); i++ {
				assert.Greater(t, res.Events[i-1].Sequence, res.Events[i].Sequence)
			}
		})
	}
}

func TestQueryLimitCap(t *testing.T) {
	s := newSegmentStore(t, t.TempDir())
	defer s.Close()
	_, err := s.QueryEvents(context.Background(), Query{Limit: MaxQueryLimit + 1})
	assert.ErrorIs(t, err, ErrLimitTooLarge)
}

func TestSegmentRotation(t *testing.T) {
	dir := t.TempDir()
	backend, err := NewSegmentBackend(SegmentOptions{Dir: dir, MaxSegmentBytes: 512})
	require.NoError(t, err)
	s := newTestStore(t, backend)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 30; i++ {
		_, err := s.Append(ctx, "alice", testEvent("project:x"))
		require.NoError(t, err)
	}
	assert.Greater(t, backend.SegmentCount(), 1, "small segment bound must force rotation")

	// Everything stays queryable across segments.
	res, err := s.QueryEvents(ctx, Query{Limit: 100})
	require.NoError(t, err)
	assert.Len(t, res.Events, 30)
}

func TestEventIDSortability(t *testing.T) {
	s := newSegmentStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		_, err := s.Append(ctx, "alice", testEvent("project:x"))
		require.NoError(t, err)
	}

	res, err := s.QueryEvents(ctx, Query{Limit: 100})
	require.NoError(t, err)
	for i := 1; i < len(res.Events); i++ {
		a, b := res.Events[i-1], res.Events[i]
		assert.Less(t, a.Sequence, b.Sequence)
		assert.Less(t, a.EventID, b.EventID, "id order must track sequence order")
	}
}

func TestReplayAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	snaps, err := NewSnapshotStore(filepath.Join(dir, "snapshots"))
	require.NoError(t, err)

	backend, err := NewSegmentBackend(SegmentOptions{Dir: filepath.Join(dir, "log")})
	require.NoError(t, err)
	signer, err := event.NewSigner(testKey)
	require.NoError(t, err)
	idgen, err := eventid.NewGenerator("n1")
	require.NoError(t, err)
	s, err := New(Options{Backend: backend, Signer: signer, IDGen: idgen, Snapshots: snaps})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		e := testEvent("project:x")
		if i%2 == 0 {
			e.EventType = event.TypeCommandBlocked
		}
		_, err := s.Append(ctx, "alice", e)
		require.NoError(t, err)
	}

	// Full replay.
	blocked := 0
	handlers := HandlerTable{
		event.TypeCommandBlocked: func(e *event.Event) error { blocked++; return nil },
	}
	tail, err := s.Replay(ctx, 0, handlers)
	require.NoError(t, err)
	assert.Equal(t, int64(10), tail)
	assert.Equal(t, 5, blocked)

	// Snapshot at sequence 6, then snapshot + tail equals full replay.
	id, err := snaps.Create(map[string]any{"blocked": 3}, 6, nil)
	require.NoError(t, err)

	var fromSnap int
	tail, err = s.ReplayFromSnapshot(ctx, id, func(state map[string]any) error {
		fromSnap = int(state["blocked"].(float64))
		return nil
	}, HandlerTable{
		event.TypeCommandBlocked: func(e *event.Event) error { fromSnap++; return nil },
	})
	require.NoError(t, err)
	assert.Equal(t, int64(10), tail)
	assert.Equal(t, blocked, fromSnap, "snapshot + tail must equal full replay")
}

func TestSnapshotRoundTrip(t *testing.T) {
	snaps, err := NewSnapshotStore(t.TempDir())
	require.NoError(t, err)

	id, err := snaps.Create(map[string]any{"k": "v"}, 42, map[string]string{"why": "test"})
	require.NoError(t, err)

	snap, err := snaps.Load(id)
	require.NoError(t, err)
	assert.Equal(t, int64(42), snap.Sequence)
	assert.Equal(t, "v", snap.State["k"])

	_, err = snaps.Load("missing")
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestImmutabilityOfReturnedEvents(t *testing.T) {
	s := newSegmentStore(t, t.TempDir())
	defer s.Close()
	ctx := context.Background()

	src := testEvent("project:x")
	_, err := s.Append(ctx, "alice", src)
	require.NoError(t, err)

	// Mutating the caller's event after append must not affect the log.
	src.AggregateID = "project:mutated"

	res, err := s.QueryEvents(ctx, Query{Limit: 10})
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, "project:x", res.Events[0].AggregateID)
}
