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
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/lighthouse-agents/lighthouse/pkg/event"
)

// FsyncMode controls when the active segment is flushed to stable storage.
type FsyncMode string

const (
	FsyncPerWrite FsyncMode = "per_write"
	FsyncPerBatch FsyncMode = "per_batch"
	FsyncInterval FsyncMode = "interval"
)

// SegmentOptions configures the segmented log backend.
type SegmentOptions struct {
	// Dir is the directory holding segment files.
	Dir string

	// MaxSegmentBytes triggers rotation of the active segment. Default 64 MiB.
	MaxSegmentBytes int64

	// Fsync selects the durability policy. Default per_write.
	Fsync FsyncMode

	// FsyncInterval applies when Fsync is FsyncInterval. Default 100 ms.
	FsyncInterval time.Duration

	// FsyncTimeout bounds a single fsync; exceeding it is treated as a
	// fatal storage error. Default 10 s.
	FsyncTimeout time.Duration
}

func (o *SegmentOptions) setDefaults() {
	if o.MaxSegmentBytes <= 0 {
		o.MaxSegmentBytes = 64 << 20
	}
	if o.Fsync == "" {
		o.Fsync = FsyncPerWrite
	}
	if o.FsyncInterval <= 0 {
		o.FsyncInterval = 100 * time.Millisecond
	}
	if o.FsyncTimeout <= 0 {
		o.FsyncTimeout = 10 * time.Second
	}
}

var segmentNameRe = regexp.MustCompile(`^events_(\d+)_(\d+|current)\.log$`)

// segment is one log file plus its in-memory sequence→offset index.
type segment struct {
	path     string
	startSeq int64
	endSeq   int64 // 0 while active
	offsets  []int64
}

// SegmentBackend is the append-only segmented file backend.
//
// Layout: one active segment plus immutable rolled history, each file named
// events_<start>_<end>.log. Records are length-prefixed frames; a torn
// trailing frame found at open is truncated away.
type SegmentBackend struct {
	opts SegmentOptions

	mu       sync.RWMutex
	segments []*segment
	active   *os.File
	actSize  int64
	lastSeq  int64

	stopSync chan struct{}
	syncOnce sync.Once
}

// NewSegmentBackend opens (or creates) the log directory and recovers the
// tail of the active segment.
func NewSegmentBackend(opts SegmentOptions) (*SegmentBackend, error) {
	opts.setDefaults()
	if opts.Dir == "" {
		return nil, fmt.Errorf("segment dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, &StorageError{Op: "mkdir", Err: err}
	}

	b := &SegmentBackend{
		opts:     opts,
		stopSync: make(chan struct{}),
	}
	if err := b.open(); err != nil {
		return nil, err
	}

	if opts.Fsync == FsyncInterval {
		go b.syncLoop()
	}
	return b, nil
}

func (b *SegmentBackend) open() error {
	entries, err := os.ReadDir(b.opts.Dir)
	if err != nil {
		return &StorageError{Op: "readdir", Err: err}
	}

	var segs []*segment
	for _, ent := range entries {
		m := segmentNameRe.FindStringSubmatch(ent.Name())
		if m == nil {
			continue
		}
		start, _ := strconv.ParseInt(m[1], 10, 64)
		seg := &segment{path: filepath.Join(b.opts.Dir, ent.Name()), startSeq: start}
		if m[2] != "current" {
			seg.endSeq, _ = strconv.ParseInt(m[2], 10, 64)
		}
		segs = append(segs, seg)
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].startSeq < segs[j].startSeq })

	// Index every segment; repair the active one.
	for _, seg := range segs {
		active := seg.endSeq == 0
		if err := b.indexSegment(seg, active); err != nil {
			return err
		}
	}

	if len(segs) == 0 || segs[len(segs)-1].endSeq != 0 {
		// No active segment yet; create one starting after the tail.
		start := int64(1)
		if len(segs) > 0 {
			start = segs[len(segs)-1].endSeq + 1
		}
		seg := &segment{
			path:     filepath.Join(b.opts.Dir, fmt.Sprintf("events_%d_current.log", start)),
			startSeq: start,
		}
		segs = append(segs, seg)
	}

	activeSeg := segs[len(segs)-1]
	f, err := os.OpenFile(activeSeg.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return &StorageError{Op: "open active segment", Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return &StorageError{Op: "stat active segment", Err: err}
	}

	b.segments = segs
	b.active = f
	b.actSize = info.Size()
	b.lastSeq = 0
	for _, seg := range segs {
		if n := seg.startSeq + int64(len(seg.offsets)) - 1; len(seg.offsets) > 0 && n > b.lastSeq {
			b.lastSeq = n
		}
	}
	return nil
}

// indexSegment scans one file building its offset index. When repair is
// true, a torn trailing frame is truncated away rather than reported.
func (b *SegmentBackend) indexSegment(seg *segment, repair bool) error {
	f, err := os.Open(seg.path)
	if err != nil {
		if os.IsNotExist(err) && repair {
			return nil
		}
		return &StorageError{Op: "open segment", Err: err}
	}
	defer f.Close()

	var offset int64
	for {
		record, err := event.ReadFrame(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			if !repair {
				return &StorageError{Op: "scan segment " + seg.path, Err: err}
			}
			// Torn or corrupt tail: drop everything from here on.
			if terr := os.Truncate(seg.path, offset); terr != nil {
				return &StorageError{Op: "truncate torn tail", Err: terr}
			}
			break
		}
		seg.offsets = append(seg.offsets, offset)
		offset += int64(4 + len(record))
	}
	return nil
}

// Append implements Backend. The batch is written to the active segment and
// flushed per the fsync policy; on any write error the file is truncated
// back so no partial batch is ever observable.
func (b *SegmentBackend) Append(ctx context.Context, events []*event.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return ErrClosed
	}

	if b.actSize >= b.opts.MaxSegmentBytes {
		if err := b.rotateLocked(); err != nil {
			return err
		}
	}

	startSize := b.actSize
	seg := b.segments[len(b.segments)-1]
	written := 0

	for _, e := range events {
		record, err := event.Encode(e)
		if err != nil {
			b.undoLocked(seg, startSize, written)
			return err
		}
		n, err := event.WriteFrame(b.active, record)
		if err != nil {
			b.undoLocked(seg, startSize, written)
			return &StorageError{Op: "write", Err: err}
		}
		seg.offsets = append(seg.offsets, b.actSize)
		b.actSize += int64(n)
		written++

		if b.opts.Fsync == FsyncPerWrite {
			if err := b.syncLocked(); err != nil {
				b.undoLocked(seg, startSize, written)
				return err
			}
		}
	}

	if b.opts.Fsync == FsyncPerBatch {
		if err := b.syncLocked(); err != nil {
			b.undoLocked(seg, startSize, written)
			return err
		}
	}

	b.lastSeq = events[len(events)-1].Sequence
	return nil
}

// undoLocked rolls the active segment back to its pre-batch state.
func (b *SegmentBackend) undoLocked(seg *segment, size int64, written int) {
	_ = b.active.Truncate(size)
	_, _ = b.active.Seek(size, io.SeekStart)
	seg.offsets = seg.offsets[:len(seg.offsets)-written]
	b.actSize = size
}

// syncLocked fsyncs the active segment within the configured timeout.
func (b *SegmentBackend) syncLocked() error {
	done := make(chan error, 1)
	go func() { done <- b.active.Sync() }()
	select {
	case err := <-done:
		if err != nil {
			return &StorageError{Op: "fsync", Err: err}
		}
		return nil
	case <-time.After(b.opts.FsyncTimeout):
		return &StorageError{Op: "fsync", Err: fmt.Errorf("timed out after %s", b.opts.FsyncTimeout)}
	}
}

// rotateLocked seals the active segment under its final name and starts a
// fresh one.
func (b *SegmentBackend) rotateLocked() error {
	seg := b.segments[len(b.segments)-1]
	if len(seg.offsets) == 0 {
		return nil
	}
	if err := b.syncLocked(); err != nil {
		return err
	}
	if err := b.active.Close(); err != nil {
		return &StorageError{Op: "close segment", Err: err}
	}

	seg.endSeq = seg.startSeq + int64(len(seg.offsets)) - 1
	sealed := filepath.Join(b.opts.Dir, fmt.Sprintf("events_%d_%d.log", seg.startSeq, seg.endSeq))
	if err := os.Rename(seg.path, sealed); err != nil {
		return &StorageError{Op: "seal segment", Err: err}
	}
	seg.path = sealed

	next := &segment{
		path:     filepath.Join(b.opts.Dir, fmt.Sprintf("events_%d_current.log", seg.endSeq+1)),
		startSeq: seg.endSeq + 1,
	}
	f, err := os.OpenFile(next.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return &StorageError{Op: "open new segment", Err: err}
	}
	b.segments = append(b.segments, next)
	b.active = f
	b.actSize = 0
	return nil
}

// LastSequence implements Backend.
func (b *SegmentBackend) LastSequence() (int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastSeq, nil
}

// SegmentCount returns the number of segment files, for health reporting.
func (b *SegmentBackend) SegmentCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.segments)
}

// DiskUsageBytes sums segment file sizes, for health reporting.
func (b *SegmentBackend) DiskUsageBytes() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total int64
	for _, seg := range b.segments {
		if info, err := os.Stat(seg.path); err == nil {
			total += info.Size()
		}
	}
	return total
}

// Scan implements Backend.
func (b *SegmentBackend) Scan(ctx context.Context, after int64, fn func(*event.Event) error) error {
	b.mu.RLock()
	segs := append([]*segment(nil), b.segments...)
	b.mu.RUnlock()

	for _, seg := range segs {
		last := seg.startSeq + int64(len(seg.offsets)) - 1
		if len(seg.offsets) == 0 || last <= after {
			continue
		}
		if err := b.scanSegment(ctx, seg, after, fn); err != nil {
			return err
		}
	}
	return nil
}

func (b *SegmentBackend) scanSegment(ctx context.Context, seg *segment, after int64, fn func(*event.Event) error) error {
	f, err := os.Open(seg.path)
	if err != nil {
		return &StorageError{Op: "open segment", Err: err}
	}
	defer f.Close()

	// Seek straight to the first wanted record via the index.
	start := 0
	if after >= seg.startSeq {
		start = int(after - seg.startSeq + 1)
	}
	if start >= len(seg.offsets) {
		return nil
	}
	if _, err := f.Seek(seg.offsets[start], io.SeekStart); err != nil {
		return &StorageError{Op: "seek", Err: err}
	}

	for i := start; i < len(seg.offsets); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := event.ReadFrame(f)
		if err != nil {
			return &StorageError{Op: "read record", Err: err}
		}
		e, err := event.Decode(record)
		if err != nil {
			return &StorageError{Op: "decode record", Err: err}
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

// Query implements Backend with a filtered scan. The segmented backend has
// no secondary indices; sequence range filters are served via the offset
// index, everything else by scanning.
func (b *SegmentBackend) Query(ctx context.Context, q Query) ([]*event.Event, int64, error) {
	var matched []*event.Event
	err := b.Scan(ctx, q.Filter.AfterSequence, func(e *event.Event) error {
		if q.Filter.Matches(e) {
			matched = append(matched, e)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	sortEvents(matched, q.SortBy, q.Descending)
	total := int64(len(matched))
	page := paginate(matched, q.Offset, q.Limit)
	return page, total, nil
}

func sortEvents(events []*event.Event, by SortField, desc bool) {
	less := func(a, b *event.Event) bool { return a.Sequence < b.Sequence }
	if by == SortByTimestamp {
		less = func(a, b *event.Event) bool {
			if a.Timestamp != b.Timestamp {
				return a.Timestamp < b.Timestamp
			}
			return a.Sequence < b.Sequence
		}
	}
	sort.SliceStable(events, func(i, j int) bool {
		if desc {
			return less(events[j], events[i])
		}
		return less(events[i], events[j])
	})
}

func paginate(events []*event.Event, offset, limit int) []*event.Event {
	if offset >= len(events) {
		return nil
	}
	end := offset + limit
	if end > len(events) {
		end = len(events)
	}
	return events[offset:end]
}

func (b *SegmentBackend) syncLoop() {
	ticker := time.NewTicker(b.opts.FsyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			b.mu.Lock()
			if b.active != nil {
				_ = b.active.Sync()
			}
			b.mu.Unlock()
		case <-b.stopSync:
			return
		}
	}
}

// Close seals nothing; the active segment is recovered on next open.
func (b *SegmentBackend) Close() error {
	b.syncOnce.Do(func() { close(b.stopSync) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.active == nil {
		return nil
	}
	err := b.active.Sync()
	cerr := b.active.Close()
	b.active = nil
	if err != nil {
		return &StorageError{Op: "fsync on close", Err: err}
	}
	if cerr != nil {
		return &StorageError{Op: "close", Err: cerr}
	}
	return nil
}

var _ Backend = (*SegmentBackend)(nil)
