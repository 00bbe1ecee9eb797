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
	"sort"
	"sync"
	"time"
)

// latencyWindow keeps a bounded ring of recent operation latencies for
// cheap percentile estimates.
type latencyWindow struct {
	mu      sync.Mutex
	samples []time.Duration
	next    int
	full    bool
	count   int64
	since   time.Time
}

func newLatencyWindow(size int) *latencyWindow {
	return &latencyWindow{
		samples: make([]time.Duration, size),
		since:   time.Now(),
	}
}

func (w *latencyWindow) observe(d time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = d
	w.next = (w.next + 1) % len(w.samples)
	if w.next == 0 {
		w.full = true
	}
	w.count++
}

// percentiles returns p50 and p99 over the window.
func (w *latencyWindow) percentiles() (p50, p99 time.Duration) {
	w.mu.Lock()
	n := w.next
	if w.full {
		n = len(w.samples)
	}
	snapshot := append([]time.Duration(nil), w.samples[:n]...)
	w.mu.Unlock()

	if len(snapshot) == 0 {
		return 0, 0
	}
	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i] < snapshot[j] })
	return snapshot[len(snapshot)*50/100], snapshot[len(snapshot)*99/100]
}

// rate returns operations per second since the window was created.
func (w *latencyWindow) rate() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	elapsed := time.Since(w.since).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(w.count) / elapsed
}

// Health is the store's health report fragment.
type Health struct {
	Status             string  `json:"status"`
	CurrentSequence    int64   `json:"current_sequence"`
	EventsPerSecond    float64 `json:"events_per_second"`
	AppendP50MS        float64 `json:"append_p50_ms"`
	AppendP99MS        float64 `json:"append_p99_ms"`
	QueryP50MS         float64 `json:"query_p50_ms"`
	QueryP99MS         float64 `json:"query_p99_ms"`
	DiskUsageBytes     int64   `json:"disk_usage_bytes"`
	SegmentCount       int     `json:"segment_count"`
	IntegrityIncidents int64   `json:"integrity_incidents"`
}

// Health reports the store's current condition.
func (s *Store) Health() Health {
	status := "healthy"
	if s.readOnly.Load() {
		status = "degraded_read_only"
	}
	if s.closed.Load() {
		status = "closed"
	}

	ap50, ap99 := s.appendLat.percentiles()
	qp50, qp99 := s.queryLat.percentiles()

	h := Health{
		Status:             status,
		CurrentSequence:    s.tail.Load(),
		EventsPerSecond:    s.appendLat.rate(),
		AppendP50MS:        float64(ap50.Microseconds()) / 1000.0,
		AppendP99MS:        float64(ap99.Microseconds()) / 1000.0,
		QueryP50MS:         float64(qp50.Microseconds()) / 1000.0,
		QueryP99MS:         float64(qp99.Microseconds()) / 1000.0,
		IntegrityIncidents: s.integrityIncidents.Load(),
	}

	if sb, ok := s.backend.(*SegmentBackend); ok {
		h.SegmentCount = sb.SegmentCount()
		h.DiskUsageBytes = sb.DiskUsageBytes()
	}
	return h
}
