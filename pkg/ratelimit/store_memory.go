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

package ratelimit

import (
	"context"
	"math"
	"sync"
	"time"
)

// bucket is one identifier's token bucket state.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// MemoryStore is an in-memory Store with a bounded bucket table. When the
// table is full, the bucket with the oldest refill time is evicted; ties
// break on the lexicographically smallest identifier so eviction is
// deterministic.
type MemoryStore struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	maxBuckets int
	now        func() time.Time
}

// NewMemoryStore creates a bounded in-memory bucket store.
func NewMemoryStore(maxBuckets int) *MemoryStore {
	if maxBuckets <= 0 {
		maxBuckets = 10000
	}
	return &MemoryStore{
		buckets:    make(map[string]*bucket),
		maxBuckets: maxBuckets,
		now:        time.Now,
	}
}

// Take implements Store.
func (s *MemoryStore) Take(ctx context.Context, identifier string, limit Limit, n int64) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	b, ok := s.buckets[identifier]
	if !ok {
		if len(s.buckets) >= s.maxBuckets {
			s.evictLocked()
		}
		b = &bucket{tokens: float64(limit.burst()), lastRefill: now}
		s.buckets[identifier] = b
	} else {
		elapsed := now.Sub(b.lastRefill).Seconds()
		if elapsed > 0 {
			b.tokens = math.Min(float64(limit.burst()), b.tokens+elapsed*limit.refillPerSecond())
			b.lastRefill = now
		}
	}

	need := float64(n)
	if b.tokens >= need {
		b.tokens -= need
		return &Decision{Allowed: true, Remaining: int64(b.tokens)}, nil
	}

	retry := time.Duration((need - b.tokens) / limit.refillPerSecond() * float64(time.Second))
	return &Decision{Allowed: false, Remaining: int64(b.tokens), RetryAfter: retry}, nil
}

// evictLocked removes the stalest bucket. Oldest lastRefill loses; ties go
// to the smallest identifier.
func (s *MemoryStore) evictLocked() {
	var victim string
	var victimTime time.Time
	for id, b := range s.buckets {
		if victim == "" ||
			b.lastRefill.Before(victimTime) ||
			(b.lastRefill.Equal(victimTime) && id < victim) {
			victim = id
			victimTime = b.lastRefill
		}
	}
	if victim != "" {
		delete(s.buckets, victim)
	}
}

// Reset implements Store.
func (s *MemoryStore) Reset(ctx context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, identifier)
	return nil
}

// Len implements Store.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.buckets)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buckets = make(map[string]*bucket)
	return nil
}

var _ Store = (*MemoryStore)(nil)
