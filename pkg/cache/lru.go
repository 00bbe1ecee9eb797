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

package cache

import (
	"container/list"
	"strings"
	"sync"
	"time"
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time

	// hot promotion state: accesses within the sliding window.
	accesses    int
	windowStart time.Time
	hot         bool
}

// lru is the local tier: LRU bounded by entry count and payload bytes, with
// hot entries pinned against eviction up to a quota.
type lru struct {
	mu        sync.Mutex
	config    *Config
	order     *list.List
	items     map[string]*list.Element
	bytes     int64
	hotCount  int
	evictions int64
	now       func() time.Time
}

func newLRU(cfg *Config) *lru {
	return &lru{
		config: cfg,
		order:  list.New(),
		items:  make(map[string]*list.Element),
		now:    time.Now,
	}
}

func (l *lru) get(key string) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	el, ok := l.items[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*entry)

	now := l.now()
	if now.After(ent.expiresAt) {
		l.removeLocked(el)
		return nil, false
	}

	l.touchLocked(ent, now)
	l.order.MoveToFront(el)
	return ent.value, true
}

// touchLocked advances the entry's sliding access window and promotes it to
// hot once it crosses the threshold, quota permitting.
func (l *lru) touchLocked(ent *entry, now time.Time) {
	if now.Sub(ent.windowStart) > l.config.HotWindow {
		ent.windowStart = now
		ent.accesses = 0
	}
	ent.accesses++
	if !ent.hot && ent.accesses >= l.config.HotAccessThreshold && l.hotCount < l.config.HotPinQuota {
		ent.hot = true
		l.hotCount++
	}
}

func (l *lru) set(key string, value []byte, ttl time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if el, ok := l.items[key]; ok {
		ent := el.Value.(*entry)
		l.bytes += int64(len(value)) - int64(len(ent.value))
		ent.value = value
		ent.expiresAt = now.Add(ttl)
		l.order.MoveToFront(el)
	} else {
		ent := &entry{
			key:         key,
			value:       value,
			expiresAt:   now.Add(ttl),
			windowStart: now,
		}
		l.items[key] = l.order.PushFront(ent)
		l.bytes += int64(len(value))
	}
	l.evictLocked()
}

// evictLocked removes least-recent entries until both bounds hold. Hot
// entries are skipped; if only hot entries remain over-bound, the oldest
// hot entry loses its pin.
func (l *lru) evictLocked() {
	for (l.order.Len() > l.config.MaxEntries || l.bytes > l.config.MaxBytes) && l.order.Len() > 0 {
		el := l.order.Back()
		for el != nil && el.Value.(*entry).hot {
			el = el.Prev()
		}
		if el == nil {
			// Everything left is pinned; unpin the least-recent hot entry.
			el = l.order.Back()
			ent := el.Value.(*entry)
			ent.hot = false
			l.hotCount--
		}
		l.removeLocked(el)
		l.evictions++
	}
}

func (l *lru) removeLocked(el *list.Element) {
	ent := el.Value.(*entry)
	if ent.hot {
		l.hotCount--
	}
	l.bytes -= int64(len(ent.value))
	l.order.Remove(el)
	delete(l.items, ent.key)
}

func (l *lru) deletePrefix(prefix string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key, el := range l.items {
		if strings.HasPrefix(key, prefix) {
			l.removeLocked(el)
		}
	}
}

func (l *lru) stats() (entries int, bytes int64, hot int, evictions int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.order.Len(), l.bytes, l.hotCount, l.evictions
}
