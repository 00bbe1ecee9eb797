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

// Package cache implements the two-tier validation result cache: a bounded
// local LRU in front of an optional remote KV tier. When the remote tier is
// unreachable the cache degrades to local-only and keeps serving.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Layer names the tier that served a hit.
type Layer string

const (
	LayerNone   Layer = "none"
	LayerLocal  Layer = "local"
	LayerRemote Layer = "remote"
)

// Config configures the two-tier cache.
type Config struct {
	// MaxEntries bounds the local tier by entry count.
	MaxEntries int `yaml:"max_entries"`

	// MaxBytes bounds the local tier by payload bytes.
	MaxBytes int64 `yaml:"max_bytes"`

	// HotAccessThreshold promotes an entry to hot after this many accesses
	// within HotWindow.
	HotAccessThreshold int `yaml:"hot_access_threshold"`

	// HotWindow is the sliding window for hot promotion.
	HotWindow time.Duration `yaml:"hot_window"`

	// HotPinQuota caps how many hot entries may be pinned against eviction.
	HotPinQuota int `yaml:"hot_pin_quota"`

	// DefaultTTL applies when Set is called with zero ttl.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// RemoteTimeout bounds every remote operation. The caller is never
	// blocked on remote I/O longer than this.
	RemoteTimeout time.Duration `yaml:"remote_timeout"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxEntries == 0 {
		c.MaxEntries = 10000
	}
	if c.MaxBytes == 0 {
		c.MaxBytes = 64 << 20
	}
	if c.HotAccessThreshold == 0 {
		c.HotAccessThreshold = 5
	}
	if c.HotWindow == 0 {
		c.HotWindow = time.Minute
	}
	if c.HotPinQuota == 0 {
		c.HotPinQuota = c.MaxEntries / 10
	}
	if c.DefaultTTL == 0 {
		c.DefaultTTL = 5 * time.Minute
	}
	if c.RemoteTimeout == 0 {
		c.RemoteTimeout = 50 * time.Millisecond
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxEntries < 0 || c.MaxBytes < 0 {
		return fmt.Errorf("cache bounds cannot be negative")
	}
	if c.HotPinQuota > c.MaxEntries {
		return fmt.Errorf("hot_pin_quota cannot exceed max_entries")
	}
	return nil
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	LocalHits  int64   `json:"local_hits"`
	RemoteHits int64   `json:"remote_hits"`
	Misses     int64   `json:"misses"`
	Evictions  int64   `json:"evictions"`
	HotEntries int     `json:"hot_entries"`
	Entries    int     `json:"entries"`
	Bytes      int64   `json:"bytes"`
	HitRate    float64 `json:"hit_rate"`
	Degraded   bool    `json:"degraded"`
}

// Cache is the two-tier cache. Values are opaque bytes; callers own the
// serialisation.
type Cache struct {
	config *Config
	local  *lru
	remote Remote

	localHits  atomic.Int64
	remoteHits atomic.Int64
	misses     atomic.Int64
	degraded   atomic.Bool
}

// New creates a cache. remote may be nil for a local-only cache.
func New(cfg *Config, remote Remote) (*Cache, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cache config: %w", err)
	}
	return &Cache{
		config: cfg,
		local:  newLRU(cfg),
		remote: remote,
	}, nil
}

// Get returns the cached value and the layer that served it. A remote hit
// populates the local tier on the way back.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, Layer, bool) {
	if v, ok := c.local.get(key); ok {
		c.localHits.Add(1)
		return v, LayerLocal, true
	}

	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
		v, ok, err := c.remote.Get(rctx, key)
		cancel()
		switch {
		case err != nil:
			c.noteRemoteFailure("get", err)
		case ok:
			c.remoteHits.Add(1)
			c.degraded.Store(false)
			c.local.set(key, v, c.config.DefaultTTL)
			return v, LayerRemote, true
		default:
			c.degraded.Store(false)
		}
	}

	c.misses.Add(1)
	return nil, LayerNone, false
}

// Set writes the local tier and best-effort writes the remote tier.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.config.DefaultTTL
	}
	c.local.set(key, value, ttl)

	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
		err := c.remote.Set(rctx, key, value, ttl)
		cancel()
		if err != nil {
			c.noteRemoteFailure("set", err)
		} else {
			c.degraded.Store(false)
		}
	}
}

// Invalidate removes local entries whose key starts with prefix and issues
// a prefix delete to the remote tier.
func (c *Cache) Invalidate(ctx context.Context, prefix string) error {
	c.local.deletePrefix(prefix)

	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.config.RemoteTimeout)
		defer cancel()
		if err := c.remote.DeletePrefix(rctx, prefix); err != nil {
			c.noteRemoteFailure("invalidate", err)
			return fmt.Errorf("remote invalidate: %w", err)
		}
	}
	return nil
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	entries, bytes, hot, evictions := c.local.stats()
	lh, rh, miss := c.localHits.Load(), c.remoteHits.Load(), c.misses.Load()

	total := lh + rh + miss
	rate := 0.0
	if total > 0 {
		rate = float64(lh+rh) / float64(total)
	}
	return Stats{
		LocalHits:  lh,
		RemoteHits: rh,
		Misses:     miss,
		Evictions:  evictions,
		HotEntries: hot,
		Entries:    entries,
		Bytes:      bytes,
		HitRate:    rate,
		Degraded:   c.degraded.Load(),
	}
}

// Degraded reports whether the last remote operation failed.
func (c *Cache) Degraded() bool {
	return c.degraded.Load()
}

func (c *Cache) noteRemoteFailure(op string, err error) {
	if !c.degraded.Swap(true) {
		slog.Warn("Remote cache tier unavailable, serving local-only", "op", op, "error", err)
	}
}

// Close releases the remote tier, if any.
func (c *Cache) Close() error {
	if c.remote != nil {
		return c.remote.Close()
	}
	return nil
}
