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

// Package ratelimit provides per-agent token bucket rate limiting with a
// bounded bucket table and deterministic eviction.
package ratelimit

import (
	"context"
	"fmt"
	"time"
)

// Limit describes one bucket shape. Zero RequestsPerMinute means unlimited.
type Limit struct {
	RequestsPerMinute int64
	Burst             int64
}

// Unlimited reports whether this limit never throttles.
func (l Limit) Unlimited() bool { return l.RequestsPerMinute <= 0 }

func (l Limit) burst() int64 {
	if l.Burst > 0 {
		return l.Burst
	}
	return l.RequestsPerMinute
}

// refillPerSecond is the steady-state token rate.
func (l Limit) refillPerSecond() float64 {
	return float64(l.RequestsPerMinute) / 60.0
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Store tracks bucket state keyed by identifier.
type Store interface {
	// Take attempts to remove n tokens from the identifier's bucket,
	// refilling it first according to the limit. A bucket with too few
	// tokens yields a denied decision, not an error.
	Take(ctx context.Context, identifier string, limit Limit, n int64) (*Decision, error)

	// Reset drops the identifier's bucket.
	Reset(ctx context.Context, identifier string) error

	// Len returns the number of tracked buckets.
	Len() int

	Close() error
}

// Config configures a Limiter.
type Config struct {
	Enabled bool `yaml:"enabled"`

	// MaxBuckets bounds the bucket table. When full, the stalest bucket is
	// evicted to admit a new identifier.
	MaxBuckets int `yaml:"max_buckets"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxBuckets == 0 {
		c.MaxBuckets = 10000
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.MaxBuckets < 0 {
		return fmt.Errorf("max_buckets cannot be negative")
	}
	return nil
}

// Limiter applies per-identifier token bucket limits.
type Limiter struct {
	config *Config
	store  Store
}

// NewLimiter creates a limiter over the given store.
func NewLimiter(cfg *Config, store Store) (*Limiter, error) {
	if cfg == nil {
		cfg = &Config{Enabled: true}
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rate limit config: %w", err)
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	return &Limiter{config: cfg, store: store}, nil
}

// Allow consumes n tokens from the identifier's bucket. It returns a
// *LimitedError when the bucket is exhausted, so callers can surface the
// retry hint.
func (l *Limiter) Allow(ctx context.Context, identifier string, limit Limit, n int64) (*Decision, error) {
	if !l.config.Enabled || limit.Unlimited() {
		return &Decision{Allowed: true, Remaining: -1}, nil
	}
	if identifier == "" {
		return nil, fmt.Errorf("identifier cannot be empty")
	}
	if n <= 0 {
		n = 1
	}

	d, err := l.store.Take(ctx, identifier, limit, n)
	if err != nil {
		return nil, err
	}
	if !d.Allowed {
		return d, &LimitedError{Identifier: identifier, RetryAfter: d.RetryAfter}
	}
	return d, nil
}

// Reset clears the identifier's bucket.
func (l *Limiter) Reset(ctx context.Context, identifier string) error {
	return l.store.Reset(ctx, identifier)
}

// Close releases the underlying store.
func (l *Limiter) Close() error {
	return l.store.Close()
}
