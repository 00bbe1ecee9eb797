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

package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lighthouse-agents/lighthouse/pkg/cache"
)

// Config configures the dispatcher.
type Config struct {
	// Floors are per-tier confidence floors. A tier's approved/blocked
	// ruling only settles the request when its confidence meets the floor.
	PolicyFloor    Confidence `yaml:"policy_floor"`
	PatternFloor   Confidence `yaml:"pattern_floor"`
	HeuristicFloor Confidence `yaml:"heuristic_floor"`

	// CacheTTL applies to cached rulings.
	CacheTTL time.Duration `yaml:"cache_ttl"`

	// EscalationTimeout bounds the synchronous expert call.
	EscalationTimeout time.Duration `yaml:"escalation_timeout"`

	// AllowedBaseDirs restricts absolute-path writes to these trees.
	AllowedBaseDirs []string `yaml:"allowed_base_dirs"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.PolicyFloor == "" {
		c.PolicyFloor = ConfidenceHigh
	}
	if c.PatternFloor == "" {
		c.PatternFloor = ConfidenceMedium
	}
	if c.HeuristicFloor == "" {
		c.HeuristicFloor = ConfidenceHigh
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 5 * time.Minute
	}
	if c.EscalationTimeout == 0 {
		c.EscalationTimeout = 30 * time.Second
	}
}

// Dispatcher runs the tiered pipeline. Identical in-flight requests are
// collapsed to a single evaluation via singleflight.
type Dispatcher struct {
	config    *Config
	cache     *cache.Cache
	tiers     []Tier
	floors    map[string]Confidence
	escalator Escalator

	group singleflight.Group

	tierFailures atomic.Int64
	escalations  atomic.Int64
}

// NewDispatcher wires the standard three tiers over the given cache and
// escalator. escalator may be nil; escalations then fail closed.
func NewDispatcher(cfg *Config, c *cache.Cache, escalator Escalator) (*Dispatcher, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.SetDefaults()
	if c == nil {
		return nil, fmt.Errorf("cache is required")
	}

	policy, err := NewPolicyTier(nil)
	if err != nil {
		return nil, err
	}

	d := &Dispatcher{
		config:    cfg,
		cache:     c,
		tiers:     []Tier{policy, NewPatternTier(&PatternConfig{AllowedBaseDirs: cfg.AllowedBaseDirs}), NewHeuristicTier()},
		escalator: escalator,
	}
	d.floors = map[string]Confidence{
		"policy":    cfg.PolicyFloor,
		"pattern":   cfg.PatternFloor,
		"heuristic": cfg.HeuristicFloor,
	}
	return d, nil
}

// TierFailures returns the count of isolated tier errors.
func (d *Dispatcher) TierFailures() int64 { return d.tierFailures.Load() }

// Escalations returns the count of requests handed to experts.
func (d *Dispatcher) Escalations() int64 { return d.escalations.Load() }

// Validate rules on the request. Cache-hit paths return in microseconds;
// escalations take as long as the expert timeout allows.
func (d *Dispatcher) Validate(ctx context.Context, req *Request) (*Result, error) {
	start := time.Now()

	if req.Fingerprint == "" {
		fp, err := Fingerprint(req.ToolName, req.ToolInput, req.AgentRole)
		if err != nil {
			return nil, err
		}
		req.Fingerprint = fp
	}

	if cached, layer, ok := d.lookupCache(ctx, req.Fingerprint); ok {
		cached.CacheHit = true
		cached.CacheLayer = layer
		cached.ProcessingTimeMS = msSince(start)
		return cached, nil
	}

	v, err, _ := d.group.Do(req.Fingerprint, func() (any, error) {
		return d.evaluate(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	// Copy so concurrent callers sharing a singleflight result do not
	// race on the timing fields.
	res := *v.(*Result)
	res.ProcessingTimeMS = msSince(start)
	return &res, nil
}

// evaluate runs the tiers in order and escalates when none settles the
// request at its confidence floor.
func (d *Dispatcher) evaluate(ctx context.Context, req *Request) (*Result, error) {
	var concerns []string

	for _, tier := range d.tiers {
		res := d.runTier(ctx, tier, req)
		if res == nil {
			continue
		}
		concerns = append(concerns, res.SecurityConcerns...)

		// Escalate never short-circuits; only a settled approve/block at
		// floor confidence does. Block wins at equal confidence by being
		// checked on the same terms as approve.
		if res.Decision == DecisionEscalate {
			continue
		}
		if res.Confidence.AtLeast(d.floors[tier.Name()]) {
			res.Tier = tier.Name()
			res.SecurityConcerns = concerns
			d.store(req.Fingerprint, res)
			return res, nil
		}
	}

	return d.escalate(ctx, req, concerns)
}

// runTier isolates tier failures: a panicking or erroring tier is skipped
// and counted, never fatal to the pipeline.
func (d *Dispatcher) runTier(ctx context.Context, tier Tier, req *Request) (res *Result) {
	defer func() {
		if r := recover(); r != nil {
			d.tierFailures.Add(1)
			slog.Error("Validation tier panicked", "tier", tier.Name(), "panic", r)
			res = nil
		}
	}()

	res, err := tier.Evaluate(ctx, req)
	if err != nil {
		d.tierFailures.Add(1)
		slog.Warn("Validation tier failed, skipping", "tier", tier.Name(), "error", err)
		return nil
	}
	return res
}

func (d *Dispatcher) escalate(ctx context.Context, req *Request, concerns []string) (*Result, error) {
	d.escalations.Add(1)

	if d.escalator == nil {
		return d.failClosed(req, concerns, "no escalation path configured"), nil
	}

	ectx, cancel := context.WithTimeout(ctx, d.config.EscalationTimeout)
	defer cancel()

	res, err := d.escalator.Escalate(ectx, req, concerns)
	if err != nil {
		slog.Warn("Escalation failed, failing closed",
			"request_id", req.RequestID, "tool", req.ToolName, "error", err)
		return d.failClosed(req, concerns, "validation pipeline unavailable: "+err.Error()), nil
	}

	res.Tier = "expert"
	res.ExpertRequired = true
	d.store(req.Fingerprint, res)
	return res, nil
}

func (d *Dispatcher) failClosed(req *Request, concerns []string, reason string) *Result {
	return &Result{
		Decision:         DecisionBlocked,
		Confidence:       ConfidenceLow,
		Reason:           reason,
		RiskLevel:        RiskHigh,
		SecurityConcerns: concerns,
		Tier:             "fail-closed",
	}
}

func (d *Dispatcher) lookupCache(ctx context.Context, fingerprint string) (*Result, cache.Layer, bool) {
	b, layer, ok := d.cache.Get(ctx, fingerprint)
	if !ok {
		return nil, cache.LayerNone, false
	}
	var res Result
	if err := json.Unmarshal(b, &res); err != nil {
		slog.Warn("Corrupt cache entry dropped", "fingerprint", fingerprint, "error", err)
		return nil, cache.LayerNone, false
	}
	// Cached rulings are only trusted at high confidence.
	if !res.Confidence.AtLeast(ConfidenceHigh) {
		return nil, cache.LayerNone, false
	}
	return &res, layer, true
}

// store writes the ruling to cache. It deliberately ignores the caller's
// context: a ruling reached after the caller went away is still worth
// keeping.
func (d *Dispatcher) store(fingerprint string, res *Result) {
	b, err := json.Marshal(res)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	d.cache.Set(ctx, fingerprint, b, d.config.CacheTTL)
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
