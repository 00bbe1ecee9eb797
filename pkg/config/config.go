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

// Package config defines the enumerated configuration surface of the
// platform and loads it from YAML with environment expansion.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lighthouse-agents/lighthouse/pkg/auth"
	"github.com/lighthouse-agents/lighthouse/pkg/cache"
	"github.com/lighthouse-agents/lighthouse/pkg/elicitation"
	"github.com/lighthouse-agents/lighthouse/pkg/eventstore"
	"github.com/lighthouse-agents/lighthouse/pkg/expert"
	"github.com/lighthouse-agents/lighthouse/pkg/ratelimit"
	"github.com/lighthouse-agents/lighthouse/pkg/validation"
)

// Storage backend names.
const (
	BackendSegmentedLog = "segmented_log"
	BackendSQLiteWAL    = "sqlite_wal"
)

// MinAuthSecretBytes is the smallest acceptable signing secret.
const MinAuthSecretBytes = 32

// Config is the whole configuration of one node. Every knob the platform
// honours is enumerated here; there is no hidden pass-through map.
type Config struct {
	// DataDir is the root for segments, snapshots, and the SQLite file.
	DataDir string `yaml:"data_dir" json:"data_dir"`

	// AllowedBaseDirs are the only directory trees file-touching commands
	// may reference. Empty means no path restriction.
	AllowedBaseDirs []string `yaml:"allowed_base_dirs" json:"allowed_base_dirs"`

	// AuthSecret signs events, session tokens, and elicitation responses.
	// Mandatory, at least 32 bytes.
	AuthSecret string `yaml:"auth_secret" json:"auth_secret"`

	// NodeID disambiguates event ids across nodes. Defaults to hostname.
	NodeID string `yaml:"node_id" json:"node_id"`

	LogLevel  string `yaml:"log_level" json:"log_level"`
	LogFormat string `yaml:"log_format" json:"log_format"`

	Host string `yaml:"host" json:"host"`
	Port int    `yaml:"port" json:"port"`

	// StorageBackend is segmented_log or sqlite_wal.
	StorageBackend string `yaml:"storage_backend" json:"storage_backend"`

	// FsyncPolicy is per_write, per_batch, or interval_ms:N.
	FsyncPolicy     string `yaml:"fsync_policy" json:"fsync_policy"`
	MaxSegmentBytes int64  `yaml:"max_segment_bytes" json:"max_segment_bytes"`

	SessionTimeoutS       int `yaml:"session_timeout_s" json:"session_timeout_s"`
	SessionIdleTimeoutS   int `yaml:"session_idle_timeout_s" json:"session_idle_timeout_s"`
	MaxConcurrentSessions int `yaml:"max_concurrent_sessions" json:"max_concurrent_sessions"`

	// RateLimitEnabled defaults to true; nil means unset.
	RateLimitEnabled *bool `yaml:"rate_limit_enabled" json:"rate_limit_enabled"`

	LocalCacheMaxEntries int   `yaml:"local_cache_max_entries" json:"local_cache_max_entries"`
	LocalCacheMaxBytes   int64 `yaml:"local_cache_max_bytes" json:"local_cache_max_bytes"`
	HotEntryThreshold    int   `yaml:"hot_entry_threshold" json:"hot_entry_threshold"`

	// RemoteCacheURL selects the shared cache tier, e.g.
	// etcd://10.0.0.1:2379,10.0.0.2:2379 or consul://10.0.0.1:8500.
	// Empty runs local-only.
	RemoteCacheURL         string `yaml:"remote_cache_url" json:"remote_cache_url"`
	RemoteCacheTTLS        int    `yaml:"remote_cache_ttl_s" json:"remote_cache_ttl_s"`
	RemoteCacheOpTimeoutMS int    `yaml:"remote_cache_op_timeout_ms" json:"remote_cache_op_timeout_ms"`

	PolicyFloor    string `yaml:"policy_floor" json:"policy_floor"`
	PatternFloor   string `yaml:"pattern_floor" json:"pattern_floor"`
	HeuristicFloor string `yaml:"heuristic_floor" json:"heuristic_floor"`

	ExpertTimeoutS         int `yaml:"expert_timeout_s" json:"expert_timeout_s"`
	ExpertConsensusDefault int `yaml:"expert_consensus_default" json:"expert_consensus_default"`
	ExpertQueueDepth       int `yaml:"expert_queue_depth" json:"expert_queue_depth"`

	ElicitationDefaultTimeoutS int `yaml:"elicitation_default_timeout_s" json:"elicitation_default_timeout_s"`
	ElicitationRetentionS      int `yaml:"elicitation_retention_s" json:"elicitation_retention_s"`

	MetricsEnabled bool `yaml:"metrics_enabled" json:"metrics_enabled"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.NodeID == "" {
		if host, err := os.Hostname(); err == nil {
			c.NodeID = host
		} else {
			c.NodeID = "lighthouse"
		}
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "simple"
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 8420
	}
	if c.StorageBackend == "" {
		c.StorageBackend = BackendSegmentedLog
	}
	if c.FsyncPolicy == "" {
		c.FsyncPolicy = "per_write"
	}
	if c.SessionTimeoutS == 0 {
		c.SessionTimeoutS = 1800
	}
	if c.SessionIdleTimeoutS == 0 {
		c.SessionIdleTimeoutS = 600
	}
	if c.MaxConcurrentSessions == 0 {
		c.MaxConcurrentSessions = 5
	}
	if c.RateLimitEnabled == nil {
		enabled := true
		c.RateLimitEnabled = &enabled
	}
	if c.RemoteCacheTTLS == 0 {
		c.RemoteCacheTTLS = 300
	}
	if c.RemoteCacheOpTimeoutMS == 0 {
		c.RemoteCacheOpTimeoutMS = 50
	}
	if c.ExpertTimeoutS == 0 {
		c.ExpertTimeoutS = 30
	}
	if c.ExpertConsensusDefault == 0 {
		c.ExpertConsensusDefault = 1
	}
	if c.ElicitationDefaultTimeoutS == 0 {
		c.ElicitationDefaultTimeoutS = 30
	}
	if c.ElicitationRetentionS == 0 {
		c.ElicitationRetentionS = 3600
	}
}

// Validate checks the configuration. It must be called after SetDefaults.
func (c *Config) Validate() error {
	if len(c.AuthSecret) < MinAuthSecretBytes {
		return fmt.Errorf("auth_secret is mandatory and must be at least %d bytes", MinAuthSecretBytes)
	}
	switch c.StorageBackend {
	case BackendSegmentedLog, BackendSQLiteWAL:
	default:
		return fmt.Errorf("unknown storage_backend %q (want %s or %s)",
			c.StorageBackend, BackendSegmentedLog, BackendSQLiteWAL)
	}
	if _, _, err := ParseFsyncPolicy(c.FsyncPolicy); err != nil {
		return err
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	for _, dir := range c.AllowedBaseDirs {
		if !filepath.IsAbs(dir) {
			return fmt.Errorf("allowed_base_dirs entry %q is not absolute", dir)
		}
	}
	if c.RemoteCacheURL != "" {
		if _, err := c.RemoteCacheConfig(); err != nil {
			return err
		}
	}
	if c.SessionTimeoutS < 0 || c.SessionIdleTimeoutS < 0 ||
		c.ExpertTimeoutS < 0 || c.ElicitationDefaultTimeoutS < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	return nil
}

// ParseFsyncPolicy parses per_write, per_batch, or interval_ms:N.
func ParseFsyncPolicy(s string) (eventstore.FsyncMode, time.Duration, error) {
	switch {
	case s == "" || s == "per_write":
		return eventstore.FsyncPerWrite, 0, nil
	case s == "per_batch":
		return eventstore.FsyncPerBatch, 0, nil
	case strings.HasPrefix(s, "interval_ms:"):
		n, err := strconv.Atoi(strings.TrimPrefix(s, "interval_ms:"))
		if err != nil || n <= 0 {
			return "", 0, fmt.Errorf("invalid fsync_policy %q: interval must be a positive integer", s)
		}
		return eventstore.FsyncInterval, time.Duration(n) * time.Millisecond, nil
	}
	return "", 0, fmt.Errorf("unknown fsync_policy %q", s)
}

// ListenAddr is the host:port the server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SegmentDir is where the segmented log lives.
func (c *Config) SegmentDir() string { return filepath.Join(c.DataDir, "events") }

// SQLitePath is the WAL database file.
func (c *Config) SQLitePath() string { return filepath.Join(c.DataDir, "events.db") }

// SnapshotDir is where replay snapshots live.
func (c *Config) SnapshotDir() string { return filepath.Join(c.DataDir, "snapshots") }

// SegmentOptions builds the segmented log options. The fsync policy is
// already validated, so parse failures cannot occur here.
func (c *Config) SegmentOptions() eventstore.SegmentOptions {
	mode, interval, _ := ParseFsyncPolicy(c.FsyncPolicy)
	return eventstore.SegmentOptions{
		Dir:             c.SegmentDir(),
		MaxSegmentBytes: c.MaxSegmentBytes,
		Fsync:           mode,
		FsyncInterval:   interval,
	}
}

// AuthConfig builds the session manager configuration.
func (c *Config) AuthConfig() *auth.Config {
	return &auth.Config{
		SessionTimeout:      time.Duration(c.SessionTimeoutS) * time.Second,
		IdleTimeout:         time.Duration(c.SessionIdleTimeoutS) * time.Second,
		MaxSessionsPerAgent: c.MaxConcurrentSessions,
	}
}

// RateLimitConfig builds the limiter configuration.
func (c *Config) RateLimitConfig() *ratelimit.Config {
	return &ratelimit.Config{Enabled: c.RateLimitEnabled == nil || *c.RateLimitEnabled}
}

// CacheConfig builds the two-tier cache configuration.
func (c *Config) CacheConfig() *cache.Config {
	return &cache.Config{
		MaxEntries:         c.LocalCacheMaxEntries,
		MaxBytes:           c.LocalCacheMaxBytes,
		HotAccessThreshold: c.HotEntryThreshold,
		DefaultTTL:         time.Duration(c.RemoteCacheTTLS) * time.Second,
		RemoteTimeout:      time.Duration(c.RemoteCacheOpTimeoutMS) * time.Millisecond,
	}
}

// RemoteCacheConfig parses RemoteCacheURL into the remote tier
// configuration. Returns nil when no remote tier is configured.
func (c *Config) RemoteCacheConfig() (*cache.RemoteConfig, error) {
	if c.RemoteCacheURL == "" {
		return nil, nil
	}
	u, err := url.Parse(c.RemoteCacheURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote_cache_url: %w", err)
	}
	switch u.Scheme {
	case "etcd", "consul":
	default:
		return nil, fmt.Errorf("remote_cache_url scheme %q not supported (want etcd or consul)", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("remote_cache_url %q has no host", c.RemoteCacheURL)
	}
	return &cache.RemoteConfig{
		Backend:   u.Scheme,
		Endpoints: strings.Split(u.Host, ","),
	}, nil
}

// ValidationConfig builds the speed layer configuration.
func (c *Config) ValidationConfig() *validation.Config {
	return &validation.Config{
		PolicyFloor:       validation.Confidence(c.PolicyFloor),
		PatternFloor:      validation.Confidence(c.PatternFloor),
		HeuristicFloor:    validation.Confidence(c.HeuristicFloor),
		CacheTTL:          time.Duration(c.RemoteCacheTTLS) * time.Second,
		EscalationTimeout: time.Duration(c.ExpertTimeoutS) * time.Second,
		AllowedBaseDirs:   c.AllowedBaseDirs,
	}
}

// ExpertConfig builds the coordinator configuration.
func (c *Config) ExpertConfig() *expert.Config {
	return &expert.Config{
		DecisionTimeout:  time.Duration(c.ExpertTimeoutS) * time.Second,
		QueueDepth:       c.ExpertQueueDepth,
		DefaultConsensus: c.ExpertConsensusDefault,
	}
}

// ElicitationConfig builds the elicitation manager configuration.
func (c *Config) ElicitationConfig() *elicitation.Config {
	return &elicitation.Config{
		DefaultTimeout:   time.Duration(c.ElicitationDefaultTimeoutS) * time.Second,
		RetentionHorizon: time.Duration(c.ElicitationRetentionS) * time.Second,
	}
}
