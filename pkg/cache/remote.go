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
	"context"
	"fmt"
	"time"
)

// Remote is the network KV tier. Any store offering get, set-with-TTL,
// delete, and prefix-delete can serve.
type Remote interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	DeletePrefix(ctx context.Context, prefix string) error
	Close() error
}

// RemoteConfig selects and configures the remote tier backend.
type RemoteConfig struct {
	// Backend is "etcd", "consul", or "" for no remote tier.
	Backend string `yaml:"backend"`

	// Endpoints are backend addresses. Consul uses only the first.
	Endpoints []string `yaml:"endpoints"`

	// KeyPrefix namespaces all keys in the shared store.
	KeyPrefix string `yaml:"key_prefix"`

	// DialTimeout bounds initial connection establishment.
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// SetDefaults applies default values.
func (c *RemoteConfig) SetDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "lighthouse/cache/"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 2 * time.Second
	}
}

// NewRemote creates the configured remote tier, nil when no backend is set.
func NewRemote(cfg *RemoteConfig) (Remote, error) {
	if cfg == nil || cfg.Backend == "" {
		return nil, nil
	}
	cfg.SetDefaults()

	switch cfg.Backend {
	case "etcd":
		return NewEtcdRemote(cfg)
	case "consul":
		return NewConsulRemote(cfg)
	default:
		return nil, fmt.Errorf("unknown remote cache backend %q", cfg.Backend)
	}
}
