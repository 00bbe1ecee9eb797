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
	"encoding/json"
	"fmt"
	"time"

	"github.com/hashicorp/consul/api"
)

// consulEnvelope wraps a value with its expiry, since the Consul KV store
// has no native TTL. Expired entries are filtered on read and overwritten
// on the next Set.
type consulEnvelope struct {
	ExpiresAtUnix int64  `json:"expires_at_unix"`
	Value         []byte `json:"value"`
}

// ConsulRemote stores cache entries in the Consul KV store.
type ConsulRemote struct {
	kv     *api.KV
	prefix string
	now    func() time.Time
}

// NewConsulRemote connects to the Consul agent.
func NewConsulRemote(cfg *RemoteConfig) (*ConsulRemote, error) {
	apiCfg := api.DefaultConfig()
	if len(cfg.Endpoints) > 0 {
		apiCfg.Address = cfg.Endpoints[0]
	}
	client, err := api.NewClient(apiCfg)
	if err != nil {
		return nil, fmt.Errorf("connect consul: %w", err)
	}
	return &ConsulRemote{kv: client.KV(), prefix: cfg.KeyPrefix, now: time.Now}, nil
}

// Get implements Remote.
func (r *ConsulRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	pair, _, err := r.kv.Get(r.prefix+key, (&api.QueryOptions{}).WithContext(ctx))
	if err != nil {
		return nil, false, err
	}
	if pair == nil {
		return nil, false, nil
	}
	var env consulEnvelope
	if err := json.Unmarshal(pair.Value, &env); err != nil {
		return nil, false, fmt.Errorf("decode cache envelope: %w", err)
	}
	if r.now().Unix() >= env.ExpiresAtUnix {
		return nil, false, nil
	}
	return env.Value, true, nil
}

// Set implements Remote.
func (r *ConsulRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	env := consulEnvelope{
		ExpiresAtUnix: r.now().Add(ttl).Unix(),
		Value:         value,
	}
	b, err := json.Marshal(&env)
	if err != nil {
		return fmt.Errorf("encode cache envelope: %w", err)
	}
	_, err = r.kv.Put(&api.KVPair{Key: r.prefix + key, Value: b}, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

// Delete implements Remote.
func (r *ConsulRemote) Delete(ctx context.Context, key string) error {
	_, err := r.kv.Delete(r.prefix+key, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

// DeletePrefix implements Remote.
func (r *ConsulRemote) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := r.kv.DeleteTree(r.prefix+prefix, (&api.WriteOptions{}).WithContext(ctx))
	return err
}

// Close implements Remote.
func (r *ConsulRemote) Close() error {
	return nil
}

var _ Remote = (*ConsulRemote)(nil)
