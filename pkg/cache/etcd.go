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

	clientv3 "go.etcd.io/etcd/client/v3"
)

// EtcdRemote stores cache entries in etcd, using leases for TTL.
type EtcdRemote struct {
	client *clientv3.Client
	prefix string
}

// NewEtcdRemote connects to the etcd cluster.
func NewEtcdRemote(cfg *RemoteConfig) (*EtcdRemote, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("etcd endpoints are required")
	}
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect etcd: %w", err)
	}
	return &EtcdRemote{client: client, prefix: cfg.KeyPrefix}, nil
}

// Get implements Remote.
func (r *EtcdRemote) Get(ctx context.Context, key string) ([]byte, bool, error) {
	resp, err := r.client.Get(ctx, r.prefix+key)
	if err != nil {
		return nil, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// Set implements Remote. TTL rides on an etcd lease; etcd drops the key
// when the lease expires.
func (r *EtcdRemote) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	seconds := int64(ttl / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	lease, err := r.client.Grant(ctx, seconds)
	if err != nil {
		return err
	}
	_, err = r.client.Put(ctx, r.prefix+key, string(value), clientv3.WithLease(lease.ID))
	return err
}

// Delete implements Remote.
func (r *EtcdRemote) Delete(ctx context.Context, key string) error {
	_, err := r.client.Delete(ctx, r.prefix+key)
	return err
}

// DeletePrefix implements Remote.
func (r *EtcdRemote) DeletePrefix(ctx context.Context, prefix string) error {
	_, err := r.client.Delete(ctx, r.prefix+prefix, clientv3.WithPrefix())
	return err
}

// Close implements Remote.
func (r *EtcdRemote) Close() error {
	return r.client.Close()
}

var _ Remote = (*EtcdRemote)(nil)
