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

package bridge

import (
	"github.com/lighthouse-agents/lighthouse/pkg/cache"
	"github.com/lighthouse-agents/lighthouse/pkg/eventstore"
)

// HealthReport aggregates every component's condition.
type HealthReport struct {
	Status              string            `json:"status"`
	Store               eventstore.Health `json:"store"`
	ActiveSessions      int               `json:"active_sessions"`
	ExpertsByStatus     map[string]int    `json:"experts_by_status"`
	Cache               cache.Stats       `json:"cache"`
	PendingElicitations int               `json:"pending_elicitations"`
	TierFailures        int64             `json:"tier_failures"`
	Escalations         int64             `json:"escalations"`
	SecurityIncidents   int64             `json:"security_incidents"`
}

// GetHealth assembles the aggregate health report. It never blocks on
// I/O; every figure is an in-memory read.
func (b *Bridge) GetHealth() *HealthReport {
	storeHealth := b.store.Health()
	cacheStats := b.cache.Stats()

	experts := map[string]int{}
	for _, reg := range b.coordinator.Registry().List() {
		experts[string(reg.Status)]++
	}

	status := "healthy"
	if storeHealth.Status != "healthy" {
		status = "degraded"
	}
	if cacheStats.Degraded {
		status = "degraded"
	}

	return &HealthReport{
		Status:              status,
		Store:               storeHealth,
		ActiveSessions:      b.sessions.ActiveSessions(),
		ExpertsByStatus:     experts,
		Cache:               cacheStats,
		PendingElicitations: b.elicitations.Pending(),
		TierFailures:        b.dispatcher.TierFailures(),
		Escalations:         b.dispatcher.Escalations(),
		SecurityIncidents:   b.securityIncidents.Load(),
	}
}
