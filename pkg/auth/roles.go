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

package auth

import (
	"time"

	"github.com/lighthouse-agents/lighthouse/pkg/ratelimit"
)

// Permission is one grantable capability.
type Permission string

const (
	PermReadEvents  Permission = "read-events"
	PermWriteEvents Permission = "write-events"
	PermAdmin       Permission = "admin"
	PermElicit      Permission = "elicit"
	PermRespond     Permission = "respond"
	PermActAsExpert Permission = "act-as-expert"
)

// Role is an agent's trust level. Each role carries a fixed permission set,
// a batch size cap, and a rate limit.
type Role string

const (
	RoleGuest  Role = "guest"
	RoleAgent  Role = "agent"
	RoleExpert Role = "expert"
	RoleSystem Role = "system"
	RoleAdmin  Role = "admin"
)

// Policy bundles what a role may do and how fast.
type Policy struct {
	Permissions  map[Permission]bool
	MaxBatchSize int
	RateLimit    ratelimit.Limit
}

func perms(ps ...Permission) map[Permission]bool {
	m := make(map[Permission]bool, len(ps))
	for _, p := range ps {
		m[p] = true
	}
	return m
}

// rolePolicies is the fixed role table. Guests are read-only; admin and
// system are not throttled.
var rolePolicies = map[Role]Policy{
	RoleGuest: {
		Permissions:  perms(PermReadEvents),
		MaxBatchSize: 0,
		RateLimit:    ratelimit.Limit{RequestsPerMinute: 100},
	},
	RoleAgent: {
		Permissions:  perms(PermReadEvents, PermWriteEvents, PermElicit, PermRespond),
		MaxBatchSize: 100,
		RateLimit:    ratelimit.Limit{RequestsPerMinute: 1000},
	},
	RoleExpert: {
		Permissions:  perms(PermReadEvents, PermWriteEvents, PermElicit, PermRespond, PermActAsExpert),
		MaxBatchSize: 1000,
		RateLimit:    ratelimit.Limit{RequestsPerMinute: 5000},
	},
	RoleSystem: {
		Permissions:  perms(PermReadEvents, PermWriteEvents, PermElicit, PermRespond, PermActAsExpert),
		MaxBatchSize: 1000,
		RateLimit:    ratelimit.Limit{},
	},
	RoleAdmin: {
		Permissions:  perms(PermReadEvents, PermWriteEvents, PermAdmin, PermElicit, PermRespond, PermActAsExpert),
		MaxBatchSize: 1000,
		RateLimit:    ratelimit.Limit{},
	},
}

// PolicyFor returns the policy for a role, falling back to guest for
// unknown roles.
func PolicyFor(role Role) Policy {
	if p, ok := rolePolicies[role]; ok {
		return p
	}
	return rolePolicies[RoleGuest]
}

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	_, ok := rolePolicies[r]
	return ok
}

// Identity describes an authenticated principal.
type Identity struct {
	AgentID        string    `json:"agent_id"`
	Role           Role      `json:"role"`
	TokenExpiresAt time.Time `json:"token_expires_at"`
}

// Can reports whether the identity's role grants the permission.
func (id *Identity) Can(p Permission) bool {
	return PolicyFor(id.Role).Permissions[p]
}
