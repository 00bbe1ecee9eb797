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

package expert

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Status is an expert's availability phase: registered experts move between
// available and busy, go offline when heartbeats stop, and leave the table
// on deregistration.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBusy      Status = "busy"
	StatusOffline   Status = "offline"
)

// Registration is one expert's registry entry.
type Registration struct {
	ExpertID      string    `json:"expert_id"`
	Capabilities  []string  `json:"capabilities"`
	MaxInFlight   int       `json:"max_in_flight"`
	InFlight      int       `json:"current_in_flight"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
	Status        Status    `json:"status"`

	// Reliability starts at 1.0 and decays on timeouts.
	Reliability float64 `json:"reliability"`

	caps map[string]bool
}

// Covers reports whether the expert's capability set includes every
// required capability.
func (r *Registration) Covers(required []string) bool {
	for _, c := range required {
		if !r.caps[c] {
			return false
		}
	}
	return true
}

// Registry tracks experts, their heartbeats, and their load.
type Registry struct {
	mu             sync.RWMutex
	experts        map[string]*Registration
	heartbeatGrace time.Duration
	now            func() time.Time
}

// NewRegistry creates a registry. Experts missing heartbeats for grace are
// marked offline by the sweep.
func NewRegistry(heartbeatGrace time.Duration) *Registry {
	if heartbeatGrace == 0 {
		heartbeatGrace = 30 * time.Second
	}
	return &Registry{
		experts:        make(map[string]*Registration),
		heartbeatGrace: heartbeatGrace,
		now:            time.Now,
	}
}

// Register adds or refreshes an expert.
func (r *Registry) Register(expertID string, capabilities []string, maxInFlight int) (*Registration, error) {
	if expertID == "" {
		return nil, fmt.Errorf("expert id is required")
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	caps := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		caps[c] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg := &Registration{
		ExpertID:      expertID,
		Capabilities:  append([]string(nil), capabilities...),
		MaxInFlight:   maxInFlight,
		LastHeartbeat: r.now(),
		Status:        StatusAvailable,
		Reliability:   1.0,
		caps:          caps,
	}
	if prev, ok := r.experts[expertID]; ok {
		// Re-registration keeps the earned reliability score.
		reg.Reliability = prev.Reliability
		reg.InFlight = prev.InFlight
	}
	r.experts[expertID] = reg

	slog.Info("Expert registered",
		"expert_id", expertID, "capabilities", capabilities, "max_in_flight", maxInFlight)
	return reg, nil
}

// Deregister removes an expert.
func (r *Registry) Deregister(expertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experts[expertID]; !ok {
		return ErrUnknownExpert
	}
	delete(r.experts, expertID)
	slog.Info("Expert deregistered", "expert_id", expertID)
	return nil
}

// Heartbeat refreshes an expert's liveness and revives offline experts.
func (r *Registry) Heartbeat(expertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.experts[expertID]
	if !ok {
		return ErrUnknownExpert
	}
	reg.LastHeartbeat = r.now()
	if reg.Status == StatusOffline {
		reg.Status = StatusAvailable
		slog.Info("Expert back online", "expert_id", expertID)
	}
	return nil
}

// Sweep marks experts offline whose heartbeat is older than the grace
// window. It returns the ids taken offline.
func (r *Registry) Sweep() []string {
	now := r.now()
	r.mu.Lock()
	defer r.mu.Unlock()

	var offline []string
	for id, reg := range r.experts {
		if reg.Status != StatusOffline && now.Sub(reg.LastHeartbeat) > r.heartbeatGrace {
			reg.Status = StatusOffline
			offline = append(offline, id)
			slog.Warn("Expert offline, heartbeat stale", "expert_id", id)
		}
	}
	return offline
}

// Select returns up to n distinct experts covering the required
// capabilities, least-loaded first with ties broken on expert id.
func (r *Registry) Select(required []string, n int) ([]*Registration, error) {
	if n <= 0 {
		n = 1
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidates []*Registration
	for _, reg := range r.experts {
		if reg.Status == StatusOffline {
			continue
		}
		if reg.InFlight >= reg.MaxInFlight {
			continue
		}
		if !reg.Covers(required) {
			continue
		}
		candidates = append(candidates, reg)
	}
	if len(candidates) < n {
		return nil, fmt.Errorf("%w: need %d covering %v, have %d", ErrNoEligibleExpert, n, required, len(candidates))
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].InFlight != candidates[j].InFlight {
			return candidates[i].InFlight < candidates[j].InFlight
		}
		return candidates[i].ExpertID < candidates[j].ExpertID
	})
	return candidates[:n], nil
}

// acquire marks one in-flight slot taken, flipping the expert to busy at
// capacity.
func (r *Registry) acquire(expertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.experts[expertID]; ok {
		reg.InFlight++
		if reg.InFlight >= reg.MaxInFlight {
			reg.Status = StatusBusy
		}
	}
}

// release returns an in-flight slot.
func (r *Registry) release(expertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.experts[expertID]; ok {
		if reg.InFlight > 0 {
			reg.InFlight--
		}
		if reg.Status == StatusBusy && reg.InFlight < reg.MaxInFlight {
			reg.Status = StatusAvailable
		}
	}
}

// penalize decays the expert's reliability after a timeout.
func (r *Registry) penalize(expertID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if reg, ok := r.experts[expertID]; ok {
		reg.Reliability *= 0.9
	}
}

// Get returns a copy of the expert's registration.
func (r *Registry) Get(expertID string) (*Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.experts[expertID]
	if !ok {
		return nil, ErrUnknownExpert
	}
	cp := *reg
	return &cp, nil
}

// List returns copies of all registrations.
func (r *Registry) List() []*Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Registration, 0, len(r.experts))
	for _, reg := range r.experts {
		cp := *reg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpertID < out[j].ExpertID })
	return out
}
