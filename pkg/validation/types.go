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

// Package validation implements the speed layer: a tiered pipeline that
// rules on tool invocations. Cheap tiers answer the common cases; anything
// they cannot settle escalates to an expert.
package validation

import (
	"context"

	"github.com/lighthouse-agents/lighthouse/pkg/cache"
)

// Decision is the ruling on a request.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionBlocked  Decision = "blocked"
	DecisionEscalate Decision = "escalate"
)

// Confidence grades how much a decision can be trusted.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

var confidenceRank = map[Confidence]int{
	ConfidenceLow:    0,
	ConfidenceMedium: 1,
	ConfidenceHigh:   2,
}

// AtLeast reports whether c meets the floor.
func (c Confidence) AtLeast(floor Confidence) bool {
	return confidenceRank[c] >= confidenceRank[floor]
}

// RiskLevel grades the danger of a request.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Request is one tool invocation awaiting a ruling.
type Request struct {
	RequestID   string         `json:"request_id"`
	ToolName    string         `json:"tool_name"`
	ToolInput   map[string]any `json:"tool_input"`
	AgentID     string         `json:"agent_id"`
	SessionID   string         `json:"session_id,omitempty"`
	AgentRole   string         `json:"agent_role"`
	Fingerprint string         `json:"fingerprint,omitempty"`
}

// Result is the pipeline's ruling.
type Result struct {
	Decision         Decision    `json:"decision"`
	Confidence       Confidence  `json:"confidence"`
	Reason           string      `json:"reason"`
	ProcessingTimeMS float64     `json:"processing_time_ms"`
	CacheHit         bool        `json:"cache_hit"`
	CacheLayer       cache.Layer `json:"cache_layer"`
	ExpertRequired   bool        `json:"expert_required"`
	RiskLevel        RiskLevel   `json:"risk_level,omitempty"`
	SecurityConcerns []string    `json:"security_concerns,omitempty"`
	Tier             string      `json:"tier,omitempty"`
	ExpertIDs        []string    `json:"expert_ids,omitempty"`
}

// Tier is one stage of the pipeline. A nil result means the tier has no
// opinion and the pipeline falls through to the next.
type Tier interface {
	Name() string
	Evaluate(ctx context.Context, req *Request) (*Result, error)
}

// Escalator resolves requests the tiers could not settle. The expert
// coordinator provides the implementation.
type Escalator interface {
	Escalate(ctx context.Context, req *Request, concerns []string) (*Result, error)
}
