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
	"fmt"
	"strings"
)

// riskMarkers are substrings that each add weight to a command's risk
// score. The heuristic is deliberately coarse; borderline scores produce
// low confidence and fall through to escalation.
var riskMarkers = map[string]int{
	"rm ":      3,
	"sudo":     4,
	"chmod":    2,
	"chown":    2,
	"curl":     2,
	"wget":     2,
	"| sh":     4,
	"| bash":   4,
	"eval":     3,
	"mkfs":     5,
	"dd if=":   4,
	"/dev/sd":  4,
	"nc -l":    3,
	"ssh ":     1,
	"force":    1,
	"--hard":   2,
	"truncate": 2,
}

// HeuristicTier is the third tier: a rough scorer standing in for a model
// based classifier. Its decisions are only trusted at or above the
// dispatcher's configured confidence floor.
type HeuristicTier struct {
	blockScore   int
	approveScore int
}

// NewHeuristicTier builds the scorer with its decision thresholds.
func NewHeuristicTier() *HeuristicTier {
	return &HeuristicTier{blockScore: 6, approveScore: 0}
}

// Name implements Tier.
func (t *HeuristicTier) Name() string { return "heuristic" }

// Evaluate implements Tier.
func (t *HeuristicTier) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	cmd := commandString(req)
	if cmd == "" {
		// Non-shell tools that reached this tier are unfamiliar; no opinion.
		return nil, nil
	}

	score := 0
	var concerns []string
	lower := strings.ToLower(cmd)
	for marker, weight := range riskMarkers {
		if strings.Contains(lower, marker) {
			score += weight
			concerns = append(concerns, "risk marker: "+strings.TrimSpace(marker))
		}
	}

	switch {
	case score >= t.blockScore:
		return &Result{
			Decision:         DecisionBlocked,
			Confidence:       ConfidenceHigh,
			Reason:           fmt.Sprintf("heuristic risk score %d", score),
			RiskLevel:        RiskHigh,
			SecurityConcerns: concerns,
		}, nil
	case score == t.approveScore:
		return &Result{
			Decision:   DecisionApproved,
			Confidence: ConfidenceHigh,
			Reason:     "no risk markers",
			RiskLevel:  RiskLow,
		}, nil
	default:
		// Some risk but below the block line: not confident either way.
		return &Result{
			Decision:         DecisionEscalate,
			Confidence:       ConfidenceLow,
			Reason:           fmt.Sprintf("ambiguous risk score %d", score),
			RiskLevel:        RiskMedium,
			SecurityConcerns: concerns,
		}, nil
	}
}

var _ Tier = (*HeuristicTier)(nil)
