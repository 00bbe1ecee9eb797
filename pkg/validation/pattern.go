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

// DefaultProtectedPrefixes are path prefixes writes must not touch.
var DefaultProtectedPrefixes = []string{
	"/etc/", "/usr/", "/bin/", "/sbin/", "/boot/", "/sys/", "/proc/",
}

// DefaultSafeBuiltins are shell builtins approved with medium confidence.
var DefaultSafeBuiltins = []string{
	"echo", "pwd", "ls", "cat", "head", "tail", "wc", "date", "which", "env",
}

// writeTools are tools whose path argument matters.
var writeTools = map[string]bool{
	"Write": true, "Edit": true, "NotebookEdit": true,
}

// PatternConfig configures the pattern tier.
type PatternConfig struct {
	// ProtectedPrefixes extend DefaultProtectedPrefixes.
	ProtectedPrefixes []string `yaml:"protected_prefixes"`

	// SafeBuiltins extend DefaultSafeBuiltins.
	SafeBuiltins []string `yaml:"safe_builtins"`

	// AllowedBaseDirs, when set, are the only trees file-writing tools
	// may touch with an absolute path.
	AllowedBaseDirs []string `yaml:"allowed_base_dirs"`
}

// PatternTier is the second tier: prefix and shape rules producing medium
// confidence judgements.
type PatternTier struct {
	protectedPrefixes []string
	safeBuiltins      map[string]bool
	allowedBaseDirs   []string
}

// NewPatternTier builds the rule set.
func NewPatternTier(cfg *PatternConfig) *PatternTier {
	if cfg == nil {
		cfg = &PatternConfig{}
	}

	prefixes := append([]string(nil), DefaultProtectedPrefixes...)
	prefixes = append(prefixes, cfg.ProtectedPrefixes...)

	builtins := make(map[string]bool)
	for _, b := range DefaultSafeBuiltins {
		builtins[b] = true
	}
	for _, b := range cfg.SafeBuiltins {
		builtins[b] = true
	}

	return &PatternTier{
		protectedPrefixes: prefixes,
		safeBuiltins:      builtins,
		allowedBaseDirs:   append([]string(nil), cfg.AllowedBaseDirs...),
	}
}

func (t *PatternTier) underAllowedBase(path string) bool {
	for _, base := range t.allowedBaseDirs {
		if strings.HasPrefix(path, strings.TrimSuffix(base, "/")+"/") {
			return true
		}
	}
	return false
}

// Name implements Tier.
func (t *PatternTier) Name() string { return "pattern" }

// Evaluate implements Tier.
func (t *PatternTier) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	// Writes under protected prefixes are blocked.
	if writeTools[req.ToolName] {
		if path, ok := req.ToolInput["file_path"].(string); ok {
			for _, prefix := range t.protectedPrefixes {
				if strings.HasPrefix(path, prefix) {
					return &Result{
						Decision:         DecisionBlocked,
						Confidence:       ConfidenceMedium,
						Reason:           fmt.Sprintf("write under protected prefix %s", prefix),
						RiskLevel:        RiskHigh,
						SecurityConcerns: []string{"protected path: " + path},
					}, nil
				}
			}
			if len(t.allowedBaseDirs) > 0 && strings.HasPrefix(path, "/") && !t.underAllowedBase(path) {
				return &Result{
					Decision:         DecisionBlocked,
					Confidence:       ConfidenceMedium,
					Reason:           "write outside allowed base directories",
					RiskLevel:        RiskHigh,
					SecurityConcerns: []string{"path outside allowed base: " + path},
				}, nil
			}
		}
		return nil, nil
	}

	cmd := commandString(req)
	if cmd == "" {
		return nil, nil
	}

	// Redirects or in-place edits under protected prefixes.
	for _, prefix := range t.protectedPrefixes {
		if strings.Contains(cmd, ">"+prefix) || strings.Contains(cmd, "> "+prefix) {
			return &Result{
				Decision:         DecisionBlocked,
				Confidence:       ConfidenceMedium,
				Reason:           fmt.Sprintf("redirect into protected prefix %s", prefix),
				RiskLevel:        RiskHigh,
				SecurityConcerns: []string{"protected redirect target"},
			}, nil
		}
	}

	// A bare safe builtin with no shell metacharacters is fine.
	if t.safeBuiltins[baseCommand(cmd)] && !strings.ContainsAny(cmd, "|&;`$<>") {
		return &Result{
			Decision:   DecisionApproved,
			Confidence: ConfidenceMedium,
			Reason:     fmt.Sprintf("%s is a safe shell builtin", baseCommand(cmd)),
			RiskLevel:  RiskLow,
		}, nil
	}

	return nil, nil
}

var _ Tier = (*PatternTier)(nil)
