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
	"regexp"
	"strings"
)

// DefaultSafeTools are read-only tools approved outright.
var DefaultSafeTools = []string{
	"Read", "Glob", "Grep", "LS", "NotebookRead", "WebSearch", "TodoRead",
}

// DefaultDeniedCommands are base commands blocked outright when they appear
// as the head of a shell invocation.
var DefaultDeniedCommands = []string{
	"sudo", "su", "chown", "dd", "mkfs", "fdisk", "mount", "umount",
	"reboot", "shutdown", "passwd", "useradd", "userdel", "groupadd",
}

// DefaultDeniedPatterns match command strings that are dangerous regardless
// of the base command.
var DefaultDeniedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-z]*r[a-z]*f|-[a-z]*f[a-z]*r|--recursive)`),
	regexp.MustCompile(`>\s*/dev/`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\|:\s*&\s*\}\s*;`),
	regexp.MustCompile(`wget.*\|\s*sh`),
	regexp.MustCompile(`curl.*\|\s*sh`),
	regexp.MustCompile(`eval\s*\$`),
	regexp.MustCompile(`>\s*/etc/`),
	regexp.MustCompile(`chmod\s+777`),
	regexp.MustCompile(`--no-preserve-root`),
}

// PolicyConfig configures the policy tier.
type PolicyConfig struct {
	// SafeTools are approved with high confidence. Defaults to
	// DefaultSafeTools when nil.
	SafeTools []string `yaml:"safe_tools"`

	// DeniedCommands extend DefaultDeniedCommands.
	DeniedCommands []string `yaml:"denied_commands"`

	// DeniedPatterns are extra regex sources compiled on construction.
	DeniedPatterns []string `yaml:"denied_patterns"`
}

// PolicyTier is the first tier: a compiled table of fixed safe/unsafe
// tool and shape combinations. Everything it answers is high confidence;
// everything else falls through.
type PolicyTier struct {
	safeTools      map[string]bool
	deniedCommands map[string]bool
	deniedPatterns []*regexp.Regexp
}

// NewPolicyTier compiles the rule table.
func NewPolicyTier(cfg *PolicyConfig) (*PolicyTier, error) {
	if cfg == nil {
		cfg = &PolicyConfig{}
	}

	safeList := cfg.SafeTools
	if safeList == nil {
		safeList = DefaultSafeTools
	}
	safe := make(map[string]bool, len(safeList))
	for _, t := range safeList {
		safe[t] = true
	}

	denied := make(map[string]bool)
	for _, c := range DefaultDeniedCommands {
		denied[c] = true
	}
	for _, c := range cfg.DeniedCommands {
		denied[c] = true
	}

	patterns := append([]*regexp.Regexp(nil), DefaultDeniedPatterns...)
	for _, src := range cfg.DeniedPatterns {
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("compile denied pattern %q: %w", src, err)
		}
		patterns = append(patterns, re)
	}

	return &PolicyTier{
		safeTools:      safe,
		deniedCommands: denied,
		deniedPatterns: patterns,
	}, nil
}

// Name implements Tier.
func (t *PolicyTier) Name() string { return "policy" }

// Evaluate implements Tier.
func (t *PolicyTier) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	if t.safeTools[req.ToolName] {
		return &Result{
			Decision:   DecisionApproved,
			Confidence: ConfidenceHigh,
			Reason:     fmt.Sprintf("%s is a known-safe read-only tool", req.ToolName),
			RiskLevel:  RiskLow,
		}, nil
	}

	cmd := commandString(req)
	if cmd == "" {
		return nil, nil
	}

	if base := baseCommand(cmd); t.deniedCommands[base] {
		return &Result{
			Decision:         DecisionBlocked,
			Confidence:       ConfidenceHigh,
			Reason:           fmt.Sprintf("command %q is denied by policy", base),
			RiskLevel:        RiskCritical,
			SecurityConcerns: []string{"denied base command: " + base},
		}, nil
	}

	for _, re := range t.deniedPatterns {
		if re.MatchString(cmd) {
			return &Result{
				Decision:         DecisionBlocked,
				Confidence:       ConfidenceHigh,
				Reason:           "command matches a known-dangerous pattern",
				RiskLevel:        RiskCritical,
				SecurityConcerns: []string{"dangerous pattern: " + re.String()},
			}, nil
		}
	}

	return nil, nil
}

// commandString extracts the shell command from the request input, empty
// when the request is not a shell invocation.
func commandString(req *Request) string {
	for _, key := range []string{"command", "cmd"} {
		if v, ok := req.ToolInput[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// baseCommand returns the first token of a shell command.
func baseCommand(cmd string) string {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

var _ Tier = (*PolicyTier)(nil)
