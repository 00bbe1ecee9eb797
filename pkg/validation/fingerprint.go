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
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives the stable cache key for a request: a hash of the
// tool name, the canonicalised input, and the agent's role. The agent id is
// deliberately excluded so identical safe commands from different agents
// share cache entries.
func Fingerprint(toolName string, toolInput map[string]any, role string) (string, error) {
	canonical, err := json.Marshal(toolInput)
	if err != nil {
		return "", fmt.Errorf("canonicalise tool input: %w", err)
	}

	h := xxhash.New()
	h.WriteString(toolName)
	h.WriteString("\x00")
	h.Write(canonical)
	h.WriteString("\x00")
	h.WriteString(role)

	return fmt.Sprintf("%s:%s:%016x", toolName, role, h.Sum64()), nil
}
