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
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SessionState is a session's lifecycle phase.
type SessionState string

const (
	SessionActive  SessionState = "active"
	SessionIdle    SessionState = "idle"
	SessionExpired SessionState = "expired"
	SessionRevoked SessionState = "revoked"
)

// Session is one authenticated connection for an agent.
type Session struct {
	SessionID    string       `json:"session_id"`
	AgentID      string       `json:"agent_id"`
	Token        string       `json:"-"`
	Role         Role         `json:"role"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
	IPAddress    string       `json:"ip_address,omitempty"`
	UserAgent    string       `json:"user_agent,omitempty"`
	State        SessionState `json:"state"`
	CommandCount int64        `json:"command_count"`

	issuedAtNS int64
}

// tokenParts is the shape of the four-part token:
// <session_id>:<agent_id>:<issued_at_ns>:<hmac>.
type tokenParts struct {
	SessionID  string
	AgentID    string
	IssuedAtNS int64
	Tag        string
}

func (p tokenParts) payload() string {
	return p.SessionID + ":" + p.AgentID + ":" + strconv.FormatInt(p.IssuedAtNS, 10)
}

func (p tokenParts) token(tag string) string {
	return p.payload() + ":" + tag
}

// parseToken splits a token into its four parts without verifying anything.
func parseToken(token string) (tokenParts, error) {
	parts := strings.Split(token, ":")
	if len(parts) != 4 {
		return tokenParts{}, fmt.Errorf("%w: expected 4 parts, got %d", ErrInvalidToken, len(parts))
	}
	issued, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return tokenParts{}, fmt.Errorf("%w: bad issue timestamp", ErrInvalidToken)
	}
	return tokenParts{
		SessionID:  parts[0],
		AgentID:    parts[1],
		IssuedAtNS: issued,
		Tag:        parts[3],
	}, nil
}
