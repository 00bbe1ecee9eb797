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

// Package event defines the Event record, the closed event type enum, and
// the canonical signed encoding shared by every storage backend.
package event

import (
	"fmt"
	"time"
)

// Type is the closed enum of event kinds the platform records.
type Type string

const (
	TypeCommandReceived  Type = "command_received"
	TypeCommandValidated Type = "command_validated"
	TypeCommandExecuted  Type = "command_executed"
	TypeCommandBlocked   Type = "command_blocked"

	TypeShadowUpdated Type = "shadow_updated"

	TypeAgentRegistered   Type = "agent_registered"
	TypeAgentHeartbeat    Type = "agent_heartbeat"
	TypeSessionStarted    Type = "agent_session_started"
	TypeSessionEnded      Type = "agent_session_ended"
	TypeExpertRegistered  Type = "expert_registered"
	TypeExpertOffline     Type = "expert_offline"

	TypeElicitationCreated   Type = "elicitation_created"
	TypeElicitationResponded Type = "elicitation_responded"
	TypeElicitationExpired   Type = "elicitation_expired"
	TypeElicitationCancelled Type = "elicitation_cancelled"

	TypeSnapshotCreated Type = "snapshot_created"
	TypeSystemStarted   Type = "system_started"
	TypeSystemStopped   Type = "system_stopped"
)

var knownTypes = map[Type]bool{
	TypeCommandReceived:      true,
	TypeCommandValidated:     true,
	TypeCommandExecuted:      true,
	TypeCommandBlocked:       true,
	TypeShadowUpdated:        true,
	TypeAgentRegistered:      true,
	TypeAgentHeartbeat:       true,
	TypeSessionStarted:       true,
	TypeSessionEnded:         true,
	TypeExpertRegistered:     true,
	TypeExpertOffline:        true,
	TypeElicitationCreated:   true,
	TypeElicitationResponded: true,
	TypeElicitationExpired:   true,
	TypeElicitationCancelled: true,
	TypeSnapshotCreated:      true,
	TypeSystemStarted:        true,
	TypeSystemStopped:        true,
}

// Valid reports whether t is a member of the closed enum.
func (t Type) Valid() bool {
	return knownTypes[t]
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown event type: %s", s)
	}
	return t, nil
}

// SchemaVersion is the current canonical encoding version.
const SchemaVersion = 1

// Event is the atomic unit of the append-only log.
//
// Sequence is assigned by the store at append time; everything else is set
// by the writer. Once appended an event is immutable.
type Event struct {
	EventID       string            `json:"event_id"`
	Sequence      int64             `json:"sequence"`
	EventType     Type              `json:"event_type"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type,omitempty"`
	Data          map[string]any    `json:"data,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	SourceAgent   string            `json:"source_agent"`
	Timestamp     int64             `json:"timestamp"`
	SchemaVersion int               `json:"schema_version"`
	HMAC          string            `json:"hmac,omitempty"`
}

// Time returns the event timestamp as wall-clock time.
func (e *Event) Time() time.Time {
	return time.Unix(0, e.Timestamp)
}

// Clone returns a deep copy of the event. Stored events are handed out as
// clones so callers can never mutate log state.
func (e *Event) Clone() *Event {
	cp := *e
	if e.Data != nil {
		cp.Data = cloneValue(e.Data).(map[string]any)
	}
	if e.Metadata != nil {
		cp.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	default:
		return v
	}
}
