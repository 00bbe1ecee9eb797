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

// Package elicitation implements the push request/response primitive
// between agents: one agent asks another a structured question, the
// responder's answer is schema-validated and signed, and the asker awaits
// the outcome with a deadline.
package elicitation

import (
	"errors"
	"time"
)

// Status is an elicitation's lifecycle phase. Pending transitions exactly
// once to one of the terminal states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusDeclined  Status = "declined"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
)

// Terminal reports whether the status is final.
func (s Status) Terminal() bool { return s != StatusPending }

// ResponseType is what a responder may do with a pending elicitation.
type ResponseType string

const (
	ResponseAccept  ResponseType = "accept"
	ResponseDecline ResponseType = "decline"
	ResponseCancel  ResponseType = "cancel"
)

// Elicitation is one structured question from one agent to another.
type Elicitation struct {
	ElicitationID string         `json:"elicitation_id"`
	FromAgent     string         `json:"from_agent"`
	ToAgent       string         `json:"to_agent"`
	Message       string         `json:"message"`
	Schema        map[string]any `json:"schema,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	ExpiresAt     time.Time      `json:"expires_at"`
	Status        Status         `json:"status"`
	ResponseData  map[string]any `json:"response_data,omitempty"`

	// ResponseSignature binds (elicitation id, responding agent, payload)
	// so auditors replaying the log can verify authorship.
	ResponseSignature string    `json:"response_signature,omitempty"`
	RespondedBy       string    `json:"responded_by,omitempty"`
	RespondedAt       time.Time `json:"responded_at,omitempty"`
}

var (
	// ErrNotFound means no elicitation with that id exists.
	ErrNotFound = errors.New("elicitation not found")

	// ErrNotPending means the elicitation already reached a terminal state.
	// Second responses land here, which is the replay protection.
	ErrNotPending = errors.New("elicitation is not pending")

	// ErrWrongResponder means the responding agent is not the declared
	// recipient (or, for cancel, not the creator).
	ErrWrongResponder = errors.New("agent is not the declared responder")

	// ErrSchemaViolation means the response payload does not conform to
	// the declared schema.
	ErrSchemaViolation = errors.New("response does not conform to schema")

	// ErrTimeout means the elicitation expired before a response arrived.
	ErrTimeout = errors.New("elicitation timed out")
)
