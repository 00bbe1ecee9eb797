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

import "errors"

var (
	// ErrInvalidToken covers malformed tokens and HMAC mismatches.
	ErrInvalidToken = errors.New("invalid session token")

	// ErrSessionNotFound means the token verified but the session is gone,
	// typically after a restart or revocation sweep.
	ErrSessionNotFound = errors.New("session not found")

	// ErrSessionExpired means the session outlived the configured timeout.
	ErrSessionExpired = errors.New("session expired")

	// ErrSessionRevoked means the session was explicitly revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrAgentMismatch means a valid token was presented for a different
	// agent than the one embedded in it.
	ErrAgentMismatch = errors.New("token agent does not match presented agent")

	// ErrPermissionDenied means the agent's role lacks the permission.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrBatchTooLarge means the batch exceeds the role's batch cap.
	ErrBatchTooLarge = errors.New("batch exceeds role limit")

	// ErrTooManySessions means the agent hit its concurrent session cap.
	ErrTooManySessions = errors.New("too many concurrent sessions")
)
