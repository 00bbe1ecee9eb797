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

package eventstore

import "errors"

// Common store errors.
var (
	// ErrReadOnly is returned once the store has degraded after an I/O
	// failure; appends are refused until the operator intervenes.
	ErrReadOnly = errors.New("event store is read-only (degraded)")

	// ErrBatchTooLarge is returned when a batch exceeds the event count or
	// byte caps.
	ErrBatchTooLarge = errors.New("batch exceeds size limits")

	// ErrPayloadTooLarge is returned when a single event exceeds the
	// serialised size cap.
	ErrPayloadTooLarge = errors.New("event payload too large")

	// ErrLimitTooLarge is returned when a query asks for more than the
	// pagination cap.
	ErrLimitTooLarge = errors.New("query limit exceeds maximum")

	// ErrSnapshotNotFound is returned when loading an unknown snapshot id.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("event store closed")
)

// StorageError wraps a backend I/O failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}
