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

package expert

import "errors"

var (
	// ErrNoEligibleExpert means no available expert covers the required
	// capabilities.
	ErrNoEligibleExpert = errors.New("no eligible expert")

	// ErrTimeout means the expert did not answer within the deadline.
	ErrTimeout = errors.New("expert timeout")

	// ErrBackpressure means the selected expert's queue is full.
	ErrBackpressure = errors.New("expert backpressure")

	// ErrUnknownExpert means the expert id is not registered.
	ErrUnknownExpert = errors.New("unknown expert")

	// ErrNoPending means there is no pending request with that id.
	ErrNoPending = errors.New("no pending request")
)
