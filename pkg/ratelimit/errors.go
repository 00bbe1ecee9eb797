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

package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

// ErrLimited is returned when a request exceeds the caller's rate limit.
var ErrLimited = errors.New("rate limit exceeded")

// LimitedError carries retry information alongside ErrLimited.
type LimitedError struct {
	Identifier string
	RetryAfter time.Duration
}

func (e *LimitedError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Identifier, e.RetryAfter.Round(time.Millisecond))
}

func (e *LimitedError) Unwrap() error { return ErrLimited }
