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

package event

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	// MaxEventBytes bounds a single serialised event.
	MaxEventBytes = 1 << 20 // 1 MiB

	// MaxBatchEvents bounds the number of events in one batch append.
	MaxBatchEvents = 1000

	// MaxBatchBytes bounds the serialised size of one batch append.
	MaxBatchBytes = 10 << 20 // 10 MiB

	// MaxNestingDepth bounds payload structure depth.
	MaxNestingDepth = 10
)

// dangerousPatterns flag payload strings that should never reach the log.
// They mirror the deny patterns the speed layer blocks on; a payload that
// smuggles one of these through the data field is rejected at the boundary.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`\$\(\s*rm\s`),
	regexp.MustCompile(`;\s*rm\s+(-rf|-fr)\s`),
	regexp.MustCompile(`(?i)javascript:`),
}

// ValidationError reports a malformed event payload.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid event: %s: %s", e.Field, e.Message)
}

// Validate checks an event before it is signed and appended.
// Sequence and HMAC are store-assigned and not inspected here.
func Validate(e *Event) error {
	if e == nil {
		return &ValidationError{Field: "event", Message: "event is nil"}
	}
	if !e.EventType.Valid() {
		return &ValidationError{Field: "event_type", Message: fmt.Sprintf("unknown type %q", e.EventType)}
	}
	if e.AggregateID == "" {
		return &ValidationError{Field: "aggregate_id", Message: "required"}
	}
	if e.SourceAgent == "" {
		return &ValidationError{Field: "source_agent", Message: "required"}
	}
	if e.Timestamp <= 0 {
		return &ValidationError{Field: "timestamp", Message: "must be positive nanoseconds"}
	}

	if err := checkValue("data", e.Data, 0); err != nil {
		return err
	}
	for k, v := range e.Metadata {
		if err := checkString("metadata."+k, v); err != nil {
			return err
		}
	}
	if err := checkString("aggregate_id", e.AggregateID); err != nil {
		return err
	}
	return nil
}

func checkValue(field string, v any, depth int) error {
	if depth > MaxNestingDepth {
		return &ValidationError{Field: field, Message: fmt.Sprintf("nesting exceeds %d levels", MaxNestingDepth)}
	}
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if err := checkString(field, k); err != nil {
				return err
			}
			if err := checkValue(field+"."+k, val, depth+1); err != nil {
				return err
			}
		}
	case []any:
		for _, val := range t {
			if err := checkValue(field, val, depth+1); err != nil {
				return err
			}
		}
	case string:
		return checkString(field, t)
	}
	return nil
}

func checkString(field, s string) error {
	if strings.ContainsRune(s, 0) {
		return &ValidationError{Field: field, Message: "contains null byte"}
	}
	for _, p := range dangerousPatterns {
		if p.MatchString(s) {
			return &ValidationError{Field: field, Message: "contains dangerous pattern"}
		}
	}
	return nil
}
