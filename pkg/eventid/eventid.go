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

// Package eventid generates monotonic, lexicographically sortable event
// identifiers of the form "<timestamp_ns>_<sequence_in_tick>_<node_id>".
//
// The timestamp comes from a clock that never moves backwards within a
// process; the per-tick sequence breaks ties between ids minted on the same
// nanosecond; the node id disambiguates across processes. Because every
// numeric field is zero-padded to a fixed width, byte order equals
// chronological order.
package eventid

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// timestampWidth fits nanosecond timestamps well past year 2200.
	timestampWidth = 19

	// sequenceWidth bounds ids minted within a single nanosecond tick.
	sequenceWidth = 6

	separator = "_"
)

// ID is a parsed event identifier.
type ID struct {
	TimestampNS int64
	Sequence    int64
	NodeID      string
}

// String renders the id in its canonical sortable form.
func (id ID) String() string {
	return fmt.Sprintf("%0*d%s%0*d%s%s",
		timestampWidth, id.TimestampNS, separator,
		sequenceWidth, id.Sequence, separator,
		id.NodeID)
}

// Time returns the wall-clock time the id was minted.
func (id ID) Time() time.Time {
	return time.Unix(0, id.TimestampNS)
}

// Parse parses the canonical form back into an ID.
func Parse(s string) (ID, error) {
	parts := strings.SplitN(s, separator, 3)
	if len(parts) != 3 {
		return ID{}, fmt.Errorf("malformed event id %q: want 3 fields, got %d", s, len(parts))
	}

	ts, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("malformed event id %q: bad timestamp: %w", s, err)
	}

	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ID{}, fmt.Errorf("malformed event id %q: bad sequence: %w", s, err)
	}

	if parts[2] == "" {
		return ID{}, fmt.Errorf("malformed event id %q: empty node id", s)
	}

	return ID{TimestampNS: ts, Sequence: seq, NodeID: parts[2]}, nil
}

// Generator mints ids. It is safe for concurrent use.
type Generator struct {
	mu     sync.Mutex
	nodeID string
	lastTS int64
	seq    int64
	now    func() int64
}

// NewGenerator creates a Generator for the given node id.
// The node id must not contain the id separator.
func NewGenerator(nodeID string) (*Generator, error) {
	if nodeID == "" {
		return nil, fmt.Errorf("node id is required")
	}
	if strings.Contains(nodeID, separator) {
		return nil, fmt.Errorf("node id %q must not contain %q", nodeID, separator)
	}
	return &Generator{
		nodeID: nodeID,
		now:    func() int64 { return time.Now().UnixNano() },
	}, nil
}

// Next mints the next id. Ids from one Generator are strictly increasing
// even when the wall clock steps backwards: the generator holds the last
// observed tick and advances the per-tick sequence instead.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now()
	if ts < g.lastTS {
		// Clock went backwards; stay on the last tick.
		ts = g.lastTS
	}

	if ts == g.lastTS {
		g.seq++
	} else {
		g.lastTS = ts
		g.seq = 0
	}

	return ID{TimestampNS: g.lastTS, Sequence: g.seq, NodeID: g.nodeID}
}
