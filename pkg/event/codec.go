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
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// MinKeyBytes is the minimum accepted HMAC key length.
const MinKeyBytes = 32

// Signer signs and verifies canonical event bytes with HMAC-SHA256.
type Signer struct {
	key []byte
}

// NewSigner creates a Signer. The key must be at least MinKeyBytes long.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) < MinKeyBytes {
		return nil, fmt.Errorf("hmac key must be at least %d bytes, got %d", MinKeyBytes, len(key))
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &Signer{key: k}, nil
}

// Sign computes the event signature over its canonical bytes and stores it
// in the HMAC field.
func (s *Signer) Sign(e *Event) error {
	canonical, err := CanonicalBytes(e)
	if err != nil {
		return err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	e.HMAC = hex.EncodeToString(mac.Sum(nil))
	return nil
}

// Verify recomputes the signature and compares it to the stored HMAC in
// constant time.
func (s *Signer) Verify(e *Event) bool {
	if e.HMAC == "" {
		return false
	}
	want, err := hex.DecodeString(e.HMAC)
	if err != nil {
		return false
	}
	canonical, err := CanonicalBytes(e)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	return hmac.Equal(mac.Sum(nil), want)
}

// SignToken computes an HMAC-SHA256 tag over an arbitrary payload string.
// Session tokens and elicitation response signatures share this primitive.
func (s *Signer) SignToken(payload string) string {
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyToken checks a tag produced by SignToken in constant time.
func (s *Signer) VerifyToken(payload, tag string) bool {
	want, err := hex.DecodeString(tag)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write([]byte(payload))
	return hmac.Equal(mac.Sum(nil), want)
}

// CanonicalBytes produces the deterministic encoding the HMAC covers: the
// event serialised as JSON with the HMAC field cleared. encoding/json emits
// map keys in sorted order, so the bytes are stable for equal events.
func CanonicalBytes(e *Event) ([]byte, error) {
	shadow := *e
	shadow.HMAC = ""
	b, err := json.Marshal(&shadow)
	if err != nil {
		return nil, fmt.Errorf("canonical encode: %w", err)
	}
	return b, nil
}

// Encode serialises a signed event to its on-disk record bytes.
func Encode(e *Event) ([]byte, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	if len(b) > MaxEventBytes {
		return nil, &ValidationError{Field: "event", Message: fmt.Sprintf("serialised size %d exceeds %d", len(b), MaxEventBytes)}
	}
	return b, nil
}

// Decode parses on-disk record bytes back into an Event. Numbers inside
// Data decode as json.Number: converting them to float64 would lose
// digits on integers above 2^53, and the re-marshaled canonical bytes
// would no longer match the stored HMAC.
func Decode(b []byte) (*Event, error) {
	var e Event
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &e, nil
}

// Frame layout on disk: 4-byte big-endian length, then the record bytes.
// The length prefix is what makes torn trailing writes detectable.

// WriteFrame writes one length-prefixed record.
func WriteFrame(w io.Writer, record []byte) (int, error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(record)))
	if _, err := w.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := w.Write(record); err != nil {
		return 0, err
	}
	return len(hdr) + len(record), nil
}

// ReadFrame reads one length-prefixed record. It returns io.EOF at a clean
// boundary and io.ErrUnexpectedEOF when the trailing record is torn.
func ReadFrame(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, io.ErrUnexpectedEOF
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxEventBytes {
		return nil, fmt.Errorf("corrupt frame header: length %d", n)
	}
	record := make([]byte, n)
	if _, err := io.ReadFull(r, record); err != nil {
		return nil, io.ErrUnexpectedEOF
	}
	return record, nil
}
