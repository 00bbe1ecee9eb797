package event

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func sampleEvent() *Event {
	return &Event{
		EventID:       "0000000000000000100_000000_n1",
		Sequence:      1,
		EventType:     TypeCommandReceived,
		AggregateID:   "project:demo",
		Data:          map[string]any{"tool": "Read", "input": map[string]any{"file_path": "/tmp/x"}},
		Metadata:      map[string]string{"origin": "test"},
		SourceAgent:   "alice",
		Timestamp:     time.Now().UnixNano(),
		SchemaVersion: SchemaVersion,
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	e := sampleEvent()
	require.NoError(t, signer.Sign(e))
	assert.NotEmpty(t, e.HMAC)
	assert.True(t, signer.Verify(e))

	b, err := Encode(e)
	require.NoError(t, err)

	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, signer.Verify(decoded))
	assert.Equal(t, e.AggregateID, decoded.AggregateID)
}

func TestVerifySurvivesDiskRoundTripWithLargeIntegers(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	// Above 2^53: a float64 round-trip would silently change the digits
	// and invalidate the signature.
	e := sampleEvent()
	e.Data = map[string]any{"sequence_hint": int64(1)<<62 + 1}
	require.NoError(t, signer.Sign(e))
	require.True(t, signer.Verify(e))

	b, err := Encode(e)
	require.NoError(t, err)
	decoded, err := Decode(b)
	require.NoError(t, err)
	assert.True(t, signer.Verify(decoded))

	n, ok := decoded.Data["sequence_hint"].(json.Number)
	require.True(t, ok)
	got, err := n.Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(1)<<62+1, got)
}

func TestVerifyDetectsTampering(t *testing.T) {
	signer, err := NewSigner(testKey)
	require.NoError(t, err)

	e := sampleEvent()
	require.NoError(t, signer.Sign(e))

	e.Data["tool"] = "Bash"
	assert.False(t, signer.Verify(e))
}

func TestSignerRejectsShortKey(t *testing.T) {
	_, err := NewSigner([]byte("short"))
	assert.Error(t, err)
}

func TestCanonicalBytesDeterministic(t *testing.T) {
	e := sampleEvent()
	a, err := CanonicalBytes(e)
	require.NoError(t, err)
	b, err := CanonicalBytes(e)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEncodeRejectsOversize(t *testing.T) {
	e := sampleEvent()
	e.Data = map[string]any{"blob": strings.Repeat("x", MaxEventBytes)}
	_, err := Encode(e)
	assert.Error(t, err)
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteFrame(&buf, []byte("hello"))
	require.NoError(t, err)
	_, err = WriteFrame(&buf, []byte("world"))
	require.NoError(t, err)

	r := bytes.NewReader(buf.Bytes())
	a, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(a))
	b, err := ReadFrame(r)
	require.NoError(t, err)
	assert.Equal(t, "world", string(b))

	_, err = ReadFrame(r)
	assert.Equal(t, io.EOF, err)
}

func TestReadFrameDetectsTornTail(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteFrame(&buf, []byte("complete"))
	require.NoError(t, err)

	torn := buf.Bytes()
	full := len(torn)
	_, err = WriteFrame(&buf, []byte("truncated-record"))
	require.NoError(t, err)
	torn = buf.Bytes()[:full+7] // header plus partial body

	r := bytes.NewReader(torn)
	_, err = ReadFrame(r)
	require.NoError(t, err)
	_, err = ReadFrame(r)
	assert.Equal(t, io.ErrUnexpectedEOF, err)
}
