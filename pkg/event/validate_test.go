package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validEvent() *Event {
	return &Event{
		EventType:     TypeAgentRegistered,
		AggregateID:   "agent:alice",
		SourceAgent:   "alice",
		Timestamp:     time.Now().UnixNano(),
		SchemaVersion: SchemaVersion,
	}
}

func TestValidateAcceptsWellFormed(t *testing.T) {
	assert.NoError(t, Validate(validEvent()))
}

func TestValidateRejectsUnknownType(t *testing.T) {
	e := validEvent()
	e.EventType = Type("made_up")
	assert.Error(t, Validate(e))
}

func TestValidateRejectsMissingFields(t *testing.T) {
	e := validEvent()
	e.AggregateID = ""
	assert.Error(t, Validate(e))

	e = validEvent()
	e.SourceAgent = ""
	assert.Error(t, Validate(e))

	e = validEvent()
	e.Timestamp = 0
	assert.Error(t, Validate(e))
}

func TestValidateRejectsNullBytes(t *testing.T) {
	e := validEvent()
	e.Data = map[string]any{"k": "a\x00b"}
	assert.Error(t, Validate(e))

	e = validEvent()
	e.Metadata = map[string]string{"k": "a\x00b"}
	assert.Error(t, Validate(e))
}

func TestValidateRejectsDeepNesting(t *testing.T) {
	inner := map[string]any{"leaf": "v"}
	for i := 0; i < MaxNestingDepth+2; i++ {
		inner = map[string]any{"next": inner}
	}
	e := validEvent()
	e.Data = inner
	assert.Error(t, Validate(e))
}

func TestValidateRejectsDangerousStrings(t *testing.T) {
	e := validEvent()
	e.Data = map[string]any{"payload": "<script>alert(1)</script>"}
	assert.Error(t, Validate(e))
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("command_blocked")
	assert.NoError(t, err)
	assert.Equal(t, TypeCommandBlocked, typ)

	_, err = ParseType("nope")
	assert.Error(t, err)
}

func TestCloneIsDeep(t *testing.T) {
	e := validEvent()
	e.Data = map[string]any{"nested": map[string]any{"k": "v"}}
	cp := e.Clone()
	cp.Data["nested"].(map[string]any)["k"] = "changed"
	assert.Equal(t, "v", e.Data["nested"].(map[string]any)["k"])
}
