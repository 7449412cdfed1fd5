package chat

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"join", Envelope{Room: "general", Sender: "alice", Timestamp: 1700000000, Payload: Payload{Kind: KindJoin}}},
		{"leave", Envelope{Room: "general", Sender: "bob", Timestamp: 1700000001, Payload: Payload{Kind: KindLeave}}},
		{"chat", Envelope{Room: "random", Sender: "alice", Timestamp: 42, Payload: Payload{Kind: KindChat, Text: "hello, world"}}},
		{"empty chat text", Envelope{Room: "r", Sender: "u", Timestamp: 1, Payload: Payload{Kind: KindChat}}},
		{"unicode and quotes", Envelope{Room: "café", Sender: "zoë", Timestamp: 7, Payload: Payload{Kind: KindChat, Text: "say \"hi\" 👋\n"}}},
		{"max timestamp", Envelope{Room: "r", Sender: "u", Timestamp: math.MaxUint64, Payload: Payload{Kind: KindJoin}}},
		{"zero timestamp and empty room", Envelope{Payload: Payload{Kind: KindLeave}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.env)
			require.NoError(t, err)

			got, err := Decode(frame)
			require.NoError(t, err)
			assert.Equal(t, tt.env, got)
		})
	}
}

func TestEncodeWireFormat(t *testing.T) {
	frame, err := Encode(Envelope{Room: "general", Sender: "alice", Timestamp: 10, Payload: Payload{Kind: KindJoin}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"room":"general","username":"alice","timestamp":10,"data":"join"}`, string(frame))

	frame, err = Encode(Envelope{Room: "general", Sender: "alice", Timestamp: 11, Payload: Payload{Kind: KindChat, Text: "hi"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"room":"general","username":"alice","timestamp":11,"data":{"msg":"hi"}}`, string(frame))
}

func TestEncodeRejectsUnsetKind(t *testing.T) {
	_, err := Encode(Envelope{Room: "r", Sender: "u"})
	assert.Error(t, err)
}

func TestEncodeRejectsInvalidUTF8(t *testing.T) {
	tests := []struct {
		name string
		env  Envelope
	}{
		{"sender", NewJoin("general", "al\xffice")},
		{"room", NewLeave("gen\xfeeral", "alice")},
		{"text", NewChat("general", "alice", "hi\xfe")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := Encode(tt.env)
			assert.ErrorIs(t, err, ErrInvalidUTF8)
			assert.Nil(t, frame)
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name  string
		frame string
	}{
		{"not json", `hello`},
		{"array", `[1,2,3]`},
		{"truncated", `{"room":"r","username":"u"`},
		{"unknown bare tag", `{"room":"r","username":"u","timestamp":1,"data":"shout"}`},
		{"unknown object tag", `{"room":"r","username":"u","timestamp":1,"data":{"shout":"x"}}`},
		{"msg without text", `{"room":"r","username":"u","timestamp":1,"data":"msg"}`},
		{"msg with number", `{"room":"r","username":"u","timestamp":1,"data":{"msg":5}}`},
		{"two tags", `{"room":"r","username":"u","timestamp":1,"data":{"msg":"a","join":"b"}}`},
		{"empty object payload", `{"room":"r","username":"u","timestamp":1,"data":{}}`},
		{"null payload", `{"room":"r","username":"u","timestamp":1,"data":null}`},
		{"missing room", `{"username":"u","timestamp":1,"data":"join"}`},
		{"missing username", `{"room":"r","timestamp":1,"data":"join"}`},
		{"missing timestamp", `{"room":"r","username":"u","data":"join"}`},
		{"missing data", `{"room":"r","username":"u","timestamp":1}`},
		{"negative timestamp", `{"room":"r","username":"u","timestamp":-1,"data":"join"}`},
		{"fractional timestamp", `{"room":"r","username":"u","timestamp":1.5,"data":"join"}`},
		{"string timestamp", `{"room":"r","username":"u","timestamp":"1","data":"join"}`},
		{"room not a string", `{"room":1,"username":"u","timestamp":1,"data":"join"}`},
		{"msg with null", `{"room":"r","username":"u","timestamp":1,"data":{"msg":null}}`},
		{"null frame", `null`},
		{"null room", `{"room":null,"username":"u","timestamp":1,"data":"join"}`},
		{"null timestamp", `{"room":"r","username":"u","timestamp":null,"data":"join"}`},
		{"field names in other case", `{"ROOM":"r","Username":"u","TimeStamp":1,"DATA":"join"}`},
		{"one field name in other case", `{"room":"r","username":"u","timestamp":1,"Data":"join"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.frame))
			require.Error(t, err)

			var decodeErr *DecodeError
			assert.True(t, errors.As(err, &decodeErr), "expected *DecodeError, got %T", err)
			assert.Equal(t, Envelope{}, env)
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	env, err := Decode([]byte(`{"room":"r","username":"u","timestamp":3,"data":"leave","extra":true}`))
	require.NoError(t, err)
	assert.Equal(t, Envelope{Room: "r", Sender: "u", Timestamp: 3, Payload: Payload{Kind: KindLeave}}, env)
}

func TestConstructorsStampTimestamp(t *testing.T) {
	before := now()
	env := NewChat("general", "alice", "hi")
	after := now()

	assert.Equal(t, "general", env.Room)
	assert.Equal(t, "alice", env.Sender)
	assert.Equal(t, Payload{Kind: KindChat, Text: "hi"}, env.Payload)
	assert.GreaterOrEqual(t, env.Timestamp, before)
	assert.LessOrEqual(t, env.Timestamp, after)

	assert.Equal(t, KindJoin, NewJoin("r", "u").Payload.Kind)
	assert.Equal(t, KindLeave, NewLeave("r", "u").Payload.Kind)
}
