package chat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

const (
	tagJoin  = "join"
	tagLeave = "leave"
	tagChat  = "msg"
)

// wireEnvelope is the JSON shape Encode produces.
type wireEnvelope struct {
	Room      string          `json:"room"`
	Username  string          `json:"username"`
	Timestamp uint64          `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// MarshalJSON encodes join and leave as bare tags and chat text as
// {"msg": "<text>"}.
func (p Payload) MarshalJSON() ([]byte, error) {
	switch p.Kind {
	case KindJoin, KindLeave:
		return json.Marshal(p.Kind.String())
	case KindChat:
		return json.Marshal(map[string]string{tagChat: p.Text})
	default:
		return nil, fmt.Errorf("chat: cannot encode payload kind %d", p.Kind)
	}
}

// UnmarshalJSON accepts the forms produced by MarshalJSON and rejects any
// other tag.
func (p *Payload) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return &DecodeError{Reason: "missing payload"}
	}

	if raw[0] == '"' {
		var tag string
		if err := json.Unmarshal(raw, &tag); err != nil {
			return &DecodeError{Reason: "malformed payload tag", Err: err}
		}
		switch tag {
		case tagJoin:
			*p = Payload{Kind: KindJoin}
		case tagLeave:
			*p = Payload{Kind: KindLeave}
		case tagChat:
			return &DecodeError{Reason: "payload tag \"msg\" requires text"}
		default:
			return &DecodeError{Reason: fmt.Sprintf("unknown payload tag %q", tag)}
		}
		return nil
	}

	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(raw, &tagged); err != nil {
		return &DecodeError{Reason: "malformed payload", Err: err}
	}
	if len(tagged) != 1 {
		return &DecodeError{Reason: fmt.Sprintf("payload must carry exactly one tag, got %d", len(tagged))}
	}
	text, ok := tagged[tagChat]
	if !ok {
		for tag := range tagged {
			return &DecodeError{Reason: fmt.Sprintf("unknown payload tag %q", tag)}
		}
	}
	var s *string
	if err := json.Unmarshal(text, &s); err != nil {
		return &DecodeError{Reason: "chat text must be a string", Err: err}
	}
	if s == nil {
		return &DecodeError{Reason: "chat text must be a string, got null"}
	}
	*p = Payload{Kind: KindChat, Text: *s}
	return nil
}

// Encode renders an envelope as a single JSON text frame. It fails for an
// envelope whose payload kind was never assigned, and with ErrInvalidUTF8
// when a string field would be altered by the JSON encoder.
func Encode(env Envelope) ([]byte, error) {
	if !utf8.ValidString(env.Room) || !utf8.ValidString(env.Sender) || !utf8.ValidString(env.Payload.Text) {
		return nil, ErrInvalidUTF8
	}
	data, err := env.Payload.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireEnvelope{
		Room:      env.Room,
		Username:  env.Sender,
		Timestamp: env.Timestamp,
		Data:      data,
	})
}

// Decode parses a text frame. Field names must match exactly; fields other
// than the four known ones are ignored. Any structural problem, missing or
// null field, or unknown payload tag yields a *DecodeError; nothing is
// partially returned.
func Decode(frame []byte) (Envelope, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(frame, &fields); err != nil {
		return Envelope{}, &DecodeError{Reason: "malformed frame", Err: err}
	}
	if fields == nil {
		return Envelope{}, &DecodeError{Reason: "frame is null"}
	}

	var env Envelope
	if err := decodeField(fields, "room", &env.Room); err != nil {
		return Envelope{}, err
	}
	if err := decodeField(fields, "username", &env.Sender); err != nil {
		return Envelope{}, err
	}
	if err := decodeField(fields, "timestamp", &env.Timestamp); err != nil {
		return Envelope{}, err
	}
	data, ok := fields["data"]
	if !ok {
		return Envelope{}, &DecodeError{Reason: "missing field \"data\""}
	}
	if err := env.Payload.UnmarshalJSON(data); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// decodeField unmarshals fields[name] into dst. Lookup is by exact key, so
// "Room" or "ROOM" do not stand in for "room".
func decodeField(fields map[string]json.RawMessage, name string, dst interface{}) error {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return &DecodeError{Reason: fmt.Sprintf("missing field %q", name)}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("field %q", name), Err: err}
	}
	return nil
}
