// Package chat implements the multi-room broadcast engine: the envelope
// model, the membership registry, the broadcast bus, and the per-connection
// sessions that pump frames between a transport and the bus.
package chat

import "time"

// Kind discriminates the payload carried by an Envelope.
type Kind uint8

const (
	// KindJoin announces that the sender entered a room.
	KindJoin Kind = iota + 1
	// KindLeave announces that the sender left a room.
	KindLeave
	// KindChat carries a text message for a room.
	KindChat
)

// String returns the wire tag of the kind.
func (k Kind) String() string {
	switch k {
	case KindJoin:
		return tagJoin
	case KindLeave:
		return tagLeave
	case KindChat:
		return tagChat
	default:
		return "unknown"
	}
}

// Payload is the tagged body of an Envelope. Text is only meaningful for
// KindChat.
type Payload struct {
	Kind Kind
	Text string
}

// Envelope is the unit exchanged between clients and the engine. Envelopes
// are treated as immutable once constructed; the bus shares the same value
// with every subscriber.
type Envelope struct {
	Room      string
	Sender    string
	Timestamp uint64
	Payload   Payload
}

// NewEnvelope builds an envelope stamped with the current wall clock in
// seconds since the Unix epoch.
func NewEnvelope(room, sender string, payload Payload) Envelope {
	return Envelope{
		Room:      room,
		Sender:    sender,
		Timestamp: now(),
		Payload:   payload,
	}
}

// NewJoin builds a join announcement for room.
func NewJoin(room, sender string) Envelope {
	return NewEnvelope(room, sender, Payload{Kind: KindJoin})
}

// NewLeave builds a leave announcement for room.
func NewLeave(room, sender string) Envelope {
	return NewEnvelope(room, sender, Payload{Kind: KindLeave})
}

// NewChat builds a chat message for room.
func NewChat(room, sender, text string) Envelope {
	return NewEnvelope(room, sender, Payload{Kind: KindChat, Text: text})
}

func now() uint64 {
	secs := time.Now().Unix()
	if secs < 0 {
		return 0
	}
	return uint64(secs)
}
