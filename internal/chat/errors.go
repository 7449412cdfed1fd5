package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by Subscription.Next once the bus or the
	// subscription has been closed.
	ErrClosed = errors.New("chat: bus closed")

	// ErrNameTaken rejects a session whose user already has a live session.
	ErrNameTaken = errors.New("chat: username already taken")

	// ErrInvalidUTF8 is returned by Encode for an envelope whose room,
	// sender or text is not valid UTF-8 and so cannot survive the JSON wire.
	ErrInvalidUTF8 = errors.New("chat: text is not valid UTF-8")
)

// DecodeError reports an inbound frame that could not be parsed into an
// Envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("chat: decode: %s: %v", e.Reason, e.Err)
	}
	return "chat: decode: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// TransportError wraps a read or write failure on a session's transport.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("chat: transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// LaggedError is returned by Subscription.Next when the subscriber fell
// behind and the bus discarded Missed envelopes on its behalf. It is not
// fatal: the next call resumes with the oldest envelope still buffered.
type LaggedError struct {
	Missed uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("chat: subscriber lagged, %d envelopes dropped", e.Missed)
}
