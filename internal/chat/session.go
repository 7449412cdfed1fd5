package chat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Conn is the duplex text-frame transport a Session pumps. ReadFrame must
// return io.EOF when the peer closed the connection cleanly, and must
// unblock with an error once Close is called.
type Conn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(frame []byte) error
	Close() error
}

// Limiter throttles inbound frames; a frame is dropped when Allow is false.
type Limiter interface {
	Allow() bool
}

// State is the lifecycle phase of a Session.
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session pairs the inbound pump (transport to engine) and the outbound
// pump (bus to transport) of one authenticated connection.
type Session struct {
	id      string
	user    string
	conn    Conn
	engine  *Engine
	limiter Limiter

	state     atomic.Int32
	closing   atomic.Bool
	closeOnce sync.Once
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLimiter applies a per-session inbound rate limit.
func WithLimiter(l Limiter) SessionOption {
	return func(s *Session) { s.limiter = l }
}

// WithSessionID overrides the generated session id.
func WithSessionID(id string) SessionOption {
	return func(s *Session) { s.id = id }
}

// NewSession prepares a session for user, whose identity has already been
// established by the caller. The session does nothing until Run.
func NewSession(engine *Engine, conn Conn, user string, opts ...SessionOption) *Session {
	s := &Session{
		id:     uuid.NewString(),
		user:   user,
		conn:   conn,
		engine: engine,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// User returns the identity the session runs as.
func (s *Session) User() string { return s.user }

// State returns the current lifecycle phase.
func (s *Session) State() State { return State(s.state.Load()) }

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	log.Debug().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Stringer("state", st).Msg("session state")
}

// Close closes the transport, which ends both pumps. Safe to call at any
// time and more than once.
func (s *Session) Close() {
	s.closing.Store(true)
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			log.Debug().Str("module", "chat.session").Str("session", s.id).Err(err).Msg("closing transport")
		}
	})
}

// Run drives the session to completion. It rejects the session with
// ErrNameTaken when user already has a live session. Otherwise it runs both
// pumps until either ends or ctx is cancelled, then cancels the other,
// removes the user from every room and returns the error that ended the
// session. A clean close by the peer or by shutdown returns nil.
func (s *Session) Run(ctx context.Context) error {
	if err := s.engine.Attach(s.user); err != nil {
		s.reject(err)
		return err
	}

	sub := s.engine.Subscribe()
	s.setState(StateActive)
	log.Info().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Msg("session active")

	ctx, cancel := context.WithCancel(ctx)
	results := make(chan error, 2)
	go func() { results <- s.inbound(ctx) }()
	go func() { results <- s.outbound(ctx, sub) }()

	var first error
	pending := 2
	select {
	case first = <-results:
		pending--
	case <-ctx.Done():
	}

	s.setState(StateClosing)
	cancel()
	s.Close()
	sub.Close()
	for ; pending > 0; pending-- {
		if err := <-results; first == nil {
			first = err
		}
	}

	left := s.engine.HandleDisconnect(s.user)
	s.engine.Detach(s.user)
	s.setState(StateClosed)
	log.Info().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Int("rooms_left", len(left)).Msg("session closed")
	return first
}

func (s *Session) reject(cause error) {
	log.Warn().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Err(cause).Msg("session rejected")
	if err := s.conn.WriteFrame(RejectionFrame(cause)); err != nil {
		log.Debug().Str("module", "chat.session").Str("session", s.id).Err(err).Msg("writing rejection frame")
	}
	s.Close()
	s.setState(StateClosed)
}

// RejectionFrame renders the frame sent to a client whose session is
// refused before it becomes active.
func RejectionFrame(cause error) []byte {
	msg := "connection rejected"
	if errors.Is(cause, ErrNameTaken) {
		msg = "username already taken"
	}
	frame, _ := json.Marshal(map[string]string{"error": msg})
	return frame
}

func (s *Session) inbound(ctx context.Context) error {
	for {
		frame, err := s.conn.ReadFrame()
		if err != nil {
			if s.ended(ctx) || errors.Is(err, io.EOF) {
				return nil
			}
			return &TransportError{Op: "read", Err: err}
		}

		if s.limiter != nil && !s.limiter.Allow() {
			log.Warn().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Msg("rate limit exceeded; discarding frame")
			continue
		}

		env, err := Decode(frame)
		if err != nil {
			log.Warn().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Err(err).Msg("dropping undecodable frame")
			continue
		}

		if !s.claim(&env) {
			log.Warn().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Str("claimed", env.Sender).Msg("dropping frame with foreign sender")
			continue
		}

		if err := s.engine.HandleInbound(env); err != nil {
			log.Warn().Str("module", "chat.session").Str("session", s.id).Err(err).Msg("dropping frame")
		}
	}
}

// ended reports whether the session is being torn down on purpose, in which
// case transport errors are the expected result of closing it.
func (s *Session) ended(ctx context.Context) bool {
	return ctx.Err() != nil || s.closing.Load()
}

// claim stamps an anonymous envelope with the session identity and rejects
// one that names somebody else.
func (s *Session) claim(env *Envelope) bool {
	if env.Sender == "" {
		env.Sender = s.user
		return true
	}
	return env.Sender == s.user
}

func (s *Session) outbound(ctx context.Context, sub *Subscription) error {
	for {
		env, err := sub.Next(ctx)
		if err != nil {
			var lagged *LaggedError
			if errors.As(err, &lagged) {
				log.Warn().Str("module", "chat.session").Str("session", s.id).Str("user", s.user).Uint64("missed", lagged.Missed).Msg("subscriber lagged")
				continue
			}
			if errors.Is(err, ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		if !s.engine.Deliverable(s.user, env) {
			continue
		}

		frame, err := Encode(env)
		if err != nil {
			log.Error().Str("module", "chat.session").Str("session", s.id).Err(err).Msg("encoding envelope")
			continue
		}
		if err := s.conn.WriteFrame(frame); err != nil {
			if s.ended(ctx) {
				return nil
			}
			return &TransportError{Op: "write", Err: err}
		}
	}
}
