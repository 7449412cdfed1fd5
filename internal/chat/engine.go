package chat

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// DeliveryScope selects which subscribers an envelope is written to.
type DeliveryScope int

const (
	// ScopeRoom delivers an envelope only to sessions whose user is a member
	// of the envelope's room, plus the sender of a Leave.
	ScopeRoom DeliveryScope = iota
	// ScopeLobby delivers every envelope to every session regardless of room.
	ScopeLobby
)

// ParseDeliveryScope maps "room" and "lobby" to a DeliveryScope.
func ParseDeliveryScope(s string) (DeliveryScope, error) {
	switch s {
	case "room", "":
		return ScopeRoom, nil
	case "lobby":
		return ScopeLobby, nil
	default:
		return ScopeRoom, fmt.Errorf("chat: unknown delivery scope %q", s)
	}
}

func (s DeliveryScope) String() string {
	if s == ScopeLobby {
		return "lobby"
	}
	return "room"
}

// MembershipObserver is notified after each effective registry change.
// Implementations must not block.
type MembershipObserver interface {
	Joined(user, room string)
	Left(user, room string)
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	Rooms       int `json:"rooms"`
	Users       int `json:"users"`
	Sessions    int `json:"sessions"`
	Subscribers int `json:"subscribers"`
}

// Engine composes the membership registry and the broadcast bus behind the
// operations the connection layer consumes.
type Engine struct {
	members  Membership
	bus      *Bus
	scope    DeliveryScope
	observer MembershipObserver

	active   sync.Map
	sessions atomic.Int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithMembership replaces the default striped registry.
func WithMembership(m Membership) Option {
	return func(e *Engine) { e.members = m }
}

// WithBus replaces the default bus.
func WithBus(b *Bus) Option {
	return func(e *Engine) { e.bus = b }
}

// WithDeliveryScope sets the delivery scope. The default is ScopeRoom.
func WithDeliveryScope(s DeliveryScope) Option {
	return func(e *Engine) { e.scope = s }
}

// WithObserver registers an observer for membership changes.
func WithObserver(o MembershipObserver) Option {
	return func(e *Engine) { e.observer = o }
}

// NewEngine builds an engine with an empty registry and bus unless options
// say otherwise.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{scope: ScopeRoom}
	for _, opt := range opts {
		opt(e)
	}
	if e.members == nil {
		e.members = NewRegistry()
	}
	if e.bus == nil {
		e.bus = NewBus(DefaultBusCapacity)
	}
	return e
}

// Scope returns the configured delivery scope.
func (e *Engine) Scope() DeliveryScope { return e.scope }

// Subscribe attaches a new bus subscription.
func (e *Engine) Subscribe() *Subscription { return e.bus.Subscribe() }

// RoomsOf returns the rooms user is in.
func (e *Engine) RoomsOf(user string) []string { return e.members.RoomsOf(user) }

// UsersOf returns the users in room.
func (e *Engine) UsersOf(room string) []string { return e.members.UsersOf(room) }

// HandleInbound applies env to the registry and republishes it. The
// registry is always updated before the envelope reaches the bus.
func (e *Engine) HandleInbound(env Envelope) error {
	switch env.Payload.Kind {
	case KindJoin:
		if e.members.Join(env.Sender, env.Room) {
			log.Info().Str("module", "chat.engine").Str("user", env.Sender).Str("room", env.Room).Msg("joined room")
			e.notifyJoined(env.Sender, env.Room)
		}
	case KindLeave:
		if e.members.Leave(env.Sender, env.Room) {
			log.Info().Str("module", "chat.engine").Str("user", env.Sender).Str("room", env.Room).Msg("left room")
			e.notifyLeft(env.Sender, env.Room)
		}
	case KindChat:
	default:
		return fmt.Errorf("chat: cannot dispatch payload kind %d", env.Payload.Kind)
	}

	n := e.bus.Publish(env)
	log.Debug().Str("module", "chat.engine").Str("room", env.Room).Str("kind", env.Payload.Kind.String()).Int("subscribers", n).Msg("published")
	return nil
}

// HandleDisconnect removes user from every room and publishes one Leave per
// pairing it actually removed, returning those envelopes. Calling it again,
// or concurrently, for the same user never publishes a duplicate Leave.
func (e *Engine) HandleDisconnect(user string) []Envelope {
	var published []Envelope
	for _, room := range e.members.RoomsOf(user) {
		if !e.members.Leave(user, room) {
			continue
		}
		e.notifyLeft(user, room)

		env := NewLeave(room, user)
		e.bus.Publish(env)
		published = append(published, env)
	}

	if len(published) > 0 {
		log.Info().Str("module", "chat.engine").Str("user", user).Int("rooms", len(published)).Msg("user removed from rooms")
	}
	return published
}

// Attach marks user as having a live session. It fails with ErrNameTaken if
// another session for user is already attached.
func (e *Engine) Attach(user string) error {
	if _, loaded := e.active.LoadOrStore(user, struct{}{}); loaded {
		return ErrNameTaken
	}
	e.sessions.Add(1)
	return nil
}

// Detach releases the name taken by Attach. Detaching a user that is not
// attached is a no-op.
func (e *Engine) Detach(user string) {
	if _, loaded := e.active.LoadAndDelete(user); loaded {
		e.sessions.Add(-1)
	}
}

// Deliverable reports whether env should be written to the session of user
// under the configured scope. Room membership is checked at delivery time,
// so an envelope still queued when its recipient leaves the room is skipped.
func (e *Engine) Deliverable(user string, env Envelope) bool {
	if e.scope == ScopeLobby {
		return true
	}
	if env.Payload.Kind == KindLeave && env.Sender == user {
		return true
	}
	return e.members.IsMember(user, env.Room)
}

// Stats reports room, user, session and subscriber counts.
func (e *Engine) Stats() Stats {
	rooms, users := e.members.Counts()
	return Stats{
		Rooms:       rooms,
		Users:       users,
		Sessions:    int(e.sessions.Load()),
		Subscribers: e.bus.Subscribers(),
	}
}

// Close closes the bus; every subscription drains and then ends.
func (e *Engine) Close() { e.bus.Close() }

func (e *Engine) notifyJoined(user, room string) {
	if e.observer != nil {
		e.observer.Joined(user, room)
	}
}

func (e *Engine) notifyLeft(user, room string) {
	if e.observer != nil {
		e.observer.Left(user, room)
	}
}
