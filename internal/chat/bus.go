package chat

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBusCapacity is the per-subscriber buffer used when none is given.
const DefaultBusCapacity = 64

// Bus fans every published Envelope out to all live subscriptions. Each
// subscription owns a bounded buffer; when it is full the oldest buffered
// envelope is discarded so Publish never blocks.
type Bus struct {
	capacity int

	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// NewBus creates a bus whose subscriptions buffer up to capacity envelopes.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{
		capacity: capacity,
		subs:     make(map[uint64]*Subscription),
	}
}

// Publish offers env to every current subscriber and returns how many
// subscribers it reached. It is a no-op on a closed bus.
func (b *Bus) Publish(env Envelope) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	for _, s := range b.subs {
		s.offer(env)
	}
	return len(b.subs)
}

// Subscribe attaches a new subscription that sees envelopes published from
// now on. Subscribing to a closed bus yields an already closed subscription.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:  b,
		ch:   make(chan Envelope, b.capacity),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		s.closeOnce.Do(func() { close(s.done) })
		return s
	}
	b.nextID++
	s.id = b.nextID
	b.subs[s.id] = s
	return s
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close detaches every subscription. Pending envelopes can still be read;
// after that Next returns ErrClosed.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, s := range b.subs {
		s.closeOnce.Do(func() { close(s.done) })
		delete(b.subs, id)
	}
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
}

// Subscription is a cursor into the bus owned by a single consumer.
type Subscription struct {
	id  uint64
	bus *Bus
	ch  chan Envelope

	// mu serializes producers so the drop-oldest step and the retry are
	// atomic with respect to other publishers.
	mu      sync.Mutex
	dropped atomic.Uint64

	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) offer(env Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case s.ch <- env:
			return
		default:
		}
		select {
		case <-s.ch:
			s.dropped.Add(1)
		default:
		}
	}
}

// Next blocks until an envelope is available, the subscription is closed,
// or ctx is done. After envelopes were discarded for this subscriber it
// returns a *LaggedError once before resuming delivery.
func (s *Subscription) Next(ctx context.Context) (Envelope, error) {
	if n := s.dropped.Swap(0); n > 0 {
		return Envelope{}, &LaggedError{Missed: n}
	}

	select {
	case env := <-s.ch:
		return env, nil
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	case <-s.done:
		select {
		case env := <-s.ch:
			return env, nil
		default:
			return Envelope{}, ErrClosed
		}
	}
}

// Close detaches the subscription from the bus. It is safe to call more
// than once.
func (s *Subscription) Close() {
	// Detach before closing done: Bus.Close runs closeOnce while holding the
	// bus lock, so the once body must never take that lock.
	if s.id != 0 {
		s.bus.remove(s.id)
	}
	s.closeOnce.Do(func() { close(s.done) })
}
