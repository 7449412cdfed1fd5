// Package server tracks live chat sessions so they can be counted and shut
// down together via the Hub type.
package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tyrowin/roomchat/internal/chat"
)

// Hub owns the goroutines of every live session. Routing of envelopes is
// done by the engine's bus; the hub only starts sessions, remembers them
// and tears them down on shutdown.
type Hub struct {
	engine   *chat.Engine
	sessions map[*chat.Session]struct{}
	mutex    sync.RWMutex
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	closed   bool
}

// NewHub creates a hub serving sessions of engine.
func NewHub(engine *chat.Engine) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		engine:   engine,
		sessions: make(map[*chat.Session]struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Serve runs s in its own goroutine until it ends. It returns false, and
// closes s, when the hub is already shutting down.
func (h *Hub) Serve(s *chat.Session) bool {
	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		s.Close()
		return false
	}
	h.sessions[s] = struct{}{}
	count := len(h.sessions)
	h.wg.Add(1)
	h.mutex.Unlock()

	log.Info().Str("module", "server.hub").Str("session", s.ID()).Str("user", s.User()).Int("sessions", count).Msg("session started")

	go func() {
		defer h.wg.Done()
		err := s.Run(h.ctx)
		h.forget(s)
		logSessionEnd(s, err)
	}()
	return true
}

func (h *Hub) forget(s *chat.Session) {
	h.mutex.Lock()
	delete(h.sessions, s)
	h.mutex.Unlock()
}

func logSessionEnd(s *chat.Session, err error) {
	ev := log.Info()
	var transportErr *chat.TransportError
	switch {
	case err == nil:
	case errors.Is(err, chat.ErrNameTaken):
		ev = log.Warn()
	case errors.As(err, &transportErr):
		ev = log.Warn()
	default:
		ev = log.Error()
	}
	ev.Str("module", "server.hub").Str("session", s.ID()).Str("user", s.User()).Err(err).Msg("session ended")
}

// Count returns the number of sessions currently running.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.sessions)
}

// Shutdown initiates graceful shutdown of the hub and waits for all sessions
// to finish, or for the timeout.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Info().Str("module", "server.hub").Msg("initiating hub shutdown")

	h.mutex.Lock()
	h.closed = true
	sessions := make([]*chat.Session, 0, len(h.sessions))
	for s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mutex.Unlock()

	h.cancel()
	h.engine.Close()
	for _, s := range sessions {
		s.Close()
	}
	log.Info().Str("module", "server.hub").Int("sessions", len(sessions)).Msg("closed session connections")

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Str("module", "server.hub").Msg("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		log.Warn().Str("module", "server.hub").Msg("hub shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}
