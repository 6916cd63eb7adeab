package negotiation

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/domain"
)

// TransportFactory builds the peer transport for a newly tracked remote.
type TransportFactory func(remote domain.UserID) (PeerTransport, error)

// Set owns all negotiation engines of one local session, at most one per
// remote peer. It belongs to the session's connection context; no other
// connection ever touches it.
type Set struct {
	factory TransportFactory
	timeout time.Duration

	mu      sync.Mutex
	engines map[domain.UserID]*Engine
	timers  map[domain.UserID]*time.Timer
	closed  bool
}

// NewSet creates an engine set. A timeout > 0 discards engines that fail to
// reach RemoteDescriptionSet in time, so abandoned peers cannot pin buffers
// forever.
func NewSet(factory TransportFactory, timeout time.Duration) *Set {
	return &Set{
		factory: factory,
		timeout: timeout,
		engines: make(map[domain.UserID]*Engine),
		timers:  make(map[domain.UserID]*time.Timer),
	}
}

// Get returns the engine for remote, creating it on first use. Creation is
// idempotent: a concurrent or repeated request yields the existing instance.
func (s *Set) Get(remote domain.UserID) (*Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if e, ok := s.engines[remote]; ok {
		return e, nil
	}
	transport, err := s.factory(remote)
	if err != nil {
		return nil, err
	}
	e := NewEngine(remote, transport)
	s.engines[remote] = e
	if s.timeout > 0 {
		s.timers[remote] = time.AfterFunc(s.timeout, func() {
			s.expire(remote, e)
		})
	}
	log.Info().Str("module", "negotiation").Str("remote", string(remote)).Msg("engine created")
	return e, nil
}

// Lookup returns an existing engine without creating one.
func (s *Set) Lookup(remote domain.UserID) (*Engine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.engines[remote]
	return e, ok
}

// Remove closes and discards the engine for remote, typically on userLeft.
// The entry is not reused; a later offer for the same peer starts fresh.
func (s *Set) Remove(remote domain.UserID) {
	s.mu.Lock()
	e, ok := s.engines[remote]
	if ok {
		delete(s.engines, remote)
	}
	if t, tok := s.timers[remote]; tok {
		t.Stop()
		delete(s.timers, remote)
	}
	s.mu.Unlock()
	if ok {
		e.Close()
	}
}

// Settle cancels the phase timeout once the engine reached
// RemoteDescriptionSet.
func (s *Set) Settle(remote domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[remote]; ok {
		t.Stop()
		delete(s.timers, remote)
	}
}

func (s *Set) expire(remote domain.UserID, e *Engine) {
	if e.Phase() == RemoteDescriptionSet {
		return
	}
	log.Warn().Str("module", "negotiation").Str("remote", string(remote)).Str("phase", e.Phase().String()).Msg("negotiation timed out")
	s.Remove(remote)
}

// Len reports how many peers are currently tracked.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.engines)
}

// Close tears down every engine. Buffered candidates are discarded, not
// flushed; the set accepts nothing afterwards.
func (s *Set) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	engines := s.engines
	s.engines = make(map[domain.UserID]*Engine)
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = make(map[domain.UserID]*time.Timer)
	s.mu.Unlock()

	for _, e := range engines {
		e.Close()
	}
}
