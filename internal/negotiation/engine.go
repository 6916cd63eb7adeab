// Package negotiation tracks per-remote-peer connectivity negotiation and
// buffers ICE candidates that arrive before the remote description is set.
package negotiation

import (
	"encoding/json"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/nilesh507/streamit/internal/domain"
)

// PeerTransport is the opaque connectivity layer an engine drives. It only
// consumes raw description/candidate blobs; nothing here inspects them.
type PeerTransport interface {
	SetRemoteDescription(sdp json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	Close()
}

type Phase int

const (
	NoConnection Phase = iota
	AwaitingRemoteDescription
	RemoteDescriptionSet
	Closed
)

func (p Phase) String() string {
	switch p {
	case NoConnection:
		return "no_connection"
	case AwaitingRemoteDescription:
		return "awaiting_remote_description"
	case RemoteDescriptionSet:
		return "remote_description_set"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

var ErrClosed = errors.New("negotiation closed")

// Engine is the state machine for one (local, remote) pair.
// Candidates arriving before the remote description are buffered in arrival
// order and applied FIFO once the description lands; later candidates bypass
// the buffer. A closed engine is never reused.
type Engine struct {
	remote    domain.UserID
	transport PeerTransport

	mu     sync.Mutex
	phase  Phase
	buffer []json.RawMessage
}

func NewEngine(remote domain.UserID, transport PeerTransport) *Engine {
	return &Engine{remote: remote, transport: transport}
}

func (e *Engine) Remote() domain.UserID { return e.remote }

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// MarkNegotiating records that an offer has been sent or received for this
// peer, moving out of NoConnection. Safe to call more than once.
func (e *Engine) MarkNegotiating() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == NoConnection {
		e.phase = AwaitingRemoteDescription
	}
}

// SetRemoteDescription applies the remote description and then drains the
// candidate buffer in the order candidates arrived. An individual candidate
// failure is logged and does not block the remainder.
func (e *Engine) SetRemoteDescription(sdp json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.phase == Closed {
		return ErrClosed
	}
	if err := e.transport.SetRemoteDescription(sdp); err != nil {
		return err
	}
	e.phase = RemoteDescriptionSet

	for _, cand := range e.buffer {
		if err := e.transport.AddCandidate(cand); err != nil {
			log.Warn().Err(err).Str("module", "negotiation").Str("remote", string(e.remote)).Msg("buffered candidate apply failed")
		}
	}
	e.buffer = nil
	return nil
}

// AddCandidate buffers or applies depending on phase.
func (e *Engine) AddCandidate(candidate json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.phase {
	case Closed:
		return ErrClosed
	case RemoteDescriptionSet:
		return e.transport.AddCandidate(candidate)
	default:
		if e.phase == NoConnection {
			e.phase = AwaitingRemoteDescription
		}
		e.buffer = append(e.buffer, candidate)
		log.Debug().Str("module", "negotiation").Str("remote", string(e.remote)).Int("buffered", len(e.buffer)).Msg("candidate buffered")
		return nil
	}
}

// BufferedCandidates reports how many candidates await the remote description.
func (e *Engine) BufferedCandidates() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buffer)
}

// Close discards any buffered candidates, releases the transport and seals
// the engine. Idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.phase == Closed {
		e.mu.Unlock()
		return
	}
	e.phase = Closed
	e.buffer = nil
	t := e.transport
	e.mu.Unlock()

	t.Close()
	log.Info().Str("module", "negotiation").Str("remote", string(e.remote)).Msg("negotiation closed")
}
