package core

import "github.com/nilesh507/streamit/internal/domain"

// Frame is a raw encoded signaling payload.
type Frame []byte

// SignalSender abstracts a session's transport send capability.
// Owned by the adapter; the adapter must Close() it. Rooms only reference it.
type SignalSender interface {
	TrySend(Frame) error
	Close()
}

// Session binds one participant's identity to its transport endpoint.
// This is what a room stores and fans out to.
type Session struct {
	user   *domain.User
	sender SignalSender
}

func NewSession(user *domain.User, sender SignalSender) *Session {
	return &Session{user: user, sender: sender}
}

func (s *Session) ID() domain.UserID { return s.user.ID }
func (s *Session) User() domain.User { return *s.user }

func (s *Session) Send(f Frame) error {
	return s.sender.TrySend(f)
}
