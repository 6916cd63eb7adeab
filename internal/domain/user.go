// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	MaxUserIDLen   = 64
	MaxUsernameLen = 64
)

var (
	ErrUserIDEmpty     = errors.New("user id empty")
	ErrUserIDTooLong   = errors.New("user id too long")
	ErrUsernameTooLong = errors.New("username too long")
)

type UserID string

// User identifies one participant. The id is caller-supplied and must be
// unique within a room; Name is optional display metadata.
type User struct {
	ID   UserID `json:"id"`
	Name string `json:"name,omitempty"`
}

// NewUser validates identity fields so adapters never build ad-hoc literals.
func NewUser(id UserID, name string) (*User, error) {
	if len(id) == 0 {
		return nil, ErrUserIDEmpty
	}
	if len(id) > MaxUserIDLen {
		return nil, ErrUserIDTooLong
	}
	if len(name) > MaxUsernameLen {
		return nil, ErrUsernameTooLong
	}
	return &User{ID: id, Name: name}, nil
}
