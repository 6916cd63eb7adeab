// Package protocol defines the closed set of signaling messages exchanged
// over a websocket, one JSON object per frame, discriminated by "type".
// SDP and ICE payloads are opaque and pass through as raw JSON.
package protocol

import (
	"encoding/json"
	"errors"

	"github.com/nilesh507/streamit/internal/domain"
)

const (
	TypeJoinRoom      = "joinRoom"
	TypeJoinedRoom    = "joinedRoom"
	TypeNewUser       = "newUser"
	TypeExistingUsers = "existingUsers"
	TypeCreateOffer   = "createOffer"
	TypeCreateAnswer  = "createAnswer"
	TypeIceCandidate  = "iceCandidate"
	TypeUserLeft      = "userLeft"
	TypeError         = "error"
)

var (
	ErrMalformed   = errors.New("malformed message")
	ErrUnknownType = errors.New("unknown message type")
)

// Message is implemented by every wire variant.
type Message interface {
	Kind() string
}

type JoinRoom struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
	Name   string        `json:"name,omitempty"`
	RoomID domain.RoomID `json:"roomId"`
}

type JoinedRoom struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
	RoomID domain.RoomID `json:"roomId"`
}

type NewUser struct {
	Type       string        `json:"type"`
	FromUserID domain.UserID `json:"fromUserId"`
}

type ExistingUsers struct {
	Type  string        `json:"type"`
	Users []domain.User `json:"users"`
}

type CreateOffer struct {
	Type       string          `json:"type"`
	FromUserID domain.UserID   `json:"fromUserId"`
	ToUserID   domain.UserID   `json:"toUserId"`
	SDP        json.RawMessage `json:"sdp"`
}

type CreateAnswer struct {
	Type       string          `json:"type"`
	FromUserID domain.UserID   `json:"fromUserId"`
	ToUserID   domain.UserID   `json:"toUserId"`
	SDP        json.RawMessage `json:"sdp"`
}

type IceCandidate struct {
	Type       string          `json:"type"`
	FromUserID domain.UserID   `json:"fromUserId"`
	ToUserID   domain.UserID   `json:"toUserId"`
	Candidate  json.RawMessage `json:"candidate"`
}

type UserLeft struct {
	Type   string        `json:"type"`
	UserID domain.UserID `json:"userId"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (JoinRoom) Kind() string      { return TypeJoinRoom }
func (JoinedRoom) Kind() string    { return TypeJoinedRoom }
func (NewUser) Kind() string       { return TypeNewUser }
func (ExistingUsers) Kind() string { return TypeExistingUsers }
func (CreateOffer) Kind() string   { return TypeCreateOffer }
func (CreateAnswer) Kind() string  { return TypeCreateAnswer }
func (IceCandidate) Kind() string  { return TypeIceCandidate }
func (UserLeft) Kind() string      { return TypeUserLeft }
func (ErrorMessage) Kind() string  { return TypeError }

// Decode parses one inbound frame into its typed variant.
// A frame that is not valid JSON, or whose body does not match the variant's
// shape, yields ErrMalformed. A valid frame with an unrecognized type yields
// ErrUnknownType; callers log those without replying.
func Decode(data []byte) (Message, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformed
	}

	switch env.Type {
	case TypeJoinRoom:
		return decodeAs[JoinRoom](data)
	case TypeJoinedRoom:
		return decodeAs[JoinedRoom](data)
	case TypeNewUser:
		return decodeAs[NewUser](data)
	case TypeExistingUsers:
		return decodeAs[ExistingUsers](data)
	case TypeCreateOffer:
		return decodeAs[CreateOffer](data)
	case TypeCreateAnswer:
		return decodeAs[CreateAnswer](data)
	case TypeIceCandidate:
		return decodeAs[IceCandidate](data)
	case TypeUserLeft:
		return decodeAs[UserLeft](data)
	case TypeError:
		return decodeAs[ErrorMessage](data)
	default:
		return nil, ErrUnknownType
	}
}

func decodeAs[T Message](data []byte) (Message, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, ErrMalformed
	}
	return m, nil
}

// Encode marshals an outbound message, stamping the discriminator so callers
// can build variants without repeating the type constant.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case JoinRoom:
		v.Type = TypeJoinRoom
		return json.Marshal(v)
	case JoinedRoom:
		v.Type = TypeJoinedRoom
		return json.Marshal(v)
	case NewUser:
		v.Type = TypeNewUser
		return json.Marshal(v)
	case ExistingUsers:
		v.Type = TypeExistingUsers
		if v.Users == nil {
			v.Users = []domain.User{}
		}
		return json.Marshal(v)
	case CreateOffer:
		v.Type = TypeCreateOffer
		return json.Marshal(v)
	case CreateAnswer:
		v.Type = TypeCreateAnswer
		return json.Marshal(v)
	case IceCandidate:
		v.Type = TypeIceCandidate
		return json.Marshal(v)
	case UserLeft:
		v.Type = TypeUserLeft
		return json.Marshal(v)
	case ErrorMessage:
		v.Type = TypeError
		return json.Marshal(v)
	default:
		return nil, ErrUnknownType
	}
}

// MustEncode is for outbound messages built from our own structs, where a
// marshal failure is a programming error.
func MustEncode(m Message) []byte {
	b, err := Encode(m)
	if err != nil {
		panic(err)
	}
	return b
}
