package domain

type RoomID string

// DefaultRoomCapacity bounds how many sessions a room admits unless the
// creator asked for something else.
const DefaultRoomCapacity = 5
