package domain

import (
	"github.com/google/uuid"
)

type UserID string
type RoomID string

func (id UserID) String() string {
	return string(id)
}

func (id RoomID) String() string {
	return string(id)
}

// ConnID identifies a single network connection to the relay. A user who
// reconnects keeps the UserID but gets a new ConnID.
type ConnID uuid.UUID

func NewConnID() ConnID {
	return ConnID(uuid.New())
}

func (id ConnID) String() string {
	return uuid.UUID(id).String()
}
