package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// RoomStore holds the relay's rooms. Each room is mutated under its own
// lock; fn must not block.
type RoomStore interface {
	// Update runs fn on the room, creating it if needed. A room left empty
	// by fn is destroyed.
	Update(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) error
	// View runs fn on an existing room, ErrNotJoined if there is none.
	View(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) error
	Rooms() []domain.RoomSnapshot
	Room(id domain.RoomID) (domain.RoomSnapshot, bool)
}
