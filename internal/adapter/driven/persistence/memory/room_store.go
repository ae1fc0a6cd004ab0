package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type roomEntry struct {
	mu     sync.Mutex
	room   domain.Room
	closed bool // removed from the map, callers must retry
}

// RoomStore keeps rooms in memory. The map lock only guards lookup, insert
// and delete; room contents are guarded by the entry lock. Lock order is
// entry then map.
type RoomStore struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]*roomEntry
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms: make(map[domain.RoomID]*roomEntry),
	}
}

func (s *RoomStore) Update(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.mu.Lock()
		e, ok := s.rooms[id]
		if !ok {
			e = &roomEntry{room: domain.Room{ID: id}}
			s.rooms[id] = e
		}
		s.mu.Unlock()

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			continue
		}
		err := fn(&e.room)
		if e.room.Empty() {
			e.closed = true
			s.mu.Lock()
			if s.rooms[id] == e {
				delete(s.rooms, id)
			}
			s.mu.Unlock()
		}
		e.mu.Unlock()
		return err
	}
}

func (s *RoomStore) View(ctx context.Context, id domain.RoomID, fn func(*domain.Room) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	e, ok := s.rooms[id]
	s.mu.Unlock()
	if !ok {
		return domain.ErrNotJoined
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.ErrNotJoined
	}
	return fn(&e.room)
}

func (s *RoomStore) Rooms() []domain.RoomSnapshot {
	s.mu.Lock()
	entries := make([]*roomEntry, 0, len(s.rooms))
	for _, e := range s.rooms {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]domain.RoomSnapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if !e.closed && !e.room.Empty() {
			out = append(out, e.room.Snapshot())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *RoomStore) Room(id domain.RoomID) (domain.RoomSnapshot, bool) {
	var snap domain.RoomSnapshot
	err := s.View(context.Background(), id, func(r *domain.Room) error {
		snap = r.Snapshot()
		return nil
	})
	return snap, err == nil && len(snap.Participants) > 0
}
