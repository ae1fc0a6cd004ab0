package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/rs/zerolog"
)

type membership struct {
	room domain.RoomID
	user domain.UserID
}

// Relay pairs up to two participants per room and forwards their handshake
// messages to each other. It never looks inside a signal.
type Relay struct {
	rooms   port.RoomStore
	members sync.Map // domain.ConnID -> membership
	logger  zerolog.Logger
}

func NewRelay(rooms port.RoomStore, logger zerolog.Logger) *Relay {
	return &Relay{
		rooms:  rooms,
		logger: logger.With().Str("component", "relay").Logger(),
	}
}

// Handle dispatches a decoded client frame. Failures are reported to ep as
// error frames.
func (r *Relay) Handle(ctx context.Context, ep domain.Endpoint, msg domain.Message) {
	var err error
	switch msg.Type {
	case domain.MessageJoin:
		err = r.Join(ctx, ep, msg.Room, msg.UserID)
	case domain.MessageLeave:
		err = r.Leave(ctx, ep, msg.Room, msg.UserID)
	case domain.MessageSignal:
		err = r.Forward(ctx, ep, msg)
	default:
		err = fmt.Errorf("%w: %s is not accepted from clients", domain.ErrMalformedMessage, msg.Type)
	}
	if err != nil {
		r.Reject(ep, msg.Room, err)
	}
}

// Reject sends err to ep as an error frame.
func (r *Relay) Reject(ep domain.Endpoint, room domain.RoomID, err error) {
	r.logger.Debug().Err(err).Str("client_id", ep.ID().String()).Str("room", room.String()).Msg("Rejecting client message")
	r.deliver(ep, domain.ErrorMessage(room, err))
}

func (r *Relay) Join(ctx context.Context, ep domain.Endpoint, room domain.RoomID, user domain.UserID) error {
	prev, moving := r.membership(ep)
	if moving && prev == (membership{room, user}) {
		moving = false
	}
	// a new identity in the same room frees its old slot first
	if moving && prev.room == room {
		r.remove(ctx, ep, prev)
		moving = false
	}

	var stale domain.Endpoint
	var role domain.Role
	err := r.rooms.Update(ctx, room, func(rm *domain.Room) error {
		if p := rm.Find(user); p != nil {
			role = p.Role
			if p.Endpoint.ID() == ep.ID() {
				r.deliver(ep, domain.JoinedMessage(room, user, p.Role, peerOf(rm, user)))
				return nil
			}
			stale = p.Endpoint
			p.Endpoint = ep
			r.deliver(ep, domain.JoinedMessage(room, user, p.Role, peerOf(rm, user)))
			if other := rm.Other(user); other != nil {
				r.deliver(other.Endpoint, domain.PeerMessage(domain.MessagePeerReconnected, room, user))
			}
			return nil
		}

		if rm.Full() {
			return fmt.Errorf("%w: %s", domain.ErrRoomFull, room)
		}
		role = rm.NextRole()
		other := rm.Other(user)
		rm.Add(domain.Participant{UserID: user, Role: role, Endpoint: ep})

		var peer domain.UserID
		if other != nil {
			peer = other.UserID
		}
		r.deliver(ep, domain.JoinedMessage(room, user, role, peer))
		if other != nil {
			r.deliver(other.Endpoint, domain.PeerMessage(domain.MessagePeerJoined, room, user))
		}
		return nil
	})
	if err != nil {
		return err
	}

	// the old room is only left once the new one has accepted the join
	if moving {
		r.remove(ctx, ep, prev)
	}
	r.members.Store(ep.ID(), membership{room, user})

	l := r.logger.With().Str("room", room.String()).Str("user_id", user.String()).Str("client_id", ep.ID().String()).Logger()
	if stale != nil {
		r.members.CompareAndDelete(stale.ID(), membership{room, user})
		if err := stale.Close(); err != nil {
			l.Debug().Err(err).Msg("Closing replaced connection")
		}
		l.Info().Str("role", string(role)).Msg("Participant reconnected")
		return nil
	}
	l.Info().Str("role", string(role)).Msg("Participant joined")
	return nil
}

// Forward hands msg, unchanged, to the other participant of its room.
func (r *Relay) Forward(ctx context.Context, ep domain.Endpoint, msg domain.Message) error {
	m, ok := r.membership(ep)
	if !ok || m != (membership{msg.Room, msg.UserID}) {
		return fmt.Errorf("%w: %s in %s", domain.ErrNotJoined, msg.UserID, msg.Room)
	}
	return r.rooms.View(ctx, msg.Room, func(rm *domain.Room) error {
		other := rm.Other(msg.UserID)
		if other == nil {
			return fmt.Errorf("%w: %s", domain.ErrPeerUnavailable, msg.Room)
		}
		r.deliver(other.Endpoint, msg)
		return nil
	})
}

func (r *Relay) Leave(ctx context.Context, ep domain.Endpoint, room domain.RoomID, user domain.UserID) error {
	m, ok := r.membership(ep)
	if !ok || m != (membership{room, user}) {
		return fmt.Errorf("%w: %s in %s", domain.ErrNotJoined, user, room)
	}
	r.remove(ctx, ep, m)
	return nil
}

// Disconnect is called once a connection is gone, whether or not it left
// its room first.
func (r *Relay) Disconnect(ep domain.Endpoint) {
	if m, ok := r.membership(ep); ok {
		r.remove(context.Background(), ep, m)
	}
}

func (r *Relay) Rooms() []domain.RoomSnapshot {
	return r.rooms.Rooms()
}

func (r *Relay) Room(id domain.RoomID) (domain.RoomSnapshot, bool) {
	return r.rooms.Room(id)
}

func (r *Relay) remove(ctx context.Context, ep domain.Endpoint, m membership) {
	r.members.Delete(ep.ID())
	removed := false
	err := r.rooms.Update(ctx, m.room, func(rm *domain.Room) error {
		p := rm.Find(m.user)
		// a reconnect may already have taken the slot over
		if p == nil || p.Endpoint.ID() != ep.ID() {
			return nil
		}
		rm.Remove(m.user)
		removed = true
		if other := rm.Other(m.user); other != nil {
			r.deliver(other.Endpoint, domain.PeerMessage(domain.MessagePeerLeft, m.room, m.user))
		}
		return nil
	})
	if err != nil {
		r.logger.Error().Err(err).Str("room", m.room.String()).Msg("Failed to remove participant")
		return
	}
	if removed {
		r.logger.Info().Str("room", m.room.String()).Str("user_id", m.user.String()).Msg("Participant left")
	}
}

func (r *Relay) membership(ep domain.Endpoint) (membership, bool) {
	v, ok := r.members.Load(ep.ID())
	if !ok {
		return membership{}, false
	}
	return v.(membership), true
}

// deliver never blocks; an endpoint that cannot keep up closes itself.
func (r *Relay) deliver(ep domain.Endpoint, msg domain.Message) {
	if err := ep.Send(msg); err != nil {
		r.logger.Warn().Err(err).Str("client_id", ep.ID().String()).Str("type", string(msg.Type)).Msg("Dropping message")
	}
}

func peerOf(rm *domain.Room, user domain.UserID) domain.UserID {
	if other := rm.Other(user); other != nil {
		return other.UserID
	}
	return ""
}
