package domain

// MaxParticipants is the capacity of a room. Calls are strictly two-party.
const MaxParticipants = 2

// Endpoint is the relay's handle on one participant connection. Send must
// not block.
type Endpoint interface {
	ID() ConnID
	Send(msg Message) error
	Close() error
}

type Participant struct {
	UserID   UserID
	Role     Role
	Endpoint Endpoint
}

type Room struct {
	ID           RoomID
	Participants []Participant
}

func (r *Room) Find(user UserID) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID == user {
			return &r.Participants[i]
		}
	}
	return nil
}

// Other returns the participant that is not user, if any.
func (r *Room) Other(user UserID) *Participant {
	for i := range r.Participants {
		if r.Participants[i].UserID != user {
			return &r.Participants[i]
		}
	}
	return nil
}

func (r *Room) Full() bool {
	return len(r.Participants) >= MaxParticipants
}

func (r *Room) Empty() bool {
	return len(r.Participants) == 0
}

// NextRole is the role a newcomer gets: initiator in an empty room,
// otherwise whatever the present occupant is not.
func (r *Room) NextRole() Role {
	if len(r.Participants) == 0 {
		return RoleInitiator
	}
	return r.Participants[0].Role.Counterpart()
}

func (r *Room) Add(p Participant) {
	r.Participants = append(r.Participants, p)
}

func (r *Room) Remove(user UserID) (Participant, bool) {
	for i, p := range r.Participants {
		if p.UserID == user {
			r.Participants = append(r.Participants[:i], r.Participants[i+1:]...)
			return p, true
		}
	}
	return Participant{}, false
}

type ParticipantInfo struct {
	UserID UserID `json:"userId"`
	Role   Role   `json:"role"`
}

type RoomSnapshot struct {
	ID           RoomID            `json:"id"`
	Participants []ParticipantInfo `json:"participants"`
}

func (r *Room) Snapshot() RoomSnapshot {
	s := RoomSnapshot{ID: r.ID, Participants: make([]ParticipantInfo, 0, len(r.Participants))}
	for _, p := range r.Participants {
		s.Participants = append(s.Participants, ParticipantInfo{UserID: p.UserID, Role: p.Role})
	}
	return s
}
