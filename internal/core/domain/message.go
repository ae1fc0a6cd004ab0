package domain

import (
	"fmt"
)

type MessageType string

const (
	// client -> relay
	MessageJoin   MessageType = "join"
	MessageLeave  MessageType = "leave"
	MessageSignal MessageType = "signal"

	// relay -> client
	MessageJoined          MessageType = "joined"
	MessagePeerJoined      MessageType = "peer_joined"
	MessagePeerLeft        MessageType = "peer_left"
	MessagePeerReconnected MessageType = "peer_reconnected"
	MessageError           MessageType = "error"
)

// Message is the tagged union exchanged between a client and the relay.
// Which fields are meaningful depends on Type; Validate enforces it.
type Message struct {
	Type   MessageType
	Room   RoomID
	UserID UserID

	// joined
	Role   Role
	PeerID UserID

	// signal
	Signal *Signal

	// error
	Code ErrorCode
	Text string

	// Unknown envelope keys, kept so they survive a decode/encode pass.
	Extra map[string]any
}

func JoinMessage(room RoomID, user UserID) Message {
	return Message{Type: MessageJoin, Room: room, UserID: user}
}

func LeaveMessage(room RoomID, user UserID) Message {
	return Message{Type: MessageLeave, Room: room, UserID: user}
}

func SignalMessage(room RoomID, user UserID, sig Signal) Message {
	return Message{Type: MessageSignal, Room: room, UserID: user, Signal: &sig}
}

func JoinedMessage(room RoomID, user UserID, role Role, peer UserID) Message {
	return Message{Type: MessageJoined, Room: room, UserID: user, Role: role, PeerID: peer}
}

func PeerMessage(t MessageType, room RoomID, user UserID) Message {
	return Message{Type: t, Room: room, UserID: user}
}

// ErrorMessage builds the error frame sent back to the connection whose
// request failed.
func ErrorMessage(room RoomID, err error) Message {
	return Message{Type: MessageError, Room: room, Code: CodeOf(err), Text: err.Error()}
}

func (m Message) Validate() error {
	switch m.Type {
	case MessageJoin, MessageLeave, MessagePeerJoined, MessagePeerLeft, MessagePeerReconnected:
		return m.requireAddress()
	case MessageSignal:
		if err := m.requireAddress(); err != nil {
			return err
		}
		if m.Signal == nil {
			return fmt.Errorf("%w: signal message without signal", ErrMalformedMessage)
		}
		return m.Signal.Validate()
	case MessageJoined:
		if err := m.requireAddress(); err != nil {
			return err
		}
		if !m.Role.Valid() {
			return fmt.Errorf("%w: joined with role %q", ErrMalformedMessage, m.Role)
		}
	case MessageError:
		if m.Code == "" {
			return fmt.Errorf("%w: error without code", ErrMalformedMessage)
		}
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformedMessage)
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, m.Type)
	}
	return nil
}

func (m Message) requireAddress() error {
	if m.Room == "" {
		return fmt.Errorf("%w: %s without room", ErrMalformedMessage, m.Type)
	}
	if m.UserID == "" {
		return fmt.Errorf("%w: %s without userId", ErrMalformedMessage, m.Type)
	}
	return nil
}

// Err returns the error carried by an error frame, nil for anything else.
func (m Message) Err() error {
	if m.Type != MessageError {
		return nil
	}
	return &RelayError{Code: m.Code, Text: m.Text}
}
