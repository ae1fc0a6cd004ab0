package service

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/rs/zerolog"
)

func newTestRelay() *Relay {
	return NewRelay(memory.NewRoomStore(), zerolog.Nop())
}

func offerFrom(user domain.UserID) domain.Message {
	return domain.SignalMessage("appt-42", user, domain.NewOffer("v=0"))
}

func TestRelayAssignsRoles(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()

	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	ack := a.Last()
	if ack.Type != domain.MessageJoined || ack.Role != domain.RoleInitiator || ack.PeerID != "" {
		t.Fatalf("first ack = %+v", ack)
	}

	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))
	ack = b.Last()
	if ack.Type != domain.MessageJoined || ack.Role != domain.RoleResponder || ack.PeerID != "alice" {
		t.Fatalf("second ack = %+v", ack)
	}

	notice := a.Last()
	if notice.Type != domain.MessagePeerJoined || notice.UserID != "bob" {
		t.Fatalf("alice got %+v, want peer_joined bob", notice)
	}
}

func TestRelayRejectsThirdParticipant(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b, c := newRecordingEndpoint(), newRecordingEndpoint(), newRecordingEndpoint()

	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))
	a.Reset()
	b.Reset()

	r.Handle(ctx, c, domain.JoinMessage("appt-42", "carol"))
	got := c.Last()
	if got.Type != domain.MessageError || got.Code != domain.CodeRoomFull {
		t.Fatalf("carol got %+v, want room_full", got)
	}
	if !errors.Is(got.Err(), domain.ErrRoomFull) {
		t.Fatalf("Err() = %v", got.Err())
	}
	if len(a.Messages()) != 0 || len(b.Messages()) != 0 {
		t.Fatalf("occupants were notified: %v %v", a.Messages(), b.Messages())
	}

	snap, _ := r.Room("appt-42")
	if len(snap.Participants) != 2 || snap.Participants[0].UserID != "alice" || snap.Participants[1].UserID != "bob" {
		t.Fatalf("room changed: %+v", snap)
	}

	r.Handle(ctx, c, offerFrom("carol"))
	if got := c.Last(); got.Code != domain.CodeNotJoined {
		t.Fatalf("rejected participant could signal: %+v", got)
	}
}

func TestRelayForwardsUnchanged(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()
	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))
	b.Reset()

	idx := uint16(0)
	msgs := []domain.Message{
		offerFrom("alice"),
		domain.SignalMessage("appt-42", "alice", domain.NewCandidate(domain.ICECandidate{Candidate: "candidate:1", SDPMLineIndex: &idx})),
		domain.SignalMessage("appt-42", "alice", domain.NewCandidate(domain.ICECandidate{Candidate: "candidate:2"})),
	}
	msgs[0].Extra = map[string]any{"trace": "t1"}
	for _, m := range msgs {
		r.Handle(ctx, a, m)
	}

	got := b.Messages()
	if len(got) != len(msgs) {
		t.Fatalf("bob got %d messages, want %d", len(got), len(msgs))
	}
	for i := range msgs {
		if got[i].Signal != msgs[i].Signal || got[i].Type != msgs[i].Type {
			t.Errorf("message %d = %+v, want %+v", i, got[i], msgs[i])
		}
	}
	if got[0].Extra["trace"] != "t1" {
		t.Errorf("extra keys dropped: %v", got[0].Extra)
	}
	if len(a.Messages()) != 2 {
		t.Errorf("sender got echoes: %v", a.Messages())
	}
}

func TestRelayDoesNotReplaySignals(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()

	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, a, offerFrom("alice"))
	if got := a.Last(); got.Code != domain.CodePeerUnavailable {
		t.Fatalf("alice got %+v, want peer_unavailable", got)
	}

	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))
	if n := b.Count(domain.MessageSignal); n != 0 {
		t.Fatalf("bob received %d replayed signals", n)
	}
}

func TestRelayLeaveNotifiesOnce(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()
	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))

	r.Handle(ctx, a, domain.LeaveMessage("appt-42", "alice"))
	r.Disconnect(a)

	if n := b.Count(domain.MessagePeerLeft); n != 1 {
		t.Fatalf("bob got %d peer_left, want 1", n)
	}
	if _, ok := r.Room("appt-42"); !ok {
		t.Fatal("room gone while bob is in it")
	}

	r.Disconnect(b)
	if _, ok := r.Room("appt-42"); ok {
		t.Fatal("room survived its last participant")
	}
	if len(r.Rooms()) != 0 {
		t.Fatalf("Rooms() = %v", r.Rooms())
	}
}

func TestRelayDisconnectActsAsLeave(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()
	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))

	r.Disconnect(b)
	if got := a.Last(); got.Type != domain.MessagePeerLeft || got.UserID != "bob" {
		t.Fatalf("alice got %+v", got)
	}

	// the freed slot goes to the next joiner with bob's role
	c := newRecordingEndpoint()
	r.Handle(ctx, c, domain.JoinMessage("appt-42", "carol"))
	if got := c.Last(); got.Role != domain.RoleResponder || got.PeerID != "alice" {
		t.Fatalf("carol ack = %+v", got)
	}
}

func TestRelayReconnectReplacesStaleConnection(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()
	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))

	b2 := newRecordingEndpoint()
	r.Handle(ctx, b2, domain.JoinMessage("appt-42", "bob"))

	if !b.Closed() {
		t.Fatal("stale connection not closed")
	}
	if got := b2.Last(); got.Type != domain.MessageJoined || got.Role != domain.RoleResponder {
		t.Fatalf("new connection ack = %+v", got)
	}
	if got := a.Last(); got.Type != domain.MessagePeerReconnected || got.UserID != "bob" {
		t.Fatalf("alice got %+v, want peer_reconnected", got)
	}

	// the stale read loop exiting must not evict the new connection
	r.Disconnect(b)
	if n := a.Count(domain.MessagePeerLeft); n != 0 {
		t.Fatalf("alice got %d peer_left after stale disconnect", n)
	}

	r.Handle(ctx, a, offerFrom("alice"))
	if got := b2.Last(); got.Type != domain.MessageSignal {
		t.Fatalf("signal not routed to new connection: %+v", got)
	}
}

func TestRelayRepeatedJoinIsIdempotent(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()
	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))
	a.Reset()

	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))
	if got := b.Last(); got.Type != domain.MessageJoined || got.Role != domain.RoleResponder {
		t.Fatalf("re-ack = %+v", got)
	}
	if len(a.Messages()) != 0 {
		t.Fatalf("alice notified of a repeated join: %v", a.Messages())
	}
}

func TestRelayJoiningAnotherRoomLeavesTheFirst(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()
	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))

	r.Handle(ctx, b, domain.JoinMessage("appt-43", "bob"))
	if got := a.Last(); got.Type != domain.MessagePeerLeft {
		t.Fatalf("alice got %+v, want peer_left", got)
	}
	snap, ok := r.Room("appt-43")
	if !ok || snap.Participants[0].Role != domain.RoleInitiator {
		t.Fatalf("appt-43 = %+v", snap)
	}
}

func TestRelayFailedMoveKeepsTheFirstRoom(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a, b := newRecordingEndpoint(), newRecordingEndpoint()
	c, d := newRecordingEndpoint(), newRecordingEndpoint()
	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, b, domain.JoinMessage("appt-42", "bob"))
	r.Handle(ctx, c, domain.JoinMessage("appt-43", "carol"))
	r.Handle(ctx, d, domain.JoinMessage("appt-43", "dave"))
	a.Reset()

	r.Handle(ctx, b, domain.JoinMessage("appt-43", "bob"))
	if got := b.Last(); got.Type != domain.MessageError || got.Code != domain.CodeRoomFull {
		t.Fatalf("bob got %+v, want room_full", got)
	}
	if n := a.Count(domain.MessagePeerLeft); n != 0 {
		t.Fatalf("alice got %d peer_left after a rejected move", n)
	}

	r.Handle(ctx, b, offerFrom("bob"))
	if got := a.Last(); got.Type != domain.MessageSignal {
		t.Fatalf("alice got %+v, want bob's offer", got)
	}
	if snap, _ := r.Room("appt-42"); len(snap.Participants) != 2 {
		t.Errorf("appt-42 = %+v, want both participants", snap)
	}
}

func TestRelayRejectsUnjoinedAndServerFrames(t *testing.T) {
	r := newTestRelay()
	ctx := context.Background()
	a := newRecordingEndpoint()

	r.Handle(ctx, a, domain.LeaveMessage("appt-42", "alice"))
	if got := a.Last(); got.Code != domain.CodeNotJoined {
		t.Fatalf("leave without join: %+v", got)
	}

	r.Handle(ctx, a, domain.PeerMessage(domain.MessagePeerLeft, "appt-42", "alice"))
	if got := a.Last(); got.Code != domain.CodeMalformedMessage {
		t.Fatalf("server frame from client: %+v", got)
	}

	r.Handle(ctx, a, domain.JoinMessage("appt-42", "alice"))
	r.Handle(ctx, a, offerFrom("mallory"))
	if got := a.Last(); got.Code != domain.CodeNotJoined {
		t.Fatalf("signal under another name: %+v", got)
	}
}
