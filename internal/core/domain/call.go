package domain

type Role string

const (
	RoleInitiator Role = "initiator" // sends the offer
	RoleResponder Role = "responder" // answers
)

func (r Role) Valid() bool {
	return r == RoleInitiator || r == RoleResponder
}

func (r Role) Counterpart() Role {
	if r == RoleInitiator {
		return RoleResponder
	}
	return RoleInitiator
}

type CallState string

const (
	StateIdle           CallState = "idle"
	StateAcquiringMedia CallState = "acquiring_media"
	StateConnecting     CallState = "connecting"
	StateConnected      CallState = "connected"
	StateEnded          CallState = "ended"
	StateFailed         CallState = "failed"
)

func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateFailed
}

type TrackKind string

const (
	KindAudio TrackKind = "audio"
	KindVideo TrackKind = "video"
)

type Source string

const (
	SourceMicrophone Source = "microphone"
	SourceCamera     Source = "camera"
	SourceScreen     Source = "screen"
)

type FacingMode string

const (
	FacingUser        FacingMode = "user"
	FacingEnvironment FacingMode = "environment"
)

func (f FacingMode) Flip() FacingMode {
	if f == FacingEnvironment {
		return FacingUser
	}
	return FacingEnvironment
}

type MediaConstraints struct {
	Audio  bool
	Video  bool
	Facing FacingMode
}

type TransportEventType string

const (
	EventLocalCandidate  TransportEventType = "local_candidate"
	EventRemoteMedia     TransportEventType = "remote_media" // first inbound packet of a remote track
	EventTransportFailed TransportEventType = "transport_failed"
)

// TransportEvent is what the peer connection reports back to the session.
type TransportEvent struct {
	Type      TransportEventType
	Candidate ICECandidate
	Kind      TrackKind
	Err       error
}
