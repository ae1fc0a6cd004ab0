package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// LocalTrack is a capture track. Stop is idempotent and closes Ended.
// Ended is also closed when the source goes away by itself (a screen share
// dismissed from the browser chrome).
type LocalTrack interface {
	ID() string
	Kind() domain.TrackKind
	Source() domain.Source
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
	Ended() <-chan struct{}
}

type MediaDevices interface {
	GetUserMedia(ctx context.Context, c domain.MediaConstraints) ([]LocalTrack, error)
	GetCamera(ctx context.Context, facing domain.FacingMode) (LocalTrack, error)
	GetDisplayMedia(ctx context.Context) (LocalTrack, error)
}

// TrackSender is the transport-side slot a local track is sent through.
type TrackSender interface {
	ReplaceTrack(t LocalTrack) error
	Track() LocalTrack
}

type PeerConnection interface {
	AddTrack(t LocalTrack) (TrackSender, error)
	// CreateOffer and CreateAnswer also apply the result as the local
	// description.
	CreateOffer(ctx context.Context) (domain.Signal, error)
	CreateAnswer(ctx context.Context) (domain.Signal, error)
	SetRemoteDescription(sig domain.Signal) error
	AddICECandidate(c domain.ICECandidate) error
	Close() error
}

type TransportFactory interface {
	NewPeerConnection(onEvent func(domain.TransportEvent)) (PeerConnection, error)
}
