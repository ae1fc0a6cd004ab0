package port

import (
	"context"

	"github.com/Wyydra/yacall/internal/core/domain"
)

// SignalingChannel is a client's connection to the relay. Events is closed
// when the connection goes away.
type SignalingChannel interface {
	Send(ctx context.Context, msg domain.Message) error
	Events() <-chan domain.Message
	Close() error
}

type SignalingDialer interface {
	Dial(ctx context.Context) (SignalingChannel, error)
}
