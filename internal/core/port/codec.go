package port

import "github.com/Wyydra/yacall/internal/core/domain"

type Codec interface {
	Encode(msg domain.Message) ([]byte, error)
	Decode(data []byte) (domain.Message, error)
	Name() string
	// FrameType is the websocket message type the encoding travels in.
	FrameType() int
}
