package codec

import (
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack carries the JSON document in binary frames.
type Msgpack struct{}

func (Msgpack) Name() string   { return SubprotocolMsgpack }
func (Msgpack) FrameType() int { return websocket.BinaryMessage }

func (Msgpack) Encode(msg domain.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msgpack.Marshal(toDocument(msg))
}

func (Msgpack) Decode(data []byte) (domain.Message, error) {
	var doc map[string]any
	if err := msgpack.Unmarshal(data, &doc); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if doc == nil {
		return domain.Message{}, fmt.Errorf("%w: not a map", domain.ErrMalformedMessage)
	}
	return fromDocument(doc)
}
