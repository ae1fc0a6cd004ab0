package codec

import (
	"encoding/json"
	"fmt"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
)

// JSON is the text encoding spoken by browser clients.
type JSON struct{}

func (JSON) Name() string   { return SubprotocolJSON }
func (JSON) FrameType() int { return websocket.TextMessage }

func (JSON) Encode(msg domain.Message) ([]byte, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(toDocument(msg))
}

func (JSON) Decode(data []byte) (domain.Message, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Message{}, fmt.Errorf("%w: %v", domain.ErrMalformedMessage, err)
	}
	if doc == nil {
		return domain.Message{}, fmt.Errorf("%w: not an object", domain.ErrMalformedMessage)
	}
	return fromDocument(doc)
}
