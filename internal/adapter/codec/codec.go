// Package codec implements the wire encodings of relay messages. Both
// encodings share one schema: a document of string keys matching the
// browser client's JSON.
package codec

import (
	"github.com/Wyydra/yacall/internal/core/port"
)

const (
	SubprotocolJSON    = "yacall.v1.json"
	SubprotocolMsgpack = "yacall.v1.msgpack"
)

// Subprotocols lists the supported websocket subprotocols, preferred first.
var Subprotocols = []string{SubprotocolMsgpack, SubprotocolJSON}

// ForSubprotocol returns the codec negotiated for a connection. No
// subprotocol means JSON.
func ForSubprotocol(name string) port.Codec {
	if name == SubprotocolMsgpack {
		return Msgpack{}
	}
	return JSON{}
}
