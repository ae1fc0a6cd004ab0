package codec

import (
	"fmt"
	"math"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func toDocument(m domain.Message) map[string]any {
	doc := make(map[string]any, len(m.Extra)+8)
	for k, v := range m.Extra {
		doc[k] = v
	}
	doc["type"] = string(m.Type)
	putString(doc, "room", string(m.Room))
	putString(doc, "userId", string(m.UserID))
	putString(doc, "role", string(m.Role))
	putString(doc, "peerId", string(m.PeerID))
	putString(doc, "code", string(m.Code))
	putString(doc, "message", m.Text)
	if m.Signal != nil {
		doc["signal"] = signalDocument(*m.Signal)
	}
	return doc
}

func signalDocument(s domain.Signal) map[string]any {
	doc := make(map[string]any, len(s.Extra)+6)
	for k, v := range s.Extra {
		doc[k] = v
	}
	doc["type"] = string(s.Type)
	putString(doc, "sdp", s.SDP)
	if c := s.Candidate; c != nil {
		doc["candidate"] = c.Candidate
		if c.SDPMid != nil {
			doc["sdpMid"] = *c.SDPMid
		}
		if c.SDPMLineIndex != nil {
			doc["sdpMLineIndex"] = *c.SDPMLineIndex
		}
		if c.UsernameFragment != nil {
			doc["usernameFragment"] = *c.UsernameFragment
		}
	}
	return doc
}

func putString(doc map[string]any, key, v string) {
	if v != "" {
		doc[key] = v
	}
}

func fromDocument(doc map[string]any) (domain.Message, error) {
	var m domain.Message
	for k, v := range doc {
		var s string
		var err error
		switch k {
		case "type", "room", "userId", "role", "peerId", "code", "message":
			s, err = stringField(k, v)
		}
		if err != nil {
			return domain.Message{}, err
		}

		switch k {
		case "type":
			m.Type = domain.MessageType(s)
		case "room":
			m.Room = domain.RoomID(s)
		case "userId":
			m.UserID = domain.UserID(s)
		case "role":
			m.Role = domain.Role(s)
		case "peerId":
			m.PeerID = domain.UserID(s)
		case "code":
			m.Code = domain.ErrorCode(s)
		case "message":
			m.Text = s
		case "signal":
			if v == nil {
				continue
			}
			sub, ok := v.(map[string]any)
			if !ok {
				return domain.Message{}, fmt.Errorf("%w: signal is not an object", domain.ErrMalformedMessage)
			}
			sig, err := signalFromDocument(sub)
			if err != nil {
				return domain.Message{}, err
			}
			m.Signal = &sig
		default:
			if m.Extra == nil {
				m.Extra = make(map[string]any)
			}
			m.Extra[k] = v
		}
	}
	if err := m.Validate(); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func signalFromDocument(doc map[string]any) (domain.Signal, error) {
	var sig domain.Signal
	var c domain.ICECandidate
	hasCandidate := false

	for k, v := range doc {
		switch k {
		case "type", "sdp", "candidate", "sdpMid", "sdpMLineIndex", "usernameFragment":
			if v == nil {
				continue
			}
		default:
			if sig.Extra == nil {
				sig.Extra = make(map[string]any)
			}
			sig.Extra[k] = v
			continue
		}

		switch k {
		case "type", "sdp", "candidate", "sdpMid", "usernameFragment":
			s, err := stringField("signal."+k, v)
			if err != nil {
				return domain.Signal{}, err
			}
			switch k {
			case "type":
				sig.Type = domain.SignalType(s)
			case "sdp":
				sig.SDP = s
			case "candidate":
				c.Candidate = s
				hasCandidate = true
			case "sdpMid":
				c.SDPMid = &s
			case "usernameFragment":
				c.UsernameFragment = &s
			}
		case "sdpMLineIndex":
			n, ok := toUint16(v)
			if !ok {
				return domain.Signal{}, fmt.Errorf("%w: signal.sdpMLineIndex out of range", domain.ErrMalformedMessage)
			}
			c.SDPMLineIndex = &n
		}
	}

	// RTCIceCandidate.toJSON() carries no type tag.
	if sig.Type == "" && hasCandidate {
		sig.Type = domain.SignalCandidate
	}
	if sig.Type == domain.SignalCandidate {
		sig.Candidate = &c
	}
	return sig, sig.Validate()
}

func stringField(key string, v any) (string, error) {
	if v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s is %T, want string", domain.ErrMalformedMessage, key, v)
	}
	return s, nil
}

func toUint16(v any) (uint16, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int8:
		n = int64(x)
	case int16:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case uint8:
		n = int64(x)
	case uint16:
		n = int64(x)
	case uint32:
		n = int64(x)
	case uint64:
		if x > math.MaxUint16 {
			return 0, false
		}
		n = int64(x)
	case float32:
		return floatToUint16(float64(x))
	case float64:
		return floatToUint16(x)
	default:
		return 0, false
	}
	if n < 0 || n > math.MaxUint16 {
		return 0, false
	}
	return uint16(n), true
}

func floatToUint16(f float64) (uint16, bool) {
	if f < 0 || f > math.MaxUint16 || f != math.Trunc(f) {
		return 0, false
	}
	return uint16(f), true
}
