package domain

import "fmt"

type SignalType string

const (
	SignalOffer     SignalType = "offer"
	SignalAnswer    SignalType = "answer"
	SignalCandidate SignalType = "candidate"
)

// ICECandidate mirrors RTCIceCandidateInit.
type ICECandidate struct {
	Candidate        string
	SDPMid           *string
	SDPMLineIndex    *uint16
	UsernameFragment *string
}

// Signal is the opaque handshake payload carried by a signal message.
// SDP is set for offers and answers, Candidate for candidates.
type Signal struct {
	Type      SignalType
	SDP       string
	Candidate *ICECandidate

	// Keys of the signal object this package does not model, relayed as is.
	Extra map[string]any
}

func NewOffer(sdp string) Signal {
	return Signal{Type: SignalOffer, SDP: sdp}
}

func NewAnswer(sdp string) Signal {
	return Signal{Type: SignalAnswer, SDP: sdp}
}

func NewCandidate(c ICECandidate) Signal {
	return Signal{Type: SignalCandidate, Candidate: &c}
}

func (s Signal) Validate() error {
	switch s.Type {
	case SignalOffer, SignalAnswer:
		if s.SDP == "" {
			return fmt.Errorf("%w: %s without sdp", ErrMalformedMessage, s.Type)
		}
	case SignalCandidate:
		// an empty line is the end-of-candidates marker
		if s.Candidate == nil {
			return fmt.Errorf("%w: candidate signal without candidate", ErrMalformedMessage)
		}
	default:
		return fmt.Errorf("%w: unknown signal type %q", ErrMalformedMessage, s.Type)
	}
	return nil
}
