package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrRoomFull         = errors.New("room is full")
	ErrPeerUnavailable  = errors.New("no other participant in room")
	ErrNotJoined        = errors.New("not joined to room")
	ErrRateLimited      = errors.New("too many messages")

	ErrMediaAccessDenied       = errors.New("media access denied")
	ErrDeviceAcquisitionFailed = errors.New("device acquisition failed")
	ErrConnectivityFailed      = errors.New("connectivity failed")
	ErrSignalingDisconnected   = errors.New("signaling disconnected")
	ErrPeerLeft                = errors.New("peer left the call")
	ErrSubstitutionInProgress  = errors.New("track substitution already in progress")
	ErrInvalidState            = errors.New("invalid call state")

	ErrExtractionFailed = errors.New("text extraction failed")
)

// ErrorCode is the wire form of a relay-side error.
type ErrorCode string

const (
	CodeMalformedMessage ErrorCode = "malformed_message"
	CodeRoomFull         ErrorCode = "room_full"
	CodePeerUnavailable  ErrorCode = "peer_unavailable"
	CodeNotJoined        ErrorCode = "not_joined"
	CodeRateLimited      ErrorCode = "rate_limited"
	CodeInternal         ErrorCode = "internal"
)

var errorCodes = []struct {
	code ErrorCode
	err  error
}{
	{CodeMalformedMessage, ErrMalformedMessage},
	{CodeRoomFull, ErrRoomFull},
	{CodePeerUnavailable, ErrPeerUnavailable},
	{CodeNotJoined, ErrNotJoined},
	{CodeRateLimited, ErrRateLimited},
}

func CodeOf(err error) ErrorCode {
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

var errInternal = errors.New("internal relay error")

func ErrorOf(code ErrorCode) error {
	for _, c := range errorCodes {
		if c.code == code {
			return c.err
		}
	}
	return errInternal
}

// RelayError is an error frame received from the relay.
type RelayError struct {
	Code ErrorCode
	Text string
}

func (e *RelayError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("relay: %s", e.Code)
	}
	return fmt.Sprintf("relay: %s", e.Text)
}

func (e *RelayError) Unwrap() error {
	return ErrorOf(e.Code)
}

// ServiceError is returned by the generative-text collaborator. Message is
// shown to the user as is.
type ServiceError struct {
	Message string
}

func (e *ServiceError) Error() string {
	return "text service: " + e.Message
}
