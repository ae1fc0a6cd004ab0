package service

import (
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
)

type recordingEndpoint struct {
	id domain.ConnID

	mu     sync.Mutex
	msgs   []domain.Message
	closed bool
}

func newRecordingEndpoint() *recordingEndpoint {
	return &recordingEndpoint{id: domain.NewConnID()}
}

func (e *recordingEndpoint) ID() domain.ConnID { return e.id }

func (e *recordingEndpoint) Send(msg domain.Message) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = append(e.msgs, msg)
	return nil
}

func (e *recordingEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

func (e *recordingEndpoint) Messages() []domain.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]domain.Message(nil), e.msgs...)
}

func (e *recordingEndpoint) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

func (e *recordingEndpoint) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.msgs = nil
}

func (e *recordingEndpoint) Count(t domain.MessageType) int {
	n := 0
	for _, m := range e.Messages() {
		if m.Type == t {
			n++
		}
	}
	return n
}

func (e *recordingEndpoint) Last() domain.Message {
	msgs := e.Messages()
	if len(msgs) == 0 {
		return domain.Message{}
	}
	return msgs[len(msgs)-1]
}
