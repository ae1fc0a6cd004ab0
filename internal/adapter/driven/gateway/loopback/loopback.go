// Package loopback connects signaling clients to an in-process relay. Frames
// optionally go through a codec so the wire encoding is exercised too.
package loopback

import (
	"context"
	"sync"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
)

type Relay interface {
	Handle(ctx context.Context, ep domain.Endpoint, msg domain.Message)
	Disconnect(ep domain.Endpoint)
}

type Dialer struct {
	relay Relay
	codec port.Codec
}

// NewDialer returns a dialer for relay. c may be nil.
func NewDialer(relay Relay, c port.Codec) *Dialer {
	return &Dialer{relay: relay, codec: c}
}

func (d *Dialer) Dial(ctx context.Context) (port.SignalingChannel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Conn{
		id:     domain.NewConnID(),
		relay:  d.relay,
		codec:  d.codec,
		events: make(chan domain.Message, 256),
	}, nil
}

// Conn is both ends of one connection: the client-side channel and the
// relay-side endpoint.
type Conn struct {
	id    domain.ConnID
	relay Relay
	codec port.Codec

	mu     sync.Mutex
	events chan domain.Message
	closed bool

	hangup sync.Once
}

func (c *Conn) Events() <-chan domain.Message { return c.events }

func (c *Conn) Send(ctx context.Context, msg domain.Message) error {
	if c.isClosed() {
		return domain.ErrSignalingDisconnected
	}
	msg, err := c.transcode(msg)
	if err != nil {
		return err
	}
	c.relay.Handle(ctx, endpoint{c}, msg)
	return nil
}

// Close hangs up from the client side.
func (c *Conn) Close() error {
	c.hangup.Do(func() {
		c.shut()
		c.relay.Disconnect(endpoint{c})
	})
	return nil
}

func (c *Conn) deliver(msg domain.Message) error {
	msg, err := c.transcode(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return domain.ErrSignalingDisconnected
	}
	select {
	case c.events <- msg:
		return nil
	default:
		c.closed = true
		close(c.events)
		return domain.ErrSignalingDisconnected
	}
}

func (c *Conn) transcode(msg domain.Message) (domain.Message, error) {
	if c.codec == nil {
		return msg, nil
	}
	data, err := c.codec.Encode(msg)
	if err != nil {
		return domain.Message{}, err
	}
	return c.codec.Decode(data)
}

func (c *Conn) shut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.events)
	}
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// endpoint is the relay's view of a Conn.
type endpoint struct{ c *Conn }

func (e endpoint) ID() domain.ConnID             { return e.c.id }
func (e endpoint) Send(msg domain.Message) error { return e.c.deliver(msg) }

// Close is the relay hanging up, as when a newer connection replaces this
// one. The relay already forgot the endpoint.
func (e endpoint) Close() error {
	e.c.shut()
	return nil
}
