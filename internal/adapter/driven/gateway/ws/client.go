package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/codec"
	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/port"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait   = 10 * time.Second
	eventBuffer = 64
)

// Dialer opens client connections to a relay.
type Dialer struct {
	url    string
	codec  port.Codec
	header http.Header
	logger zerolog.Logger
}

func NewDialer(url string, c port.Codec, logger zerolog.Logger) *Dialer {
	return &Dialer{
		url:    url,
		codec:  c,
		header: http.Header{},
		logger: logger.With().Str("component", "signaling").Logger(),
	}
}

func (d *Dialer) Dial(ctx context.Context) (port.SignalingChannel, error) {
	dialer := *websocket.DefaultDialer
	dialer.Subprotocols = []string{d.codec.Name()}

	conn, _, err := dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", d.url, err)
	}

	c := &Conn{
		conn:   conn,
		codec:  codec.ForSubprotocol(conn.Subprotocol()),
		events: make(chan domain.Message, eventBuffer),
		done:   make(chan struct{}),
		logger: d.logger,
	}
	go c.readPump()

	d.logger.Debug().Str("url", d.url).Str("codec", c.codec.Name()).Msg("Connected to relay")
	return c, nil
}

// Conn is a client connection to the relay.
type Conn struct {
	conn   *websocket.Conn
	codec  port.Codec
	events chan domain.Message

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

func (c *Conn) Events() <-chan domain.Message {
	return c.events
}

func (c *Conn) Send(ctx context.Context, msg domain.Message) error {
	data, err := c.codec.Encode(msg)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(deadline)
	if err := c.conn.WriteMessage(c.codec.FrameType(), data); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrSignalingDisconnected, err)
	}
	return nil
}

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(time.Second))
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) readPump() {
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("Relay connection lost")
			}
			return
		}
		msg, err := c.codec.Decode(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Discarding undecodable frame")
			continue
		}
		select {
		case c.events <- msg:
		case <-c.done:
			return
		}
	}
}
